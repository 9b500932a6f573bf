package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/api"
	"github.com/macroscope/macroscope/internal/app"
	"github.com/macroscope/macroscope/internal/app/maintenance"
	"github.com/macroscope/macroscope/internal/database"
	"github.com/macroscope/macroscope/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Infra    *api.Infrastructure
	Services *api.Services
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, shared infrastructure, domain services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Infra, err = api.NewInfrastructure(ctx, stack.DB, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise infrastructure: %w", err)
	}
	log.Info("object storage ready", zap.String("backend", storageBackend(cfg)))

	stack.Services, err = api.NewServices(stack.DB, cfg, stack.Infra)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = newCleaner(cfg, stack.Infra, stack.Services)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, stack.Infra, stack.Services)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newCleaner(cfg *app.Config, infra *api.Infrastructure, svcs *api.Services) *maintenance.Cleaner {
	jobs := maintenance.Jobs{
		Sessions:      infra.Sessions,
		Verifications: svcs.Verification,
		Resets:        svcs.PasswordReset,
		Invitations:   svcs.Invitations,
		Audit:         svcs.Audit,
		Cache:         infra.Cache,
	}

	m := cfg.Maintenance
	return maintenance.NewCleaner(jobs,
		maintenance.WithAuditRetentionDays(m.AuditRetentionDays),
		maintenance.WithSessionSchedule(m.SessionSchedule),
		maintenance.WithTokenSchedule(m.TokenSchedule),
		maintenance.WithAuditSchedule(m.AuditSchedule),
		maintenance.WithCacheSchedule(m.CacheSchedule),
		maintenance.WithRecorder(infra.Jobs),
	)
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	// Pending invitation emails reference rows that must still exist.
	if s.Infra != nil && s.Infra.Dispatcher != nil {
		s.Infra.Dispatcher.Wait()
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}
	if len(cfg.Auth.JWT.Secret) < 32 {
		return fmt.Errorf("auth.jwt.secret must be at least 32 characters (current: %d)", len(cfg.Auth.JWT.Secret))
	}

	if cfg.Storage.IsLocal() {
		cfg.Storage.Local.SigningSecret = strings.TrimSpace(cfg.Storage.Local.SigningSecret)
		if cfg.Storage.Local.SigningSecret == "" {
			return errors.New("storage.local.signing_secret must be configured for the local backend")
		}
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.OpenConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func storageBackend(cfg *app.Config) string {
	if cfg.Storage.IsLocal() {
		return "local"
	}
	return strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
