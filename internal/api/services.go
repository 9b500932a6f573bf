package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/app"
	iauth "github.com/macroscope/macroscope/internal/auth"
	"github.com/macroscope/macroscope/internal/auth/providers"
	"github.com/macroscope/macroscope/internal/cache"
	"github.com/macroscope/macroscope/internal/middleware"
	"github.com/macroscope/macroscope/internal/monitoring"
	"github.com/macroscope/macroscope/internal/monitoring/checks"
	"github.com/macroscope/macroscope/internal/notify"
	"github.com/macroscope/macroscope/internal/realtime"
	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/internal/storage"
	"github.com/macroscope/macroscope/pkg/mail"
)

// Infrastructure groups the process-wide collaborators shared by services and routes.
type Infrastructure struct {
	JWT        *iauth.JWTService
	Sessions   *iauth.SessionService
	Resolver   *iauth.IdentityResolver
	Cache      *cache.DatabaseStore
	RateStore  middleware.RateStore
	Store      storage.Store
	Local      *storage.Local
	Hub        *realtime.Hub
	Mailer     mail.Mailer
	Dispatcher *notify.Dispatcher
	Health     *monitoring.HealthManager
	Jobs       *monitoring.JobTracker
	Clock      func() time.Time
}

// InfrastructureOption customises NewInfrastructure.
type InfrastructureOption func(*infraOptions)

type infraOptions struct {
	clock    func() time.Time
	mailer   mail.Mailer
	notifier notify.InvitationNotifier
	store    storage.Store
}

// WithClock pins the clock used by time sensitive collaborators.
func WithClock(clock func() time.Time) InfrastructureOption {
	return func(o *infraOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMailer replaces the SMTP mailer built from configuration.
func WithMailer(mailer mail.Mailer) InfrastructureOption {
	return func(o *infraOptions) {
		if mailer != nil {
			o.mailer = mailer
		}
	}
}

// WithNotifier replaces the invitation notifier selected from configuration.
func WithNotifier(notifier notify.InvitationNotifier) InfrastructureOption {
	return func(o *infraOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithStore replaces the object store opened from configuration.
func WithStore(store storage.Store) InfrastructureOption {
	return func(o *infraOptions) {
		if store != nil {
			o.store = store
		}
	}
}

// NewInfrastructure builds tokens, sessions, caches, storage, mail and realtime delivery from cfg.
func NewInfrastructure(ctx context.Context, db *gorm.DB, cfg *app.Config, opts ...InfrastructureOption) (*Infrastructure, error) {
	if db == nil {
		return nil, errors.New("infrastructure: database handle must be provided")
	}
	if cfg == nil {
		return nil, errors.New("infrastructure: config must be provided")
	}

	options := infraOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	jwt, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("infrastructure: jwt: %w", err)
	}

	store := cache.NewDatabaseStore(db, cache.WithStoreClock(options.clock))

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Clock = options.clock
	sessionCfg.Cache = iauth.NewStoreSessionCache(store)
	sessions, err := iauth.NewSessionService(db, jwt, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("infrastructure: sessions: %w", err)
	}

	resolver, err := iauth.NewIdentityResolver(db, sessions, store,
		iauth.WithResolverClock(options.clock),
		iauth.WithResolverTTL(cfg.Auth.IdentityTTL()),
	)
	if err != nil {
		return nil, fmt.Errorf("infrastructure: identity resolver: %w", err)
	}

	objects := options.store
	if objects == nil {
		objects, err = storage.Open(ctx, cfg.Storage.OpenConfig(cfg.Server.PublicURL))
		if err != nil {
			return nil, fmt.Errorf("infrastructure: storage: %w", err)
		}
	}
	local, _ := objects.(*storage.Local)

	mailer := options.mailer
	if mailer == nil {
		mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("infrastructure: mailer: %w", err)
		}
	}

	notifier := options.notifier
	if notifier == nil {
		notifier, err = selectNotifier(cfg, mailer)
		if err != nil {
			return nil, fmt.Errorf("infrastructure: notifier: %w", err)
		}
	}

	hub := realtime.NewHub(realtime.WithAllowedOrigins(cfg.Server.AllowedOrigins...))
	jobs := monitoring.NewJobTracker()

	health := monitoring.NewHealthManager(0)
	health.RegisterLiveness(checks.Realtime(hub))
	health.RegisterReadiness(checks.Database(db))
	health.RegisterReadiness(checks.Storage(objects))
	health.RegisterReadiness(checks.Maintenance(jobs, 0, options.clock))

	return &Infrastructure{
		JWT:        jwt,
		Sessions:   sessions,
		Resolver:   resolver,
		Cache:      store,
		RateStore:  middleware.NewCacheRateStore(store),
		Store:      objects,
		Local:      local,
		Hub:        hub,
		Mailer:     mailer,
		Dispatcher: notify.NewDispatcher(notifier, cfg.Notifier.TimeoutOrDefault()),
		Health:     health,
		Jobs:       jobs,
		Clock:      options.clock,
	}, nil
}

// selectNotifier prefers the HTTP notification service, then SMTP, then drops invitations silently.
func selectNotifier(cfg *app.Config, mailer mail.Mailer) (notify.InvitationNotifier, error) {
	if cfg.Notifier.Endpoint != "" {
		return notify.NewHTTPNotifier(notify.HTTPConfig{
			Endpoint: cfg.Notifier.Endpoint,
			APIKey:   cfg.Notifier.APIKey,
		})
	}
	if cfg.Email.SMTP.Enabled {
		return notify.NewMailNotifier(mailer, cfg.Notifier.LinkBase)
	}
	return notify.Noop{}, nil
}

// Services holds the domain services exposed over HTTP.
type Services struct {
	Audit         *services.AuditService
	Auth          *services.AuthService
	Verification  *services.EmailVerificationService
	PasswordReset *services.PasswordResetService
	Files         *services.FileService
	Profiles      *services.ProfileService
	Groups        *services.GroupService
	Projects      *services.ProjectService
	Invitations   *services.InvitationService
	Notifications *services.NotificationService
	Accounts      *services.AccountService
}

// NewServices wires every domain service against the shared infrastructure.
func NewServices(db *gorm.DB, cfg *app.Config, infra *Infrastructure) (*Services, error) {
	if db == nil {
		return nil, errors.New("services: database handle must be provided")
	}
	if cfg == nil || infra == nil {
		return nil, errors.New("services: config and infrastructure must be provided")
	}

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	links := cfg.Auth.DeepLinks()

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}

	verification, err := services.NewEmailVerificationService(db, infra.Mailer,
		services.WithVerificationLinks(links),
		services.WithVerificationExpiry(cfg.Auth.VerificationExpiry()),
		services.WithVerificationClock(clock),
	)
	if err != nil {
		return nil, err
	}

	resets, err := services.NewPasswordResetService(db, infra.Mailer,
		services.WithResetLinks(links),
		services.WithResetExpiry(cfg.Auth.PasswordResetExpiry()),
		services.WithResetClock(clock),
	)
	if err != nil {
		return nil, err
	}

	localCfg := cfg.Auth.LocalProviderConfig()
	localCfg.Clock = clock
	local, err := providers.NewLocalProvider(db, localCfg)
	if err != nil {
		return nil, err
	}

	hooks := services.DefaultHooks(clock)

	authSvc, err := services.NewAuthService(db, audit, services.AuthServiceDeps{
		Local:        local,
		Sessions:     infra.Sessions,
		Identities:   infra.Resolver,
		Verification: verification,
		Resets:       resets,
		Hooks:        hooks,
	})
	if err != nil {
		return nil, err
	}

	files, err := services.NewFileService(db, audit, infra.Store,
		services.WithFileClock(clock),
		services.WithSignedURLTTL(cfg.Storage.SignedURLTTL),
	)
	if err != nil {
		return nil, err
	}

	profiles, err := services.NewProfileService(db, audit, files, infra.Resolver)
	if err != nil {
		return nil, err
	}

	groups, err := services.NewGroupService(db, audit,
		services.WithGroupClock(clock),
		services.WithGroupPublisher(infra.Hub),
		services.WithGroupObjectRemover(files),
	)
	if err != nil {
		return nil, err
	}

	projects, err := services.NewProjectService(db, audit,
		services.WithProjectHooks(hooks),
		services.WithProjectObjectRemover(files),
	)
	if err != nil {
		return nil, err
	}

	invitations, err := services.NewInvitationService(db, audit,
		services.WithInvitationExpiry(cfg.Invitations.ExpiryOrDefault()),
		services.WithInvitationClock(clock),
		services.WithInvitationDispatcher(infra.Dispatcher),
		services.WithInvitationPublisher(infra.Hub),
	)
	if err != nil {
		return nil, err
	}

	notifications, err := services.NewNotificationService(db, invitations, groups)
	if err != nil {
		return nil, err
	}

	accounts, err := services.NewAccountService(db, audit, services.AccountServiceDeps{
		Sessions:   infra.Sessions,
		Identities: infra.Resolver,
		Files:      files,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Audit:         audit,
		Auth:          authSvc,
		Verification:  verification,
		PasswordReset: resets,
		Files:         files,
		Profiles:      profiles,
		Groups:        groups,
		Projects:      projects,
		Invitations:   invitations,
		Notifications: notifications,
		Accounts:      accounts,
	}, nil
}
