package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/auth"
	"github.com/macroscope/macroscope/internal/auth/providers"
	"github.com/macroscope/macroscope/internal/storage"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, []string{"https://app.macroscope.example", "https://admin.macroscope.example"}, cfg.Server.AllowedOrigins)
	requests, window := cfg.Server.RateLimit.Limits()
	require.Equal(t, 10, requests)
	require.Equal(t, 30*time.Second, window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 1440*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 64, cfg.Auth.Session.RefreshLength)
	require.Equal(t, 7, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, 45*time.Second, cfg.Auth.IdentityTTL())
	require.Equal(t, 12*time.Hour, cfg.Auth.VerificationExpiry())
	require.Equal(t, 30*time.Minute, cfg.Auth.PasswordResetExpiry())
	require.Equal(t, "labapp", cfg.Auth.DeepLinks().Scheme)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.False(t, cfg.Storage.IsLocal())
	require.Equal(t, 2*time.Hour, cfg.Storage.SignedURLTTL)
	require.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	require.True(t, cfg.Storage.S3.UsePathStyle)

	require.Equal(t, "https://hooks.example.com/invitations", cfg.Notifier.Endpoint)
	require.Equal(t, 5*time.Second, cfg.Notifier.TimeoutOrDefault())
	require.Equal(t, 72*time.Hour, cfg.Invitations.ExpiryOrDefault())

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@every 30m", cfg.Maintenance.SessionSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.TokenSchedule)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigDefaultsAndEnvironment(t *testing.T) {
	t.Setenv("MACROSCOPE_SERVER_PORT", "7070")
	t.Setenv("MACROSCOPE_STORAGE_LOCAL_PATH", "/srv/objects")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "./data/macroscope.sqlite", cfg.Database.Path)
	require.True(t, cfg.Storage.IsLocal())
	require.Equal(t, "/srv/objects", cfg.Storage.Local.Path)
	require.Equal(t, time.Hour, cfg.Storage.SignedURLTTL)
	require.Equal(t, 60*time.Second, cfg.Auth.IdentityCacheTTL)
	require.Equal(t, 24*time.Hour, cfg.Auth.Verification.Expiry)
	require.Equal(t, time.Hour, cfg.Auth.PasswordReset.Expiry)
	require.Equal(t, 7*24*time.Hour, cfg.Invitations.Expiry)
	require.Equal(t, "@hourly", cfg.Maintenance.SessionSchedule)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Session: SessionSettings{
				RefreshTTL:    10 * time.Hour,
				RefreshLength: 32,
			},
			Local: LocalAuthSettings{
				LockoutThreshold: 4,
				LockoutDuration:  10 * time.Minute,
			},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, jwtCfg)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	require.Equal(t, auth.SessionConfig{
		RefreshTokenTTL: 10 * time.Hour,
		RefreshLength:   32,
	}, sessionCfg)

	localCfg := cfg.Auth.LocalProviderConfig()
	require.Equal(t, providers.LocalConfig{
		LockoutThreshold: 4,
		LockoutDuration:  10 * time.Minute,
	}, localCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	sessionCfg := cfg.SessionServiceConfig()
	require.Equal(t, auth.DefaultRefreshTokenTTL, sessionCfg.RefreshTokenTTL)
	require.Equal(t, 48, sessionCfg.RefreshLength)

	localCfg := cfg.LocalProviderConfig()
	require.Equal(t, defaultLockoutThreshold, localCfg.LockoutThreshold)
	require.Equal(t, defaultLockoutDuration, localCfg.LockoutDuration)

	require.Equal(t, defaultIdentityCacheTTL, cfg.IdentityTTL())
	require.Equal(t, defaultVerificationTTL, cfg.VerificationExpiry())
	require.Equal(t, defaultPasswordResetTTL, cfg.PasswordResetExpiry())
	require.Equal(t, defaultDeepLinkScheme, cfg.DeepLinks().Scheme)

	requests, window := RateLimitConfig{}.Limits()
	require.Equal(t, defaultRateLimitRequests, requests)
	require.Equal(t, defaultRateLimitWindow, window)
}

func TestStorageOpenConfig(t *testing.T) {
	cfg := StorageConfig{
		Backend: " Local ",
		Local:   LocalStorageConfig{Path: "/data", SigningSecret: "sign"},
		S3:      S3StorageConfig{Prefix: "/uploads/"},
	}

	opened := cfg.OpenConfig("https://api.example.com/")
	require.Equal(t, "local", opened.Backend)
	require.Equal(t, "/data", opened.Local.Root)
	require.Equal(t, "https://api.example.com", opened.Local.BaseURL)
	require.Equal(t, []string{storage.BucketProfilePictures}, opened.Local.PublicBuckets)
	require.ElementsMatch(t, StorageBuckets, opened.S3.Buckets)
	require.Equal(t, "uploads", opened.S3.Prefix)
}

func TestDatabaseOpenConfig(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "PostgreSQL",
		Postgres: DBAuthConfig{
			Host:     " db ",
			Port:     5432,
			Database: "macroscope",
			Username: "user",
			Password: "pass",
		},
	}

	opened := cfg.OpenConfig()
	require.Equal(t, "postgres", opened.Driver)
	require.Equal(t, "db", opened.Host)
	require.Equal(t, "macroscope", opened.Name)

	require.Equal(t, "sqlite", DatabaseConfig{}.OpenConfig().Driver)
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}
