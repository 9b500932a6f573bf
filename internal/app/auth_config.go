package app

import (
	"time"

	"github.com/macroscope/macroscope/internal/auth"
	"github.com/macroscope/macroscope/internal/auth/providers"
	"github.com/macroscope/macroscope/internal/services"
)

const (
	defaultLockoutThreshold  = 5
	defaultLockoutDuration   = 15 * time.Minute
	defaultIdentityCacheTTL  = 60 * time.Second
	defaultVerificationTTL   = 24 * time.Hour
	defaultPasswordResetTTL  = time.Hour
	defaultDeepLinkScheme    = "macroscope"
	defaultInvitationExpiry  = 7 * 24 * time.Hour
	defaultNotifierTimeout   = 10 * time.Second
	defaultRateLimitRequests = 20
	defaultRateLimitWindow   = time.Minute
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// LocalProviderConfig converts AuthConfig into LocalProvider parameters.
func (c AuthConfig) LocalProviderConfig() providers.LocalConfig {
	duration := c.Local.LockoutDuration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}

	threshold := c.Local.LockoutThreshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}

	return providers.LocalConfig{
		LockoutThreshold: threshold,
		LockoutDuration:  duration,
	}
}

// IdentityTTL is how long a resolved session context stays cached.
func (c AuthConfig) IdentityTTL() time.Duration {
	if c.IdentityCacheTTL <= 0 {
		return defaultIdentityCacheTTL
	}
	return c.IdentityCacheTTL
}

// VerificationExpiry is the lifetime of email verification tokens.
func (c AuthConfig) VerificationExpiry() time.Duration {
	if c.Verification.Expiry <= 0 {
		return defaultVerificationTTL
	}
	return c.Verification.Expiry
}

// PasswordResetExpiry is the lifetime of password reset tokens.
func (c AuthConfig) PasswordResetExpiry() time.Duration {
	if c.PasswordReset.Expiry <= 0 {
		return defaultPasswordResetTTL
	}
	return c.PasswordReset.Expiry
}

// DeepLinks returns the mobile deep link builder used in emails.
func (c AuthConfig) DeepLinks() services.DeepLinks {
	scheme := c.DeepLinkScheme
	if scheme == "" {
		scheme = defaultDeepLinkScheme
	}
	return services.DeepLinks{Scheme: scheme}
}

// ExpiryOrDefault returns the invitation lifetime.
func (c InvitationConfig) ExpiryOrDefault() time.Duration {
	if c.Expiry <= 0 {
		return defaultInvitationExpiry
	}
	return c.Expiry
}

// TimeoutOrDefault bounds a single notifier delivery.
func (c NotifierConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return defaultNotifierTimeout
	}
	return c.Timeout
}

// Limits returns the request budget per window.
func (c RateLimitConfig) Limits() (int, time.Duration) {
	requests, window := c.Requests, c.Window
	if requests <= 0 {
		requests = defaultRateLimitRequests
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return requests, window
}
