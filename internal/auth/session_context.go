package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/cache"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/logger"
)

// DefaultIdentityCacheTTL is the reuse window for a resolved identity.
const DefaultIdentityCacheTTL = 60 * time.Second

const identityCacheKeyPrefix = "auth:identity:"

// ErrIdentityNotFound is returned when the token subject no longer has an identity or profile.
var ErrIdentityNotFound = errors.New("auth: identity not found")

// SessionContext is the resolved caller for a single request.
type SessionContext struct {
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	ResolvedAt    time.Time `json:"resolved_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the context must be resolved again.
func (c *SessionContext) Expired(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}

// IdentityResolver turns token claims into a SessionContext, reusing recent lookups.
type IdentityResolver struct {
	db       *gorm.DB
	sessions *SessionService
	store    cache.Store
	ttl      time.Duration
	now      func() time.Time
}

// ResolverOption customises an IdentityResolver.
type ResolverOption func(*IdentityResolver)

// WithResolverClock overrides the resolver clock.
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *IdentityResolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithResolverTTL overrides the identity reuse window.
func WithResolverTTL(ttl time.Duration) ResolverOption {
	return func(r *IdentityResolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewIdentityResolver constructs a resolver. The cache store is optional.
func NewIdentityResolver(db *gorm.DB, sessions *SessionService, store cache.Store, opts ...ResolverOption) (*IdentityResolver, error) {
	if db == nil {
		return nil, errors.New("identity resolver: db is required")
	}
	if sessions == nil {
		return nil, errors.New("identity resolver: session service is required")
	}

	r := &IdentityResolver{
		db:       db,
		sessions: sessions,
		store:    store,
		ttl:      DefaultIdentityCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TTL reports the identity reuse window.
func (r *IdentityResolver) TTL() time.Duration {
	return r.ttl
}

// Resolve returns the SessionContext for the given user and session.
// A cached context is reused while it is unexpired and belongs to the same session.
func (r *IdentityResolver) Resolve(ctx context.Context, userID, sessionID string) (*SessionContext, error) {
	ctx = contextOrBackground(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrIdentityNotFound
	}

	now := r.now()
	if cached := r.cached(ctx, userID); cached != nil && cached.SessionID == sessionID && !cached.Expired(now) {
		return cached, nil
	}

	if sessionID != "" {
		session, err := r.sessions.ActiveSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session.UserID != userID {
			return nil, ErrSessionNotFound
		}
	}

	var identity models.Identity
	if err := r.db.WithContext(ctx).Take(&identity, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("identity resolver: load identity: %w", err)
	}

	var profile models.User
	if err := r.db.WithContext(ctx).Take(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("identity resolver: load profile: %w", err)
	}

	sc := &SessionContext{
		UserID:        userID,
		SessionID:     sessionID,
		Username:      profile.Username,
		Email:         identity.Email,
		EmailVerified: identity.IsVerified(),
		ResolvedAt:    now,
		ExpiresAt:     now.Add(r.ttl),
	}

	if r.store != nil {
		if err := cache.SetJSON(ctx, r.store, identityCacheKey(userID), sc, r.ttl); err != nil {
			logger.WithModule("auth").Warn("identity cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return sc, nil
}

// Invalidate drops any cached context for the user.
func (r *IdentityResolver) Invalidate(ctx context.Context, userID string) {
	if r == nil || r.store == nil || strings.TrimSpace(userID) == "" {
		return
	}
	if err := r.store.Delete(contextOrBackground(ctx), identityCacheKey(userID)); err != nil {
		logger.WithModule("auth").Warn("identity cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (r *IdentityResolver) cached(ctx context.Context, userID string) *SessionContext {
	if r.store == nil {
		return nil
	}
	var sc SessionContext
	hit, err := cache.GetJSON(ctx, r.store, identityCacheKey(userID), &sc)
	if err != nil || !hit {
		return nil
	}
	return &sc
}

func identityCacheKey(userID string) string {
	return identityCacheKeyPrefix + userID
}
