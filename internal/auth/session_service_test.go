package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/cache"
	"github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestIdentity(t, db, "create")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Device:    "pixel",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, "Bearer", tokens.TokenType)
	require.True(t, tokens.ExpiresAt.Equal(clock.Now().Add(time.Hour)))
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "pixel", session.DeviceName)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, crypto.HashToken(tokens.RefreshToken), reloaded.RefreshToken)
	require.NotEqual(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestIdentity(t, db, "refresh")
	ctx := context.Background()

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	newTokens, updated, err := svc.RefreshSession(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.Equal(t, session.ID, updated.ID)
	require.True(t, updated.LastUsedAt.Equal(clock.Now()))

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionUsesCache(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
	store := cache.NewDatabaseStore(db, cache.WithStoreClock(clock.Now))
	svc := newSessionService(t, db, clock, NewStoreSessionCache(store))
	ctx := context.Background()

	user := createTestIdentity(t, db, "cached")
	tokens, _, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	_, found, err := store.Get(ctx, sessionCacheKey(crypto.HashToken(tokens.RefreshToken)))
	require.NoError(t, err)
	require.True(t, found)

	rotated, _, err := svc.RefreshSession(ctx, tokens.RefreshToken)
	require.NoError(t, err)

	_, found, err = store.Get(ctx, sessionCacheKey(crypto.HashToken(tokens.RefreshToken)))
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = store.Get(ctx, sessionCacheKey(crypto.HashToken(rotated.RefreshToken)))
	require.NoError(t, err)
	require.True(t, found)
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestIdentity(t, db, "expired")
	ctx := context.Background()

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevokeSessionPreventsRefresh(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestIdentity(t, db, "revoke")
	ctx := context.Background()

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, session.ID))
	require.ErrorIs(t, svc.RevokeSession(ctx, "non-existent"), ErrSessionNotFound)

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, err = svc.ActiveSession(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRevokeUserSessionsAndCleanup(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestIdentity(t, db, "bulk")
	other := createTestIdentity(t, db, "other")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
		require.NoError(t, err)
	}
	_, otherSession, err := svc.CreateSession(ctx, other.ID, SessionMetadata{})
	require.NoError(t, err)

	revoked, err := svc.RevokeUserSessions(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, revoked)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	_, err = svc.ActiveSession(ctx, otherSession.ID)
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	removed, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
	return db, newSessionService(t, db, clock, nil), clock
}

func newSessionService(t *testing.T, db *gorm.DB, clock *testClock, sessionCache SessionCache) *SessionService {
	t.Helper()

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	svc, err := NewSessionService(db, jwtService, SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
		Cache:           sessionCache,
	})
	require.NoError(t, err)
	return svc
}

func createTestIdentity(t *testing.T, db *gorm.DB, username string) *models.Identity {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	now := time.Now()
	identity := &models.Identity{
		Email:           username + "@example.com",
		Password:        hashed,
		EmailVerifiedAt: &now,
	}
	require.NoError(t, db.Create(identity).Error)
	require.NoError(t, db.Create(&models.User{
		ID:       identity.ID,
		Username: username,
		Email:    identity.Email,
	}).Error)
	return identity
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
