package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/crypto"
)

func TestAuthenticateSuccessResetsCounters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	current := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	provider := newLocalProvider(t, db, LocalConfig{Clock: func() time.Time { return current }})

	identity := createIdentity(t, db, "alice@example.com", "password123", true)
	require.NoError(t, db.Model(identity).Update("failed_attempts", 3).Error)

	result, err := provider.Authenticate(context.Background(), AuthenticateInput{
		Email:     " Alice@Example.com ",
		Password:  "password123",
		IPAddress: "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, identity.ID, result.ID)

	var updated models.Identity
	require.NoError(t, db.Take(&updated, "id = ?", identity.ID).Error)
	require.Equal(t, 0, updated.FailedAttempts)
	require.NotNil(t, updated.LastLoginAt)
	require.True(t, updated.LastLoginAt.Equal(current))
	require.Equal(t, "127.0.0.1", updated.LastLoginIP)
}

func TestAuthenticateInvalidPasswordLocksAccount(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	current := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	provider := newLocalProvider(t, db, LocalConfig{
		LockoutThreshold: 3,
		LockoutDuration:  10 * time.Minute,
		Clock:            func() time.Time { return current },
	})

	identity := createIdentity(t, db, "bob@example.com", "correct", true)
	require.NoError(t, db.Model(identity).Update("failed_attempts", 2).Error)

	_, err := provider.Authenticate(context.Background(), AuthenticateInput{Email: "bob@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrAccountLocked)

	var updated models.Identity
	require.NoError(t, db.Take(&updated, "id = ?", identity.ID).Error)
	require.Equal(t, 3, updated.FailedAttempts)
	require.NotNil(t, updated.LockedUntil)
	require.WithinDuration(t, current.Add(10*time.Minute), *updated.LockedUntil, time.Second)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{Email: "bob@example.com", Password: "correct"})
	require.ErrorIs(t, err, ErrAccountLocked)

	current = current.Add(11 * time.Minute)
	_, err = provider.Authenticate(context.Background(), AuthenticateInput{Email: "bob@example.com", Password: "correct"})
	require.NoError(t, err)
}

func TestAuthenticateUnverifiedIdentity(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{})
	createIdentity(t, db, "carol@example.com", "secret", false)

	identity, err := provider.Authenticate(context.Background(), AuthenticateInput{Email: "carol@example.com", Password: "secret"})
	require.ErrorIs(t, err, ErrEmailNotVerified)
	require.NotNil(t, identity)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{Email: "carol@example.com", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = provider.Authenticate(context.Background(), AuthenticateInput{Email: "nobody@example.com", Password: "secret"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterHashesPasswordAndRejectsDuplicates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{})
	ctx := context.Background()

	identity, err := provider.Register(ctx, RegisterInput{Email: "Eve@Example.com", Password: "secret"})
	require.NoError(t, err)
	require.Equal(t, "eve@example.com", identity.Email)
	require.NotEqual(t, "secret", identity.Password)
	require.True(t, crypto.VerifyPassword(identity.Password, "secret"))
	require.False(t, identity.IsVerified())

	_, err = provider.Register(ctx, RegisterInput{Email: "eve@example.com", Password: "other"})
	require.ErrorIs(t, err, ErrIdentityExists)
}

func TestRegisterWithinTransactionRollsBack(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{})
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := provider.WithTx(tx).Register(ctx, RegisterInput{Email: "tx@example.com", Password: "secret"})
		require.NoError(t, err)
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Identity{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestChangePassword(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newLocalProvider(t, db, LocalConfig{})
	ctx := context.Background()

	identity := createIdentity(t, db, "frank@example.com", "initial", true)

	require.NoError(t, provider.ChangePassword(ctx, identity.ID, "initial", "updated"))

	var updated models.Identity
	require.NoError(t, db.Take(&updated, "id = ?", identity.ID).Error)
	require.True(t, crypto.VerifyPassword(updated.Password, "updated"))
	require.NotNil(t, updated.PasswordChangedAt)

	require.ErrorIs(t, provider.ChangePassword(ctx, identity.ID, "wrong", "another"), ErrInvalidCredentials)
	require.ErrorIs(t, provider.SetPassword(ctx, "missing", "another"), ErrInvalidCredentials)
}

func newLocalProvider(t *testing.T, db *gorm.DB, cfg LocalConfig) *LocalProvider {
	t.Helper()
	provider, err := NewLocalProvider(db, cfg)
	require.NoError(t, err)
	return provider
}

func createIdentity(t *testing.T, db *gorm.DB, email, password string, verified bool) *models.Identity {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	identity := &models.Identity{Email: email, Password: hashed}
	if verified {
		now := time.Now()
		identity.EmailVerifiedAt = &now
	}
	require.NoError(t, db.Create(identity).Error)
	return identity
}
