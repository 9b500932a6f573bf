package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the identity has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrEmailNotVerified signals valid credentials for an identity whose email is unconfirmed.
	ErrEmailNotVerified = errors.New("auth: email not verified")
	// ErrIdentityExists is returned when registering an email that already has an identity.
	ErrIdentityExists = errors.New("auth: identity already exists")
)

// LocalConfig defines tunable behaviour for the local provider.
type LocalConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// AuthenticateInput contains metadata required to authenticate an identity.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
}

// RegisterInput captures the credentials for a new identity.
type RegisterInput struct {
	Email    string
	Password string
}

// LocalProvider implements email/password authentication with account lockout controls.
type LocalProvider struct {
	db        *gorm.DB
	clock     func() time.Time
	threshold int
	duration  time.Duration
}

// NewLocalProvider builds a provider with sane defaults.
func NewLocalProvider(db *gorm.DB, cfg LocalConfig) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("local provider: db is required")
	}

	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}

	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LocalProvider{
		db:        db,
		clock:     clock,
		threshold: threshold,
		duration:  duration,
	}, nil
}

// WithTx returns a copy of the provider bound to tx.
func (p *LocalProvider) WithTx(tx *gorm.DB) *LocalProvider {
	cpy := *p
	cpy.db = tx
	return &cpy
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate verifies the supplied credentials and returns the identity when successful.
// Unverified identities yield ErrEmailNotVerified only after the password matched.
func (p *LocalProvider) Authenticate(ctx context.Context, input AuthenticateInput) (*models.Identity, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	db := p.db.WithContext(ctx)

	var identity models.Identity
	err := db.Where("email = ?", email).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local provider: query identity: %w", err)
	}

	now := p.clock()
	if identity.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	if identity.LockedUntil != nil {
		identity.LockedUntil = nil
		identity.FailedAttempts = 0
		if err := db.Model(&identity).Updates(map[string]any{
			"locked_until":    nil,
			"failed_attempts": 0,
		}).Error; err != nil {
			return nil, fmt.Errorf("local provider: reset lock state: %w", err)
		}
	}

	if !crypto.VerifyPassword(identity.Password, input.Password) {
		return nil, p.handleFailedAttempt(ctx, &identity, now)
	}

	if !identity.IsVerified() {
		return &identity, ErrEmailNotVerified
	}

	identity.FailedAttempts = 0
	identity.LastLoginAt = &now
	identity.LastLoginIP = strings.TrimSpace(input.IPAddress)

	if err := db.Model(&identity).Updates(map[string]any{
		"failed_attempts": 0,
		"last_login_at":   now,
		"last_login_ip":   identity.LastLoginIP,
	}).Error; err != nil {
		return nil, fmt.Errorf("local provider: update identity: %w", err)
	}

	return &identity, nil
}

func (p *LocalProvider) handleFailedAttempt(ctx context.Context, identity *models.Identity, now time.Time) error {
	identity.FailedAttempts++

	updates := map[string]any{
		"failed_attempts": identity.FailedAttempts,
	}

	if identity.FailedAttempts >= p.threshold {
		lockUntil := now.Add(p.duration)
		identity.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := p.db.WithContext(ctx).Model(identity).Updates(updates).Error; err != nil {
		return fmt.Errorf("local provider: update failed attempts: %w", err)
	}

	if identity.IsLocked(now) {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

// Register creates a new unverified identity with a hashed password.
func (p *LocalProvider) Register(ctx context.Context, input RegisterInput) (*models.Identity, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, errors.New("local provider: email and password are required")
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&models.Identity{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("local provider: check email: %w", err)
	}
	if count > 0 {
		return nil, ErrIdentityExists
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("local provider: hash password: %w", err)
	}

	identity := &models.Identity{
		Email:    email,
		Password: hashed,
	}
	if err := p.db.WithContext(ctx).Create(identity).Error; err != nil {
		return nil, fmt.Errorf("local provider: create identity: %w", err)
	}

	return identity, nil
}

// ChangePassword updates the password after verifying the existing credential.
func (p *LocalProvider) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(userID) == "" || newPassword == "" {
		return errors.New("local provider: user id and new password are required")
	}

	var identity models.Identity
	if err := p.db.WithContext(ctx).Take(&identity, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("local provider: find identity: %w", err)
	}

	if !crypto.VerifyPassword(identity.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	return p.SetPassword(ctx, userID, newPassword)
}

// SetPassword replaces the password without checking the previous one and clears lockout state.
func (p *LocalProvider) SetPassword(ctx context.Context, userID, newPassword string) error {
	if strings.TrimSpace(userID) == "" || newPassword == "" {
		return errors.New("local provider: user id and new password are required")
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("local provider: hash password: %w", err)
	}

	result := p.db.WithContext(ctx).Model(&models.Identity{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password":            hashed,
			"password_changed_at": p.clock(),
			"failed_attempts":     0,
			"locked_until":        nil,
		})
	if result.Error != nil {
		return fmt.Errorf("local provider: update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidCredentials
	}
	return nil
}
