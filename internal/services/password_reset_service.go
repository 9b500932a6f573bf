package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/pkg/crypto"
	"github.com/macroscope/macroscope/pkg/logger"
	"github.com/macroscope/macroscope/pkg/mail"
)

const (
	defaultResetExpiry     = time.Hour
	defaultResetTokenBytes = 32
)

// PasswordResetOption customises the PasswordResetService.
type PasswordResetOption func(*PasswordResetService)

// WithResetLinks sets the deep links used in reset emails.
func WithResetLinks(links DeepLinks) PasswordResetOption {
	return func(s *PasswordResetService) {
		s.links = links
	}
}

// WithResetExpiry overrides the token lifetime.
func WithResetExpiry(d time.Duration) PasswordResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) PasswordResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService issues and consumes one-time password reset tokens.
type PasswordResetService struct {
	db     *gorm.DB
	mailer mail.Mailer
	links  DeepLinks
	expiry time.Duration
	now    func() time.Time
}

// NewPasswordResetService constructs the reset service.
func NewPasswordResetService(db *gorm.DB, mailer mail.Mailer, opts ...PasswordResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}

	service := &PasswordResetService{
		db:     db,
		mailer: mailer,
		expiry: defaultResetExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Issue stores a new reset token for the identity and emails the reset link.
func (s *PasswordResetService) Issue(ctx context.Context, userID, email, username string) (string, error) {
	ctx = ensureContext(ctx)

	token, err := crypto.GenerateToken(defaultResetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("password reset service: generate token: %w", err)
	}

	record := models.PasswordResetToken{
		UserID:    userID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: s.now().Add(s.expiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND used_at IS NULL", userID).
			Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return "", fmt.Errorf("password reset service: create token: %w", err)
	}

	if s.mailer != nil {
		body, renderErr := mail.Render("password_reset", mail.TemplateData{
			Username:  username,
			Link:      s.links.PasswordReset(email, token),
			ExpiresIn: humanDuration(s.expiry),
		})
		if renderErr == nil {
			renderErr = s.mailer.Send(ctx, mail.Message{
				To:      []string{email},
				Subject: "Reset your MacroScope password",
				Body:    body,
			})
		}
		if renderErr != nil && !errors.Is(renderErr, mail.ErrSMTPDisabled) {
			logger.WithModule("auth").Warn("password reset email failed", zap.String("email", email), zap.Error(renderErr))
		}
	}

	return token, nil
}

// Consume marks the token used inside tx and returns the identity it belongs to.
func (s *PasswordResetService) Consume(ctx context.Context, tx *gorm.DB, token string) (string, error) {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if tx == nil {
		tx = s.db
	}

	var record models.PasswordResetToken
	if err := tx.WithContext(ctx).Where("token_hash = ?", crypto.HashToken(token)).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("password reset service: find token: %w", err)
	}

	now := s.now()
	if record.UsedAt != nil || !record.ExpiresAt.After(now) {
		return "", ErrInvalidToken
	}

	result := tx.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", record.ID).
		Update("used_at", now)
	if result.Error != nil {
		return "", fmt.Errorf("password reset service: mark used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrInvalidToken
	}
	return record.UserID, nil
}

// PurgeExpired removes expired or used tokens.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", s.now()).
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset service: purge: %w", result.Error)
	}
	return result.RowsAffected, nil
}
