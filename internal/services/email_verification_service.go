package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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
	defaultVerificationExpiry     = 24 * time.Hour
	defaultVerificationTokenBytes = 32
	defaultDeepLinkScheme         = "macroscope"
)

// DeepLinks builds the app callback URLs embedded in emails.
type DeepLinks struct {
	Scheme string
}

// EmailVerified returns <scheme>://email-verified?email=..&token=..
func (d DeepLinks) EmailVerified(email, token string) string {
	return d.build("email-verified", email, token)
}

// PasswordReset returns <scheme>://password-reset?email=..&token=..
func (d DeepLinks) PasswordReset(email, token string) string {
	return d.build("password-reset", email, token)
}

func (d DeepLinks) build(host, email, token string) string {
	scheme := strings.TrimSuffix(strings.TrimSpace(d.Scheme), "://")
	if scheme == "" {
		scheme = defaultDeepLinkScheme
	}
	query := url.Values{}
	query.Set("email", email)
	query.Set("token", token)
	return fmt.Sprintf("%s://%s?%s", scheme, host, query.Encode())
}

// VerificationOption customises the EmailVerificationService.
type VerificationOption func(*EmailVerificationService)

// WithVerificationLinks sets the deep links used in verification emails.
func WithVerificationLinks(links DeepLinks) VerificationOption {
	return func(s *EmailVerificationService) {
		s.links = links
	}
}

// WithVerificationExpiry overrides the token lifetime.
func WithVerificationExpiry(d time.Duration) VerificationOption {
	return func(s *EmailVerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *EmailVerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// EmailVerificationService manages email verification tokens.
type EmailVerificationService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	links       DeepLinks
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewEmailVerificationService constructs a verification service with the provided dependencies.
func NewEmailVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*EmailVerificationService, error) {
	if db == nil {
		return nil, errors.New("email verification service: db is required")
	}

	service := &EmailVerificationService{
		db:          db,
		mailer:      mailer,
		expiry:      defaultVerificationExpiry,
		tokenLength: defaultVerificationTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Issue replaces any outstanding token for the identity and emails a fresh link.
// Mail delivery failures are logged; the token is still returned.
func (s *EmailVerificationService) Issue(ctx context.Context, userID, email, username string) (string, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == "" || email == "" {
		return "", errors.New("email verification service: user id and email are required")
	}

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("email verification service: generate token: %w", err)
	}

	verification := models.EmailVerification{
		UserID:    userID,
		Email:     email,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: s.now().Add(s.expiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND verified_at IS NULL", userID).
			Delete(&models.EmailVerification{}).Error; err != nil {
			return fmt.Errorf("cleanup existing: %w", err)
		}
		return tx.Create(&verification).Error
	})
	if err != nil {
		return "", fmt.Errorf("email verification service: create token: %w", err)
	}

	s.send(ctx, email, username, token)
	return token, nil
}

// Verify consumes a token and marks the identity's email as verified.
func (s *EmailVerificationService) Verify(ctx context.Context, token string) (*models.EmailVerification, error) {
	ctx = ensureContext(ctx)
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	var verification models.EmailVerification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token_hash = ?", crypto.HashToken(token)).Take(&verification).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("find token: %w", err)
		}

		now := s.now()
		if verification.VerifiedAt != nil || !verification.ExpiresAt.After(now) {
			return ErrInvalidToken
		}

		if err := tx.Model(&verification).Update("verified_at", now).Error; err != nil {
			return fmt.Errorf("mark verified: %w", err)
		}
		if err := tx.Model(&models.Identity{}).
			Where("id = ? AND email_verified_at IS NULL", verification.UserID).
			Update("email_verified_at", now).Error; err != nil {
			return fmt.Errorf("verify identity: %w", err)
		}
		verification.VerifiedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("email verification service: verify: %w", err)
	}
	return &verification, nil
}

// PurgeExpired removes expired or consumed tokens.
func (s *EmailVerificationService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR verified_at IS NOT NULL", s.now()).
		Delete(&models.EmailVerification{})
	if result.Error != nil {
		return 0, fmt.Errorf("email verification service: purge: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *EmailVerificationService) send(ctx context.Context, email, username, token string) {
	if s.mailer == nil {
		return
	}

	body, err := mail.Render("verification", mail.TemplateData{
		Username:  username,
		Link:      s.links.EmailVerified(email, token),
		ExpiresIn: humanDuration(s.expiry),
	})
	if err == nil {
		err = s.mailer.Send(ctx, mail.Message{
			To:      []string{email},
			Subject: "Confirm your MacroScope account",
			Body:    body,
		})
	}
	if err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		logger.WithModule("auth").Warn("verification email failed", zap.String("email", email), zap.Error(err))
	}
}

func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
