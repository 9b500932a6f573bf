package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/auth"
	"github.com/macroscope/macroscope/internal/auth/providers"
	"github.com/macroscope/macroscope/internal/models"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/logger"
)

// RegisterInput carries the fields required to create an account.
type RegisterInput struct {
	Email    string
	Password string
	Username string
}

// LoginInput carries credentials plus client metadata for the new session.
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
	Device    string
}

// LoginResult is returned after a successful sign-in.
type LoginResult struct {
	Tokens auth.TokenPair `json:"tokens"`
	User   UserDTO        `json:"user"`
}

// AuthServiceDeps lists the collaborators of AuthService.
type AuthServiceDeps struct {
	Local        *providers.LocalProvider
	Sessions     *auth.SessionService
	Identities   IdentityInvalidator
	Verification *EmailVerificationService
	Resets       *PasswordResetService
	Hooks        *Hooks
}

// AuthService implements registration, sign-in and credential recovery.
type AuthService struct {
	db           *gorm.DB
	auditService *AuditService
	local        *providers.LocalProvider
	sessions     *auth.SessionService
	identities   IdentityInvalidator
	verification *EmailVerificationService
	resets       *PasswordResetService
	hooks        *Hooks
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, auditService *AuditService, deps AuthServiceDeps) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service: db is required")
	}
	if deps.Local == nil || deps.Sessions == nil {
		return nil, errors.New("auth service: local provider and session service are required")
	}
	hooks := deps.Hooks
	if hooks == nil {
		hooks = DefaultHooks(nil)
	}
	return &AuthService{
		db:           db,
		auditService: auditService,
		local:        deps.Local,
		sessions:     deps.Sessions,
		identities:   invalidatorOrNoop(deps.Identities),
		verification: deps.Verification,
		resets:       deps.Resets,
		hooks:        hooks,
	}, nil
}

// Register creates the identity and runs the identity hooks in one transaction,
// then sends the verification email.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*UserDTO, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(input.Username)
	email := providers.NormalizeEmail(input.Email)
	if username == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("email, password and username are required")
	}

	var taken int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("LOWER(username) = ? OR email = ?", strings.ToLower(username), email).
		Count(&taken).Error; err != nil {
		return nil, fmt.Errorf("auth service: check identity: %w", err)
	}
	if taken > 0 {
		return nil, ErrDuplicateIdentity
	}

	var identity *models.Identity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.local.WithTx(tx).Register(ctx, providers.RegisterInput{Email: email, Password: input.Password})
		if err != nil {
			return err
		}
		identity = created
		return s.hooks.identityCreatedChain(ctx, tx, IdentityCreated{Identity: created, Username: username})
	})
	if err != nil {
		if errors.Is(err, providers.ErrIdentityExists) || errors.Is(err, ErrDuplicateIdentity) || isUniqueConstraintError(err) {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("auth service: register: %w", err)
	}

	if s.verification != nil {
		if _, err := s.verification.Issue(ctx, identity.ID, identity.Email, username); err != nil {
			logger.WithModule("auth").Warn("verification token not issued", zap.String("user_id", identity.ID), zap.Error(err))
		}
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   identity.ID,
		Username: username,
		Action:   "auth.register",
		Resource: identity.ID,
		Result:   "success",
	})

	profile, err := s.profile(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*profile, identity.IsVerified())
	return &dto, nil
}

// Login authenticates the credentials and opens a new session.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	identity, err := s.authenticate(ctx, input.Email, input.Password, input.IPAddress)
	if err != nil {
		return nil, err
	}

	tokens, _, err := s.sessions.CreateSession(ctx, identity.ID, auth.SessionMetadata{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Device:    input.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: create session: %w", err)
	}

	profile, err := s.profile(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: tokens, User: toUserDTO(*profile, true)}, nil
}

// CheckVerificationStatus signs in and immediately signs out again to learn whether
// the email is verified. Every call creates and revokes a real session.
func (s *AuthService) CheckVerificationStatus(ctx context.Context, email, password string) (bool, error) {
	ctx = ensureContext(ctx)

	identity, err := s.authenticate(ctx, email, password, "")
	if errors.Is(err, ErrEmailNotVerified) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, session, err := s.sessions.CreateSession(ctx, identity.ID, auth.SessionMetadata{Device: "verification-probe"})
	if err != nil {
		return false, fmt.Errorf("auth service: probe session: %w", err)
	}
	if err := s.sessions.RevokeSession(ctx, session.ID); err != nil {
		return false, fmt.Errorf("auth service: revoke probe session: %w", err)
	}
	return true, nil
}

// ResendVerification issues a new verification email when the address belongs to an
// unverified identity. Unknown or verified addresses succeed silently.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	if s.verification == nil {
		return nil
	}

	identity, profile, err := s.lookupByEmail(ctx, email)
	if err != nil || identity == nil || identity.IsVerified() {
		return err
	}

	if _, err := s.verification.Issue(ctx, identity.ID, identity.Email, profile.Username); err != nil {
		return fmt.Errorf("auth service: resend verification: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*UserDTO, error) {
	ctx = ensureContext(ctx)
	if s.verification == nil {
		return nil, ErrInvalidToken
	}

	verification, err := s.verification.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	s.identities.Invalidate(ctx, verification.UserID)

	profile, err := s.profile(ctx, verification.UserID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*profile, true)
	return &dto, nil
}

// ForgotPassword emails a reset link when the address is registered. It never
// reveals whether the address exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)
	if s.resets == nil {
		return nil
	}

	identity, profile, err := s.lookupByEmail(ctx, email)
	if err != nil || identity == nil {
		return err
	}

	if _, err := s.resets.Issue(ctx, identity.ID, identity.Email, profile.Username); err != nil {
		return fmt.Errorf("auth service: forgot password: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token, sets the new password and signs out every session.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)
	if s.resets == nil {
		return ErrInvalidToken
	}
	if newPassword == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	var userID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := s.resets.Consume(ctx, tx, token)
		if err != nil {
			return err
		}
		userID = id
		return s.local.WithTx(tx).SetPassword(ctx, id, newPassword)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, providers.ErrInvalidCredentials) {
			return ErrInvalidToken
		}
		return fmt.Errorf("auth service: reset password: %w", err)
	}

	if _, err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		logger.WithModule("auth").Warn("session revocation after reset failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.identities.Invalidate(ctx, userID)

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "auth.password_change",
		Resource: userID,
		Result:   "success",
		Metadata: map[string]any{"method": "reset"},
	})
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx = ensureContext(ctx)
	if newPassword == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	if err := s.local.ChangePassword(ctx, userID, currentPassword, newPassword); err != nil {
		if errors.Is(err, providers.ErrInvalidCredentials) {
			return ErrInvalidCredentials.WithMessage("Current password is incorrect")
		}
		return fmt.Errorf("auth service: change password: %w", err)
	}
	s.identities.Invalidate(ctx, userID)

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "auth.password_change",
		Resource: userID,
		Result:   "success",
	})
	return nil
}

// Refresh rotates the refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)

	tokens, _, err := s.sessions.RefreshSession(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionNotFound),
			errors.Is(err, auth.ErrSessionRevoked),
			errors.Is(err, auth.ErrSessionExpired),
			errors.Is(err, auth.ErrSessionInvalidToken):
			return auth.TokenPair{}, ErrNotAuthenticated.WithMessage("Session expired, please sign in again")
		}
		return auth.TokenPair{}, fmt.Errorf("auth service: refresh: %w", err)
	}
	return tokens, nil
}

// Logout revokes the session and drops the cached identity.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	ctx = ensureContext(ctx)
	defer s.identities.Invalidate(ctx, userID)

	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	err := s.sessions.RevokeSession(ctx, sessionID)
	if err != nil && !errors.Is(err, auth.ErrSessionNotFound) && !errors.Is(err, auth.ErrSessionRevoked) {
		return fmt.Errorf("auth service: logout: %w", err)
	}
	return nil
}

// Me returns the caller's own profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*UserDTO, error) {
	ctx = ensureContext(ctx)

	var identity models.Identity
	if err := s.db.WithContext(ctx).Take(&identity, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth service: load identity: %w", err)
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(*profile, identity.IsVerified())
	return &dto, nil
}

func (s *AuthService) authenticate(ctx context.Context, email, password, ip string) (*models.Identity, error) {
	identity, err := s.local.Authenticate(ctx, providers.AuthenticateInput{
		Email:     email,
		Password:  password,
		IPAddress: ip,
	})
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, providers.ErrEmailNotVerified):
		return identity, ErrEmailNotVerified
	case errors.Is(err, providers.ErrAccountLocked):
		return nil, ErrAccountLocked
	case errors.Is(err, providers.ErrInvalidCredentials):
		return nil, ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("auth service: authenticate: %w", err)
	}
}

// lookupByEmail returns nil identity without error for unknown addresses.
func (s *AuthService) lookupByEmail(ctx context.Context, email string) (*models.Identity, *models.User, error) {
	email = providers.NormalizeEmail(email)
	if email == "" {
		return nil, nil, nil
	}

	var identity models.Identity
	err := s.db.WithContext(ctx).Take(&identity, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth service: lookup identity: %w", err)
	}

	profile, err := s.profile(ctx, identity.ID)
	if err != nil {
		return nil, nil, err
	}
	return &identity, profile, nil
}

func (s *AuthService) profile(ctx context.Context, userID string) (*models.User, error) {
	var profile models.User
	err := s.db.WithContext(ctx).Take(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth service: load profile: %w", err)
	}
	return &profile, nil
}
