package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/auth/providers"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/notify"
	"github.com/macroscope/macroscope/pkg/crypto"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

// DefaultInvitationExpiry bounds how long an invitation can be answered.
const DefaultInvitationExpiry = 7 * 24 * time.Hour

const invitationTokenBytes = 32

// Invitation responses.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// InviteInput describes a group invitation.
type InviteInput struct {
	Email   string
	Message string
}

// InvitationServiceOption configures optional InvitationService behaviour.
type InvitationServiceOption func(*InvitationService)

// WithInvitationExpiry overrides the invitation lifetime.
func WithInvitationExpiry(expiry time.Duration) InvitationServiceOption {
	return func(s *InvitationService) {
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// WithInvitationClock overrides the clock used for expiry checks.
func WithInvitationClock(now func() time.Time) InvitationServiceOption {
	return func(s *InvitationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInvitationDispatcher sets the dispatcher used to email unknown addresses.
func WithInvitationDispatcher(d *notify.Dispatcher) InvitationServiceOption {
	return func(s *InvitationService) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithInvitationPublisher pushes inbox events to invited users.
func WithInvitationPublisher(p InboxPublisher) InvitationServiceOption {
	return func(s *InvitationService) {
		s.publisher = publisherOrNoop(p)
	}
}

// InvitationService manages group invitations for existing users and email addresses.
type InvitationService struct {
	db           *gorm.DB
	auditService *AuditService
	dispatcher   *notify.Dispatcher
	publisher    InboxPublisher
	expiry       time.Duration
	now          func() time.Time
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, auditService *AuditService, opts ...InvitationServiceOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	svc := &InvitationService{
		db:           db,
		auditService: auditService,
		dispatcher:   notify.NewDispatcher(nil, 0),
		publisher:    noopPublisher{},
		expiry:       DefaultInvitationExpiry,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Invite creates an invitation. Existing users see it in their inbox; unknown
// addresses are emailed and the row is marked sent once delivery succeeds.
func (s *InvitationService) Invite(ctx context.Context, userID, groupID string, input InviteInput) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	group, _, err := requireGroupAdmin(ctx, s.db, groupID, userID)
	if err != nil {
		return nil, err
	}

	email := providers.NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.NewBadRequest("a valid email address is required")
	}

	token, err := crypto.GenerateToken(invitationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("invitation service: generate token: %w", err)
	}

	now := s.now()
	invitation := &models.GroupInvitation{
		GroupID:      groupID,
		InvitedBy:    userID,
		InvitedEmail: email,
		Message:      cleanText(input.Message, maxMessageLength),
		TokenHash:    crypto.HashToken(token),
		Status:       models.InvitationPending,
		ExpiresAt:    now.Add(s.expiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitee models.User
		err := tx.Where("email = ?", email).Take(&invitee).Error
		switch {
		case err == nil:
			membership, err := loadMembership(ctx, tx, groupID, invitee.ID)
			if err != nil {
				return err
			}
			if membership != nil {
				return ErrAlreadyMember.WithMessage("This user is already a member of the group")
			}
			invitation.InvitedUserID = &invitee.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("lookup invitee: %w", err)
		}

		var open int64
		if err := tx.Model(&models.GroupInvitation{}).
			Where("group_id = ? AND invited_email = ?", groupID, email).
			Where("status IN ? AND expires_at > ?", openInvitationStates(), now).
			Count(&open).Error; err != nil {
			return fmt.Errorf("check open invitations: %w", err)
		}
		if open > 0 {
			return ErrDuplicatePendingRequest.WithMessage("This email already has a pending invitation to this group")
		}

		return tx.Create(invitation).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invitation service: invite: %w", err)
	}

	inviter := s.username(ctx, userID)
	if invitation.InvitedUserID != nil {
		s.publisher.PublishInbox(*invitation.InvitedUserID, EventInboxUpdated, map[string]any{
			"type":          "invitation",
			"group_id":      groupID,
			"invitation_id": invitation.ID,
		})
	} else {
		s.dispatcher.Dispatch(notify.Invitation{
			ID:             invitation.ID,
			RecipientEmail: email,
			GroupName:      group.Name,
			InviterName:    inviter,
			Message:        invitation.Message,
			Token:          token,
		}, func(ctx context.Context) {
			s.markSent(ctx, invitation.ID)
		})
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Username: inviter,
		Action:   "group.invite",
		Resource: groupID,
		Result:   "success",
		Metadata: map[string]any{"invitation_id": invitation.ID, "existing_user": invitation.InvitedUserID != nil},
	})

	return &InvitationDTO{
		ID:            invitation.ID,
		GroupID:       groupID,
		GroupName:     group.Name,
		InvitedBy:     userID,
		InviterName:   inviter,
		InvitedEmail:  email,
		InvitedUserID: invitation.InvitedUserID,
		Message:       invitation.Message,
		Status:        invitation.Status,
		ExpiresAt:     invitation.ExpiresAt,
		CreatedAt:     invitation.CreatedAt,
	}, nil
}

// ListMine returns open invitations addressed to the user, newest first.
func (s *InvitationService) ListMine(ctx context.Context, userID string) ([]InvitationDTO, error) {
	ctx = ensureContext(ctx)
	return s.list(ctx, s.db.Where("i.invited_user_id = ? AND i.status IN ? AND i.expires_at > ?", userID, openInvitationStates(), s.now()))
}

// ListGroupInvitations returns the group's open invitations. Admin only.
func (s *InvitationService) ListGroupInvitations(ctx context.Context, userID, groupID string) ([]InvitationDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return nil, err
	}
	return s.list(ctx, s.db.Where("i.group_id = ? AND i.status IN ? AND i.expires_at > ?", groupID, openInvitationStates(), s.now()))
}

// Cancel withdraws an open invitation. Admin only.
func (s *InvitationService) Cancel(ctx context.Context, userID, groupID, invitationID string) error {
	ctx = ensureContext(ctx)

	if _, _, err := requireGroupAdmin(ctx, s.db, groupID, userID); err != nil {
		return err
	}

	var invitation models.GroupInvitation
	if err := s.db.WithContext(ctx).Where("id = ? AND group_id = ?", invitationID, groupID).Take(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("invitation service: load invitation: %w", err)
	}

	if err := s.transition(ctx, s.db, &invitation, models.InvitationCanceled); err != nil {
		return err
	}
	if invitation.InvitedUserID != nil {
		s.publisher.PublishInbox(*invitation.InvitedUserID, EventInboxUpdated, map[string]any{
			"type":          "invitation",
			"invitation_id": invitation.ID,
			"status":        models.InvitationCanceled,
		})
	}
	return nil
}

// Respond accepts or declines an invitation addressed to the user.
func (s *InvitationService) Respond(ctx context.Context, userID, invitationID, action string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	var invitation models.GroupInvitation
	if err := s.db.WithContext(ctx).
		Where("id = ? AND invited_user_id = ?", invitationID, userID).
		Take(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return s.respond(ctx, userID, &invitation, action)
}

// RespondByToken accepts or declines an emailed invitation. The token must have been
// issued for the caller's email address.
func (s *InvitationService) RespondByToken(ctx context.Context, userID, token, action string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("invitation service: load user: %w", err)
	}
	if !strings.EqualFold(user.Email, invitation.InvitedEmail) {
		return nil, ErrInvitationNotFound
	}
	if invitation.InvitedUserID != nil && *invitation.InvitedUserID != userID {
		return nil, ErrInvitationNotFound
	}
	if invitation.InvitedUserID == nil {
		if err := s.db.WithContext(ctx).Model(invitation).Update("invited_user_id", userID).Error; err != nil {
			return nil, fmt.Errorf("invitation service: claim invitation: %w", err)
		}
		invitation.InvitedUserID = &userID
	}
	return s.respond(ctx, userID, invitation, action)
}

// LookupToken validates an emailed invitation token for the given address.
func (s *InvitationService) LookupToken(ctx context.Context, token, email string) (*InvitationDTO, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if email != "" && !strings.EqualFold(providers.NormalizeEmail(email), invitation.InvitedEmail) {
		return nil, ErrInvitationNotFound
	}
	if !invitation.IsOpen(s.now()) {
		if invitation.Status == models.InvitationPending || invitation.Status == models.InvitationSent || invitation.Status == models.InvitationExpired {
			return nil, ErrInvitationExpired
		}
		return nil, ErrRequestAlreadyProcessed
	}

	rows, err := s.list(ctx, s.db.Where("i.id = ?", invitation.ID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrInvitationNotFound
	}
	return &rows[0], nil
}

// ExpireStale marks open invitations past their expiry as expired.
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.GroupInvitation{}).
		Where("status IN ? AND expires_at <= ?", openInvitationStates(), s.now()).
		Update("status", models.InvitationExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("invitation service: expire invitations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *InvitationService) respond(ctx context.Context, userID string, invitation *models.GroupInvitation, action string) (*InvitationDTO, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != ActionAccept && action != ActionDecline {
		return nil, apperrors.NewBadRequest("action must be accept or decline")
	}

	status := models.InvitationDeclined
	if action == ActionAccept {
		status = models.InvitationAccepted
	}

	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transition(ctx, tx, invitation, status); err != nil {
			return err
		}
		if action != ActionAccept {
			return nil
		}

		if _, err := loadGroup(ctx, tx, invitation.GroupID); err != nil {
			return err
		}
		membership, err := loadMembership(ctx, tx, invitation.GroupID, userID)
		if err != nil {
			return err
		}
		if membership != nil {
			return nil
		}
		return tx.Create(&models.GroupMembership{
			GroupID:  invitation.GroupID,
			UserID:   userID,
			Role:     models.RoleMember,
			JoinedAt: now,
		}).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("invitation service: respond: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "invitation.respond",
		Resource: invitation.ID,
		Result:   "success",
		Metadata: map[string]any{"group_id": invitation.GroupID, "action": action},
	})

	rows, err := s.list(ctx, s.db.Where("i.id = ?", invitation.ID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrInvitationNotFound
	}
	return &rows[0], nil
}

// transition moves an open invitation to a terminal state exactly once.
func (s *InvitationService) transition(ctx context.Context, db *gorm.DB, invitation *models.GroupInvitation, status string) error {
	now := s.now()
	if !invitation.IsOpen(now) {
		if invitation.Status == models.InvitationPending || invitation.Status == models.InvitationSent || invitation.Status == models.InvitationExpired {
			return ErrInvitationExpired
		}
		return ErrRequestAlreadyProcessed
	}

	result := db.WithContext(ctx).Model(&models.GroupInvitation{}).
		Where("id = ? AND status IN ?", invitation.ID, openInvitationStates()).
		Updates(map[string]any{"status": status, "responded_at": now})
	if result.Error != nil {
		return fmt.Errorf("invitation service: update invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRequestAlreadyProcessed
	}
	invitation.Status = status
	invitation.RespondedAt = &now
	return nil
}

func (s *InvitationService) byToken(ctx context.Context, token string) (*models.GroupInvitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}
	var invitation models.GroupInvitation
	err := s.db.WithContext(ctx).Where("token_hash = ?", crypto.HashToken(token)).Take(&invitation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) markSent(ctx context.Context, invitationID string) {
	if err := s.db.WithContext(ctx).Model(&models.GroupInvitation{}).
		Where("id = ? AND status = ?", invitationID, models.InvitationPending).
		Updates(map[string]any{"status": models.InvitationSent, "email_sent_at": s.now()}).Error; err != nil {
		logCleanupFailure("notify", "mark invitation sent failed", err)
	}
}

func (s *InvitationService) username(ctx context.Context, userID string) string {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Take(&user, "id = ?", userID).Error; err != nil {
		return ""
	}
	return user.Username
}

func (s *InvitationService) list(ctx context.Context, filter *gorm.DB) ([]InvitationDTO, error) {
	var rows []struct {
		ID            string
		GroupID       string
		GroupName     string
		InvitedBy     string
		InviterName   string
		InvitedEmail  string
		InvitedUserID *string
		Message       string
		Status        string
		ExpiresAt     time.Time
		CreatedAt     time.Time
	}
	if err := s.db.WithContext(ctx).
		Table("group_invitations AS i").
		Select("i.id, i.group_id, g.name AS group_name, i.invited_by, COALESCE(u.username, '') AS inviter_name, i.invited_email, i.invited_user_id, i.message, i.status, i.expires_at, i.created_at").
		Joins("JOIN research_groups g ON g.id = i.group_id").
		Joins("LEFT JOIN users u ON u.id = i.invited_by").
		Where(filter).
		Order("i.created_at DESC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}

	out := make([]InvitationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, InvitationDTO{
			ID:            row.ID,
			GroupID:       row.GroupID,
			GroupName:     row.GroupName,
			InvitedBy:     row.InvitedBy,
			InviterName:   row.InviterName,
			InvitedEmail:  row.InvitedEmail,
			InvitedUserID: row.InvitedUserID,
			Message:       row.Message,
			Status:        row.Status,
			ExpiresAt:     row.ExpiresAt,
			CreatedAt:     row.CreatedAt,
		})
	}
	return out, nil
}

func openInvitationStates() []string {
	return []string{models.InvitationPending, models.InvitationSent}
}
