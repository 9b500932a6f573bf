package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
)

// IdentityCreated is passed to identity hooks after registration inserts the identity.
type IdentityCreated struct {
	Identity *models.Identity
	Username string
}

// ProjectCreated is passed to project hooks after the project row is inserted.
type ProjectCreated struct {
	Project *models.Project
}

// IdentityHook runs inside the registration transaction.
type IdentityHook func(ctx context.Context, tx *gorm.DB, event IdentityCreated) error

// ProjectHook runs inside the project creation transaction.
type ProjectHook func(ctx context.Context, tx *gorm.DB, event ProjectCreated) error

// Hooks holds the lifecycle hook chains. A failing hook aborts the surrounding transaction.
type Hooks struct {
	identityCreated []IdentityHook
	projectCreated  []ProjectHook
}

// NewHooks returns an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{}
}

// DefaultHooks registers the profile and project-admin hooks.
func DefaultHooks(now func() time.Time) *Hooks {
	if now == nil {
		now = time.Now
	}
	h := NewHooks()
	h.OnIdentityCreated(createProfileHook)
	h.OnIdentityCreated(claimEmailInvitationsHook(now))
	h.OnProjectCreated(addCreatorAsProjectAdminHook)
	return h
}

// OnIdentityCreated appends a hook to the identity chain.
func (h *Hooks) OnIdentityCreated(hook IdentityHook) {
	if hook != nil {
		h.identityCreated = append(h.identityCreated, hook)
	}
}

// OnProjectCreated appends a hook to the project chain.
func (h *Hooks) OnProjectCreated(hook ProjectHook) {
	if hook != nil {
		h.projectCreated = append(h.projectCreated, hook)
	}
}

func (h *Hooks) identityCreatedChain(ctx context.Context, tx *gorm.DB, event IdentityCreated) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.identityCreated {
		if err := hook(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) projectCreatedChain(ctx context.Context, tx *gorm.DB, event ProjectCreated) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.projectCreated {
		if err := hook(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func createProfileHook(ctx context.Context, tx *gorm.DB, event IdentityCreated) error {
	profile := &models.User{
		ID:             event.Identity.ID,
		Username:       strings.TrimSpace(event.Username),
		Email:          event.Identity.Email,
		ProfilePicture: models.DefaultAvatarRef(models.DefaultAvatars[0]),
	}
	if err := tx.WithContext(ctx).Create(profile).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// claimEmailInvitationsHook attaches open email invitations to the new account.
func claimEmailInvitationsHook(now func() time.Time) IdentityHook {
	return func(ctx context.Context, tx *gorm.DB, event IdentityCreated) error {
		err := tx.WithContext(ctx).
			Model(&models.GroupInvitation{}).
			Where("invited_email = ? AND invited_user_id IS NULL", event.Identity.Email).
			Where("status IN ? AND expires_at > ?", []string{models.InvitationPending, models.InvitationSent}, now()).
			Update("invited_user_id", event.Identity.ID).Error
		if err != nil {
			return fmt.Errorf("claim email invitations: %w", err)
		}
		return nil
	}
}

func addCreatorAsProjectAdminHook(ctx context.Context, tx *gorm.DB, event ProjectCreated) error {
	member := &models.ProjectMember{
		ProjectID: event.Project.ID,
		UserID:    event.Project.CreatedBy,
		Role:      models.RoleAdmin,
		AddedBy:   strPtr(event.Project.CreatedBy),
	}
	if err := tx.WithContext(ctx).Create(member).Error; err != nil {
		return fmt.Errorf("add creator to project: %w", err)
	}
	return nil
}
