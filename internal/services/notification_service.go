package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

// Notification item types.
const (
	NotificationInvitation  = "invitation"
	NotificationJoinRequest = "join_request"
)

// NotificationItem is one entry of the merged inbox.
type NotificationItem struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	GroupID     string          `json:"group_id"`
	GroupName   string          `json:"group_name"`
	Timestamp   time.Time       `json:"timestamp"`
	Invitation  *InvitationDTO  `json:"invitation,omitempty"`
	JoinRequest *JoinRequestDTO `json:"join_request,omitempty"`
}

// NotificationService merges invitations and join requests into one inbox.
type NotificationService struct {
	db          *gorm.DB
	invitations *InvitationService
	groups      *GroupService
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, invitations *InvitationService, groups *GroupService) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	if invitations == nil || groups == nil {
		return nil, errors.New("notification service: invitation and group services are required")
	}
	return &NotificationService{db: db, invitations: invitations, groups: groups}, nil
}

// List returns open invitations for the user and pending join requests on groups
// the user administers, newest first.
func (s *NotificationService) List(ctx context.Context, userID string) ([]NotificationItem, error) {
	ctx = ensureContext(ctx)

	invitations, err := s.invitations.ListMine(ctx, userID)
	if err != nil {
		return nil, err
	}

	adminGroups := s.db.WithContext(ctx).Model(&models.GroupMembership{}).
		Select("group_id").
		Where("user_id = ? AND role = ?", userID, models.RoleAdmin)
	requests, err := s.groups.loadJoinRequests(ctx, s.db.Where("r.status = ? AND r.group_id IN (?)", models.JoinRequestPending, adminGroups))
	if err != nil {
		return nil, err
	}

	items := make([]NotificationItem, 0, len(invitations)+len(requests))
	for i := range invitations {
		inv := invitations[i]
		items = append(items, NotificationItem{
			ID:         inv.ID,
			Type:       NotificationInvitation,
			GroupID:    inv.GroupID,
			GroupName:  inv.GroupName,
			Timestamp:  inv.CreatedAt,
			Invitation: &inv,
		})
	}
	for i := range requests {
		req := requests[i]
		items = append(items, NotificationItem{
			ID:          req.ID,
			Type:        NotificationJoinRequest,
			GroupID:     req.GroupID,
			GroupName:   req.GroupName,
			Timestamp:   req.RequestedAt,
			JoinRequest: &req,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

// Respond answers an inbox item. Invitations take accept|decline; join requests
// also accept approve|reject.
func (s *NotificationService) Respond(ctx context.Context, userID, itemType, itemID, action string) error {
	ctx = ensureContext(ctx)
	action = strings.ToLower(strings.TrimSpace(action))

	switch strings.TrimSpace(itemType) {
	case NotificationInvitation:
		_, err := s.invitations.Respond(ctx, userID, itemID, action)
		return err
	case NotificationJoinRequest:
		switch action {
		case ActionAccept:
			action = ActionApprove
		case ActionDecline:
			action = ActionReject
		}
		var request models.GroupJoinRequest
		if err := s.db.WithContext(ctx).Select("id", "group_id").Take(&request, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJoinRequestNotFound
			}
			return fmt.Errorf("notification service: load join request: %w", err)
		}
		_, err := s.groups.RespondToJoinRequest(ctx, userID, request.GroupID, request.ID, action)
		return err
	default:
		return apperrors.NewBadRequest("type must be invitation or join_request")
	}
}
