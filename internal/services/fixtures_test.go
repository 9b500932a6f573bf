package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/database/testutil"
	"github.com/macroscope/macroscope/internal/models"
)

var fixtureNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: fixtureNow}
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

type recordedEvent struct {
	UserID string
	Event  string
	Data   any
}

type capturePublisher struct {
	events []recordedEvent
}

func (p *capturePublisher) PublishInbox(userID, event string, data any) {
	p.events = append(p.events, recordedEvent{UserID: userID, Event: event, Data: data})
}

func (p *capturePublisher) recipients() []string {
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.UserID)
	}
	return out
}

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

// createUser inserts a verified identity and its profile.
func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	verified := fixtureNow
	email := strings.ToLower(username) + "@example.com"
	identity := &models.Identity{
		Email:           email,
		Password:        "not-a-real-hash",
		EmailVerifiedAt: &verified,
	}
	require.NoError(t, db.Create(identity).Error)

	user := &models.User{
		ID:             identity.ID,
		Username:       username,
		Email:          email,
		ProfilePicture: models.DefaultAvatarRef(models.DefaultAvatars[0]),
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// addGroupMember inserts a membership directly, bypassing join requests.
func addGroupMember(t *testing.T, db *gorm.DB, groupID, userID, role string, joinedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.GroupMembership{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: joinedAt,
	}).Error)
}

func newGroupService(t *testing.T, db *gorm.DB, opts ...GroupServiceOption) *GroupService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewGroupService(db, audit, opts...)
	require.NoError(t, err)
	return svc
}

func newProjectService(t *testing.T, db *gorm.DB, opts ...ProjectServiceOption) *ProjectService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewProjectService(db, audit, opts...)
	require.NoError(t, err)
	return svc
}

func mustCreateGroup(t *testing.T, svc *GroupService, userID, name string) *GroupDTO {
	t.Helper()
	group, err := svc.Create(context.Background(), userID, CreateGroupInput{Name: name})
	require.NoError(t, err)
	return group
}

func mustCreateProject(t *testing.T, svc *ProjectService, userID, groupID, name string) *ProjectDTO {
	t.Helper()
	project, err := svc.Create(context.Background(), userID, CreateProjectInput{GroupID: groupID, Name: name})
	require.NoError(t, err)
	return project
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func adminCount(t *testing.T, db *gorm.DB, groupID string) int64 {
	t.Helper()
	return countRows(t, db, &models.GroupMembership{}, "group_id = ? AND role = ?", groupID, models.RoleAdmin)
}
