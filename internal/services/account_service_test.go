package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
)

type fakeRevoker struct {
	revoked []string
}

func (f *fakeRevoker) RevokeUserSessions(_ context.Context, userID string) (int64, error) {
	f.revoked = append(f.revoked, userID)
	return 1, nil
}

type fakeInvalidator struct {
	invalidated []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) {
	f.invalidated = append(f.invalidated, userID)
}

func newAccountService(t *testing.T, db *gorm.DB, deps AccountServiceDeps) *AccountService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewAccountService(db, audit, deps)
	require.NoError(t, err)
	return svc
}

func requireUserGone(t *testing.T, db *gorm.DB, userID string) {
	t.Helper()
	require.Zero(t, countRows(t, db, &models.User{}, "id = ?", userID))
	require.Zero(t, countRows(t, db, &models.Identity{}, "id = ?", userID))
	require.Zero(t, countRows(t, db, &models.GroupMembership{}, "user_id = ?", userID))
	require.Zero(t, countRows(t, db, &models.ProjectMember{}, "user_id = ?", userID))
}

func TestAccountServiceAnalyzeWithoutGroups(t *testing.T) {
	db := openServiceDB(t)
	svc := newAccountService(t, db, AccountServiceDeps{})
	user := createUser(t, db, "loner")

	analysis, err := svc.AnalyzeDeletion(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, analysis.SoloGroups)
	require.NotNil(t, analysis.AdminGroups)
	require.NotNil(t, analysis.MemberGroups)
	require.Empty(t, analysis.SoloGroups)
	require.Empty(t, analysis.AdminGroups)
	require.Empty(t, analysis.MemberGroups)
	require.Empty(t, analysis.ProjectsCreated)
	require.True(t, analysis.CanDeleteImmediately)

	_, err = svc.AnalyzeDeletion(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAccountServiceAnalyzePartitionsGroups(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	projects := newProjectService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	user := createUser(t, db, "user")
	peer := createUser(t, db, "peer")

	solo := mustCreateGroup(t, groups, user.ID, "Solo")
	admin := mustCreateGroup(t, groups, user.ID, "Admin Lab")
	addGroupMember(t, db, admin.ID, peer.ID, models.RoleMember, fixtureNow)
	member := mustCreateGroup(t, groups, peer.ID, "Member Lab")
	addGroupMember(t, db, member.ID, user.ID, models.RoleMember, fixtureNow)
	mustCreateProject(t, projects, user.ID, admin.ID, "Mine")

	analysis, err := svc.AnalyzeDeletion(context.Background(), user.ID)
	require.NoError(t, err)

	require.Len(t, analysis.SoloGroups, 1)
	require.Equal(t, solo.ID, analysis.SoloGroups[0].GroupID)
	require.Len(t, analysis.AdminGroups, 1)
	require.Equal(t, admin.ID, analysis.AdminGroups[0].GroupID)
	require.True(t, analysis.AdminGroups[0].IsCreator)
	require.Len(t, analysis.AdminGroups[0].EligibleSuccessors, 1)
	require.Equal(t, peer.ID, analysis.AdminGroups[0].EligibleSuccessors[0].UserID)
	require.Len(t, analysis.MemberGroups, 1)
	require.Equal(t, member.ID, analysis.MemberGroups[0].GroupID)
	require.Len(t, analysis.ProjectsCreated, 1)
	require.Equal(t, int64(1), analysis.ProjectsCreated[0].MemberCount)
	require.False(t, analysis.CanDeleteImmediately)
}

func TestAccountServiceDeleteTransfersGroup(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	projects := newProjectService(t, db)
	revoker := &fakeRevoker{}
	invalidator := &fakeInvalidator{}
	svc := newAccountService(t, db, AccountServiceDeps{Sessions: revoker, Identities: invalidator})
	u1 := createUser(t, db, "u1")
	u2 := createUser(t, db, "u2")
	ctx := context.Background()

	lab := mustCreateGroup(t, groups, u1.ID, "Lab A")
	request, err := groups.RequestToJoin(ctx, u2.ID, lab.ID, "")
	require.NoError(t, err)
	_, err = groups.RespondToJoinRequest(ctx, u1.ID, lab.ID, request.ID, ActionApprove)
	require.NoError(t, err)
	project := mustCreateProject(t, projects, u1.ID, lab.ID, "Imaging")

	report, err := svc.DeleteAccount(ctx, u1.ID, DeleteAccountInput{
		Mappings:       []TransferMapping{{GroupID: lab.ID, NewAdminID: u2.ID}},
		TransferGroups: []string{lab.ID},
	})
	require.NoError(t, err)
	require.Equal(t, DeletionSuccess, report.Result)
	require.True(t, report.IdentityDeleted)
	require.Len(t, report.Steps, 1)
	require.Equal(t, StepTransferred, report.Steps[0].Action)

	reloaded, err := loadGroup(ctx, db, lab.ID)
	require.NoError(t, err)
	require.Equal(t, u2.ID, reloaded.CreatedBy)

	membership, err := loadMembership(ctx, db, lab.ID, u2.ID)
	require.NoError(t, err)
	require.True(t, membership.IsAdmin())
	require.Equal(t, int64(1), adminCount(t, db, lab.ID))

	var moved models.Project
	require.NoError(t, db.Take(&moved, "id = ?", project.ID).Error)
	require.Equal(t, u2.ID, moved.CreatedBy)
	require.Equal(t, int64(1), countRows(t, db, &models.ProjectMember{}, "project_id = ? AND user_id = ?", project.ID, u2.ID))

	requireUserGone(t, db, u1.ID)
	require.Equal(t, []string{u1.ID}, revoker.revoked)
	require.Equal(t, []string{u1.ID}, invalidator.invalidated)

	var log models.AccountDeletionLog
	require.NoError(t, db.Take(&log, "user_id = ?", u1.ID).Error)
	require.Equal(t, DeletionSuccess, log.Result)
	require.Equal(t, "u1", log.Username)
}

func TestAccountServiceDeleteRemovesSoloGroup(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	projects := newProjectService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	u1 := createUser(t, db, "u1")
	ctx := context.Background()

	solo := mustCreateGroup(t, groups, u1.ID, "Solo")
	project := mustCreateProject(t, projects, u1.ID, solo.ID, "Alone")
	_, err := projects.AddChecklistItem(ctx, u1.ID, project.ID, ChecklistItemInput{Title: "Step"})
	require.NoError(t, err)

	report, err := svc.DeleteAccount(ctx, u1.ID, DeleteAccountInput{})
	require.NoError(t, err)
	require.Equal(t, DeletionSuccess, report.Result)
	require.Equal(t, StepDeleted, report.Steps[0].Action)

	require.Zero(t, countRows(t, db, &models.Group{}, "id = ?", solo.ID))
	require.Zero(t, countRows(t, db, &models.Project{}, "group_id = ?", solo.ID))
	require.Zero(t, countRows(t, db, &models.ChecklistItem{}, "project_id = ?", project.ID))
	requireUserGone(t, db, u1.ID)
}

func TestAccountServiceDeleteAsMemberHandsProjectsToAdmin(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	projects := newProjectService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	owner := createUser(t, db, "owner")
	leaver := createUser(t, db, "leaver")
	ctx := context.Background()

	lab := mustCreateGroup(t, groups, owner.ID, "Lab A")
	addGroupMember(t, db, lab.ID, leaver.ID, models.RoleMember, fixtureNow)
	project := mustCreateProject(t, projects, leaver.ID, lab.ID, "Assay")

	analysis, err := svc.AnalyzeDeletion(ctx, leaver.ID)
	require.NoError(t, err)
	require.True(t, analysis.CanDeleteImmediately)

	report, err := svc.DeleteAccount(ctx, leaver.ID, DeleteAccountInput{})
	require.NoError(t, err)
	require.Equal(t, StepLeft, report.Steps[0].Action)

	var moved models.Project
	require.NoError(t, db.Take(&moved, "id = ?", project.ID).Error)
	require.Equal(t, owner.ID, moved.CreatedBy)
	require.Equal(t, int64(1), countRows(t, db, &models.ProjectMember{}, "project_id = ?", project.ID))
	requireUserGone(t, db, leaver.ID)
}

func TestAccountServiceDeleteAdminGroupWithoutMapping(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	ctx := context.Background()

	lab := mustCreateGroup(t, groups, owner.ID, "Lab A")
	addGroupMember(t, db, lab.ID, member.ID, models.RoleMember, fixtureNow)

	report, err := svc.DeleteAccount(ctx, owner.ID, DeleteAccountInput{})
	require.NoError(t, err)
	require.Equal(t, StepDeleted, report.Steps[0].Action)
	require.Zero(t, countRows(t, db, &models.Group{}, "id = ?", lab.ID))
	require.Zero(t, countRows(t, db, &models.GroupMembership{}, "user_id = ?", member.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.User{}, "id = ?", member.ID))
}

func TestAccountServiceInvalidMappingMutatesNothing(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	owner := createUser(t, db, "owner")
	member := createUser(t, db, "member")
	outsider := createUser(t, db, "outsider")
	ctx := context.Background()

	lab := mustCreateGroup(t, groups, owner.ID, "Lab A")
	addGroupMember(t, db, lab.ID, member.ID, models.RoleMember, fixtureNow)
	solo := mustCreateGroup(t, groups, owner.ID, "Solo")

	cases := []DeleteAccountInput{
		{Mappings: []TransferMapping{{GroupID: lab.ID, NewAdminID: outsider.ID}}},
		{Mappings: []TransferMapping{{GroupID: lab.ID, NewAdminID: owner.ID}}},
		{Mappings: []TransferMapping{{GroupID: solo.ID, NewAdminID: member.ID}}},
		{TransferGroups: []string{lab.ID}},
	}
	for _, input := range cases {
		report, err := svc.DeleteAccount(ctx, owner.ID, input)
		require.ErrorIs(t, err, ErrIncompleteTransferMapping)
		require.Nil(t, report)
	}

	require.Equal(t, int64(1), countRows(t, db, &models.User{}, "id = ?", owner.ID))
	require.Equal(t, int64(2), countRows(t, db, &models.Group{}, "id IN ?", []string{lab.ID, solo.ID}))
	require.Equal(t, int64(1), adminCount(t, db, lab.ID))
	require.Zero(t, countRows(t, db, &models.AccountDeletionLog{}, "user_id = ?", owner.ID))
}

func TestAccountServiceDeletePartialKeepsIdentity(t *testing.T) {
	db := openServiceDB(t)
	groups := newGroupService(t, db)
	svc := newAccountService(t, db, AccountServiceDeps{})
	u1 := createUser(t, db, "u1")
	ctx := context.Background()

	solo := mustCreateGroup(t, groups, u1.ID, "Solo")
	project := mustCreateProject(t, newProjectService(t, db), u1.ID, solo.ID, "Kept")
	invitation := models.GroupInvitation{
		GroupID:      solo.ID,
		InvitedBy:    u1.ID,
		InvitedEmail: "newcomer@example.com",
		TokenHash:    "partial-deletion-token",
		Status:       models.InvitationSent,
		ExpiresAt:    fixtureNow.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&invitation).Error)

	require.NoError(t, db.Callback().Delete().Before("gorm:delete").Register("test:fail_group_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "research_groups" {
			_ = tx.AddError(errors.New("disk on fire"))
		}
	}))

	report, err := svc.DeleteAccount(ctx, u1.ID, DeleteAccountInput{})
	require.ErrorIs(t, err, ErrAccountDeletionIncomplete)
	require.NotNil(t, report)
	require.Equal(t, DeletionPartial, report.Result)
	require.False(t, report.IdentityDeleted)
	require.NotEmpty(t, report.Steps[0].Error)

	require.Equal(t, int64(1), countRows(t, db, &models.User{}, "id = ?", u1.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.Group{}, "id = ?", solo.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.GroupMembership{}, "group_id = ? AND user_id = ?", solo.ID, u1.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.Project{}, "id = ?", project.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.ProjectMember{}, "project_id = ? AND user_id = ?", project.ID, u1.ID))
	require.Equal(t, int64(1), countRows(t, db, &models.GroupInvitation{}, "id = ? AND status = ?", invitation.ID, models.InvitationSent))

	var log models.AccountDeletionLog
	require.NoError(t, db.Take(&log, "user_id = ?", u1.ID).Error)
	require.Equal(t, DeletionPartial, log.Result)
}
