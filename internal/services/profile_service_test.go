package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/models"
)

func TestProfileServiceUpdateProfile(t *testing.T) {
	db := openServiceDB(t)
	invalidator := &fakeInvalidator{}
	svc, err := NewProfileService(db, nil, nil, invalidator)
	require.NoError(t, err)
	user := createUser(t, db, "alice")
	ctx := context.Background()

	profile, err := svc.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, profile.EmailVerified)
	require.Equal(t, "alice@example.com", profile.Email)

	bio := "  Studies tardigrades.  "
	avatar := models.DefaultAvatarRef("camel-boss")
	updated, err := svc.UpdateProfile(ctx, user.ID, UpdateProfileInput{Bio: &bio, ProfilePicture: &avatar})
	require.NoError(t, err)
	require.Equal(t, "Studies tardigrades.", updated.Bio)
	require.Equal(t, avatar, updated.ProfilePicture)
	require.Equal(t, []string{user.ID}, invalidator.invalidated)

	external := "https://evil.example.com/me.png"
	_, err = svc.UpdateProfile(ctx, user.ID, UpdateProfileInput{ProfilePicture: &external})
	require.Error(t, err)

	unknown := models.DefaultAvatarRef("unicorn")
	_, err = svc.UpdateProfile(ctx, user.ID, UpdateProfileInput{ProfilePicture: &unknown})
	require.Error(t, err)

	public, err := svc.GetPublicProfile(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "Studies tardigrades.", public.Bio)

	_, err = svc.GetProfile(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.Len(t, svc.ListDefaultAvatars(), len(models.DefaultAvatars))
}

func TestProfileServiceUploadAvatarReplacesPrevious(t *testing.T) {
	f := newFileFixture(t)
	svc, err := NewProfileService(f.db, nil, f.files, nil)
	require.NoError(t, err)
	user := createUser(t, f.db, "alice")
	other := createUser(t, f.db, "bob")
	ctx := context.Background()

	png := Upload{Name: "me.png", Size: 4, MimeType: "image/png", Body: strings.NewReader("\x89PNG")}
	profile, err := svc.UploadAvatar(ctx, user.ID, png)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(profile.ProfilePicture, "http://localhost:8000/files/profile-pictures/"+user.ID+"/"))
	require.Len(t, storedFiles(t, f.root), 1)

	_, err = svc.UpdateProfile(ctx, other.ID, UpdateProfileInput{ProfilePicture: &profile.ProfilePicture})
	require.Error(t, err)

	_, err = svc.UploadAvatar(ctx, user.ID, Upload{Name: "me.pdf", Size: 4, MimeType: "application/pdf", Body: strings.NewReader("%PDF")})
	require.ErrorIs(t, err, ErrInvalidFileType)

	avatar := models.DefaultAvatarRef("penguin-cool")
	_, err = svc.UpdateProfile(ctx, user.ID, UpdateProfileInput{ProfilePicture: &avatar})
	require.NoError(t, err)
	require.Empty(t, storedFiles(t, f.root))
}

func TestProfileServiceStats(t *testing.T) {
	db := openServiceDB(t)
	svc, err := NewProfileService(db, nil, nil, nil)
	require.NoError(t, err)
	groups := newGroupService(t, db)
	projects := newProjectService(t, db)
	user := createUser(t, db, "alice")
	peer := createUser(t, db, "bob")
	ctx := context.Background()

	mine := mustCreateGroup(t, groups, user.ID, "Mine")
	theirs := mustCreateGroup(t, groups, peer.ID, "Theirs")
	addGroupMember(t, db, theirs.ID, user.ID, models.RoleMember, fixtureNow)

	active := mustCreateProject(t, projects, user.ID, mine.ID, "Active")
	_, err = projects.Create(ctx, user.ID, CreateProjectInput{GroupID: mine.ID, Name: "Shipped", Status: models.ProjectStatusCompleted})
	require.NoError(t, err)
	joined := mustCreateProject(t, projects, peer.ID, theirs.ID, "Joined")
	_, err = projects.AddMember(ctx, peer.ID, joined.ID, user.ID)
	require.NoError(t, err)
	mustCreateProject(t, projects, peer.ID, theirs.ID, "Not mine")

	done := true
	item, err := projects.AddChecklistItem(ctx, user.ID, active.ID, ChecklistItemInput{Title: "One"})
	require.NoError(t, err)
	_, err = projects.UpdateChecklistItem(ctx, user.ID, active.ID, item.ID, ChecklistItemUpdate{Completed: &done})
	require.NoError(t, err)
	_, err = projects.AddChecklistItem(ctx, user.ID, joined.ID, ChecklistItemInput{Title: "Two"})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalGroups)
	require.Equal(t, int64(1), stats.AdminGroups)
	require.Equal(t, int64(3), stats.TotalProjects)
	require.Equal(t, int64(1), stats.CompletedProjects)
	require.Equal(t, int64(2), stats.ProjectsCreated)
	require.Equal(t, int64(2), stats.TotalTasks)
	require.Equal(t, int64(1), stats.CompletedTasks)
	require.Equal(t, int64(1), stats.UncompletedTasks)
	require.Zero(t, stats.FilesUploaded)
	require.Zero(t, stats.PendingInvitations)
}
