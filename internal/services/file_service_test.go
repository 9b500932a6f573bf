package services

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/storage"
)

type fileFixture struct {
	db       *gorm.DB
	root     string
	store    *storage.Local
	clock    *testClock
	files    *FileService
	groups   *GroupService
	projects *ProjectService
}

func newFileFixture(t *testing.T) *fileFixture {
	t.Helper()
	db := openServiceDB(t)
	clock := newTestClock()
	root := t.TempDir()

	store, err := storage.NewLocal(storage.LocalConfig{
		Root:          root,
		BaseURL:       "http://localhost:8000",
		SigningSecret: "file-secret",
		PublicBuckets: []string{storage.BucketProfilePictures},
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	files, err := NewFileService(db, audit, store, WithFileClock(clock.Now))
	require.NoError(t, err)

	return &fileFixture{
		db:       db,
		root:     root,
		store:    store,
		clock:    clock,
		files:    files,
		groups:   newGroupService(t, db),
		projects: newProjectService(t, db, WithProjectObjectRemover(files)),
	}
}

func textUpload(name, content string) Upload {
	return Upload{Name: name, Size: int64(len(content)), MimeType: "text/plain", Body: strings.NewReader(content)}
}

func storedFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	}))
	return out
}

func TestFileServiceUploadProjectFile(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	outsider := createUser(t, f.db, "outsider")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")

	file, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("Results Q1.txt", "hello"))
	require.NoError(t, err)
	require.Equal(t, "Results_Q1.txt", file.OriginalName)
	require.Equal(t, int64(5), file.FileSize)
	require.Equal(t, "text/plain", file.MimeType)

	var row models.ProjectFile
	require.NoError(t, f.db.Take(&row, "id = ?", file.ID).Error)
	require.True(t, strings.HasPrefix(row.StoragePath, project.ID+"/"))

	full, err := f.store.FullPath(storage.BucketProjectFiles, row.StoragePath)
	require.NoError(t, err)
	content, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	second, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("Results Q1.txt", "again"))
	require.NoError(t, err)
	require.NotEqual(t, file.Filename, second.Filename)

	_, err = f.files.UploadProjectFile(ctx, outsider.ID, project.ID, textUpload("notes.txt", "x"))
	require.ErrorIs(t, err, ErrProjectNotFoundOrAccessDenied)
}

func TestFileServiceRejectsTraversalBeforeWriting(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")

	for _, name := range []string{"../../etc/passwd", "../../etc/passwd.txt", "payload.exe"} {
		_, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload(name, "root:x:0:0"))
		require.Error(t, err, name)
	}

	require.Empty(t, storedFiles(t, f.root))
	require.Zero(t, countRows(t, f.db, &models.ProjectFile{}, "project_id = ?", project.ID))
	_, err := os.Stat(filepath.Join(filepath.Dir(f.root), "etc"))
	require.True(t, os.IsNotExist(err))

	big := Upload{Name: "big.txt", Size: 200 << 20, MimeType: "text/plain", Body: strings.NewReader("x")}
	_, err = f.files.UploadProjectFile(ctx, owner.ID, project.ID, big)
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestFileServiceListAndDownload(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")

	_, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("b.txt", "bbbb"))
	require.NoError(t, err)
	a, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("a.txt", "a"))
	require.NoError(t, err)

	byName, err := f.files.ListProjectFiles(ctx, owner.ID, project.ID, ListFilesOptions{SortBy: "original_name", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, byName, 2)
	require.Equal(t, "a.txt", byName[0].OriginalName)

	bySize, err := f.files.ListProjectFiles(ctx, owner.ID, project.ID, ListFilesOptions{SortBy: "file_size"})
	require.NoError(t, err)
	require.Equal(t, "b.txt", bySize[0].OriginalName)

	link, err := f.files.DownloadURL(ctx, owner.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, fixtureNow.Add(storage.DefaultSignedURLTTL), link.ExpiresAt)
	require.Equal(t, "a.txt", link.FileName)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	prefix := "/files/" + storage.BucketProjectFiles + "/"
	require.True(t, strings.HasPrefix(parsed.Path, prefix))
	key := strings.TrimPrefix(parsed.Path, prefix)
	require.NoError(t, f.store.Verify(storage.BucketProjectFiles, key, parsed.Query()))
}

func TestFileServiceDeleteFile(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	uploader := createUser(t, f.db, "uploader")
	bystander := createUser(t, f.db, "bystander")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	addGroupMember(t, f.db, group.ID, uploader.ID, models.RoleMember, fixtureNow)
	addGroupMember(t, f.db, group.ID, bystander.ID, models.RoleMember, fixtureNow)
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")

	file, err := f.files.UploadProjectFile(ctx, uploader.ID, project.ID, textUpload("data.txt", "1,2,3"))
	require.NoError(t, err)

	err = f.files.DeleteFile(ctx, bystander.ID, file.ID)
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, f.files.DeleteFile(ctx, uploader.ID, file.ID))
	require.Zero(t, countRows(t, f.db, &models.ProjectFile{}, "id = ?", file.ID))
	require.Empty(t, storedFiles(t, f.root))

	err = f.files.DeleteFile(ctx, uploader.ID, file.ID)
	require.ErrorIs(t, err, ErrFileNotFoundOrAccessDenied)
}

type failingDeleteStore struct {
	storage.Store
}

func (failingDeleteStore) Delete(context.Context, string, string) error {
	return errors.New("backend unavailable")
}

func TestFileServiceDeleteKeepsRowWhenStorageFails(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")
	file, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("data.txt", "keep"))
	require.NoError(t, err)

	broken, err := NewFileService(f.db, nil, failingDeleteStore{Store: f.store})
	require.NoError(t, err)

	err = broken.DeleteFile(ctx, owner.ID, file.ID)
	require.ErrorIs(t, err, ErrStorageOperationFailed)
	require.Equal(t, int64(1), countRows(t, f.db, &models.ProjectFile{}, "id = ?", file.ID))
	require.Len(t, storedFiles(t, f.root), 1)
}

func TestFileServiceProjectDeleteRemovesObjects(t *testing.T) {
	f := newFileFixture(t)
	owner := createUser(t, f.db, "owner")
	ctx := context.Background()

	group := mustCreateGroup(t, f.groups, owner.ID, "Lab A")
	project := mustCreateProject(t, f.projects, owner.ID, group.ID, "Imaging")
	_, err := f.files.UploadProjectFile(ctx, owner.ID, project.ID, textUpload("data.txt", "gone soon"))
	require.NoError(t, err)
	require.Len(t, storedFiles(t, f.root), 1)

	require.NoError(t, f.projects.Delete(ctx, owner.ID, project.ID))
	require.Empty(t, storedFiles(t, f.root))
}
