package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/filepolicy"
	"github.com/macroscope/macroscope/internal/models"
	"github.com/macroscope/macroscope/internal/storage"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/logger"
	"github.com/macroscope/macroscope/pkg/metrics"
)

const maxKeyAttempts = 5

// Upload is an incoming file.
type Upload struct {
	Name     string
	Size     int64
	MimeType string
	Body     io.Reader
}

// DownloadDTO is a time-limited link to a stored file.
type DownloadDTO struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
}

// ListFilesOptions controls project file ordering.
type ListFilesOptions struct {
	SortBy string
	Order  string
}

var fileSortColumns = map[string]string{
	"uploaded_at":   "created_at",
	"original_name": "original_name",
	"file_size":     "file_size",
}

// ErrFileNotFoundOrAccessDenied hides files of projects the caller cannot see.
var ErrFileNotFoundOrAccessDenied = ErrNotFoundOrAccessDenied.WithMessage("File not found or you do not have access to it")

// FileOption customises FileService.
type FileOption func(*FileService)

// WithFileClock injects a custom time source.
func WithFileClock(clock func() time.Time) FileOption {
	return func(s *FileService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSignedURLTTL overrides the lifetime of download links.
func WithSignedURLTTL(ttl time.Duration) FileOption {
	return func(s *FileService) {
		if ttl > 0 {
			s.signedTTL = ttl
		}
	}
}

// FileService moves file bytes between clients and the storage backend and keeps
// the metadata rows in step with the stored objects.
type FileService struct {
	db           *gorm.DB
	auditService *AuditService
	store        storage.Store
	now          func() time.Time
	signedTTL    time.Duration
}

// NewFileService constructs a FileService.
func NewFileService(db *gorm.DB, auditService *AuditService, store storage.Store, opts ...FileOption) (*FileService, error) {
	if db == nil {
		return nil, errors.New("file service: db is required")
	}
	if store == nil {
		return nil, errors.New("file service: storage is required")
	}
	svc := &FileService{
		db:           db,
		auditService: auditService,
		store:        store,
		now:          time.Now,
		signedTTL:    storage.DefaultSignedURLTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// UploadProjectFile validates and stores a project attachment.
func (s *FileService) UploadProjectFile(ctx context.Context, userID, projectID string, upload Upload) (*FileDTO, error) {
	ctx = ensureContext(ctx)

	project, _, err := loadProjectForMember(ctx, s.db, projectID, userID)
	if err != nil {
		return nil, err
	}

	if err := filepolicy.Validate(filepolicy.ScopeProject, candidate(upload)); err != nil {
		observeTransfer(filepolicy.ScopeProject, "upload", "rejected", 0)
		return nil, err
	}

	sanitized := filepolicy.SanitizeFilename(upload.Name)
	key, err := s.projectKey(ctx, project.ID, sanitized)
	if err != nil {
		return nil, err
	}

	written, err := s.put(ctx, storage.BucketProjectFiles, key, upload)
	if err != nil {
		observeTransfer(filepolicy.ScopeProject, "upload", "failure", 0)
		return nil, err
	}

	record := models.ProjectFile{
		ProjectID:    project.ID,
		Filename:     key[strings.LastIndex(key, "/")+1:],
		OriginalName: sanitized,
		FileSize:     written,
		MimeType:     mimeTypeFor(upload.MimeType, sanitized),
		Bucket:       storage.BucketProjectFiles,
		StoragePath:  key,
		UploadedBy:   userID,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.RemoveObjects(ctx, []StoredObject{{Bucket: record.Bucket, Key: key}})
		observeTransfer(filepolicy.ScopeProject, "upload", "failure", 0)
		return nil, fmt.Errorf("file service: save metadata: %w", err)
	}

	observeTransfer(filepolicy.ScopeProject, "upload", "success", written)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "file.upload",
		Resource: record.ID,
		Result:   "success",
		Metadata: map[string]any{"project_id": project.ID, "name": sanitized, "size": written},
	})

	dto := toFileDTO(record)
	return &dto, nil
}

// UploadProfilePicture stores an avatar image and returns its public URL.
func (s *FileService) UploadProfilePicture(ctx context.Context, userID string, upload Upload) (string, error) {
	ctx = ensureContext(ctx)

	if err := filepolicy.Validate(filepolicy.ScopeProfile, candidate(upload)); err != nil {
		observeTransfer(filepolicy.ScopeProfile, "upload", "rejected", 0)
		return "", err
	}

	sanitized := filepolicy.SanitizeFilename(upload.Name)
	key := fmt.Sprintf("%s/%d-%s", userID, s.now().UnixMilli(), sanitized)

	written, err := s.put(ctx, storage.BucketProfilePictures, key, upload)
	if err != nil {
		observeTransfer(filepolicy.ScopeProfile, "upload", "failure", 0)
		return "", err
	}

	observeTransfer(filepolicy.ScopeProfile, "upload", "success", written)
	return s.store.PublicURL(storage.BucketProfilePictures, key), nil
}

// ProfileObjectKey maps an avatar URL previously issued for userID back to its key.
func (s *FileService) ProfileObjectKey(userID, url string) (string, bool) {
	base := s.store.PublicURL(storage.BucketProfilePictures, userID)
	if base == "" || !strings.HasPrefix(url, base+"/") {
		return "", false
	}
	rest := strings.TrimPrefix(url, base+"/")
	if rest == "" || strings.ContainsAny(rest, "/?#") {
		return "", false
	}
	return userID + "/" + rest, true
}

// ListProjectFiles returns a project's files ordered by the requested column.
func (s *FileService) ListProjectFiles(ctx context.Context, userID, projectID string, opts ListFilesOptions) ([]FileDTO, error) {
	ctx = ensureContext(ctx)

	if _, _, err := loadProjectForMember(ctx, s.db, projectID, userID); err != nil {
		return nil, err
	}

	column, ok := fileSortColumns[strings.ToLower(strings.TrimSpace(opts.SortBy))]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(strings.TrimSpace(opts.Order), "asc") {
		direction = "ASC"
	}

	var files []models.ProjectFile
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order(column + " " + direction).
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("file service: list files: %w", err)
	}

	out := make([]FileDTO, 0, len(files))
	for _, file := range files {
		out = append(out, toFileDTO(file))
	}
	return out, nil
}

// DownloadURL returns a signed link valid for the configured TTL.
func (s *FileService) DownloadURL(ctx context.Context, userID, fileID string) (*DownloadDTO, error) {
	ctx = ensureContext(ctx)

	file, _, _, err := s.loadFileForMember(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	url, err := s.store.PresignedURL(ctx, file.Bucket, file.StoragePath, &storage.PresignOptions{
		Expires:            s.signedTTL,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", file.OriginalName),
	})
	if err != nil {
		observeTransfer(filepolicy.ScopeProject, "download", "failure", 0)
		return nil, ErrStorageOperationFailed.WithInternal(err)
	}

	observeTransfer(filepolicy.ScopeProject, "download", "success", 0)
	return &DownloadDTO{
		URL:       url,
		ExpiresAt: s.now().Add(s.signedTTL),
		FileName:  file.OriginalName,
		MimeType:  file.MimeType,
	}, nil
}

// DeleteFile removes the stored bytes first and the metadata row second. If the
// bytes cannot be removed both records are left untouched.
func (s *FileService) DeleteFile(ctx context.Context, userID, fileID string) error {
	ctx = ensureContext(ctx)

	file, project, membership, err := s.loadFileForMember(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if file.UploadedBy != userID && project.CreatedBy != userID && !membership.IsAdmin() {
		return ErrAccessDenied.WithMessage("Only the uploader, the project creator or a group admin can delete this file")
	}

	if err := s.store.Delete(ctx, file.Bucket, file.StoragePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		observeTransfer(filepolicy.ScopeProject, "delete", "failure", 0)
		return ErrStorageOperationFailed.WithInternal(err)
	}

	if err := s.db.WithContext(ctx).Delete(&models.ProjectFile{}, "id = ?", file.ID).Error; err != nil {
		return fmt.Errorf("file service: delete metadata: %w", err)
	}

	observeTransfer(filepolicy.ScopeProject, "delete", "success", 0)
	recordAudit(s.auditService, ctx, AuditEntry{
		UserID:   userID,
		Action:   "file.delete",
		Resource: file.ID,
		Result:   "success",
		Metadata: map[string]any{"project_id": file.ProjectID, "name": file.OriginalName},
	})
	return nil
}

// RemoveObjects deletes stored objects best-effort, logging failures.
func (s *FileService) RemoveObjects(ctx context.Context, objects []StoredObject) {
	ctx = ensureContext(ctx)
	for _, obj := range objects {
		err := s.store.Delete(ctx, obj.Bucket, obj.Key)
		if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		logCleanupFailure("files", "stored object cleanup failed", err,
			zap.String("bucket", obj.Bucket),
			zap.String("key", obj.Key),
		)
	}
}

func (s *FileService) loadFileForMember(ctx context.Context, userID, fileID string) (*models.ProjectFile, *models.Project, *models.GroupMembership, error) {
	var file models.ProjectFile
	err := s.db.WithContext(ctx).Take(&file, "id = ?", fileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, ErrFileNotFoundOrAccessDenied
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("file service: load file: %w", err)
	}

	project, membership, err := loadProjectForMember(ctx, s.db, file.ProjectID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFoundOrAccessDenied) {
			return nil, nil, nil, ErrFileNotFoundOrAccessDenied
		}
		return nil, nil, nil, err
	}
	return &file, project, membership, nil
}

// projectKey builds {projectID}/{unix millis}-{name}, stepping the timestamp on collision.
func (s *FileService) projectKey(ctx context.Context, projectID, name string) (string, error) {
	stamp := s.now().UnixMilli()
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := fmt.Sprintf("%s/%d-%s", projectID, stamp+int64(attempt), name)
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.ProjectFile{}).Where("storage_path = ?", key).Count(&count).Error; err != nil {
			return "", fmt.Errorf("file service: check key: %w", err)
		}
		if count == 0 {
			return key, nil
		}
	}
	return "", apperrors.ErrConflict.WithMessage("A file with this name is being uploaded, try again")
}

func (s *FileService) put(ctx context.Context, bucket, key string, upload Upload) (int64, error) {
	if upload.Body == nil {
		return 0, apperrors.NewBadRequest("file content is required")
	}
	counter := &countingReader{r: upload.Body}
	err := s.store.Put(ctx, bucket, key, counter, &storage.PutOptions{
		ContentType: mimeTypeFor(upload.MimeType, key),
		Size:        upload.Size,
	})
	if err != nil {
		logger.WithModule("files").Warn("object upload failed",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return 0, ErrStorageOperationFailed.WithInternal(err)
	}
	return counter.n, nil
}

func candidate(upload Upload) filepolicy.Candidate {
	return filepolicy.Candidate{Name: upload.Name, Size: upload.Size, MimeType: upload.MimeType}
}

func mimeTypeFor(declared, name string) string {
	if normalized := filepolicy.NormalizeMimeType(declared); normalized != "" {
		return normalized
	}
	if ext, ok := filepolicy.Extension(name); ok {
		if byExt := mime.TypeByExtension("." + ext); byExt != "" {
			return filepolicy.NormalizeMimeType(byExt)
		}
	}
	return "application/octet-stream"
}

func observeTransfer(scope filepolicy.Scope, operation, result string, bytes int64) {
	metrics.FileTransfers.WithLabelValues(string(scope), operation, result).Inc()
	if bytes > 0 {
		metrics.FileTransferBytes.WithLabelValues(string(scope)).Add(float64(bytes))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
