package handlers

import (
	stderrors "errors"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/macroscope/macroscope/internal/storage"
	"github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/logger"
	"github.com/macroscope/macroscope/pkg/response"
)

// FileServer serves objects of the local storage backend. Private buckets require a
// signature issued by storage.Local.PresignedURL.
type FileServer struct {
	local *storage.Local
}

// NewFileServer returns a handler serving objects from the local store. A nil store answers 404.
func NewFileServer(local *storage.Local) *FileServer {
	return &FileServer{local: local}
}

// GET /files/:bucket/*path
func (h *FileServer) Serve(c *gin.Context) {
	if h.local == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	bucket := strings.TrimSpace(c.Param("bucket"))
	key := strings.TrimPrefix(c.Param("path"), "/")

	if !h.local.IsPublic(bucket) {
		if err := h.local.Verify(bucket, key, c.Request.URL.Query()); err != nil {
			response.Error(c, signedURLError(err))
			return
		}
	}

	fullPath, err := h.local.FullPath(bucket, key)
	if err != nil {
		response.Error(c, signedURLError(err))
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		response.Error(c, errors.ErrNotFound)
		return
	}

	if disposition := c.Query("disposition"); disposition != "" {
		if _, _, parseErr := mime.ParseMediaType(disposition); parseErr == nil {
			c.Header("Content-Disposition", disposition)
		}
	}
	if contentType := mime.TypeByExtension(path.Ext(key)); contentType != "" {
		c.Header("Content-Type", contentType)
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.File(fullPath)
}

func signedURLError(err error) error {
	switch {
	case stderrors.Is(err, storage.ErrURLExpired):
		return errors.ErrForbidden.WithMessage("This link has expired")
	case stderrors.Is(err, storage.ErrInvalidSignature):
		return errors.ErrForbidden.WithMessage("Invalid file signature")
	case stderrors.Is(err, storage.ErrUnknownBucket), stderrors.Is(err, storage.ErrInvalidKey):
		return errors.ErrNotFound
	default:
		logger.WithModule("files").Warn("file serving failed", zap.Error(err))
		return errors.ErrInternalServer
	}
}
