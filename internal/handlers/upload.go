package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macroscope/macroscope/internal/filepolicy"
	"github.com/macroscope/macroscope/internal/services"
	"github.com/macroscope/macroscope/pkg/errors"
	"github.com/macroscope/macroscope/pkg/response"
)

const (
	uploadField = "file"
	// multipart framing on top of the largest accepted file
	uploadOverhead = 1 << 20
)

// readUpload extracts the uploaded file of a multipart request. The caller must invoke
// the returned close function once the upload has been consumed.
func readUpload(c *gin.Context, scope filepolicy.Scope) (services.Upload, func(), bool) {
	limit := filepolicy.MaxSize(scope) + uploadOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			response.Error(c, filepolicy.ErrFileTooLarge)
			return services.Upload{}, nil, false
		}
		response.Error(c, errors.NewBadRequest("file is required"))
		return services.Upload{}, nil, false
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, errors.NewBadRequest("unable to read uploaded file"))
		return services.Upload{}, nil, false
	}

	upload := services.Upload{
		Name:     header.Filename,
		Size:     header.Size,
		MimeType: header.Header.Get("Content-Type"),
		Body:     file,
	}
	return upload, func() { _ = file.Close() }, true
}
