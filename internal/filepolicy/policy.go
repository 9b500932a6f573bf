// Package filepolicy decides which uploads are accepted and how their names are stored.
package filepolicy

import (
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

// Scope selects the policy applied to an upload.
type Scope string

const (
	ScopeProfile Scope = "profile"
	ScopeProject Scope = "project"
)

const (
	MB = 1024 * 1024

	MaxProfileSize = 50 * MB
	MaxProjectSize = 50 * MB
	MaxDefaultSize = 10 * MB

	maxFilenameLength = 255
	fallbackFilename  = "unnamed_file"
)

var (
	ErrFileTooLarge     = apperrors.New("FILE_TOO_LARGE", "File size exceeds maximum allowed limit", http.StatusRequestEntityTooLarge)
	ErrInvalidFileType  = apperrors.New("INVALID_FILE_TYPE", "File type is not allowed", http.StatusUnsupportedMediaType)
	ErrInvalidFilename  = apperrors.New("INVALID_FILENAME", "Filename contains invalid characters", http.StatusBadRequest)
	ErrNoFileExtension  = apperrors.New("NO_FILE_EXTENSION", "File must have a valid extension", http.StatusBadRequest)
	ErrBlockedExtension = apperrors.New("BLOCKED_EXTENSION", "This file extension is not allowed", http.StatusBadRequest)
)

var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.`),
	regexp.MustCompile(`[<>:"|?*]`),
	regexp.MustCompile(`^\.`),
	regexp.MustCompile(`\x00`),
	regexp.MustCompile(`[^\x20-\x7E]`),
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	disallowedRune = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// Candidate describes an incoming file before it is stored.
type Candidate struct {
	Name     string
	Size     int64
	MimeType string
}

// MaxSize returns the byte limit for scope.
func MaxSize(scope Scope) int64 {
	switch scope {
	case ScopeProfile:
		return MaxProfileSize
	case ScopeProject:
		return MaxProjectSize
	default:
		return MaxDefaultSize
	}
}

// Validate checks size, MIME type, extension and filename patterns in that order
// and returns the first violation.
func Validate(scope Scope, file Candidate) error {
	limit := MaxSize(scope)
	if file.Size > limit {
		return ErrFileTooLarge.WithMessage(fmt.Sprintf("%s (%dMB)", ErrFileTooLarge.Message, limit/MB))
	}

	if mimeType := NormalizeMimeType(file.MimeType); mimeType != "" {
		if _, ok := allowedMimeTypes(scope)[mimeType]; !ok {
			return ErrInvalidFileType
		}
	}

	if file.Name != "" {
		ext, ok := Extension(file.Name)
		if !ok {
			return ErrNoFileExtension
		}
		if _, allowed := allowedExtensions(scope)[ext]; !allowed {
			return ErrBlockedExtension
		}
		for _, pattern := range blockedPatterns {
			if pattern.MatchString(file.Name) {
				return ErrInvalidFilename
			}
		}
	}

	return nil
}

// Extension returns the lower-cased text after the final dot.
func Extension(name string) (string, bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return "", false
	}
	return strings.ToLower(name[idx+1:]), true
}

// NormalizeMimeType lower-cases a media type and strips parameters.
func NormalizeMimeType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(value)
}

// SanitizeFilename produces a storage-safe name: the last path segment with
// whitespace collapsed to underscores, only [a-zA-Z0-9._-] kept, no leading dot,
// at most 255 characters with the extension preserved.
func SanitizeFilename(name string) string {
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}

	name = whitespaceRun.ReplaceAllString(name, "_")
	name = disallowedRune.ReplaceAllString(name, "")
	name = strings.TrimPrefix(name, ".")

	if len(name) > maxFilenameLength {
		name = truncatePreservingExtension(name)
	}

	if name == "" {
		return fallbackFilename
	}
	return name
}

func truncatePreservingExtension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name[:maxFilenameLength]
	}

	ext := name[idx+1:]
	if len(ext) >= maxFilenameLength-1 {
		return name[:maxFilenameLength]
	}
	base := name[:maxFilenameLength-len(ext)-1]
	return base + "." + ext
}
