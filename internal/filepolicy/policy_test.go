package filepolicy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\notes.txt`: "notes.txt",
		"my data  file.csv":     "my_data_file.csv",
		".hidden.R":             "hidden.R",
		"Résumé (final).docx":   "Rsum_final.docx",
		"!!!":                   "unnamed_file",
		"":                      "unnamed_file",
	}
	for input, expected := range cases {
		require.Equal(t, expected, SanitizeFilename(input), "input %q", input)
	}
}

func TestSanitizeFilenameTruncatesAndKeepsExtension(t *testing.T) {
	name := SanitizeFilename(strings.Repeat("My Résumé!!.PDF", 50))

	require.LessOrEqual(t, len(name), 255)
	require.True(t, strings.HasSuffix(name, ".PDF"))
	require.NotContains(t, name, "/")
	require.NotContains(t, name, `\`)
	require.NotContains(t, name, "!")
	require.NoError(t, Validate(ScopeProject, Candidate{Name: name, MimeType: "application/pdf"}))
}

func TestValidateOrder(t *testing.T) {
	tooLarge := Validate(ScopeProject, Candidate{Name: "a.exe", Size: MaxProjectSize + 1, MimeType: "application/x-msdownload"})
	require.ErrorIs(t, tooLarge, ErrFileTooLarge)
	require.Contains(t, tooLarge.Error(), "(50MB)")

	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: "a.exe", Size: 10, MimeType: "application/x-msdownload"}), ErrInvalidFileType)
	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: "a.exe", Size: 10, MimeType: "application/octet-stream"}), ErrBlockedExtension)
	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: "README", Size: 10}), ErrNoFileExtension)
	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: "trailing.", Size: 10}), ErrNoFileExtension)
	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: "a|b.csv", Size: 10, MimeType: "text/csv"}), ErrInvalidFilename)
	require.ErrorIs(t, Validate(ScopeProject, Candidate{Name: ".env.txt", Size: 10}), ErrInvalidFilename)
}

func TestValidatePathTraversalRejected(t *testing.T) {
	err := Validate(ScopeProject, Candidate{Name: "../../etc/passwd", Size: 32, MimeType: "text/plain"})
	require.ErrorIs(t, err, ErrBlockedExtension)

	err = Validate(ScopeProject, Candidate{Name: "../secrets.txt", Size: 32, MimeType: "text/plain"})
	require.ErrorIs(t, err, ErrInvalidFilename)
}

func TestValidateProfileScope(t *testing.T) {
	require.NoError(t, Validate(ScopeProfile, Candidate{Name: "me.PNG", Size: MB, MimeType: "image/png"}))
	require.ErrorIs(t, Validate(ScopeProfile, Candidate{Name: "me.pdf", Size: MB, MimeType: "application/pdf"}), ErrInvalidFileType)
	require.ErrorIs(t, Validate(ScopeProfile, Candidate{Name: "me.svg", Size: MB}), ErrBlockedExtension)
}

func TestValidateDefaultScopeLimit(t *testing.T) {
	err := Validate(Scope("other"), Candidate{Name: "a.png", Size: MaxDefaultSize + 1})
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Contains(t, err.Error(), "(10MB)")
}

func TestValidateProjectScientificFormats(t *testing.T) {
	for _, name := range []string{"model.Rproj", "analysis.R", "survey.sas7bdat", "scan.dcm", "table.parquet", "notebook.ipynb"} {
		require.NoError(t, Validate(ScopeProject, Candidate{Name: name, Size: 1024}), name)
	}
}

func TestNormalizeMimeType(t *testing.T) {
	require.Equal(t, "text/plain", NormalizeMimeType("Text/Plain; charset=UTF-8"))
	require.Equal(t, "", NormalizeMimeType("  "))
}

func TestErrorsCarryCodes(t *testing.T) {
	var appErr *apperrors.AppError
	err := Validate(ScopeProject, Candidate{Name: "x", Size: 1})
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "NO_FILE_EXTENSION", appErr.Code)
	require.Equal(t, 400, appErr.StatusCode)
}
