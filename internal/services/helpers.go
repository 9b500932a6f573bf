package services

import (
	"context"
	"strings"

	"github.com/macroscope/macroscope/pkg/sanitize"
)

const (
	maxBioLength         = 500
	maxDescriptionLength = 2000
	maxNotesLength       = 10000
	maxMessageLength     = 500
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func containsString(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, value := range values {
		if strings.TrimSpace(value) == target {
			return true
		}
	}
	return false
}

// cleanText strips markup from free text and caps its length.
func cleanText(value string, max int) string {
	return sanitize.Truncate(sanitize.Text(value), max)
}

func cleanTextPtr(value *string, max int) *string {
	if value == nil {
		return nil
	}
	cleaned := cleanText(*value, max)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func strPtr(value string) *string {
	return &value
}
