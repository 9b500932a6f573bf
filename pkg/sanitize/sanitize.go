// Package sanitize strips markup from user supplied free text before it is persisted.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	once   sync.Once
	strict *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	once.Do(func() {
		strict = bluemonday.StrictPolicy()
	})
	return strict
}

// Text removes every HTML element from s and trims surrounding whitespace.
// Entities are decoded so the stored value is plain text.
func Text(s string) string {
	if s == "" {
		return ""
	}
	cleaned := policy().Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// TextPtr applies Text to an optional value.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := Text(*s)
	return &out
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
