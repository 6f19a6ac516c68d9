// Package security provides input hardening for user-supplied content.
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNotesLength is the longest reservation note accepted, in characters.
const MaxNotesLength = 2000

// NotesSanitizer turns user-supplied reservation notes into plain text.
type NotesSanitizer interface {
	// Sanitize strips every HTML element and attribute and trims
	// surrounding whitespace.
	Sanitize(raw string) string
}

type notesSanitizer struct {
	policy *bluemonday.Policy
}

// NewNotesSanitizer returns a NotesSanitizer built on bluemonday's strict
// policy. The policy is safe for concurrent use.
func NewNotesSanitizer() NotesSanitizer {
	return &notesSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize implements NotesSanitizer. Notes are stored and served as plain
// text, so entities the policy escapes are decoded again.
func (s *notesSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	clean := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(clean))
}

// NotesTooLong reports whether the sanitized notes exceed MaxNotesLength.
func NotesTooLong(notes string) bool {
	return utf8.RuneCountInString(notes) > MaxNotesLength
}
