package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	maxRoomNameLen = 30
	minUsernameLen = 3
	maxUsernameLen = 20
	maxMessageLen  = 500
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()

	// escaper entity-encodes the six characters that matter for HTML
	// injection. The encoded form is what gets persisted and broadcast.
	escaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
		"/", "&#x2F;",
	)

	// reservedWords are rejected as case-insensitive substrings of usernames.
	// SetReservedWords extends this list from configuration at startup.
	reservedWords = []string{
		"admin", "system", "bot", "null", "undefined", "script", "test",
	}

	// dangerousPatterns flag message bodies that carry markup or script
	// injection markers. Matched case-insensitively as substrings.
	dangerousPatterns = []string{
		"<script",
		"javascript:",
		"onload=",
		"onerror=",
		"onclick=",
		"onmouseover=",
		"data:text/html",
		"vbscript:",
		"expression(",
		"eval(",
		"document.cookie",
		"document.write",
		"window.location",
		"<iframe",
		"<object",
		"<embed",
		"url(",
		"@import",
	}
)

// SetReservedWords appends extra reserved/profanity words to the built-in
// username deny-list. Call once during startup, before serving traffic.
func SetReservedWords(words []string) {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			reservedWords = append(reservedWords, w)
		}
	}
}

// ValidRoomName reports whether s names a room from the configured allow-list.
// Comparison is case-insensitive; allowed must hold lowercased names.
func ValidRoomName(s string, allowed map[string]struct{}) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxRoomNameLen {
		return false
	}
	_, ok := allowed[strings.ToLower(s)]
	return ok
}

// ValidUsername reports whether s is an acceptable username: 3-20 characters,
// alphanumeric plus dash and underscore, and free of reserved words.
func ValidUsername(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < minUsernameLen || len(s) > maxUsernameLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	lower := strings.ToLower(s)
	for _, word := range reservedWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	return true
}

// ValidMessage reports whether s is an acceptable message body: non-empty
// after trimming, at most 500 characters, and free of dangerous content.
func ValidMessage(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxMessageLen {
		return false
	}
	return !Dangerous(s)
}

// Dangerous reports whether s matches any known injection pattern.
func Dangerous(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Escape entity-encodes the characters & < > " ' / so s can be embedded in
// HTML without becoming markup. Safe on any input, including empty strings.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Sanitize trims and entity-encodes s. Applied to message bodies and echoed
// usernames before storage and broadcast; the encoded form is canonical.
func Sanitize(s string) string {
	return Escape(strings.TrimSpace(s))
}

// StripMarkup removes all HTML from s using a strict policy. Used on search
// terms and other text that is echoed back outside the escape pipeline.
func StripMarkup(s string) string {
	return strictPolicy.Sanitize(s)
}

// RenderMarkdown renders s as markdown and sanitizes the resulting HTML with
// a user-generated-content policy. Only used on the history read path.
func RenderMarkdown(s string) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(s), &buf); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	return ugcPolicy.SanitizeBytes(buf.Bytes()), nil
}
