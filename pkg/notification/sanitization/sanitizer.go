// Package sanitization redacts secrets (passwords, API keys, tokens) from
// alert bodies before they leave the engine, with a panic-safe fallback so a
// sanitization failure degrades delivery instead of losing the alert.
package sanitization

import (
	"fmt"
	"regexp"
	"strings"
)

// pattern pairs a regex with the replacement marking it found a secret.
type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// Sanitizer redacts secret-shaped substrings from notification content.
type Sanitizer struct {
	patterns []pattern
}

// NewSanitizer returns a Sanitizer configured with the default secret
// patterns: passwords, API keys, and bearer/personal-access tokens.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: []pattern{
			{re: regexp.MustCompile(`(?i)(password)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), replacement: "$1: ***REDACTED***"},
			{re: regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), replacement: "$1: ***REDACTED***"},
			{re: regexp.MustCompile(`(?i)(token)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), replacement: "$1: ***REDACTED***"},
			{re: regexp.MustCompile(`(?i)(secret)\s*[:=]\s*['"]?([^\s'",}]+)['"]?`), replacement: "$1: ***REDACTED***"},
		},
	}
}

// Sanitize redacts every configured pattern in input.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, p := range s.patterns {
		out = p.re.ReplaceAllString(out, p.replacement)
	}
	return out
}

// SanitizeWithFallback runs Sanitize, recovering from any panic in the
// regex engine (e.g. catastrophic backtracking on adversarial input) and
// falling back to SafeFallback so the notification is never dropped
// outright. A non-nil error indicates the fallback path was taken; result
// is always populated.
func (s *Sanitizer) SanitizeWithFallback(input string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = s.SafeFallback(input)
			err = fmt.Errorf("sanitizer panicked, used safe fallback: %v", r)
		}
	}()
	if input == "" {
		return "", nil
	}
	return s.Sanitize(input), nil
}

// secretMarkers are the case-insensitive keys SafeFallback scans for.
var secretMarkers = []string{"password", "api_key", "api-key", "token", "secret"}

// SafeFallback redacts secrets using plain substring matching instead of
// regex, for use when the regex-based path cannot be trusted. It looks for
// "<marker><delimiter><value>" and blanks the value up to the next
// whitespace or closing punctuation.
func (s *Sanitizer) SafeFallback(input string) string {
	if input == "" {
		return input
	}
	lower := strings.ToLower(input)
	var b strings.Builder
	i := 0
	for i < len(input) {
		matched := false
		for _, marker := range secretMarkers {
			if !strings.HasPrefix(lower[i:], marker) {
				continue
			}
			after := i + len(marker)
			// skip optional colon/equals and following whitespace/quotes
			j := after
			for j < len(input) && (input[j] == ':' || input[j] == '=' || input[j] == ' ' || input[j] == '\t' || input[j] == '\'' || input[j] == '"') {
				j++
			}
			if j == after {
				continue // no delimiter right after the marker, not a real match
			}
			valueStart := j
			for j < len(input) && !strings.ContainsRune(" \t,}'\"", rune(input[j])) {
				j++
			}
			if valueStart == j {
				continue // delimiter with no value
			}
			b.WriteString(input[i:after])
			b.WriteString(": [REDACTED]")
			i = j
			matched = true
			break
		}
		if !matched {
			b.WriteByte(input[i])
			i++
		}
	}
	return b.String()
}
