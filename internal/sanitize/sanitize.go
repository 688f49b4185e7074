// Package sanitize cleans caller-supplied free text before it is embedded in
// a provider prompt. This is a prompt-injection mitigation, not general HTML
// escaping: markup-significant characters are removed outright and phrases
// that read as instruction overrides are stripped.
//
// Field is idempotent: sanitizing already-sanitized text is a no-op. The
// phrase pass runs to a fixed point so removals can never splice a new
// banned phrase together.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxFieldRunes caps sanitized free-text fields forwarded to the provider.
const MaxFieldRunes = 200

var (
	// markupChars matches characters that could open markup or quote context
	// inside a prompt.
	markupChars = regexp.MustCompile("[<>\"'`]")

	// overridePhrases matches common instruction-override phrasings.
	overridePhrases = regexp.MustCompile(`(?i)(ignore\s+(all|previous|the)|disregard|forget|override|bypass)`)

	// multiSpace collapses runs of whitespace left behind by stripping.
	multiSpace = regexp.MustCompile(`\s+`)
)

// Field sanitizes one free-text field: markup characters and
// instruction-override phrases are removed, whitespace is collapsed, and the
// result is truncated to MaxFieldRunes runes.
func Field(s string) string {
	s = markupChars.ReplaceAllString(s, "")

	// Removing a phrase can butt its neighbors together; iterate until no
	// match remains so the result is stable under re-sanitization.
	for {
		next := overridePhrases.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}

	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))

	runes := []rune(s)
	if len(runes) > MaxFieldRunes {
		s = strings.TrimSpace(string(runes[:MaxFieldRunes]))
	}
	return s
}
