// Package sanitize cleans user-supplied text before it is stored or relayed.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxDisplayNameLength bounds display names in runes.
const MaxDisplayNameLength = 50

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	schemePattern  = regexp.MustCompile(`(?i)(javascript|vbscript|data)\s*:`)
	handlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// Text strips tag-like markup, script and data URL schemes and inline event
// handler attributes, then trims surrounding whitespace. Rules are applied
// until the text stops changing, so Text(Text(s)) == Text(s).
func Text(s string) string {
	for {
		next := pass(s)
		if next == s {
			return next
		}
		s = next
	}
}

func pass(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = schemePattern.ReplaceAllString(s, "")
	s = handlerPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// DisplayName sanitizes a display name, drops control characters and caps
// its length.
func DisplayName(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, Text(s))
	if utf8.RuneCountInString(s) > MaxDisplayNameLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxDisplayNameLength]))
	}
	return Text(s)
}

// IsGifURL reports whether s is an absolute http(s) URL. GIF payloads are
// opaque media references and skip Text entirely.
func IsGifURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
