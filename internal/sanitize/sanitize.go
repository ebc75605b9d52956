// Package sanitize prepares model output and user input for display.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Display decodes s permissively and strips everything that is not printable.
// Newlines survive; tabs and other spaces become ' '; CR and CRLF become newlines.
func Display(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = norm.NFC.String(s)

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			sb.WriteRune(r)
		case r == '\r':
			sb.WriteRune('\n')
		case r == utf8.RuneError:
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		case unicode.IsPrint(r):
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Printable reports whether s would survive Display unchanged apart from
// trimming, i.e. contains no control characters other than '\n'.
func Printable(s string) bool {
	for _, r := range s {
		if r == '\n' {
			continue
		}
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
