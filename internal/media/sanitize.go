package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeCaption reduces text to what the caption renderer can draw:
// compatibility-decomposed, printable ASCII only. Accented letters keep their
// base letter; everything else outside ASCII is dropped. Line breaks and tabs
// become spaces.
func SanitizeCaption(text string) string {
	decomposed := norm.NFKD.String(text)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r > unicode.MaxASCII:
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
