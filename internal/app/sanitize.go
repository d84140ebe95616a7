package app

import (
	"strings"
	"unicode"
)

// sanitizeBody strips control and format characters, collapses runs of
// whitespace to a single space, and trims the result.
func sanitizeBody(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingSpace := false
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.In(r, unicode.Cc, unicode.Cf):
			// dropped
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
