package views

import (
	"strings"
	"unicode"
)

// sanitizeForTerminal drops runes that corrupt tcell rendering or the
// terminal itself: control characters other than newline and tab (remote
// text could carry escape sequences), emoji skin-tone modifiers, zero
// width joiners and variation selectors. A joined emoji sequence collapses
// to its base glyphs, each drawn as one 2-cell character.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
