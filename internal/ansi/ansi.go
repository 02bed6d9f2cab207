// Package ansi removes terminal control sequences from child output lines.
package ansi

import "strings"

// Strip removes ANSI escape sequences from s: CSI sequences such as colors
// and cursor movement, OSC sequences such as window titles and hyperlinks,
// and two-byte escapes. An unterminated CSI sequence is kept as-is.
func Strip(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '\x1b' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++

			continue
		}

		switch s[i+1] {
		case '[':
			end := csiEnd(s, i+2)
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}

			i = end
		case ']':
			i = oscEnd(s, i+2)
		default:
			i += 2
		}
	}

	return b.String()
}

// csiEnd returns the index after the final byte of a CSI sequence, or -1.
func csiEnd(s string, i int) int {
	for ; i < len(s); i++ {
		if c := s[i]; c >= 0x40 && c <= 0x7e {
			return i + 1
		}
	}

	return -1
}

// oscEnd returns the index after the BEL or ST that ends an OSC sequence.
func oscEnd(s string, i int) int {
	for ; i < len(s); i++ {
		switch {
		case s[i] == '\a':
			return i + 1
		case s[i] == '\x1b' && i+1 < len(s) && s[i+1] == '\\':
			return i + 2
		}
	}

	return len(s)
}
