package router

import "strings"

// tokenize splits an argument string on whitespace, keeping quoted runs
// together:
//
//	a "b c" 'd'  ->  [a, b c, d]
func tokenize(s string) []string {
	var (
		out  []string
		buf  strings.Builder
		quot rune
		esc  bool
		have bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case quot != 0:
			if ch == quot {
				quot = 0
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			quot, have = ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
			have = true
		}
	}
	flush()
	return out
}
