package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s cut to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count, cut := 0, 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			return s[:cut] + "…"
		}
	}
	return s
}

// TruncBytes returns s cut to at most n bytes without splitting a rune.
func TruncBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Builder assembles a message line by line. Plain text is escaped;
// H values go in as they are.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Line appends escaped text.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, string(Esc(s)))
	return b
}

// HTML appends the parts on one line.
func (b *Builder) HTML(parts ...H) *Builder {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(string(p))
	}
	b.lines = append(b.lines, sb.String())
	return b
}

// Title appends a bold heading, optionally after an emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	if emoji == "" {
		return b.HTML(B(title))
	}
	return b.HTML(Esc(emoji), " ", B(title))
}

// KV appends "• key: value" with the key in bold.
func (b *Builder) KV(key string, value H) *Builder {
	return b.HTML("• ", B(key), ": ", value)
}

// Bullets appends one "• item" line per non-empty item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.Line("• " + it)
		}
	}
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// String joins the lines, dropping trailing blanks.
func (b *Builder) String() string {
	lines := b.lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
