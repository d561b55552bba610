package dex

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Quote renders s as a double-quoted assembly string literal.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		writeEscaped(&b, r, '"')
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteChar renders c as a single-quoted assembly char literal.
func QuoteChar(c uint16) string {
	var b strings.Builder
	b.WriteByte('\'')
	writeEscaped(&b, rune(c), '\'')
	b.WriteByte('\'')
	return b.String()
}

func writeEscaped(b *strings.Builder, r rune, quote rune) {
	switch r {
	case '\n':
		b.WriteString(`\n`)
	case '\t':
		b.WriteString(`\t`)
	case '\r':
		b.WriteString(`\r`)
	case '\b':
		b.WriteString(`\b`)
	case '\f':
		b.WriteString(`\f`)
	case '\\':
		b.WriteString(`\\`)
	case quote:
		b.WriteByte('\\')
		b.WriteRune(r)
	default:
		switch {
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		case r > 0xffff:
			for _, u := range utf16.Encode([]rune{r}) {
				fmt.Fprintf(b, `\u%04x`, u)
			}
		default:
			fmt.Fprintf(b, `\u%04x`, r)
		}
	}
}
