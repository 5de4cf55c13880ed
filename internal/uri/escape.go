package uri

import "strings"

const hexDigits = "0123456789ABCDEF"

// escapeSegment percent-encodes everything outside RFC 3986 pchar, so key
// predicates keep their quotes, parentheses, commas and equals signs.
func escapeSegment(s string) string {
	return escape(s, "-._~!$&'()*+,;=:@")
}

// escapeQueryValue encodes a query option value. Spaces become %20, never
// +, and the characters that delimit query options are always encoded.
func escapeQueryValue(v string) string {
	return escape(v, "-._~!$'()*,;:@/?")
}

func escape(s, keep string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || strings.IndexByte(keep, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
