package edm

import (
	"encoding/hex"
	"strings"
)

// Literal renders p in URI literal form, as used by $filter expressions,
// key predicates and function parameters. A nil p renders as null.
func Literal(p *Primitive) string {
	if p == nil {
		return "null"
	}
	text := p.CanonicalText()
	switch p.typ {
	case TypeString:
		return quote(text)
	case TypeGuid:
		return "guid" + quote(text)
	case TypeDateTime:
		return "datetime" + quote(text)
	case TypeDateTimeOffset:
		return "datetimeoffset" + quote(text)
	case TypeTime:
		return "time" + quote(text)
	case TypeBinary:
		return "X'" + strings.ToUpper(hex.EncodeToString(p.v.([]byte))) + "'"
	case TypeInt64:
		return text + "L"
	case TypeDecimal:
		return text + "M"
	case TypeSingle:
		if isSpecialFloat(text) {
			return text
		}
		return text + "f"
	case TypeDouble:
		if isSpecialFloat(text) || strings.ContainsAny(text, ".E") {
			return text
		}
		return text + "d"
	case TypeGeography:
		return "geography" + quote(text)
	case TypeGeometry:
		return "geometry" + quote(text)
	}
	return text
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isSpecialFloat(text string) bool {
	return text == "NaN" || text == "INF" || text == "-INF"
}
