package edm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Parse builds a primitive of the named type from its raw text form.
// Binary is rejected: binary values are built from bytes (NewBinary or
// DecodeBinary).
func Parse(typeName, text string) (*Primitive, error) {
	typ, shape, ok := LookupPrimitive(typeName)
	if !ok {
		return nil, &UnsupportedTypeError{Type: typeName}
	}
	switch typ {
	case TypeBinary:
		return nil, &TypeMismatchError{Type: typeName, Value: text, Err: fmt.Errorf("binary values require typed bytes")}
	case TypeBoolean:
		switch strings.ToLower(text) {
		case "true", "1":
			return NewBoolean(true), nil
		case "false", "0":
			return NewBoolean(false), nil
		}
		return nil, mismatch(typ, text, nil)
	case TypeByte:
		n, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewByte(uint8(n)), nil
	case TypeSByte, TypeInt16, TypeInt32, TypeInt64:
		return parseInt(typ, text)
	case TypeSingle:
		f, err := parseFloat(text, 32)
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewSingle(float32(f)), nil
	case TypeDouble:
		f, err := parseFloat(text, 64)
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewDouble(f), nil
	case TypeDecimal:
		d, err := decimal.NewFromString(strings.TrimRight(text, "Mm"))
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewDecimal(d), nil
	case TypeGuid:
		u, err := uuid.Parse(text)
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewGuid(u), nil
	case TypeString:
		return NewString(text), nil
	case TypeDateTime:
		return parseDateTime(text)
	case TypeDateTimeOffset:
		return parseDateTimeOffset(text)
	case TypeTime:
		d, err := parseDuration(text)
		if err != nil {
			return nil, mismatch(typ, text, err)
		}
		return NewTime(d), nil
	case TypeGeography, TypeGeometry:
		g, err := ParseGeo(dimensionOf(typ), text)
		if err != nil {
			return nil, &TypeMismatchError{Type: typeName, Value: text, Err: err}
		}
		if shape != ShapeUnknown && g.Shape.Kind != shape {
			return nil, &TypeMismatchError{Type: typeName, Value: text, Err: fmt.Errorf("shape is %s", g.Shape.Kind)}
		}
		return NewGeo(g), nil
	}
	return nil, &UnsupportedTypeError{Type: typeName}
}

func parseInt(typ PrimitiveType, text string) (*Primitive, error) {
	bits := map[PrimitiveType]int{TypeSByte: 8, TypeInt16: 16, TypeInt32: 32, TypeInt64: 64}[typ]
	n, err := strconv.ParseInt(text, 10, bits)
	if err != nil {
		return nil, mismatch(typ, text, err)
	}
	switch typ {
	case TypeSByte:
		return NewSByte(int8(n)), nil
	case TypeInt16:
		return NewInt16(int16(n)), nil
	case TypeInt32:
		return NewInt32(int32(n)), nil
	}
	return NewInt64(n), nil
}

func parseFloat(text string, bits int) (float64, error) {
	switch text {
	case "NaN":
		return math.NaN(), nil
	case "INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(strings.TrimRight(text, "dDfF"), bits)
}

// FromGo maps a native Go value onto its natural EDM type. int becomes
// Int32 when it fits and Int64 otherwise; time.Time becomes
// DateTimeOffset.
func FromGo(v any) (*Primitive, error) {
	switch x := v.(type) {
	case *Primitive:
		return x, nil
	case bool:
		return NewBoolean(x), nil
	case uint8:
		return NewByte(x), nil
	case int8:
		return NewSByte(x), nil
	case int16:
		return NewInt16(x), nil
	case int32:
		return NewInt32(x), nil
	case int64:
		return NewInt64(x), nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return NewInt32(int32(x)), nil
		}
		return NewInt64(int64(x)), nil
	case uint16:
		return NewInt32(int32(x)), nil
	case uint32:
		return NewInt64(int64(x)), nil
	case float32:
		return NewSingle(x), nil
	case float64:
		return NewDouble(x), nil
	case string:
		return NewString(x), nil
	case decimal.Decimal:
		return NewDecimal(x), nil
	case uuid.UUID:
		return NewGuid(x), nil
	case time.Time:
		return NewDateTimeOffset(x), nil
	case time.Duration:
		return NewTime(x), nil
	case []byte:
		return NewBinary(x), nil
	case Geo:
		return NewGeo(x), nil
	}
	return nil, &UnsupportedTypeError{Type: fmt.Sprintf("%T", v)}
}

// FromTyped builds a primitive of an explicit EDM type from a Go value.
// Strings are parsed as raw text; numbers are converted with range checks.
func FromTyped(typeName string, v any) (*Primitive, error) {
	typ, _, ok := LookupPrimitive(typeName)
	if !ok {
		return nil, &UnsupportedTypeError{Type: typeName}
	}
	if s, ok := v.(string); ok && typ != TypeString {
		if typ == TypeBinary {
			return DecodeBinary(s)
		}
		return Parse(typeName, s)
	}
	p, err := FromGo(v)
	if err != nil {
		return nil, err
	}
	if p.typ == typ {
		return p, nil
	}
	return convert(p, typeName, typ)
}

// convert widens or narrows numeric values; any other cross-type request
// is a mismatch.
func convert(p *Primitive, typeName string, to PrimitiveType) (*Primitive, error) {
	fail := &TypeMismatchError{Type: typeName, Value: p.CanonicalText()}
	if n, ok := p.Int64(); ok {
		switch to {
		case TypeByte, TypeSByte, TypeInt16, TypeInt32, TypeInt64:
			if to == TypeByte {
				if n < 0 || n > math.MaxUint8 {
					return nil, fail
				}
				return NewByte(uint8(n)), nil
			}
			return parseInt(to, strconv.FormatInt(n, 10))
		case TypeSingle:
			return NewSingle(float32(n)), nil
		case TypeDouble:
			return NewDouble(float64(n)), nil
		case TypeDecimal:
			return NewDecimal(decimal.NewFromInt(n)), nil
		}
		return nil, fail
	}
	var f float64
	switch x := p.v.(type) {
	case float32:
		f = float64(x)
	case float64:
		f = x
	case decimal.Decimal:
		f = x.InexactFloat64()
	default:
		return nil, fail
	}
	switch to {
	case TypeSingle:
		return NewSingle(float32(f)), nil
	case TypeDouble:
		return NewDouble(f), nil
	case TypeDecimal:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fail
		}
		return NewDecimal(decimal.NewFromFloat(f)), nil
	}
	return nil, fail
}
