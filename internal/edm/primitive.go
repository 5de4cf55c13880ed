package edm

import (
	"encoding/base64"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateTime and DateTimeOffset carry at most 100ns precision on the wire.
const tick = 100 * time.Nanosecond

const (
	dateTimeLayout       = "2006-01-02T15:04:05.9999999"
	dateTimeOffsetLayout = "2006-01-02T15:04:05.9999999Z07:00"
)

// Primitive is a single EDM primitive value. It is immutable once built.
type Primitive struct {
	typ PrimitiveType
	v   any
}

func (*Primitive) Kind() ValueKind { return KindPrimitive }
func (*Primitive) isValue() {}

// Type returns the primitive type family.
func (p *Primitive) Type() PrimitiveType { return p.typ }

// TypeName returns the qualified EDM type name. Geospatial values report
// their concrete shape type, e.g. Edm.GeographyPoint.
func (p *Primitive) TypeName() string {
	if p.typ.IsGeo() {
		return p.v.(Geo).TypeName()
	}
	return p.typ.Name()
}

// Value returns the typed Go value: bool, uint8, int8, int16, int32,
// int64, float32, float64, decimal.Decimal, uuid.UUID, string,
// time.Time, time.Duration, []byte or Geo.
func (p *Primitive) Value() any {
	if b, ok := p.v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return p.v
}

// Int64 returns integral values widened to int64.
func (p *Primitive) Int64() (int64, bool) {
	switch v := p.v.(type) {
	case uint8:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// CanonicalText renders the value in the OData literal grammar without
// any URI prefix or quoting. It is stable: parsing the result yields an
// equal value.
func (p *Primitive) CanonicalText() string {
	switch p.typ {
	case TypeBinary:
		return base64.StdEncoding.EncodeToString(p.v.([]byte))
	case TypeBoolean:
		return strconv.FormatBool(p.v.(bool))
	case TypeByte:
		return strconv.FormatUint(uint64(p.v.(uint8)), 10)
	case TypeSByte:
		return strconv.FormatInt(int64(p.v.(int8)), 10)
	case TypeInt16:
		return strconv.FormatInt(int64(p.v.(int16)), 10)
	case TypeInt32:
		return strconv.FormatInt(int64(p.v.(int32)), 10)
	case TypeInt64:
		return strconv.FormatInt(p.v.(int64), 10)
	case TypeSingle:
		return formatFloat(float64(p.v.(float32)), 32)
	case TypeDouble:
		return formatFloat(p.v.(float64), 64)
	case TypeDecimal:
		return p.v.(decimal.Decimal).String()
	case TypeGuid:
		return p.v.(uuid.UUID).String()
	case TypeString:
		return p.v.(string)
	case TypeDateTime:
		return p.v.(time.Time).Format(dateTimeLayout)
	case TypeDateTimeOffset:
		return p.v.(time.Time).Format(dateTimeOffsetLayout)
	case TypeTime:
		return formatDuration(p.v.(time.Duration))
	case TypeGeography, TypeGeometry:
		return p.v.(Geo).String()
	}
	return ""
}

func (p *Primitive) String() string { return p.CanonicalText() }

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	return strconv.FormatFloat(f, 'G', -1, bits)
}

func NewBoolean(v bool) *Primitive { return &Primitive{typ: TypeBoolean, v: v} }
func NewByte(v uint8) *Primitive { return &Primitive{typ: TypeByte, v: v} }
func NewSByte(v int8) *Primitive { return &Primitive{typ: TypeSByte, v: v} }
func NewInt16(v int16) *Primitive { return &Primitive{typ: TypeInt16, v: v} }
func NewInt32(v int32) *Primitive { return &Primitive{typ: TypeInt32, v: v} }
func NewInt64(v int64) *Primitive { return &Primitive{typ: TypeInt64, v: v} }
func NewSingle(v float32) *Primitive { return &Primitive{typ: TypeSingle, v: v} }
func NewDouble(v float64) *Primitive { return &Primitive{typ: TypeDouble, v: v} }
func NewString(v string) *Primitive { return &Primitive{typ: TypeString, v: v} }
func NewGuid(v uuid.UUID) *Primitive { return &Primitive{typ: TypeGuid, v: v} }

func NewDecimal(v decimal.Decimal) *Primitive {
	return &Primitive{typ: TypeDecimal, v: v}
}

// NewDateTime keeps the wall clock of t and drops its zone; Edm.DateTime
// carries no offset.
func NewDateTime(t time.Time) *Primitive {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return &Primitive{typ: TypeDateTime, v: wall.Truncate(tick)}
}

func NewDateTimeOffset(t time.Time) *Primitive {
	return &Primitive{typ: TypeDateTimeOffset, v: t.Truncate(tick)}
}

// NewTime builds an Edm.Time, which OData v3 defines as a duration.
func NewTime(d time.Duration) *Primitive {
	return &Primitive{typ: TypeTime, v: d}
}

// NewBinary copies b. Binary values can only be built from bytes.
func NewBinary(b []byte) *Primitive {
	return &Primitive{typ: TypeBinary, v: append([]byte{}, b...)}
}

func NewGeo(g Geo) *Primitive {
	return &Primitive{typ: g.Dimension.primitiveType(), v: g.clone()}
}

// DecodeBinary builds a Binary value from base64 wire text.
func DecodeBinary(text string) (*Primitive, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, mismatch(TypeBinary, text, err)
	}
	return NewBinary(b), nil
}
