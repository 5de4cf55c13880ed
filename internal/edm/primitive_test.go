package edm

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanonicalText(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		text     string
		expected string
	}{
		{"int32", "Edm.Int32", "16", "16"},
		{"int32 with sign and zeros", "Edm.Int32", "+007", "7"},
		{"int64", "Edm.Int64", "-9223372036854775808", "-9223372036854775808"},
		{"byte", "Edm.Byte", "255", "255"},
		{"sbyte", "Edm.SByte", "-128", "-128"},
		{"boolean upper", "Edm.Boolean", "TRUE", "true"},
		{"boolean digit", "Edm.Boolean", "0", "false"},
		{"decimal trailing zeros", "Edm.Decimal", "1.50", "1.5"},
		{"decimal exponent", "Edm.Decimal", "1E+3", "1000"},
		{"decimal suffix", "Edm.Decimal", "2.25M", "2.25"},
		{"double", "Edm.Double", "1.5", "1.5"},
		{"double large", "Edm.Double", "1E21", "1E+21"},
		{"double integral", "Edm.Double", "100", "100"},
		{"double nan", "Edm.Double", "NaN", "NaN"},
		{"double infinity", "Edm.Double", "-INF", "-INF"},
		{"single", "Edm.Single", "2.5", "2.5"},
		{"guid upper", "Edm.Guid", "6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
		{"string", "Edm.String", "Sample customer", "Sample customer"},
		{"datetime utc marker", "Edm.DateTime", "2012-05-03T10:15:30Z", "2012-05-03T10:15:30"},
		{"datetime fraction", "Edm.DateTime", "2012-05-03T10:15:30.1200000", "2012-05-03T10:15:30.12"},
		{"datetime without seconds", "Edm.DateTime", "2012-05-03T10:15", "2012-05-03T10:15:00"},
		{"datetime legacy", "Edm.DateTime", "/Date(1336040130000)/", "2012-05-03T10:15:30"},
		{"datetimeoffset", "Edm.DateTimeOffset", "2012-05-03T10:15:30+02:00", "2012-05-03T10:15:30+02:00"},
		{"datetimeoffset utc", "Edm.DateTimeOffset", "2012-05-03T10:15:30.5Z", "2012-05-03T10:15:30.5Z"},
		{"datetimeoffset legacy", "Edm.DateTimeOffset", "/Date(1336040130000+0120)/", "2012-05-03T11:35:30+01:20"},
		{"time", "Edm.Time", "PT13H20M", "PT13H20M"},
		{"time days", "Edm.Time", "P1DT2H", "PT26H"},
		{"time zero", "Edm.Time", "PT0S", "PT0S"},
		{"time fraction", "Edm.Time", "PT5.500S", "PT5.5S"},
		{"geography point", "Edm.GeographyPoint", "POINT(1 2)", "SRID=4326;POINT(1 2)"},
		{"geometry polygon", "Edm.GeometryPolygon", "SRID=0;POLYGON((0 0, 1 0, 1 1, 0 0))", "SRID=0;POLYGON((0 0,1 0,1 1,0 0))"},
		{"geography family", "Edm.Geography", "SRID=4326;MULTIPOINT((1 2),(3 4))", "SRID=4326;MULTIPOINT((1 2),(3 4))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.typeName, tt.text)
			require.NoError(t, err)
			if got := p.CanonicalText(); got != tt.expected {
				t.Errorf("Parse(%q, %q).CanonicalText() = %q, want %q", tt.typeName, tt.text, got, tt.expected)
			}

			// Canonical text is stable under a second parse.
			again, err := Parse(tt.typeName, p.CanonicalText())
			require.NoError(t, err)
			assert.True(t, Equal(p, again), "re-parse of %q not equal", p.CanonicalText())
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		text     string
		target   error
	}{
		{"int32 overflow", "Edm.Int32", "2147483648", ErrTypeMismatch},
		{"int32 garbage", "Edm.Int32", "twelve", ErrTypeMismatch},
		{"byte negative", "Edm.Byte", "-1", ErrTypeMismatch},
		{"boolean", "Edm.Boolean", "yes", ErrTypeMismatch},
		{"guid", "Edm.Guid", "not-a-guid", ErrTypeMismatch},
		{"datetime", "Edm.DateTime", "yesterday", ErrTypeMismatch},
		{"time", "Edm.Time", "PT", ErrTypeMismatch},
		{"binary raw text", "Edm.Binary", "AQID", ErrTypeMismatch},
		{"geo shape mismatch", "Edm.GeographyPoint", "LINESTRING(1 2,3 4)", ErrTypeMismatch},
		{"geo garbage", "Edm.GeometryPoint", "POINT(1)", ErrTypeMismatch},
		{"unknown type", "Namespace.Address", "x", ErrUnsupportedType},
		{"stream", "Edm.Stream", "x", ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.typeName, tt.text)
			if !errors.Is(err, tt.target) {
				t.Errorf("Parse(%q, %q) error = %v, want %v", tt.typeName, tt.text, err, tt.target)
			}
		})
	}
}

func TestTypedAndRawConstructorsAgree(t *testing.T) {
	when := time.Date(2012, 5, 3, 10, 15, 30, 120000000, time.UTC)
	id := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")

	tests := []struct {
		typed *Primitive
		raw   string
	}{
		{NewInt32(-10), "-10"},
		{NewInt16(300), "300"},
		{NewInt64(1 << 40), "1099511627776"},
		{NewBoolean(true), "true"},
		{NewDouble(1.5), "1.5"},
		{NewSingle(0.25), "0.25"},
		{NewDecimal(decimal.RequireFromString("79228162514264337593543950335")), "79228162514264337593543950335"},
		{NewGuid(id), "6F9619FF-8B86-D011-B42D-00C04FC964FF"},
		{NewString("O'Neil"), "O'Neil"},
		{NewDateTime(when), "2012-05-03T10:15:30.12"},
		{NewDateTimeOffset(when.In(time.FixedZone("", -5*3600))), "2012-05-03T05:15:30.12-05:00"},
		{NewTime(90 * time.Minute), "PT1H30M"},
		{NewGeo(NewPoint(Geography, -122.1, 47.6)), "SRID=4326;POINT(-122.1 47.6)"},
	}

	for _, tt := range tests {
		t.Run(tt.typed.TypeName(), func(t *testing.T) {
			parsed, err := Parse(tt.typed.TypeName(), tt.raw)
			require.NoError(t, err)
			assert.True(t, Equal(tt.typed, parsed), "typed %q != raw %q", tt.typed.CanonicalText(), parsed.CanonicalText())
		})
	}
}

func TestNewDateTimeDropsZone(t *testing.T) {
	local := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("", 3600))
	p := NewDateTime(local)
	assert.Equal(t, "2020-01-02T03:04:05", p.CanonicalText())
	assert.Equal(t, "Edm.DateTime", p.TypeName())
}

func TestBinary(t *testing.T) {
	b := []byte{1, 2, 3}
	p := NewBinary(b)
	b[0] = 9
	assert.Equal(t, "AQID", p.CanonicalText(), "constructor must copy its input")

	decoded, err := DecodeBinary("AQID")
	require.NoError(t, err)
	assert.True(t, Equal(p, decoded))

	_, err = DecodeBinary("!!")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestFromGo(t *testing.T) {
	tests := []struct {
		in       any
		typeName string
		text     string
	}{
		{16, "Edm.Int32", "16"},
		{math.MaxInt32 + 1, "Edm.Int64", "2147483648"},
		{int64(5), "Edm.Int64", "5"},
		{uint8(7), "Edm.Byte", "7"},
		{"abc", "Edm.String", "abc"},
		{true, "Edm.Boolean", "true"},
		{2.5, "Edm.Double", "2.5"},
		{float32(2.5), "Edm.Single", "2.5"},
		{decimal.NewFromFloat(3.25), "Edm.Decimal", "3.25"},
		{time.Duration(0), "Edm.Time", "PT0S"},
	}

	for _, tt := range tests {
		p, err := FromGo(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.typeName, p.TypeName())
		assert.Equal(t, tt.text, p.CanonicalText())
	}

	_, err := FromGo(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFromTyped(t *testing.T) {
	p, err := FromTyped("Edm.Int64", 42)
	require.NoError(t, err)
	assert.Equal(t, "Edm.Int64", p.TypeName())

	p, err = FromTyped("Edm.Decimal", 7)
	require.NoError(t, err)
	assert.Equal(t, "7", p.CanonicalText())

	p, err = FromTyped("Edm.Guid", "6F9619FF-8B86-D011-B42D-00C04FC964FF")
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", p.CanonicalText())

	p, err = FromTyped("Edm.Binary", "AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p.Value())

	_, err = FromTyped("Edm.Byte", 300)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = FromTyped("Edm.Int32", true)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = FromTyped("Edm.Nope", 1)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFormatLegacyDate(t *testing.T) {
	p, err := Parse("Edm.DateTime", "2012-05-03T10:15:30")
	require.NoError(t, err)
	s, err := FormatLegacyDate(p)
	require.NoError(t, err)
	assert.Equal(t, "/Date(1336040130000)/", s)

	p, err = Parse("Edm.DateTimeOffset", "2012-05-03T11:35:30+01:20")
	require.NoError(t, err)
	s, err = FormatLegacyDate(p)
	require.NoError(t, err)
	assert.Equal(t, "/Date(1336040130000+0120)/", s)

	_, err = FormatLegacyDate(NewInt32(1))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
