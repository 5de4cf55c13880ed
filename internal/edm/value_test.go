package edm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplexFields(t *testing.T) {
	c := NewComplex("Microsoft.Test.OData.Services.AstoriaDefaultService.ContactDetails")
	require.NoError(t, c.Add("EmailBag", NewCollection("Edm.String")))
	require.NoError(t, c.Add("HomePhone", nil))

	err := c.Add("HomePhone", NewString("555"))
	assert.ErrorIs(t, err, ErrDuplicateField)

	c.Set("HomePhone", NewString("555"))
	c.Set("MobilePhone", NewString("556"))

	fields := c.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "EmailBag", fields[0].Name)
	assert.Equal(t, "HomePhone", fields[1].Name, "Set must replace in place")
	assert.Equal(t, "MobilePhone", fields[2].Name)

	v, ok := c.Get("HomePhone")
	require.True(t, ok)
	assert.Equal(t, "555", v.(*Primitive).CanonicalText())

	assert.True(t, c.Remove("EmailBag"))
	assert.False(t, c.Remove("EmailBag"))
	assert.Equal(t, 2, c.Len())
}

func TestCollection(t *testing.T) {
	c := NewCollection("Edm.Int32", NewInt32(1))
	c.Append(NewInt32(2))
	assert.Equal(t, "Collection(Edm.Int32)", c.TypeName())
	assert.Equal(t, 2, c.Len())

	empty := NewCollection("Edm.String")
	assert.False(t, IsNull(empty), "empty collection is not null")
	assert.Equal(t, 0, empty.Len())

	item, ok := CollectionItemType(c.TypeName())
	assert.True(t, ok)
	assert.Equal(t, "Edm.Int32", item)
}

func TestEqual(t *testing.T) {
	dec, err := Parse("Edm.Decimal", "1.50")
	require.NoError(t, err)

	addr := func(street string) *Complex {
		c := NewComplex("NS.Address")
		c.Set("Street", NewString(street))
		c.Set("Zip", nil)
		return c
	}

	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs typed nil", nil, (*Primitive)(nil), true},
		{"nil vs value", nil, NewInt32(1), false},
		{"canonical not raw", dec, NewDecimal(decimal.RequireFromString("1.5")), true},
		{"type matters", NewInt32(1), NewInt64(1), false},
		{"complex", addr("Main"), addr("Main"), true},
		{"complex differs", addr("Main"), addr("Side"), false},
		{"collection", NewCollection("Edm.Int32", NewInt32(1)), NewCollection("Edm.Int32", NewInt32(1)), true},
		{"collection order", NewCollection("Edm.Int32", NewInt32(1), NewInt32(2)), NewCollection("Edm.Int32", NewInt32(2), NewInt32(1)), false},
		{"kind differs", NewCollection("NS.Address"), NewComplex("NS.Address"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
		})
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		value    *Primitive
		expected string
	}{
		{nil, "null"},
		{NewString("O'Neil"), "'O''Neil'"},
		{NewInt32(16), "16"},
		{NewInt64(12), "12L"},
		{NewDecimal(decimal.RequireFromString("1.5")), "1.5M"},
		{NewSingle(2.5), "2.5f"},
		{NewDouble(1.5), "1.5"},
		{NewDouble(100), "100d"},
		{NewBoolean(true), "true"},
		{NewGuid(uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")), "guid'6f9619ff-8b86-d011-b42d-00c04fc964ff'"},
		{NewDateTime(time.Date(2012, 5, 3, 10, 15, 30, 0, time.UTC)), "datetime'2012-05-03T10:15:30'"},
		{NewDateTimeOffset(time.Date(2012, 5, 3, 10, 15, 30, 0, time.UTC)), "datetimeoffset'2012-05-03T10:15:30Z'"},
		{NewTime(90 * time.Minute), "time'PT1H30M'"},
		{NewBinary([]byte{0x0a, 0x0b}), "X'0A0B'"},
		{NewGeo(NewPoint(Geography, 1, 2)), "geography'SRID=4326;POINT(1 2)'"},
		{NewGeo(NewPoint(Geometry, 1, 2)), "geometry'SRID=0;POINT(1 2)'"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := Literal(tt.value); got != tt.expected {
				t.Errorf("Literal() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWKTShapes(t *testing.T) {
	tests := []struct {
		in, out string
		kind    ShapeKind
	}{
		{"POINT (1 2)", "POINT(1 2)", ShapePoint},
		{"point(1 2 3)", "POINT(1 2)", ShapePoint},
		{"POINT EMPTY", "POINT EMPTY", ShapePoint},
		{"LINESTRING(1 2, 3 4)", "LINESTRING(1 2,3 4)", ShapeLineString},
		{"POLYGON((0 0,4 0,4 4,0 0),(1 1,2 1,2 2,1 1))", "POLYGON((0 0,4 0,4 4,0 0),(1 1,2 1,2 2,1 1))", ShapePolygon},
		{"MULTIPOINT(1 2, 3 4)", "MULTIPOINT((1 2),(3 4))", ShapeMultiPoint},
		{"MULTILINESTRING((1 2,3 4),(5 6,7 8))", "MULTILINESTRING((1 2,3 4),(5 6,7 8))", ShapeMultiLineString},
		{"MULTIPOLYGON(((0 0,1 0,1 1,0 0)),((5 5,6 5,6 6,5 5)))", "MULTIPOLYGON(((0 0,1 0,1 1,0 0)),((5 5,6 5,6 6,5 5)))", ShapeMultiPolygon},
		{"GEOMETRYCOLLECTION(POINT(1 2),LINESTRING(1 2,3 4))", "GEOMETRYCOLLECTION(POINT(1 2),LINESTRING(1 2,3 4))", ShapeCollection},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseWKT(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, s.Kind)
			g := Geo{Dimension: Geometry, Shape: s}
			assert.Equal(t, tt.out, g.WKT())
		})
	}

	for _, bad := range []string{"", "CIRCLE(1 2)", "POINT(1 2", "POINT(1 2) x", "LINESTRING(1 2,)"} {
		_, err := ParseWKT(bad)
		assert.Error(t, err, "ParseWKT(%q)", bad)
	}
}

func TestLookupPrimitive(t *testing.T) {
	typ, shape, ok := LookupPrimitive("Edm.GeometryMultiPolygon")
	require.True(t, ok)
	assert.Equal(t, TypeGeometry, typ)
	assert.Equal(t, ShapeMultiPolygon, shape)

	_, _, ok = LookupPrimitive("Edm.GeographyCircle")
	assert.False(t, ok)
	assert.True(t, IsPrimitiveName("Edm.Int32"))
	assert.False(t, IsPrimitiveName("NS.Customer"))
}
