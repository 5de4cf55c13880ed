package edm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dimension separates round-earth (Geography) from flat (Geometry) values.
type Dimension int

const (
	Geography Dimension = iota
	Geometry
)

func (d Dimension) String() string {
	if d == Geometry {
		return "Geometry"
	}
	return "Geography"
}

// DefaultSRID is 4326 (WGS 84) for geography and 0 for geometry.
func (d Dimension) DefaultSRID() int {
	if d == Geometry {
		return 0
	}
	return 4326
}

func (d Dimension) primitiveType() PrimitiveType {
	if d == Geometry {
		return TypeGeometry
	}
	return TypeGeography
}

func dimensionOf(t PrimitiveType) Dimension {
	if t == TypeGeometry {
		return Geometry
	}
	return Geography
}

// ShapeKind is the geometric shape of a geospatial value.
type ShapeKind int

const (
	ShapeUnknown ShapeKind = iota
	ShapePoint
	ShapeLineString
	ShapePolygon
	ShapeMultiPoint
	ShapeMultiLineString
	ShapeMultiPolygon
	ShapeCollection
)

var shapeNames = map[ShapeKind]string{
	ShapePoint:           "Point",
	ShapeLineString:      "LineString",
	ShapePolygon:         "Polygon",
	ShapeMultiPoint:      "MultiPoint",
	ShapeMultiLineString: "MultiLineString",
	ShapeMultiPolygon:    "MultiPolygon",
	ShapeCollection:      "Collection",
}

var shapeByName = func() map[string]ShapeKind {
	m := make(map[string]ShapeKind, len(shapeNames))
	for k, name := range shapeNames {
		m[name] = k
	}
	return m
}()

var wktNames = map[ShapeKind]string{
	ShapePoint:           "POINT",
	ShapeLineString:      "LINESTRING",
	ShapePolygon:         "POLYGON",
	ShapeMultiPoint:      "MULTIPOINT",
	ShapeMultiLineString: "MULTILINESTRING",
	ShapeMultiPolygon:    "MULTIPOLYGON",
	ShapeCollection:      "GEOMETRYCOLLECTION",
}

var wktKinds = func() map[string]ShapeKind {
	m := map[string]ShapeKind{"COLLECTION": ShapeCollection}
	for k, name := range wktNames {
		m[name] = k
	}
	return m
}()

func (k ShapeKind) String() string {
	if name, ok := shapeNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Position is one coordinate pair. X is longitude for geography values.
type Position struct {
	X, Y float64
}

// Shape holds one of the seven shape variants. Points is used by Point
// and LineString, Rings by Polygon (exterior first), Members by the
// multi-shapes and Collection.
type Shape struct {
	Kind    ShapeKind
	Points  []Position
	Rings   [][]Position
	Members []Shape
}

// Geo is a geospatial value with its coordinate reference system.
type Geo struct {
	Dimension Dimension
	SRID      int
	Shape     Shape
}

// NewPoint is shorthand for a single-point value with the default SRID.
func NewPoint(dim Dimension, x, y float64) Geo {
	return Geo{
		Dimension: dim,
		SRID:      dim.DefaultSRID(),
		Shape:     Shape{Kind: ShapePoint, Points: []Position{{X: x, Y: y}}},
	}
}

// TypeName returns the concrete EDM type, e.g. Edm.GeometryPolygon.
func (g Geo) TypeName() string {
	name := Namespace + g.Dimension.String()
	if g.Shape.Kind == ShapeUnknown {
		return name
	}
	return name + g.Shape.Kind.String()
}

// WKT renders the shape as well-known text.
func (g Geo) WKT() string {
	var b strings.Builder
	g.Shape.writeWKT(&b)
	return b.String()
}

// String renders the canonical SRID=n;WKT form.
func (g Geo) String() string {
	return "SRID=" + strconv.Itoa(g.SRID) + ";" + g.WKT()
}

func (g Geo) clone() Geo {
	g.Shape = g.Shape.clone()
	return g
}

func (s Shape) clone() Shape {
	out := Shape{Kind: s.Kind}
	if s.Points != nil {
		out.Points = append([]Position(nil), s.Points...)
	}
	for _, r := range s.Rings {
		out.Rings = append(out.Rings, append([]Position(nil), r...))
	}
	for _, m := range s.Members {
		out.Members = append(out.Members, m.clone())
	}
	return out
}

// IsEmpty reports whether the shape has no coordinates.
func (s Shape) IsEmpty() bool {
	switch s.Kind {
	case ShapePoint, ShapeLineString:
		return len(s.Points) == 0
	case ShapePolygon:
		return len(s.Rings) == 0
	}
	return len(s.Members) == 0
}

func (s Shape) writeWKT(b *strings.Builder) {
	b.WriteString(wktNames[s.Kind])
	if s.IsEmpty() {
		b.WriteString(" EMPTY")
		return
	}
	switch s.Kind {
	case ShapePoint, ShapeLineString:
		writePositions(b, s.Points)
	case ShapePolygon:
		writeRings(b, s.Rings)
	case ShapeMultiPoint, ShapeMultiLineString, ShapeMultiPolygon, ShapeCollection:
		b.WriteByte('(')
		for i, m := range s.Members {
			if i > 0 {
				b.WriteByte(',')
			}
			switch s.Kind {
			case ShapeMultiPolygon:
				writeRings(b, m.Rings)
			case ShapeCollection:
				m.writeWKT(b)
			default:
				writePositions(b, m.Points)
			}
		}
		b.WriteByte(')')
	}
}

func writePositions(b *strings.Builder, pts []Position) {
	b.WriteByte('(')
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(FormatCoordinate(p.X))
		b.WriteByte(' ')
		b.WriteString(FormatCoordinate(p.Y))
	}
	b.WriteByte(')')
}

func writeRings(b *strings.Builder, rings [][]Position) {
	b.WriteByte('(')
	for i, r := range rings {
		if i > 0 {
			b.WriteByte(',')
		}
		writePositions(b, r)
	}
	b.WriteByte(')')
}

// FormatCoordinate renders a coordinate without exponent.
func FormatCoordinate(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseGeo parses "[SRID=n;]WKT". A missing SRID takes the dimension
// default.
func ParseGeo(dim Dimension, text string) (Geo, error) {
	g := Geo{Dimension: dim, SRID: dim.DefaultSRID()}
	rest := strings.TrimSpace(text)
	if len(rest) > 5 && strings.EqualFold(rest[:5], "SRID=") {
		semi := strings.IndexByte(rest, ';')
		if semi < 0 {
			return Geo{}, errors.New("SRID prefix without ';'")
		}
		srid, err := strconv.Atoi(rest[5:semi])
		if err != nil {
			return Geo{}, fmt.Errorf("bad SRID: %w", err)
		}
		g.SRID = srid
		rest = rest[semi+1:]
	}
	shape, err := ParseWKT(rest)
	if err != nil {
		return Geo{}, err
	}
	g.Shape = shape
	return g, nil
}

// ParseWKT parses well-known text for the seven supported shapes.
func ParseWKT(text string) (Shape, error) {
	p := &wktParser{s: text}
	s, err := p.shape()
	if err != nil {
		return Shape{}, err
	}
	p.skip()
	if p.i != len(p.s) {
		return Shape{}, fmt.Errorf("wkt: trailing input at offset %d", p.i)
	}
	return s, nil
}

type wktParser struct {
	s string
	i int
}

func (p *wktParser) skip() {
	for p.i < len(p.s) && (p.s[p.i] == ' ' || p.s[p.i] == '\t' || p.s[p.i] == '\n' || p.s[p.i] == '\r') {
		p.i++
	}
}

func (p *wktParser) peek() byte {
	p.skip()
	if p.i < len(p.s) {
		return p.s[p.i]
	}
	return 0
}

func (p *wktParser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("wkt: expected %q at offset %d", c, p.i)
	}
	p.i++
	return nil
}

func (p *wktParser) word() string {
	p.skip()
	start := p.i
	for p.i < len(p.s) {
		c := p.s[p.i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			break
		}
		p.i++
	}
	return strings.ToUpper(p.s[start:p.i])
}

func (p *wktParser) empty() bool {
	save := p.i
	if p.word() == "EMPTY" {
		return true
	}
	p.i = save
	return false
}

func (p *wktParser) number() (float64, error) {
	p.skip()
	start := p.i
	for p.i < len(p.s) && strings.IndexByte("+-.0123456789eE", p.s[p.i]) >= 0 {
		p.i++
	}
	if start == p.i {
		return 0, fmt.Errorf("wkt: expected number at offset %d", start)
	}
	return strconv.ParseFloat(p.s[start:p.i], 64)
}

func (p *wktParser) position() (Position, error) {
	x, err := p.number()
	if err != nil {
		return Position{}, err
	}
	y, err := p.number()
	if err != nil {
		return Position{}, err
	}
	// Z and M ordinates are accepted and dropped.
	for c := p.peek(); c != ',' && c != ')' && c != 0; c = p.peek() {
		if _, err := p.number(); err != nil {
			return Position{}, err
		}
	}
	return Position{X: x, Y: y}, nil
}

func (p *wktParser) list(item func() error) error {
	if err := p.expect('('); err != nil {
		return err
	}
	for {
		if err := item(); err != nil {
			return err
		}
		if p.peek() != ',' {
			break
		}
		p.i++
	}
	return p.expect(')')
}

func (p *wktParser) positions() ([]Position, error) {
	var pts []Position
	err := p.list(func() error {
		pos, err := p.position()
		pts = append(pts, pos)
		return err
	})
	return pts, err
}

func (p *wktParser) rings() ([][]Position, error) {
	var rings [][]Position
	err := p.list(func() error {
		r, err := p.positions()
		rings = append(rings, r)
		return err
	})
	return rings, err
}

func (p *wktParser) shape() (Shape, error) {
	name := p.word()
	kind, ok := wktKinds[name]
	if !ok {
		return Shape{}, fmt.Errorf("wkt: unknown shape %q", name)
	}
	s := Shape{Kind: kind}
	if p.empty() {
		return s, nil
	}
	var err error
	switch kind {
	case ShapePoint:
		s.Points, err = p.positions()
		if err == nil && len(s.Points) != 1 {
			err = errors.New("wkt: point must have one position")
		}
	case ShapeLineString:
		s.Points, err = p.positions()
	case ShapePolygon:
		s.Rings, err = p.rings()
	case ShapeMultiPoint:
		err = p.list(func() error {
			var pos Position
			var err error
			if p.peek() == '(' {
				var pts []Position
				if pts, err = p.positions(); err == nil && len(pts) != 1 {
					err = errors.New("wkt: point must have one position")
				}
				if err == nil {
					pos = pts[0]
				}
			} else {
				pos, err = p.position()
			}
			s.Members = append(s.Members, Shape{Kind: ShapePoint, Points: []Position{pos}})
			return err
		})
	case ShapeMultiLineString:
		err = p.list(func() error {
			pts, err := p.positions()
			s.Members = append(s.Members, Shape{Kind: ShapeLineString, Points: pts})
			return err
		})
	case ShapeMultiPolygon:
		err = p.list(func() error {
			rings, err := p.rings()
			s.Members = append(s.Members, Shape{Kind: ShapePolygon, Rings: rings})
			return err
		})
	case ShapeCollection:
		err = p.list(func() error {
			m, err := p.shape()
			s.Members = append(s.Members, m)
			return err
		})
	}
	if err != nil {
		return Shape{}, err
	}
	return s, nil
}
