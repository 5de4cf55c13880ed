package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
)

var geoJSONNames = map[edm.ShapeKind]string{
	edm.ShapePoint:           "Point",
	edm.ShapeLineString:      "LineString",
	edm.ShapePolygon:         "Polygon",
	edm.ShapeMultiPoint:      "MultiPoint",
	edm.ShapeMultiLineString: "MultiLineString",
	edm.ShapeMultiPolygon:    "MultiPolygon",
	edm.ShapeCollection:      "GeometryCollection",
}

var geoJSONKinds = func() map[string]edm.ShapeKind {
	m := make(map[string]edm.ShapeKind, len(geoJSONNames))
	for k, name := range geoJSONNames {
		m[name] = k
	}
	return m
}()

// writeGeoJSON writes g as a GeoJSON object. The crs member is written on
// the outermost object only.
func writeGeoJSON(w *jsonWriter, g edm.Geo) {
	writeGeoJSONShape(w, g.Shape, func() { writeCRS(w, g.SRID) })
}

func writeGeoJSONShape(w *jsonWriter, s edm.Shape, crs func()) {
	w.beginObject()
	w.member("type", geoJSONNames[s.Kind])
	if s.Kind == edm.ShapeCollection {
		w.str("geometries")
		w.beginArray()
		for _, m := range s.Members {
			writeGeoJSONShape(w, m, nil)
		}
		w.endArray()
	} else {
		w.str("coordinates")
		writeCoordinates(w, s)
	}
	if crs != nil {
		crs()
	}
	w.endObject()
}

func writeCoordinates(w *jsonWriter, s edm.Shape) {
	switch s.Kind {
	case edm.ShapePoint:
		if len(s.Points) == 0 {
			w.beginArray()
			w.endArray()
			return
		}
		writePosition(w, s.Points[0])
	case edm.ShapeLineString:
		writePositions(w, s.Points)
	case edm.ShapePolygon:
		w.beginArray()
		for _, ring := range s.Rings {
			writePositions(w, ring)
		}
		w.endArray()
	default:
		w.beginArray()
		for _, m := range s.Members {
			writeCoordinates(w, m)
		}
		w.endArray()
	}
}

func writePositions(w *jsonWriter, pts []edm.Position) {
	w.beginArray()
	for _, p := range pts {
		writePosition(w, p)
	}
	w.endArray()
}

func writePosition(w *jsonWriter, p edm.Position) {
	w.beginArray()
	w.raw(edm.FormatCoordinate(p.X))
	w.raw(edm.FormatCoordinate(p.Y))
	w.endArray()
}

func writeCRS(w *jsonWriter, srid int) {
	w.str("crs")
	w.beginObject()
	w.member("type", "name")
	w.str("properties")
	w.beginObject()
	w.member("name", "EPSG:"+strconv.Itoa(srid))
	w.endObject()
	w.endObject()
}

// readGeoJSON parses a GeoJSON object into a value of dimension dim.
func readGeoJSON(n *jsonNode, dim edm.Dimension) (edm.Geo, error) {
	g := edm.Geo{Dimension: dim, SRID: dim.DefaultSRID()}
	if crs := n.member("crs"); crs != nil {
		props := crs.member("properties")
		if props == nil || props.member("name") == nil {
			return g, errors.New("crs without a name")
		}
		name := props.member("name").text
		srid, err := strconv.Atoi(name[strings.LastIndexByte(name, ':')+1:])
		if err != nil {
			return g, fmt.Errorf("crs %q: %w", name, err)
		}
		g.SRID = srid
	}
	shape, err := readGeoJSONShape(n)
	if err != nil {
		return g, err
	}
	g.Shape = shape
	return g, nil
}

func readGeoJSONShape(n *jsonNode) (edm.Shape, error) {
	if n.kind != '{' {
		return edm.Shape{}, errors.New("geometry must be an object")
	}
	typ := n.member("type")
	if typ == nil {
		return edm.Shape{}, errors.New("geometry without type")
	}
	kind, ok := geoJSONKinds[typ.text]
	if !ok {
		return edm.Shape{}, fmt.Errorf("unsupported geometry type %q", typ.text)
	}
	if kind == edm.ShapeCollection {
		s := edm.Shape{Kind: kind}
		geoms := n.member("geometries")
		if geoms == nil || geoms.kind != '[' {
			return s, errors.New("GeometryCollection without geometries")
		}
		for _, item := range geoms.items {
			m, err := readGeoJSONShape(item)
			if err != nil {
				return s, err
			}
			s.Members = append(s.Members, m)
		}
		return s, nil
	}
	coords := n.member("coordinates")
	if coords == nil || coords.kind != '[' {
		return edm.Shape{}, fmt.Errorf("%s without coordinates", typ.text)
	}
	return readCoordinates(kind, coords)
}

func readCoordinates(kind edm.ShapeKind, n *jsonNode) (edm.Shape, error) {
	s := edm.Shape{Kind: kind}
	var err error
	switch kind {
	case edm.ShapePoint:
		if len(n.items) == 0 {
			return s, nil
		}
		var p edm.Position
		p, err = readPosition(n)
		s.Points = []edm.Position{p}
	case edm.ShapeLineString:
		s.Points, err = readPositions(n)
	case edm.ShapePolygon:
		for _, ring := range n.items {
			pts, rerr := readPositions(ring)
			if rerr != nil {
				return s, rerr
			}
			s.Rings = append(s.Rings, pts)
		}
	default:
		member := map[edm.ShapeKind]edm.ShapeKind{
			edm.ShapeMultiPoint:      edm.ShapePoint,
			edm.ShapeMultiLineString: edm.ShapeLineString,
			edm.ShapeMultiPolygon:    edm.ShapePolygon,
		}[kind]
		for _, item := range n.items {
			m, merr := readCoordinates(member, item)
			if merr != nil {
				return s, merr
			}
			s.Members = append(s.Members, m)
		}
	}
	return s, err
}

func readPositions(n *jsonNode) ([]edm.Position, error) {
	if n.kind != '[' {
		return nil, errors.New("expected an array of positions")
	}
	pts := make([]edm.Position, 0, len(n.items))
	for _, item := range n.items {
		p, err := readPosition(item)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func readPosition(n *jsonNode) (edm.Position, error) {
	if n.kind != '[' || len(n.items) < 2 {
		return edm.Position{}, errors.New("a position needs two coordinates")
	}
	var xy [2]float64
	for i := range xy {
		if n.items[i].kind != '0' {
			return edm.Position{}, errors.New("coordinates must be numbers")
		}
		f, err := strconv.ParseFloat(n.items[i].text, 64)
		if err != nil {
			return edm.Position{}, err
		}
		xy[i] = f
	}
	return edm.Position{X: xy[0], Y: xy[1]}, nil
}
