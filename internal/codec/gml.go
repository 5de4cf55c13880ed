package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
)

const srsPrefix = "http://www.opengis.net/def/crs/EPSG/0/"

// GML element names per shape, and the member wrapper for multi-shapes.
var gmlNames = map[edm.ShapeKind]string{
	edm.ShapePoint:           "Point",
	edm.ShapeLineString:      "LineString",
	edm.ShapePolygon:         "Polygon",
	edm.ShapeMultiPoint:      "MultiPoint",
	edm.ShapeMultiLineString: "MultiCurve",
	edm.ShapeMultiPolygon:    "MultiSurface",
	edm.ShapeCollection:      "MultiGeometry",
}

var gmlMembers = map[edm.ShapeKind]string{
	edm.ShapeMultiPoint:      "pointMembers",
	edm.ShapeMultiLineString: "curveMembers",
	edm.ShapeMultiPolygon:    "surfaceMembers",
	edm.ShapeCollection:      "geometryMembers",
}

var gmlKinds = func() map[string]edm.ShapeKind {
	m := make(map[string]edm.ShapeKind, len(gmlNames))
	for k, name := range gmlNames {
		m[name] = k
	}
	return m
}()

// writeGML writes g as a GML element. Geography positions are written
// latitude first.
func writeGML(w *xmlWriter, g edm.Geo) {
	writeGMLShape(w, g.Dimension, g.Shape, attr("gml:srsName", srsPrefix+strconv.Itoa(g.SRID)))
}

func writeGMLShape(w *xmlWriter, dim edm.Dimension, s edm.Shape, attrs ...xml.Attr) {
	name := "gml:" + gmlNames[s.Kind]
	w.start(name, attrs...)
	switch s.Kind {
	case edm.ShapePoint:
		if len(s.Points) > 0 {
			w.element("gml:pos", gmlPos(dim, s.Points[0]))
		}
	case edm.ShapeLineString:
		writePosList(w, dim, s.Points)
	case edm.ShapePolygon:
		for i, ring := range s.Rings {
			boundary := "gml:interior"
			if i == 0 {
				boundary = "gml:exterior"
			}
			w.start(boundary)
			w.start("gml:LinearRing")
			writePosList(w, dim, ring)
			w.end("gml:LinearRing")
			w.end(boundary)
		}
	default:
		members := "gml:" + gmlMembers[s.Kind]
		w.start(members)
		for _, m := range s.Members {
			writeGMLShape(w, dim, m)
		}
		w.end(members)
	}
	w.end(name)
}

func writePosList(w *xmlWriter, dim edm.Dimension, pts []edm.Position) {
	for _, p := range pts {
		w.element("gml:pos", gmlPos(dim, p))
	}
}

func gmlPos(dim edm.Dimension, p edm.Position) string {
	x, y := edm.FormatCoordinate(p.X), edm.FormatCoordinate(p.Y)
	if dim == edm.Geography {
		return y + " " + x
	}
	return x + " " + y
}

// readGML parses the GML child of a geo property element.
func readGML(n *node, dim edm.Dimension) (edm.Geo, error) {
	g := edm.Geo{Dimension: dim, SRID: dim.DefaultSRID()}
	if srs, ok := n.attr(constants.GMLNamespace, "srsName"); ok {
		id := srs[strings.LastIndexAny(srs, "/:")+1:]
		srid, err := strconv.Atoi(id)
		if err != nil {
			return g, fmt.Errorf("srsName %q: %w", srs, err)
		}
		g.SRID = srid
	}
	shape, err := readGMLShape(n, dim)
	if err != nil {
		return g, err
	}
	g.Shape = shape
	return g, nil
}

func readGMLShape(n *node, dim edm.Dimension) (edm.Shape, error) {
	if n.name.Space != constants.GMLNamespace {
		return edm.Shape{}, fmt.Errorf("unexpected element %s", n.name.Local)
	}
	kind, ok := gmlKinds[n.name.Local]
	if !ok {
		return edm.Shape{}, fmt.Errorf("unsupported GML element %s", n.name.Local)
	}
	s := edm.Shape{Kind: kind}
	var err error
	switch kind {
	case edm.ShapePoint:
		if pos := n.child(constants.GMLNamespace, "pos"); pos != nil {
			p, perr := parsePos(pos.Text(), dim)
			if perr != nil {
				return s, perr
			}
			s.Points = []edm.Position{p}
		}
	case edm.ShapeLineString:
		s.Points, err = readPosList(n, dim)
	case edm.ShapePolygon:
		for _, c := range n.children {
			if c.name.Space != constants.GMLNamespace || (c.name.Local != "exterior" && c.name.Local != "interior") {
				continue
			}
			ring := c.child(constants.GMLNamespace, "LinearRing")
			if ring == nil {
				return s, errors.New("polygon boundary without LinearRing")
			}
			pts, rerr := readPosList(ring, dim)
			if rerr != nil {
				return s, rerr
			}
			s.Rings = append(s.Rings, pts)
		}
	default:
		for _, wrapper := range n.children {
			for _, c := range wrapper.children {
				m, merr := readGMLShape(c, dim)
				if merr != nil {
					return s, merr
				}
				s.Members = append(s.Members, m)
			}
		}
	}
	return s, err
}

func readPosList(n *node, dim edm.Dimension) ([]edm.Position, error) {
	var pts []edm.Position
	for _, pos := range n.childrenNamed(constants.GMLNamespace, "pos") {
		p, err := parsePos(pos.Text(), dim)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func parsePos(text string, dim edm.Dimension) (edm.Position, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return edm.Position{}, fmt.Errorf("gml:pos %q needs two coordinates", text)
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return edm.Position{}, fmt.Errorf("gml:pos %q: %w", text, err)
	}
	b, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return edm.Position{}, fmt.Errorf("gml:pos %q: %w", text, err)
	}
	if dim == edm.Geography {
		return edm.Position{X: b, Y: a}, nil
	}
	return edm.Position{X: a, Y: b}, nil
}
