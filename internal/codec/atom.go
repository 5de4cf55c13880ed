package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// Atom reads and writes the OData v3 Atom profile.
type Atom struct {
	settings
}

var _ Codec = (*Atom)(nil)

// NewAtom returns an Atom codec.
func NewAtom(opts ...Option) *Atom {
	return &Atom{settings: newSettings(opts)}
}

func (*Atom) Format() Format { return FormatAtom }

// Level is always LevelFull; Atom has no reduced metadata form.
func (*Atom) Level() MetadataLevel { return LevelFull }

func (*Atom) ContentType() string { return constants.ContentTypeAtomXML }

func rootNamespaces(defaultNS string) []xml.Attr {
	attrs := []xml.Attr{
		attr("xmlns:d", constants.DataNamespace),
		attr("xmlns:m", constants.MetadataNamespace),
		attr("xmlns:gml", constants.GMLNamespace),
	}
	if defaultNS != "" {
		attrs = append([]xml.Attr{attr("xmlns", defaultNS)}, attrs...)
	}
	return attrs
}

func (a *Atom) encode(write func(w *xmlWriter) error) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	w := newXMLWriter(&buf, a.indent)
	if err := write(w); err != nil {
		return nil, err
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Atom) EncodeEntity(e *entity.Entity) ([]byte, error) {
	return a.encode(func(w *xmlWriter) error {
		return a.writeEntry(w, e, rootNamespaces(constants.AtomNamespace))
	})
}

func (a *Atom) EncodeEntitySet(set *entity.EntitySet) ([]byte, error) {
	return a.encode(func(w *xmlWriter) error {
		return a.writeFeed(w, set, rootNamespaces(constants.AtomNamespace))
	})
}

func (a *Atom) EncodeProperty(p entity.Property) ([]byte, error) {
	return a.encode(func(w *xmlWriter) error {
		return a.writeProperty(w, "d:"+p.Name, p.Value, rootNamespaces("")...)
	})
}

func (a *Atom) EncodeReference(uri string) ([]byte, error) {
	return a.encode(func(w *xmlWriter) error {
		w.element("uri", uri, attr("xmlns", constants.DataNamespace))
		return nil
	})
}

func (a *Atom) writeFeed(w *xmlWriter, set *entity.EntitySet, attrs []xml.Attr) error {
	w.start("feed", attrs...)
	w.element("title", "", attr("type", "text"))
	if set.Count != nil {
		w.element("m:count", strconv.FormatInt(*set.Count, 10))
	}
	for _, e := range set.Entities {
		if err := a.writeEntry(w, e, nil); err != nil {
			return err
		}
	}
	if set.Next != "" {
		w.element("link", "", attr("rel", constants.RelNext), attr("href", set.Next))
	}
	w.end("feed")
	return w.err
}

func (a *Atom) writeEntry(w *xmlWriter, e *entity.Entity, attrs []xml.Attr) error {
	if e.ETag != "" {
		attrs = append(attrs, attr("m:etag", e.ETag))
	}
	w.start("entry", attrs...)
	if e.ID != "" {
		w.element("id", e.ID)
	}
	if e.TypeName != "" {
		w.element("category", "", attr("term", e.TypeName), attr("scheme", constants.SchemeNamespace))
	}
	if e.EditLink != "" {
		w.element("link", "", attr("rel", constants.RelEdit), attr("href", e.EditLink))
	}
	if e.ReadLink != "" {
		w.element("link", "", attr("rel", constants.RelSelf), attr("href", e.ReadLink))
	}
	if e.MediaEntity && e.MediaEditLink != "" {
		linkAttrs := []xml.Attr{attr("rel", constants.RelEditMedia), attr("href", e.MediaEditLink)}
		if e.MediaETag != "" {
			linkAttrs = append(linkAttrs, attr("m:etag", e.MediaETag))
		}
		w.element("link", "", linkAttrs...)
	}
	for _, l := range e.Links() {
		if err := a.writeLink(w, l); err != nil {
			return err
		}
	}
	for _, op := range e.Operations() {
		name := "m:action"
		if op.Kind == entity.OperationFunction {
			name = "m:function"
		}
		w.element(name, "", attr("metadata", op.Metadata), attr("title", op.Title), attr("target", op.Target))
	}
	w.element("title", "")
	w.start("author")
	w.element("name", "")
	w.end("author")

	if e.MediaEntity {
		w.element("content", "", attr("type", e.MediaContentType), attr("src", e.MediaReadLink))
		if err := a.writeProperties(w, e); err != nil {
			return err
		}
	} else {
		w.start("content", attr("type", constants.ContentTypeXML))
		if err := a.writeProperties(w, e); err != nil {
			return err
		}
		w.end("content")
	}
	w.end("entry")
	return w.err
}

func (a *Atom) writeLink(w *xmlWriter, l entity.Link) error {
	attrs := []xml.Attr{}
	switch l.Kind {
	case entity.LinkNavigationEntry:
		attrs = append(attrs, attr("rel", constants.RelatedRelPrefix+l.Name), attr("type", constants.ContentTypeAtomEntry))
	case entity.LinkNavigationFeed:
		attrs = append(attrs, attr("rel", constants.RelatedRelPrefix+l.Name), attr("type", constants.ContentTypeAtomFeed))
	case entity.LinkAssociation:
		attrs = append(attrs, attr("rel", constants.RelatedLinksRelPrefix+l.Name), attr("type", constants.ContentTypeXML))
	case entity.LinkMediaEdit:
		attrs = append(attrs, attr("rel", constants.EditMediaRelPrefix+l.Name))
		if l.ContentType != "" {
			attrs = append(attrs, attr("type", l.ContentType))
		}
	default:
		return fmt.Errorf("%w: link kind %s", ErrUnrepresentable, l.Kind)
	}
	attrs = append(attrs, attr("title", l.Title), attr("href", l.Href))
	if l.ETag != "" {
		attrs = append(attrs, attr("m:etag", l.ETag))
	}

	if !l.HasInline() {
		w.element("link", "", attrs...)
		return w.err
	}
	w.start("link", attrs...)
	w.start("m:inline")
	if l.InlineEntity != nil {
		if err := a.writeEntry(w, l.InlineEntity, nil); err != nil {
			return err
		}
	} else if err := a.writeFeed(w, l.InlineSet, nil); err != nil {
		return err
	}
	w.end("m:inline")
	w.end("link")
	return w.err
}

func (a *Atom) writeProperties(w *xmlWriter, e *entity.Entity) error {
	w.start("m:properties")
	for _, p := range e.Properties() {
		if err := a.writeProperty(w, "d:"+p.Name, p.Value); err != nil {
			return err
		}
	}
	w.end("m:properties")
	return w.err
}

// writeProperty writes one d: element. String values carry no m:type.
func (a *Atom) writeProperty(w *xmlWriter, name string, v edm.Value, attrs ...xml.Attr) error {
	if edm.IsNull(v) {
		w.element(name, "", append(attrs, attr("m:null", "true"))...)
		return w.err
	}
	if t := declaredType(v); t != "" && t != edm.TypeString.Name() {
		attrs = append(attrs, attr("m:type", t))
	}
	switch x := v.(type) {
	case *edm.Primitive:
		if x.Type().IsGeo() {
			w.start(name, attrs...)
			writeGML(w, x.Value().(edm.Geo))
			w.end(name)
			return w.err
		}
		w.element(name, x.CanonicalText(), attrs...)
	case *edm.Complex:
		w.start(name, attrs...)
		for _, f := range x.Fields() {
			if err := a.writeProperty(w, "d:"+f.Name, f.Value); err != nil {
				return err
			}
		}
		w.end(name)
	case *edm.Collection:
		w.start(name, attrs...)
		for _, item := range x.Items() {
			if err := a.writeItem(w, item); err != nil {
				return err
			}
		}
		w.end(name)
	default:
		return fmt.Errorf("%w: value %T", ErrUnrepresentable, v)
	}
	return w.err
}

// writeItem writes a collection element. Items take their type from the
// collection, so only complex items of a derived type would need m:type.
func (a *Atom) writeItem(w *xmlWriter, v edm.Value) error {
	const name = "d:element"
	switch x := v.(type) {
	case *edm.Complex:
		if x == nil {
			break
		}
		w.start(name)
		for _, f := range x.Fields() {
			if err := a.writeProperty(w, "d:"+f.Name, f.Value); err != nil {
				return err
			}
		}
		w.end(name)
		return w.err
	case *edm.Primitive:
		if x == nil {
			break
		}
		if x.Type().IsGeo() {
			w.start(name)
			writeGML(w, x.Value().(edm.Geo))
			w.end(name)
			return w.err
		}
		w.element(name, x.CanonicalText())
		return w.err
	}
	if edm.IsNull(v) {
		w.element(name, "", attr("m:null", "true"))
		return w.err
	}
	return fmt.Errorf("%w: nested collection", ErrUnrepresentable)
}
