package codec

import (
	"bytes"
	"fmt"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
)

// JSON reads and writes OData v3 JSON light at one metadata level.
type JSON struct {
	settings
	level MetadataLevel
}

var _ Codec = (*JSON)(nil)

// NewJSON returns a JSON light codec for level l.
func NewJSON(l MetadataLevel, opts ...Option) *JSON {
	return &JSON{settings: newSettings(opts), level: l}
}

func (*JSON) Format() Format { return FormatJSON }

func (j *JSON) Level() MetadataLevel { return j.level }

func (j *JSON) ContentType() string { return ContentType(FormatJSON, j.level) }

// jsonWriter keeps the first write error so callers can check once.
type jsonWriter struct {
	enc *jsontext.Encoder
	err error
}

func (w *jsonWriter) token(t jsontext.Token) {
	if w.err == nil {
		w.err = w.enc.WriteToken(t)
	}
}

// raw writes an already formatted JSON number.
func (w *jsonWriter) raw(text string) {
	if w.err == nil {
		w.err = w.enc.WriteValue(jsontext.Value(text))
	}
}

func (w *jsonWriter) str(s string) { w.token(jsontext.String(s)) }

func (w *jsonWriter) member(name, value string) {
	w.str(name)
	w.str(value)
}

func (w *jsonWriter) beginObject() { w.token(jsontext.BeginObject) }
func (w *jsonWriter) endObject()   { w.token(jsontext.EndObject) }
func (w *jsonWriter) beginArray()  { w.token(jsontext.BeginArray) }
func (w *jsonWriter) endArray()    { w.token(jsontext.EndArray) }

func (j *JSON) encode(write func(w *jsonWriter) error) ([]byte, error) {
	var buf bytes.Buffer
	var opts []jsontext.Options
	if j.indent {
		opts = append(opts, jsontext.WithIndent("  "))
	}
	w := &jsonWriter{enc: jsontext.NewEncoder(&buf, opts...)}
	if err := write(w); err != nil {
		return nil, err
	}
	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// contextURL builds the odata.metadata value for a fragment. It is empty
// under no metadata or when the fragment is unknown.
func (j *JSON) contextURL(fragment string) string {
	if j.level == LevelNone || fragment == "" {
		return ""
	}
	return j.serviceRoot + "/" + constants.MetadataEndpoint + "#" + fragment
}

func (j *JSON) entityContext() string {
	if j.entitySet == "" {
		return ""
	}
	return j.contextURL(j.entitySet + "/@Element")
}

func (j *JSON) EncodeEntity(e *entity.Entity) ([]byte, error) {
	return j.encode(func(w *jsonWriter) error {
		return j.writeEntity(w, e, j.entitySet, j.entityContext())
	})
}

func (j *JSON) EncodeEntitySet(set *entity.EntitySet) ([]byte, error) {
	return j.encode(func(w *jsonWriter) error {
		w.beginObject()
		if j.entitySet != "" {
			if ctx := j.contextURL(j.entitySet); ctx != "" {
				w.member(constants.JSONMetadata, ctx)
			}
		}
		if set.Count != nil {
			w.member(constants.JSONCount, fmt.Sprint(*set.Count))
		}
		w.str(constants.JSONValue)
		if err := j.writeEntities(w, set.Entities, j.entitySet); err != nil {
			return err
		}
		if set.Next != "" {
			w.member(constants.JSONNextLink, set.Next)
		}
		w.endObject()
		return w.err
	})
}

func (j *JSON) EncodeProperty(p entity.Property) ([]byte, error) {
	return j.encode(func(w *jsonWriter) error {
		w.beginObject()
		if edm.IsNull(p.Value) {
			if ctx := j.contextURL("Edm.Null"); ctx != "" {
				w.member(constants.JSONMetadata, ctx)
			}
			w.str("odata.null")
			w.token(jsontext.True)
			w.endObject()
			return w.err
		}
		if ctx := j.contextURL(p.Value.TypeName()); ctx != "" {
			w.member(constants.JSONMetadata, ctx)
		}
		if c, ok := p.Value.(*edm.Complex); ok {
			if err := j.writeFields(w, c); err != nil {
				return err
			}
		} else {
			w.str(constants.JSONValue)
			if err := j.writeValue(w, p.Value); err != nil {
				return err
			}
		}
		w.endObject()
		return w.err
	})
}

func (j *JSON) EncodeReference(uri string) ([]byte, error) {
	return j.encode(func(w *jsonWriter) error {
		w.beginObject()
		w.member(constants.JSONUrl, uri)
		w.endObject()
		return w.err
	})
}

// writeEntities writes a feed array. set is the entity set the entities
// belong to, or empty for an expanded feed.
func (j *JSON) writeEntities(w *jsonWriter, entities []*entity.Entity, set string) error {
	w.beginArray()
	for _, e := range entities {
		if err := j.writeEntity(w, e, set, ""); err != nil {
			return err
		}
	}
	w.endArray()
	return w.err
}

func (j *JSON) writeEntity(w *jsonWriter, e *entity.Entity, set, context string) error {
	full := j.level == LevelFull
	some := j.level != LevelNone

	w.beginObject()
	if context != "" {
		w.member(constants.JSONMetadata, context)
	}
	if full && e.TypeName != "" {
		w.member(constants.JSONType, e.TypeName)
	}
	if full && e.ID != "" {
		w.member(constants.JSONID, e.ID)
	}
	if some && e.ETag != "" {
		w.member(constants.JSONETag, e.ETag)
	}
	if full && e.EditLink != "" {
		w.member(constants.JSONEditLink, e.EditLink)
	}
	if full && e.ReadLink != "" {
		w.member(constants.JSONReadLink, e.ReadLink)
	}
	if some && e.MediaEntity {
		w.member(constants.JSONMediaReadLink, e.MediaReadLink)
		if e.MediaEditLink != "" {
			w.member(constants.JSONMediaEditLink, e.MediaEditLink)
		}
		if e.MediaContentType != "" {
			w.member(constants.JSONMediaContentType, e.MediaContentType)
		}
		if e.MediaETag != "" {
			w.member(constants.JSONMediaETag, e.MediaETag)
		}
	}
	if full {
		j.writeOperations(w, e.Operations())
	}

	for _, p := range e.Properties() {
		if err := j.writeProperty(w, p.Name, p.Value); err != nil {
			return err
		}
	}

	typeName := e.TypeName
	if typeName == "" && set != "" {
		typeName = j.hintedType()
	}
	base := j.entityURL(set, typeName, e)
	navs := make(map[string]bool)
	for _, l := range e.Links() {
		if err := j.writeLink(w, l, base, navs); err != nil {
			return err
		}
	}
	w.endObject()
	return w.err
}

// writeOperations groups operations by metadata reference. A reference
// bound once is an object, more than once an array.
func (j *JSON) writeOperations(w *jsonWriter, ops []entity.Operation) {
	var order []string
	groups := make(map[string][]entity.Operation)
	for _, op := range ops {
		if _, ok := groups[op.Metadata]; !ok {
			order = append(order, op.Metadata)
		}
		groups[op.Metadata] = append(groups[op.Metadata], op)
	}
	for _, ref := range order {
		group := groups[ref]
		w.str(ref)
		if len(group) > 1 {
			w.beginArray()
		}
		for _, op := range group {
			w.beginObject()
			w.member(constants.JSONOperationTitle, op.Title)
			w.member(constants.JSONOperationTarget, op.Target)
			w.endObject()
		}
		if len(group) > 1 {
			w.endArray()
		}
	}
}

// writeLink writes one link. Under minimal metadata a navigation link is
// annotated only when its URL is not base/Name, which a reader with
// metadata rebuilds on its own.
func (j *JSON) writeLink(w *jsonWriter, l entity.Link, base string, navs map[string]bool) error {
	full := j.level == LevelFull
	some := j.level != LevelNone
	annotate := func(name, value string) {
		w.member(l.Name+"@"+name, value)
	}

	switch l.Kind {
	case entity.LinkNavigationEntry, entity.LinkNavigationFeed:
		if navs[l.Name] {
			return fmt.Errorf("%w: more than one navigation link named %s", ErrUnrepresentable, l.Name)
		}
		navs[l.Name] = true
		switch {
		case full:
			annotate(constants.JSONNavigationLink, l.Href)
		case j.level == LevelMinimal && l.Href != "" && (base == "" || l.Href != base+"/"+l.Name):
			annotate(constants.JSONNavigationLink, l.Href)
		}
		if !l.HasInline() {
			return w.err
		}
		if l.InlineEntity != nil {
			w.str(l.Name)
			return j.writeEntity(w, l.InlineEntity, "", "")
		}
		if some && l.InlineSet.Count != nil {
			annotate(constants.JSONCount, fmt.Sprint(*l.InlineSet.Count))
		}
		if some && l.InlineSet.Next != "" {
			annotate(constants.JSONNextLink, l.InlineSet.Next)
		}
		w.str(l.Name)
		return j.writeEntities(w, l.InlineSet.Entities, "")
	case entity.LinkAssociation:
		if some {
			annotate(constants.JSONAssociationLink, l.Href)
		}
	case entity.LinkMediaEdit:
		if some {
			annotate(constants.JSONMediaEditLink, l.Href)
			if l.ContentType != "" {
				annotate(constants.JSONMediaContentType, l.ContentType)
			}
			if l.ETag != "" {
				annotate(constants.JSONMediaETag, l.ETag)
			}
		}
	default:
		return fmt.Errorf("%w: link kind %s", ErrUnrepresentable, l.Kind)
	}
	return w.err
}

// writeProperty writes an optional type annotation and the value.
func (j *JSON) writeProperty(w *jsonWriter, name string, v edm.Value) error {
	if j.level != LevelNone && !edm.IsNull(v) && !selfDescribing(v) {
		if t := declaredType(v); t != "" {
			w.member(name+"@"+constants.JSONType, t)
		}
	}
	w.str(name)
	return j.writeValue(w, v)
}

func (j *JSON) writeFields(w *jsonWriter, c *edm.Complex) error {
	for _, f := range c.Fields() {
		if err := j.writeProperty(w, f.Name, f.Value); err != nil {
			return err
		}
	}
	return w.err
}

func (j *JSON) writeValue(w *jsonWriter, v edm.Value) error {
	if edm.IsNull(v) {
		w.token(jsontext.Null)
		return w.err
	}
	switch x := v.(type) {
	case *edm.Primitive:
		return j.writePrimitive(w, x)
	case *edm.Complex:
		w.beginObject()
		if err := j.writeFields(w, x); err != nil {
			return err
		}
		w.endObject()
	case *edm.Collection:
		w.beginArray()
		for _, item := range x.Items() {
			if _, nested := item.(*edm.Collection); nested {
				return fmt.Errorf("%w: nested collection", ErrUnrepresentable)
			}
			if err := j.writeValue(w, item); err != nil {
				return err
			}
		}
		w.endArray()
	default:
		return fmt.Errorf("%w: value %T", ErrUnrepresentable, v)
	}
	return w.err
}

// writePrimitive writes numbers that JSON can hold exactly as numbers and
// everything else, Int64 and Decimal included, as strings.
func (j *JSON) writePrimitive(w *jsonWriter, p *edm.Primitive) error {
	text := p.CanonicalText()
	switch p.Type() {
	case edm.TypeBoolean:
		w.token(jsontext.Bool(p.Value().(bool)))
	case edm.TypeByte, edm.TypeSByte, edm.TypeInt16, edm.TypeInt32:
		w.raw(text)
	case edm.TypeSingle, edm.TypeDouble:
		if isSpecialFloat(text) {
			w.str(text)
		} else {
			w.raw(text)
		}
	case edm.TypeDateTime, edm.TypeDateTimeOffset:
		if j.legacyDates {
			legacy, err := edm.FormatLegacyDate(p)
			if err != nil {
				return err
			}
			text = legacy
		}
		w.str(text)
	case edm.TypeGeography, edm.TypeGeometry:
		writeGeoJSON(w, p.Value().(edm.Geo))
	default:
		w.str(text)
	}
	return w.err
}

func isSpecialFloat(text string) bool {
	return text == "NaN" || text == "INF" || text == "-INF"
}
