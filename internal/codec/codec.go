// Package codec reads and writes OData v3 payloads in Atom and JSON light
// at full, minimal or no metadata.
package codec

import (
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
)

// Codec converts the entity graph to and from one wire format. A Codec
// holds only configuration and is safe for concurrent use.
type Codec interface {
	Format() Format
	Level() MetadataLevel
	ContentType() string

	EncodeEntity(e *entity.Entity) ([]byte, error)
	DecodeEntity(data []byte) (*entity.Entity, error)

	EncodeEntitySet(set *entity.EntitySet) ([]byte, error)
	DecodeEntitySet(data []byte) (*entity.EntitySet, error)

	// EncodeProperty writes a single property payload, as returned for
	// .../Entity(1)/Name. JSON does not carry the property name, so
	// DecodeProperty leaves it empty for JSON payloads.
	EncodeProperty(p entity.Property) ([]byte, error)
	DecodeProperty(data []byte) (entity.Property, error)

	// EncodeReference writes a $links payload for one target URI.
	EncodeReference(uri string) ([]byte, error)
	// DecodeReferences reads a single or collection $links payload.
	DecodeReferences(data []byte) ([]string, error)
}

type settings struct {
	lookup      metadata.Lookup
	serviceRoot string
	entitySet   string
	entityType  string
	legacyDates bool
	indent      bool
}

// Option configures a codec.
type Option func(*settings)

// WithMetadata resolves declared and undeclared types against l. Without
// it, declared types are trusted as written.
func WithMetadata(l metadata.Lookup) Option {
	return func(s *settings) { s.lookup = l }
}

// WithServiceRoot sets the root used in odata.metadata context URLs.
func WithServiceRoot(root string) Option {
	return func(s *settings) { s.serviceRoot = strings.TrimRight(root, "/") }
}

// WithEntitySet names the set a payload belongs to. Encoders put it in
// the context URL; decoders use it to find the entity type.
func WithEntitySet(name string) Option {
	return func(s *settings) { s.entitySet = name }
}

// WithEntityType gives the decoder the entity type of payloads that do
// not declare one.
func WithEntityType(name string) Option {
	return func(s *settings) { s.entityType = name }
}

// WithLegacyDates makes the JSON encoder write DateTime and
// DateTimeOffset values as /Date(ms)/.
func WithLegacyDates(enabled bool) Option {
	return func(s *settings) { s.legacyDates = enabled }
}

// WithIndent pretty-prints encoded payloads.
func WithIndent(enabled bool) Option {
	return func(s *settings) { s.indent = enabled }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New returns the codec for format f at level l. Atom ignores l.
func New(f Format, l MetadataLevel, opts ...Option) Codec {
	if f == FormatJSON {
		return NewJSON(l, opts...)
	}
	return NewAtom(opts...)
}

// hintedType returns the entity type implied by the configured hints.
func (s *settings) hintedType() string {
	if s.entityType != "" {
		return s.entityType
	}
	if s.lookup != nil && s.entitySet != "" {
		if t, ok := s.lookup.EntitySetType(s.entitySet); ok {
			return t
		}
	}
	return ""
}

// checkType verifies a type name declared in a payload. Unknown Edm names
// always fail; other names fail only when a lookup is configured.
func (s *settings) checkType(name string) error {
	if name == "" {
		return nil
	}
	if item, ok := edm.CollectionItemType(name); ok {
		return s.checkType(item)
	}
	if strings.HasPrefix(name, edm.Namespace) {
		if !edm.IsPrimitiveName(name) {
			return &UnknownTypeError{Type: name}
		}
		return nil
	}
	if s.lookup == nil {
		return nil
	}
	if _, ok := s.lookup.LookupType(name); !ok {
		return &UnknownTypeError{Type: name}
	}
	return nil
}

// propertyType asks the lookup for the declared type of a property.
func (s *settings) propertyType(owner, name string) string {
	if s.lookup == nil || owner == "" {
		return ""
	}
	t, _ := s.lookup.PropertyType(owner, name)
	return t
}

// navigation reports whether name is a navigation property of owner.
func (s *settings) navigation(owner, name string) (target string, many, ok bool) {
	if s.lookup == nil || owner == "" {
		return "", false, false
	}
	return s.lookup.NavigationTarget(owner, name)
}

// entityURL returns the conventional relative URL of e in set, Set(1) or
// Set(A=1,B='x'). It is empty when the set, the type's key or a key
// value is unknown.
func (s *settings) entityURL(set, typeName string, e *entity.Entity) string {
	if s.lookup == nil || set == "" || typeName == "" {
		return ""
	}
	ti, ok := s.lookup.LookupType(typeName)
	if !ok || len(ti.Keys) == 0 {
		return ""
	}
	parts := make([]string, len(ti.Keys))
	for i, name := range ti.Keys {
		prop, ok := e.Property(name)
		if !ok {
			return ""
		}
		p, ok := prop.Value.(*edm.Primitive)
		if !ok || p == nil {
			return ""
		}
		parts[i] = edm.Literal(p)
		if len(ti.Keys) > 1 {
			parts[i] = name + "=" + parts[i]
		}
	}
	return set + "(" + strings.Join(parts, ",") + ")"
}

// navigations lists the declared navigation properties of typeName.
func (s *settings) navigations(typeName string) []string {
	if s.lookup == nil || typeName == "" {
		return nil
	}
	ti, ok := s.lookup.LookupType(typeName)
	if !ok {
		return nil
	}
	return ti.Navigations
}

// typeKind classifies a type name without consulting the lookup beyond
// what is needed to tell complex from entity types.
func (s *settings) typeKind(name string) metadata.Kind {
	if _, ok := edm.CollectionItemType(name); ok {
		return metadata.KindCollection
	}
	if edm.IsPrimitiveName(name) {
		return metadata.KindPrimitive
	}
	if s.lookup != nil {
		if ti, ok := s.lookup.LookupType(name); ok {
			return ti.Kind
		}
	}
	return metadata.KindComplex
}

// selfDescribing reports whether a JSON value of this type needs no type
// annotation to be read back.
func selfDescribing(v edm.Value) bool {
	p, ok := v.(*edm.Primitive)
	if !ok || p == nil {
		return false
	}
	switch p.Type() {
	case edm.TypeString, edm.TypeBoolean, edm.TypeInt32:
		return true
	}
	return false
}

// declaredType is the type name worth writing for v; it is empty for
// untyped complex values and collections of unknown items.
func declaredType(v edm.Value) string {
	t := v.TypeName()
	if t == edm.CollectionTypeName("") {
		return ""
	}
	return t
}

// parsePrimitive builds a primitive from wire text under a declared type.
func parsePrimitive(typeName, text string) (*edm.Primitive, error) {
	if typeName == edm.TypeBinary.Name() {
		return edm.DecodeBinary(text)
	}
	return edm.Parse(typeName, text)
}
