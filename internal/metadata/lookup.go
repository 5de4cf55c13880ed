// Package metadata parses $metadata documents and answers the type
// questions the codecs ask while reading and writing payloads.
package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/models"
)

// Kind classifies a resolved type.
type Kind int

const (
	KindPrimitive Kind = iota + 1
	KindComplex
	KindEntity
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComplex:
		return "complex"
	case KindEntity:
		return "entity"
	case KindCollection:
		return "collection"
	}
	return "unknown"
}

// PropertyInfo is a declared structural property.
type PropertyInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// TypeInfo describes a resolved type. For entity and complex types the
// properties and keys include those inherited from base types, base first.
type TypeInfo struct {
	Name       string
	Kind       Kind
	BaseType   string
	Open       bool
	HasStream  bool
	Keys       []string
	Properties []PropertyInfo

	// Navigations lists navigation property names in declaration order.
	Navigations []string

	// ItemType is set for collections.
	ItemType string
}

// Property returns the declared property with the given name.
func (t *TypeInfo) Property(name string) (PropertyInfo, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyInfo{}, false
}

// Lookup answers type questions about a service. Codecs consume it; they
// never parse metadata themselves.
type Lookup interface {
	// LookupType resolves a qualified type name. Primitive and
	// Collection(...) names resolve as well.
	LookupType(name string) (*TypeInfo, bool)
	// PropertyType returns the declared type of a structural property.
	PropertyType(typeName, property string) (string, bool)
	// EntitySetType returns the qualified entity type of a set.
	EntitySetType(set string) (string, bool)
	// NavigationTarget returns the target type of a navigation property
	// and whether it is collection valued.
	NavigationTarget(typeName, navigation string) (target string, many bool, ok bool)
	// FunctionImport returns a function import by unqualified name.
	FunctionImport(name string) (*models.FunctionImport, bool)
}

var ErrKeyMismatch = errors.New("key does not match entity type")

type navInfo struct {
	target string
	many   bool
}

// Model is a Lookup over parsed service metadata. Types are indexed by
// qualified name, and by their short name where that is unambiguous.
type Model struct {
	metadata *models.ODataMetadata
	types    map[string]*TypeInfo
	navs     map[string]map[string]navInfo
	short    map[string]string
}

var _ Lookup = (*Model)(nil)

// Load parses a $metadata document into a Model.
func Load(data []byte, serviceRoot string) (*Model, error) {
	md, err := ParseMetadata(data, serviceRoot)
	if err != nil {
		return nil, err
	}
	return NewModel(md), nil
}

// NewModel indexes md. Base types are flattened into their derived types.
func NewModel(md *models.ODataMetadata) *Model {
	m := &Model{
		metadata: md,
		types:    make(map[string]*TypeInfo),
		navs:     make(map[string]map[string]navInfo),
		short:    make(map[string]string),
	}
	for name := range md.ComplexTypes {
		m.resolveComplex(name, 0)
	}
	for name := range md.EntityTypes {
		m.resolveEntity(name, 0)
	}

	seen := make(map[string]int)
	for name := range m.types {
		seen[shortName(name)]++
	}
	for name := range m.types {
		if s := shortName(name); seen[s] == 1 {
			m.short[s] = name
		}
	}
	return m
}

// Metadata returns the parsed document the model was built from.
func (m *Model) Metadata() *models.ODataMetadata {
	return m.metadata
}

// inheritance chains deeper than this are treated as cyclic
const maxDepth = 32

func (m *Model) resolveComplex(name string, depth int) *TypeInfo {
	if ti, ok := m.types[name]; ok {
		return ti
	}
	ct, ok := m.metadata.ComplexTypes[name]
	if !ok || depth > maxDepth {
		return nil
	}
	ti := &TypeInfo{Name: name, Kind: KindComplex, BaseType: ct.BaseType, Open: ct.OpenType}
	if ct.BaseType != "" {
		if base := m.resolveComplex(ct.BaseType, depth+1); base != nil {
			ti.Properties = append(ti.Properties, base.Properties...)
			ti.Open = ti.Open || base.Open
		}
	}
	ti.Properties = append(ti.Properties, propertyInfos(ct.Properties)...)
	m.types[name] = ti
	return ti
}

func (m *Model) resolveEntity(name string, depth int) *TypeInfo {
	if ti, ok := m.types[name]; ok {
		return ti
	}
	et, ok := m.metadata.EntityTypes[name]
	if !ok || depth > maxDepth {
		return nil
	}
	ti := &TypeInfo{
		Name:      name,
		Kind:      KindEntity,
		BaseType:  et.BaseType,
		Open:      et.OpenType,
		HasStream: et.HasStream,
	}
	navs := make(map[string]navInfo)
	if et.BaseType != "" {
		if base := m.resolveEntity(et.BaseType, depth+1); base != nil {
			ti.Properties = append(ti.Properties, base.Properties...)
			ti.Keys = append(ti.Keys, base.Keys...)
			ti.Open = ti.Open || base.Open
			ti.HasStream = ti.HasStream || base.HasStream
			ti.Navigations = append(ti.Navigations, base.Navigations...)
			for k, v := range m.navs[base.Name] {
				navs[k] = v
			}
		}
	}
	if len(ti.Keys) == 0 {
		ti.Keys = append(ti.Keys, et.KeyProperties...)
	}
	ti.Properties = append(ti.Properties, propertyInfos(et.Properties)...)
	for _, nav := range et.NavigationProps {
		if _, inherited := navs[nav.Name]; !inherited {
			ti.Navigations = append(ti.Navigations, nav.Name)
		}
		navs[nav.Name] = navInfo{target: nav.ToType, many: nav.Many}
	}
	m.types[name] = ti
	m.navs[name] = navs
	return ti
}

func propertyInfos(props []*models.EntityProperty) []PropertyInfo {
	out := make([]PropertyInfo, 0, len(props))
	for _, p := range props {
		out = append(out, PropertyInfo{Name: p.Name, Type: p.Type, Nullable: p.Nullable})
	}
	return out
}

func (m *Model) qualified(name string) string {
	if _, ok := m.types[name]; ok {
		return name
	}
	if q, ok := m.short[name]; ok {
		return q
	}
	return name
}

// LookupType implements Lookup.
func (m *Model) LookupType(name string) (*TypeInfo, bool) {
	if item, ok := edm.CollectionItemType(name); ok {
		itemInfo, ok := m.LookupType(item)
		if !ok {
			return nil, false
		}
		return &TypeInfo{Name: edm.CollectionTypeName(itemInfo.Name), Kind: KindCollection, ItemType: itemInfo.Name}, true
	}
	if edm.IsPrimitiveName(name) {
		return &TypeInfo{Name: name, Kind: KindPrimitive}, true
	}
	ti, ok := m.types[m.qualified(name)]
	return ti, ok
}

// PropertyType implements Lookup.
func (m *Model) PropertyType(typeName, property string) (string, bool) {
	ti, ok := m.types[m.qualified(typeName)]
	if !ok {
		return "", false
	}
	p, ok := ti.Property(property)
	return p.Type, ok
}

// EntitySetType implements Lookup.
func (m *Model) EntitySetType(set string) (string, bool) {
	es, ok := m.metadata.EntitySets[set]
	if !ok {
		return "", false
	}
	return m.qualified(es.EntityType), true
}

// NavigationTarget implements Lookup.
func (m *Model) NavigationTarget(typeName, navigation string) (string, bool, bool) {
	nav, ok := m.navs[m.qualified(typeName)][navigation]
	if !ok {
		return "", false, false
	}
	return nav.target, nav.many, true
}

// FunctionImport implements Lookup.
func (m *Model) FunctionImport(name string) (*models.FunctionImport, bool) {
	fi, ok := m.metadata.FunctionImports[name]
	return fi, ok
}

// ValidateKey checks that names matches the entity type's key, in
// declaration order.
func (m *Model) ValidateKey(typeName string, names []string) error {
	return ValidateKey(m, typeName, names)
}

// ValidateKey checks a key against the type l resolves for typeName.
// Empty names stands for a single value given without a property name,
// which is only valid for a single-property key.
func ValidateKey(l Lookup, typeName string, names []string) error {
	ti, ok := l.LookupType(typeName)
	if !ok || ti.Kind != KindEntity {
		return fmt.Errorf("%w: unknown entity type %s", ErrKeyMismatch, typeName)
	}
	if len(names) == 0 {
		if len(ti.Keys) != 1 {
			return fmt.Errorf("%w: %s has key (%s), got a single value", ErrKeyMismatch, ti.Name,
				strings.Join(ti.Keys, ","))
		}
		return nil
	}
	if len(names) != len(ti.Keys) {
		return fmt.Errorf("%w: %s has key (%s), got (%s)", ErrKeyMismatch, ti.Name,
			strings.Join(ti.Keys, ","), strings.Join(names, ","))
	}
	for i, name := range names {
		if ti.Keys[i] != name {
			return fmt.Errorf("%w: %s key part %d is %s, got %s", ErrKeyMismatch, ti.Name, i, ti.Keys[i], name)
		}
	}
	return nil
}

func shortName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}
