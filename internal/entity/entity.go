// Package entity holds the in-memory graph exchanged with an OData
// service: entities, their properties, links and advertised operations.
package entity

import (
	"errors"
	"fmt"

	"github.com/zmcp/odata-client/internal/edm"
)

var (
	ErrDuplicateProperty = errors.New("entity: duplicate property")
	ErrDuplicateLink     = errors.New("entity: duplicate link")
)

// Property is a named value. A nil Value is an explicit null, which is
// distinct from the property being absent.
type Property struct {
	Name  string
	Value edm.Value
}

// IsNull reports whether the property holds an explicit null.
func (p Property) IsNull() bool {
	return edm.IsNull(p.Value)
}

// Entity is a typed record with ordered properties, links and operations.
// An Entity is owned by one goroutine while it is being built.
type Entity struct {
	TypeName string
	ID       string
	EditLink string
	ReadLink string
	ETag     string

	// MediaEntity marks an entity whose content is a stream; structural
	// properties are kept alongside it.
	MediaEntity      bool
	MediaReadLink    string
	MediaEditLink    string
	MediaContentType string
	MediaETag        string

	properties []Property
	links      []Link
	operations []Operation
}

// New returns an empty entity of the given type.
func New(typeName string) *Entity {
	return &Entity{TypeName: typeName}
}

// SetMediaEntity flips the media flag without touching properties.
func (e *Entity) SetMediaEntity(media bool) {
	e.MediaEntity = media
}

// SetProperty replaces the named property in place or appends it.
func (e *Entity) SetProperty(name string, v edm.Value) {
	if i := e.propertyIndex(name); i >= 0 {
		e.properties[i].Value = v
		return
	}
	e.properties = append(e.properties, Property{Name: name, Value: v})
}

// AddProperty appends p and fails if the name is already present.
func (e *Entity) AddProperty(p Property) error {
	if e.propertyIndex(p.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateProperty, p.Name)
	}
	e.properties = append(e.properties, p)
	return nil
}

func (e *Entity) RemoveProperty(name string) bool {
	i := e.propertyIndex(name)
	if i < 0 {
		return false
	}
	e.properties = append(e.properties[:i], e.properties[i+1:]...)
	return true
}

func (e *Entity) Property(name string) (Property, bool) {
	if i := e.propertyIndex(name); i >= 0 {
		return e.properties[i], true
	}
	return Property{}, false
}

// Properties returns the properties in insertion order.
func (e *Entity) Properties() []Property {
	out := make([]Property, len(e.properties))
	copy(out, e.properties)
	return out
}

func (e *Entity) propertyIndex(name string) int {
	for i := range e.properties {
		if e.properties[i].Name == name {
			return i
		}
	}
	return -1
}

// AddLink appends l. Navigation, association and media-edit links have
// separate namespaces. Within navigation links a name may repeat only
// with at most one feed link and each entry link carrying its own inline
// entity; that is the shape built up by incremental deep inserts.
func (e *Entity) AddLink(l Link) error {
	feeds := 0
	if l.Kind == LinkNavigationFeed {
		feeds++
	}
	for _, existing := range e.links {
		if existing.Name != l.Name || existing.Kind.IsNavigation() != l.Kind.IsNavigation() {
			continue
		}
		if !l.Kind.IsNavigation() {
			if existing.Kind == l.Kind {
				return fmt.Errorf("%w: %s", ErrDuplicateLink, l.Name)
			}
			continue
		}
		if existing.Kind == LinkNavigationFeed {
			feeds++
		}
		if feeds > 1 {
			return fmt.Errorf("%w: %s has more than one feed link", ErrDuplicateLink, l.Name)
		}
		if l.Kind == LinkNavigationEntry && (l.InlineEntity == nil || l.InlineEntity == existing.InlineEntity) {
			return fmt.Errorf("%w: %s needs a distinct inline entity", ErrDuplicateLink, l.Name)
		}
		if existing.Kind == LinkNavigationEntry && existing.InlineEntity == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateLink, l.Name)
		}
	}
	e.links = append(e.links, l)
	return nil
}

// AddInlineEntity expands child under the named to-many navigation,
// creating the feed link on first use.
func (e *Entity) AddInlineEntity(name string, child *Entity) {
	for i := range e.links {
		l := &e.links[i]
		if l.Name == name && l.Kind == LinkNavigationFeed {
			if l.InlineSet == nil {
				l.InlineSet = NewEntitySet()
			}
			l.InlineSet.Add(child)
			return
		}
	}
	e.links = append(e.links, NewFeedLink(name, "").WithInlineSet(NewEntitySet(child)))
}

// Link returns the first link with the given name.
func (e *Entity) Link(name string) (Link, bool) {
	for _, l := range e.links {
		if l.Name == name {
			return l, true
		}
	}
	return Link{}, false
}

// Links returns all links in insertion order.
func (e *Entity) Links() []Link {
	out := make([]Link, len(e.links))
	copy(out, e.links)
	return out
}

// LinksOf returns the links of one kind.
func (e *Entity) LinksOf(kinds ...LinkKind) []Link {
	var out []Link
	for _, l := range e.links {
		for _, k := range kinds {
			if l.Kind == k {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

func (e *Entity) NavigationLinks() []Link {
	return e.LinksOf(LinkNavigationEntry, LinkNavigationFeed)
}

func (e *Entity) AssociationLinks() []Link {
	return e.LinksOf(LinkAssociation)
}

func (e *Entity) MediaEditLinks() []Link {
	return e.LinksOf(LinkMediaEdit)
}

// RemoveLinks drops every link with the given name.
func (e *Entity) RemoveLinks(name string) int {
	kept := e.links[:0]
	for _, l := range e.links {
		if l.Name != name {
			kept = append(kept, l)
		}
	}
	removed := len(e.links) - len(kept)
	e.links = kept
	return removed
}

func (e *Entity) AddOperation(op Operation) {
	e.operations = append(e.operations, op)
}

func (e *Entity) Operations() []Operation {
	out := make([]Operation, len(e.operations))
	copy(out, e.operations)
	return out
}
