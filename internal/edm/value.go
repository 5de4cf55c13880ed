package edm

import (
	"errors"
	"fmt"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindPrimitive ValueKind = iota
	KindComplex
	KindCollection
)

func (k ValueKind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindComplex:
		return "complex"
	case KindCollection:
		return "collection"
	}
	return fmt.Sprintf("ValueKind(%d)", int(k))
}

// Value is a property value: *Primitive, *Complex or *Collection.
// A nil Value stands for an explicit null.
type Value interface {
	Kind() ValueKind
	TypeName() string
	isValue()
}

// ErrDuplicateField is returned by Complex.Add for a name already present.
var ErrDuplicateField = errors.New("edm: duplicate field")

// Field is a named member of a complex value.
type Field struct {
	Name  string
	Value Value
}

// Complex is a structured value with ordered, uniquely named fields.
type Complex struct {
	typeName string
	fields   []Field
}

// NewComplex returns an empty complex value of the given type.
func NewComplex(typeName string) *Complex {
	return &Complex{typeName: typeName}
}

func (*Complex) Kind() ValueKind { return KindComplex }
func (*Complex) isValue() {}

func (c *Complex) TypeName() string { return c.typeName }

// SetTypeName updates the declared type, used when a decoder learns the
// type after the fields.
func (c *Complex) SetTypeName(name string) { c.typeName = name }

// Add appends a field and fails if the name is already taken.
func (c *Complex) Add(name string, v Value) error {
	if c.index(name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateField, name)
	}
	c.fields = append(c.fields, Field{Name: name, Value: v})
	return nil
}

// Set replaces the named field in place or appends it.
func (c *Complex) Set(name string, v Value) {
	if i := c.index(name); i >= 0 {
		c.fields[i].Value = v
		return
	}
	c.fields = append(c.fields, Field{Name: name, Value: v})
}

func (c *Complex) Get(name string) (Value, bool) {
	if i := c.index(name); i >= 0 {
		return c.fields[i].Value, true
	}
	return nil, false
}

func (c *Complex) Remove(name string) bool {
	i := c.index(name)
	if i < 0 {
		return false
	}
	c.fields = append(c.fields[:i], c.fields[i+1:]...)
	return true
}

// Fields returns a copy of the fields in insertion order.
func (c *Complex) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c *Complex) Len() int { return len(c.fields) }

func (c *Complex) index(name string) int {
	for i := range c.fields {
		if c.fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Collection is an ordered list of values sharing an item type.
type Collection struct {
	itemType string
	items    []Value
}

// NewCollection returns an empty collection of itemType.
func NewCollection(itemType string, items ...Value) *Collection {
	return &Collection{itemType: itemType, items: append([]Value(nil), items...)}
}

func (*Collection) Kind() ValueKind { return KindCollection }
func (*Collection) isValue() {}

// TypeName returns "Collection(itemType)".
func (c *Collection) TypeName() string { return CollectionTypeName(c.itemType) }

func (c *Collection) ItemType() string { return c.itemType }

// SetItemType updates the item type name.
func (c *Collection) SetItemType(name string) { c.itemType = name }

func (c *Collection) Append(v Value) { c.items = append(c.items, v) }

// Items returns a copy of the items.
func (c *Collection) Items() []Value {
	out := make([]Value, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection) Len() int { return len(c.items) }

// Equal reports whether two values are semantically equal. Primitives
// compare by type name and canonical text, never by the raw text they
// were parsed from.
func Equal(a, b Value) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindPrimitive:
		pa, pb := a.(*Primitive), b.(*Primitive)
		return pa.TypeName() == pb.TypeName() && pa.CanonicalText() == pb.CanonicalText()
	case KindComplex:
		ca, cb := a.(*Complex), b.(*Complex)
		if ca.typeName != cb.typeName || len(ca.fields) != len(cb.fields) {
			return false
		}
		for i := range ca.fields {
			if ca.fields[i].Name != cb.fields[i].Name || !Equal(ca.fields[i].Value, cb.fields[i].Value) {
				return false
			}
		}
		return true
	case KindCollection:
		la, lb := a.(*Collection), b.(*Collection)
		if la.itemType != lb.itemType || len(la.items) != len(lb.items) {
			return false
		}
		for i := range la.items {
			if !Equal(la.items[i], lb.items[i]) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("edm: unhandled value kind %v", a.Kind()))
	}
}

// isNil catches typed nil pointers stored in a Value.
func isNil(v Value) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *Primitive:
		return x == nil
	case *Complex:
		return x == nil
	case *Collection:
		return x == nil
	}
	return false
}

// IsNull reports whether v represents null.
func IsNull(v Value) bool { return isNil(v) }
