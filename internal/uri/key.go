package uri

import (
	"fmt"
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
)

// KeyPart is one named component of a composite key.
type KeyPart struct {
	Name  string
	Value *edm.Primitive
}

// Key is an ordered composite key. Parts render in insertion order, which
// must match the entity type's key declaration.
type Key struct {
	parts []KeyPart
	err   error
}

// NewKey returns an empty composite key.
func NewKey() *Key {
	return &Key{}
}

// Add appends a named part. value may be an *edm.Primitive or any Go
// scalar accepted by edm.FromGo; conversion errors surface from Build.
func (k *Key) Add(name string, value any) *Key {
	if k.err != nil {
		return k
	}
	p, err := edm.FromGo(value)
	if err != nil {
		k.err = fmt.Errorf("uri: key %s: %w", name, err)
		return k
	}
	for _, existing := range k.parts {
		if existing.Name == name {
			k.err = fmt.Errorf("uri: key %s given twice", name)
			return k
		}
	}
	k.parts = append(k.parts, KeyPart{Name: name, Value: p})
	return k
}

// Parts returns the key parts in order.
func (k *Key) Parts() []KeyPart {
	return append([]KeyPart(nil), k.parts...)
}

// Names returns the key property names in order.
func (k *Key) Names() []string {
	names := make([]string, len(k.parts))
	for i, p := range k.parts {
		names[i] = p.Name
	}
	return names
}

// predicate renders "A=1,B='x'".
func (k *Key) predicate() string {
	parts := make([]string, len(k.parts))
	for i, p := range k.parts {
		parts[i] = p.Name + "=" + edm.Literal(p.Value)
	}
	return strings.Join(parts, ",")
}
