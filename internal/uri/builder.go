// Package uri composes OData resource paths and query options into
// request URIs.
package uri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/filter"
)

// InlineCount values for $inlinecount.
type InlineCount string

const (
	InlineCountAllPages InlineCount = "allpages"
	InlineCountNone     InlineCount = "none"
)

// systemOrder fixes the order in which system query options are emitted.
var systemOrder = []string{
	constants.QueryFilter,
	constants.QueryExpand,
	constants.QuerySelect,
	constants.QueryOrderBy,
	constants.QueryTop,
	constants.QuerySkip,
	constants.QuerySkipToken,
	constants.QueryInlineCount,
	constants.QueryFormat,
}

var errNoSegment = errors.New("uri: key segment must follow a resource segment")

// Option configures a Builder.
type Option func(*Builder)

// WithKeyAsSegment renders single-value keys as a path segment
// (Customer/1) instead of a parenthesised predicate (Customer(1)).
func WithKeyAsSegment(enabled bool) Option {
	return func(b *Builder) {
		b.keyAsSegment = enabled
	}
}

// KeyValidator checks the key property names given for the resource a
// key segment is appended to. names is empty for a single unnamed value.
type KeyValidator func(res Resource, names []string) error

// WithKeyValidator checks every key segment with v. A rejected key is
// reported by Build.
func WithKeyValidator(v KeyValidator) Option {
	return func(b *Builder) {
		b.validateKey = v
	}
}

type queryOption struct {
	name  string
	value string
}

// Builder accumulates path segments and query options. It is a mutable
// value owned by one goroutine; Build may be called any number of times.
// The first invalid input is kept and returned by Build.
type Builder struct {
	root         string
	keyAsSegment bool
	validateKey  KeyValidator

	segments []string
	system   map[string]string
	selects  []string
	expands  []string
	orderBy  []string
	custom   []queryOption

	resource Resource

	err error
}

// Resource describes what the path addresses, as far as the builder
// can tell: the entity set, the navigation properties followed from it
// and the last type cast. Property is the last structural segment.
type Resource struct {
	EntitySet   string
	Navigations []string
	TypeCast    string
	Property    string
}

// New returns a builder rooted at serviceRoot.
func New(serviceRoot string, opts ...Option) *Builder {
	b := &Builder{
		root:   strings.TrimRight(serviceRoot, "/"),
		system: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resource returns a snapshot of the addressed resource.
func (b *Builder) Resource() Resource {
	r := b.resource
	r.Navigations = append([]string(nil), r.Navigations...)
	return r
}

// KeyAsSegment reports the key convention fixed at construction.
func (b *Builder) KeyAsSegment() bool {
	return b.keyAsSegment
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) appendSegment(raw string) *Builder {
	if raw == "" {
		return b.fail(errors.New("uri: empty segment"))
	}
	b.segments = append(b.segments, escapeSegment(raw))
	return b
}

func (b *Builder) AppendEntitySetSegment(name string) *Builder {
	if len(b.segments) == 0 {
		b.resource.EntitySet = name
	}
	return b.appendSegment(name)
}

// AppendEntityTypeSegment adds a type-cast segment (NS.SpecialCustomer).
func (b *Builder) AppendEntityTypeSegment(qualifiedName string) *Builder {
	b.resource.TypeCast = qualifiedName
	return b.appendSegment(qualifiedName)
}

// AppendKeySegment addresses one entity. key is an *edm.Primitive, a Go
// scalar accepted by edm.FromGo, or a *Key for composite keys.
func (b *Builder) AppendKeySegment(key any) *Builder {
	if len(b.segments) == 0 {
		return b.fail(errNoSegment)
	}
	if k, ok := key.(*Key); ok {
		if k.err != nil {
			return b.fail(k.err)
		}
		if len(k.parts) == 0 {
			return b.fail(errors.New("uri: empty composite key"))
		}
		if err := b.checkKey(k.Names()); err != nil {
			return b.fail(err)
		}
		b.segments[len(b.segments)-1] += "(" + escapeSegment(k.predicate()) + ")"
		return b
	}
	p, err := edm.FromGo(key)
	if err != nil {
		return b.fail(fmt.Errorf("uri: key: %w", err))
	}
	if err := b.checkKey(nil); err != nil {
		return b.fail(err)
	}
	if b.keyAsSegment {
		b.segments = append(b.segments, escapeSegment(p.CanonicalText()))
		return b
	}
	b.segments[len(b.segments)-1] += "(" + escapeSegment(edm.Literal(p)) + ")"
	return b
}

func (b *Builder) checkKey(names []string) error {
	if b.validateKey == nil {
		return nil
	}
	if err := b.validateKey(b.Resource(), names); err != nil {
		return fmt.Errorf("uri: key: %w", err)
	}
	return nil
}

func (b *Builder) AppendNavigationLinkSegment(name string) *Builder {
	b.resource.Navigations = append(b.resource.Navigations, name)
	b.resource.TypeCast = ""
	b.resource.Property = ""
	return b.appendSegment(name)
}

func (b *Builder) AppendStructuralSegment(name string) *Builder {
	b.resource.Property = name
	return b.appendSegment(name)
}

// AppendValueSegment addresses the raw value of a property or the media
// resource of an entity.
func (b *Builder) AppendValueSegment() *Builder {
	return b.appendSegment(constants.ValueSegment)
}

func (b *Builder) AppendCountSegment() *Builder {
	return b.appendSegment(constants.CountSegment)
}

// AppendLinksSegment addresses the association behind a navigation
// property: .../$links/Orders.
func (b *Builder) AppendLinksSegment(navigation string) *Builder {
	b.appendSegment(constants.LinksSegment)
	return b.appendSegment(navigation)
}

func (b *Builder) AppendFunctionImportSegment(name string) *Builder {
	return b.appendSegment(name)
}

// AppendOperationSegment addresses an action or function bound to the
// resource so far.
func (b *Builder) AppendOperationSegment(name string) *Builder {
	return b.appendSegment(name)
}

func (b *Builder) AppendMetadataSegment() *Builder {
	return b.appendSegment(constants.MetadataEndpoint)
}

func (b *Builder) AppendBatchSegment() *Builder {
	return b.appendSegment(constants.BatchEndpoint)
}

// Filter sets $filter from an expression tree. A literal Lit could not
// convert is reported by Build.
func (b *Builder) Filter(n filter.Node) *Builder {
	if err := filter.Validate(n); err != nil {
		return b.fail(fmt.Errorf("uri: $filter: %w", err))
	}
	return b.RawFilter(filter.Render(n))
}

// RawFilter sets $filter from text.
func (b *Builder) RawFilter(expr string) *Builder {
	b.setSystem(constants.QueryFilter, expr)
	return b
}

func (b *Builder) Select(properties ...string) *Builder {
	b.selects = append(b.selects, properties...)
	return b
}

func (b *Builder) Expand(paths ...string) *Builder {
	b.expands = append(b.expands, paths...)
	return b
}

// OrderBy appends ascending sort keys.
func (b *Builder) OrderBy(properties ...string) *Builder {
	b.orderBy = append(b.orderBy, properties...)
	return b
}

// OrderByDesc appends descending sort keys.
func (b *Builder) OrderByDesc(properties ...string) *Builder {
	for _, p := range properties {
		b.orderBy = append(b.orderBy, p+" desc")
	}
	return b
}

func (b *Builder) Top(n int) *Builder {
	if n < 0 {
		return b.fail(fmt.Errorf("uri: negative $top %d", n))
	}
	b.setSystem(constants.QueryTop, strconv.Itoa(n))
	return b
}

func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		return b.fail(fmt.Errorf("uri: negative $skip %d", n))
	}
	b.setSystem(constants.QuerySkip, strconv.Itoa(n))
	return b
}

func (b *Builder) SkipToken(token string) *Builder {
	b.setSystem(constants.QuerySkipToken, token)
	return b
}

func (b *Builder) InlineCount(mode InlineCount) *Builder {
	b.setSystem(constants.QueryInlineCount, string(mode))
	return b
}

// Format sets $format, e.g. "json" or "atom".
func (b *Builder) Format(format string) *Builder {
	b.setSystem(constants.QueryFormat, format)
	return b
}

// FunctionParameter adds a function import parameter rendered as a URI
// literal. A nil value renders as null.
func (b *Builder) FunctionParameter(name string, value any) *Builder {
	if value == nil {
		return b.AddQueryOption(name, edm.Literal(nil))
	}
	p, err := edm.FromGo(value)
	if err != nil {
		return b.fail(fmt.Errorf("uri: parameter %s: %w", name, err))
	}
	return b.AddQueryOption(name, edm.Literal(p))
}

// AddQueryOption adds a custom query option verbatim.
func (b *Builder) AddQueryOption(name, value string) *Builder {
	b.custom = append(b.custom, queryOption{name: name, value: value})
	return b
}

func (b *Builder) setSystem(name, value string) {
	if value == "" {
		delete(b.system, name)
		return
	}
	b.system[name] = value
}

// Err returns the first error recorded while building.
func (b *Builder) Err() error {
	return b.err
}

// Build renders the URI. It has no side effects and returns the same
// result on every call.
func (b *Builder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	var sb strings.Builder
	sb.WriteString(b.root)
	for i, seg := range b.segments {
		if i > 0 || b.root != "" {
			sb.WriteByte('/')
		}
		sb.WriteString(seg)
	}

	sep := byte('?')
	write := func(name, value string) {
		sb.WriteByte(sep)
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(escapeQueryValue(value))
		sep = '&'
	}
	for _, name := range systemOrder {
		value := b.system[name]
		switch name {
		case constants.QuerySelect:
			value = strings.Join(b.selects, ",")
		case constants.QueryExpand:
			value = strings.Join(b.expands, ",")
		case constants.QueryOrderBy:
			value = strings.Join(b.orderBy, ",")
		}
		if value != "" {
			write(name, value)
		}
	}
	for _, o := range b.custom {
		write(o.name, o.value)
	}
	return sb.String(), nil
}

// String returns the built URI, or an empty string if building failed.
func (b *Builder) String() string {
	s, err := b.Build()
	if err != nil {
		return ""
	}
	return s
}

// Clone returns an independent copy.
func (b *Builder) Clone() *Builder {
	c := *b
	c.segments = append([]string(nil), b.segments...)
	c.selects = append([]string(nil), b.selects...)
	c.expands = append([]string(nil), b.expands...)
	c.orderBy = append([]string(nil), b.orderBy...)
	c.custom = append([]queryOption(nil), b.custom...)
	c.resource = b.Resource()
	c.system = make(map[string]string, len(b.system))
	for k, v := range b.system {
		c.system[k] = v
	}
	return &c
}
