package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zmcp/odata-client/internal/filter"
	"github.com/zmcp/odata-client/internal/uri"
)

// resourceFlags addresses a resource below the service root and shapes
// the query on it.
type resourceFlags struct {
	keys      []string
	typeCast  string
	navs      []string
	property  string
	value     bool
	count     bool
	links     string
	filter    string
	where     []string
	selects   []string
	expand    []string
	orderBy   []string
	top       int
	skip      int
	skipToken string
	inline    bool
	custom    []string
}

func (f *resourceFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVar(&f.keys, "key", nil, "Entity key: a single value (1, 'ALFKI', guid'...') or Name=value, repeatable for composite keys")
	fl.StringVar(&f.typeCast, "cast", "", "Type cast segment (Namespace.DerivedType)")
	fl.StringArrayVar(&f.navs, "nav", nil, "Navigation property to follow, repeatable; a trailing (key) addresses one related entity")
	fl.StringVar(&f.property, "property", "", "Structural property to address")
	fl.BoolVar(&f.value, "value", false, "Append /$value")
	fl.BoolVar(&f.count, "count", false, "Append /$count")
	fl.StringVar(&f.links, "links", "", "Address $links/<navigation>")
	fl.StringVar(&f.filter, "filter", "", "Raw $filter expression")
	fl.StringArrayVar(&f.where, "where", nil, "Equality condition Name=value, repeatable, joined with 'and'")
	fl.StringSliceVar(&f.selects, "select", nil, "Comma-separated $select properties")
	fl.StringSliceVar(&f.expand, "expand", nil, "Comma-separated $expand paths")
	fl.StringSliceVar(&f.orderBy, "orderby", nil, "Comma-separated $orderby keys ('Name desc' sorts descending)")
	fl.IntVar(&f.top, "top", -1, "$top")
	fl.IntVar(&f.skip, "skip", -1, "$skip")
	fl.StringVar(&f.skipToken, "skiptoken", "", "$skiptoken")
	fl.BoolVar(&f.inline, "inlinecount", false, "Request $inlinecount=allpages")
	fl.StringArrayVar(&f.custom, "query", nil, "Custom query option name=value, repeatable")
}

// apply appends the addressed path and query to b, which must be rooted
// at the service. $links and $count are left to the caller, since the
// client operations for them append their own segment.
func (f *resourceFlags) apply(b *uri.Builder, entitySet string) (*uri.Builder, error) {
	b.AppendEntitySetSegment(entitySet)
	if len(f.keys) > 0 {
		key, err := parseKey(f.keys)
		if err != nil {
			return nil, err
		}
		b.AppendKeySegment(key)
	}
	if f.typeCast != "" {
		b.AppendEntityTypeSegment(f.typeCast)
	}
	for _, nav := range f.navs {
		name, key, hasKey := strings.Cut(nav, "(")
		b.AppendNavigationLinkSegment(name)
		if hasKey {
			k, err := parseKey([]string{strings.TrimSuffix(key, ")")})
			if err != nil {
				return nil, fmt.Errorf("navigation %s: %w", name, err)
			}
			b.AppendKeySegment(k)
		}
	}
	if f.links != "" && (f.property != "" || f.value) {
		return nil, errors.New("--links cannot be combined with --property or --value")
	}
	if f.count && f.value {
		return nil, errors.New("--count cannot be combined with --value")
	}
	if f.property != "" {
		b.AppendStructuralSegment(f.property)
	}
	if f.value {
		b.AppendValueSegment()
	}

	switch {
	case f.filter != "" && len(f.where) > 0:
		return nil, errors.New("--filter and --where cannot be combined")
	case f.filter != "":
		b.RawFilter(f.filter)
	case len(f.where) > 0:
		n, err := whereFilter(f.where)
		if err != nil {
			return nil, err
		}
		b.Filter(n)
	}
	if len(f.selects) > 0 {
		b.Select(f.selects...)
	}
	if len(f.expand) > 0 {
		b.Expand(f.expand...)
	}
	for _, o := range f.orderBy {
		if name, ok := strings.CutSuffix(strings.TrimSpace(o), " desc"); ok {
			b.OrderByDesc(strings.TrimSpace(name))
		} else {
			b.OrderBy(strings.TrimSuffix(strings.TrimSpace(o), " asc"))
		}
	}
	if f.top >= 0 {
		b.Top(f.top)
	}
	if f.skip >= 0 {
		b.Skip(f.skip)
	}
	if f.skipToken != "" {
		b.SkipToken(f.skipToken)
	}
	if f.inline {
		b.InlineCount(uri.InlineCountAllPages)
	}
	for _, q := range f.custom {
		name, value, ok := strings.Cut(q, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("query option %q: expected name=value", q)
		}
		b.AddQueryOption(name, value)
	}
	return b, b.Err()
}

// addressesEntity reports whether the path ends in a key: a key on the
// set, or a keyed navigation.
func (f *resourceFlags) addressesEntity() bool {
	if len(f.navs) == 0 {
		return len(f.keys) > 0
	}
	return strings.HasSuffix(f.navs[len(f.navs)-1], ")")
}

// parseKey reads either one bare key value or Name=value parts.
func parseKey(parts []string) (any, error) {
	if len(parts) == 1 && !isNamedPart(parts[0]) {
		return parseLiteral(parts[0])
	}
	key := uri.NewKey()
	for _, part := range parts {
		for _, p := range splitKeyParts(part) {
			name, text, ok := strings.Cut(p, "=")
			if !ok || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("key part %q: expected Name=value", p)
			}
			v, err := parseLiteral(strings.TrimSpace(text))
			if err != nil {
				return nil, fmt.Errorf("key part %s: %w", name, err)
			}
			key.Add(strings.TrimSpace(name), v)
		}
	}
	return key, nil
}

func isNamedPart(s string) bool {
	i := strings.IndexByte(s, '=')
	return i > 0 && !strings.HasPrefix(s, "'")
}

// splitKeyParts splits "A=1,B='x,y'" on commas outside quotes.
func splitKeyParts(s string) []string {
	var parts []string
	quoted := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// parseLiteral reads a value the way it is written in a URI: 'text',
// guid'...', an integer, or true/false. Anything else is taken as a
// string.
func parseLiteral(s string) (any, error) {
	switch {
	case len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'"):
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'"), nil
	case strings.HasPrefix(s, "guid'") && strings.HasSuffix(s, "'"):
		id, err := uuid.Parse(s[5 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid guid %q: %w", s, err)
		}
		return id, nil
	case s == "true" || s == "false":
		return s == "true", nil
	}
	if n, err := strconv.ParseInt(strings.TrimSuffix(s, "L"), 10, 64); err == nil {
		if strings.HasSuffix(s, "L") {
			return n, nil
		}
		return int(n), nil
	}
	return s, nil
}

func whereFilter(conditions []string) (filter.Node, error) {
	nodes := make([]filter.Node, 0, len(conditions))
	for _, c := range conditions {
		name, text, ok := strings.Cut(c, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("condition %q: expected Name=value", c)
		}
		prop := filter.Property(strings.TrimSpace(name))
		text = strings.TrimSpace(text)
		if text == "null" {
			nodes = append(nodes, filter.Eq(prop, filter.Null()))
			continue
		}
		v, err := parseLiteral(text)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, filter.Eq(prop, filter.Lit(v)))
	}
	return filter.AndAll(nodes...), nil
}
