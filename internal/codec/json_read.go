package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
)

// jsonNode is a decoded JSON value that keeps object members in payload
// order. Scalars keep their raw text so numbers lose no precision.
type jsonNode struct {
	kind    jsontext.Kind
	text    string
	members []jsonMember
	items   []*jsonNode
	offset  int64
}

type jsonMember struct {
	name  string
	value *jsonNode
}

func (n *jsonNode) member(name string) *jsonNode {
	for _, m := range n.members {
		if m.name == name {
			return m.value
		}
	}
	return nil
}

// parseJSON reads one JSON value from data.
func parseJSON(data []byte) (*jsonNode, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	n, err := readJSONNode(dec)
	if err != nil {
		return nil, &DeserializationError{Format: FormatJSON, Fragment: excerpt(data, dec.InputOffset()), Err: err}
	}
	if _, err := dec.ReadToken(); !errors.Is(err, io.EOF) {
		return nil, &DeserializationError{Format: FormatJSON, Fragment: excerpt(data, dec.InputOffset()), Err: errors.New("trailing data after payload")}
	}
	return n, nil
}

func readJSONNode(dec *jsontext.Decoder) (*jsonNode, error) {
	n := &jsonNode{kind: dec.PeekKind(), offset: dec.InputOffset()}
	switch n.kind {
	case '{':
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
		for dec.PeekKind() != '}' {
			name, err := dec.ReadToken()
			if err != nil {
				return nil, err
			}
			value, err := readJSONNode(dec)
			if err != nil {
				return nil, err
			}
			n.members = append(n.members, jsonMember{name: name.String(), value: value})
		}
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
	case '[':
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
		for dec.PeekKind() != ']' {
			item, err := readJSONNode(dec)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, item)
		}
		if _, err := dec.ReadToken(); err != nil {
			return nil, err
		}
	case '0':
		raw, err := dec.ReadValue()
		if err != nil {
			return nil, err
		}
		n.text = string(raw)
	default:
		tok, err := dec.ReadToken()
		if err != nil {
			return nil, err
		}
		n.kind = tok.Kind()
		n.text = tok.String()
	}
	return n, nil
}

// jsonReader decodes one payload; it carries the input for error excerpts.
type jsonReader struct {
	*JSON
	data []byte
}

func (r *jsonReader) fail(n *jsonNode, err error) error {
	var unknown *UnknownTypeError
	var de *DeserializationError
	if errors.As(err, &unknown) || errors.As(err, &de) {
		return err
	}
	return &DeserializationError{Format: FormatJSON, Fragment: excerpt(r.data, n.offset), Err: err}
}

func (j *JSON) reader(data []byte) (*jsonReader, *jsonNode, error) {
	root, err := parseJSON(data)
	if err != nil {
		return nil, nil, err
	}
	r := &jsonReader{JSON: j, data: data}
	if root.kind != '{' {
		return nil, nil, r.fail(root, errors.New("payload must be an object"))
	}
	return r, root, nil
}

func (j *JSON) DecodeEntity(data []byte) (*entity.Entity, error) {
	r, root, err := j.reader(data)
	if err != nil {
		return nil, err
	}
	return r.readEntity(root, r.contextType(root, j.hintedType()), r.contextSet(root))
}

func (j *JSON) DecodeEntitySet(data []byte) (*entity.EntitySet, error) {
	r, root, err := j.reader(data)
	if err != nil {
		return nil, err
	}
	typeHint := r.contextType(root, j.hintedType())
	set := entity.NewEntitySet()
	value := root.member(constants.JSONValue)
	if value == nil || value.kind != '[' {
		return nil, r.fail(root, errors.New("entity set payload needs a value array"))
	}
	if err := r.readEntities(value, typeHint, r.contextSet(root), set); err != nil {
		return nil, err
	}
	if count := root.member(constants.JSONCount); count != nil {
		n, err := r.readCount(count)
		if err != nil {
			return nil, err
		}
		set.SetCount(n)
	}
	if next := root.member(constants.JSONNextLink); next != nil {
		set.Next = next.text
	}
	return set, nil
}

func (j *JSON) DecodeProperty(data []byte) (entity.Property, error) {
	r, root, err := j.reader(data)
	if err != nil {
		return entity.Property{}, err
	}
	if null := root.member("odata.null"); null != nil && null.kind == 't' {
		return entity.Property{}, nil
	}
	typeName := ""
	if ctx := root.member(constants.JSONMetadata); ctx != nil {
		typeName = contextFragment(ctx.text)
		if err := r.checkType(typeName); err != nil {
			return entity.Property{}, err
		}
	}

	// A primitive or collection is wrapped in "value"; a complex value is
	// the object itself.
	if value := root.member(constants.JSONValue); value != nil && onlyAnnotationsBesides(root, constants.JSONValue) {
		if typeName == "" {
			if t := root.member(constants.JSONValue + "@" + constants.JSONType); t != nil {
				typeName = t.text
			}
		}
		v, err := r.readValue(value, typeName)
		return entity.Property{Value: v}, err
	}
	v, err := r.readComplex(root, typeName)
	return entity.Property{Value: v}, err
}

func (j *JSON) DecodeReferences(data []byte) ([]string, error) {
	r, root, err := j.reader(data)
	if err != nil {
		return nil, err
	}
	if u := root.member(constants.JSONUrl); u != nil {
		return []string{u.text}, nil
	}
	value := root.member(constants.JSONValue)
	if value == nil || value.kind != '[' {
		return nil, r.fail(root, errors.New("expected url or value"))
	}
	uris := []string{}
	for _, item := range value.items {
		u := item.member(constants.JSONUrl)
		if item.kind != '{' || u == nil {
			return nil, r.fail(item, errors.New("reference without url"))
		}
		uris = append(uris, u.text)
	}
	return uris, nil
}

func onlyAnnotationsBesides(n *jsonNode, name string) bool {
	for _, m := range n.members {
		if m.name != name && !isAnnotation(m.name) {
			return false
		}
	}
	return true
}

func isAnnotation(name string) bool {
	return strings.HasPrefix(name, "odata.") || strings.Contains(name, "@")
}

// contextFragment returns the part of an odata.metadata URL after '#'.
func contextFragment(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[i+1:]
	}
	return ""
}

// contextType resolves the entity type named by an odata.metadata
// context such as "#Products/@Element" or "#Products/NS.Derived".
func (r *jsonReader) contextType(n *jsonNode, fallback string) string {
	ctx := n.member(constants.JSONMetadata)
	if ctx == nil || r.lookup == nil {
		return fallback
	}
	parts := strings.Split(contextFragment(ctx.text), "/")
	if len(parts) > 1 && strings.Contains(parts[1], ".") {
		return parts[1]
	}
	if t, ok := r.lookup.EntitySetType(parts[0]); ok {
		return t
	}
	return fallback
}

// contextSet returns the entity set named by the odata.metadata context,
// else the configured one.
func (r *jsonReader) contextSet(n *jsonNode) string {
	if ctx := n.member(constants.JSONMetadata); ctx != nil && r.lookup != nil {
		set, _, _ := strings.Cut(contextFragment(ctx.text), "/")
		if _, ok := r.lookup.EntitySetType(set); ok {
			return set
		}
	}
	return r.entitySet
}

func (r *jsonReader) readCount(n *jsonNode) (int64, error) {
	if n.kind != '"' && n.kind != '0' {
		return 0, r.fail(n, errors.New("count must be a string or number"))
	}
	count, err := strconv.ParseInt(n.text, 10, 64)
	if err != nil {
		return 0, r.fail(n, err)
	}
	return count, nil
}

// readEntities reads feed items into set. entitySet names the set the
// items belong to; it is empty for expanded feeds.
func (r *jsonReader) readEntities(n *jsonNode, typeHint, entitySet string, set *entity.EntitySet) error {
	for _, item := range n.items {
		e, err := r.readEntity(item, typeHint, entitySet)
		if err != nil {
			return err
		}
		set.Add(e)
	}
	return nil
}

// inlineFeed collects the annotations of an expanded feed, which may
// appear before or after the feed itself.
type inlineFeed struct {
	next  string
	count *int64
}

func (r *jsonReader) readEntity(n *jsonNode, typeHint, entitySet string) (*entity.Entity, error) {
	if n.kind != '{' {
		return nil, r.fail(n, errors.New("entity must be an object"))
	}
	e := entity.New("")
	owner := typeHint
	if t := n.member(constants.JSONType); t != nil && r.level != LevelNone {
		if err := r.checkType(t.text); err != nil {
			return nil, err
		}
		e.TypeName = t.text
		owner = t.text
	}

	var links []entity.Link
	navIndex := make(map[string]int)
	streamIndex := make(map[string]int)
	propTypes := make(map[string]string)
	feeds := make(map[string]*inlineFeed)
	feed := func(name string) *inlineFeed {
		if feeds[name] == nil {
			feeds[name] = &inlineFeed{}
		}
		return feeds[name]
	}
	stream := func(name string) *entity.Link {
		i, ok := streamIndex[name]
		if !ok {
			i = len(links)
			streamIndex[name] = i
			links = append(links, entity.NewMediaEditLink(name, ""))
		}
		return &links[i]
	}

	for _, m := range n.members {
		v := m.value
		switch {
		case m.name == constants.JSONMetadata, m.name == constants.JSONType:
		case m.name == constants.JSONID:
			e.ID = v.text
		case m.name == constants.JSONETag:
			e.ETag = v.text
		case m.name == constants.JSONEditLink:
			e.EditLink = v.text
		case m.name == constants.JSONReadLink:
			e.ReadLink = v.text
		case m.name == constants.JSONMediaReadLink:
			e.SetMediaEntity(true)
			e.MediaReadLink = v.text
		case m.name == constants.JSONMediaEditLink:
			e.SetMediaEntity(true)
			e.MediaEditLink = v.text
		case m.name == constants.JSONMediaContentType:
			e.SetMediaEntity(true)
			e.MediaContentType = v.text
		case m.name == constants.JSONMediaETag:
			e.SetMediaEntity(true)
			e.MediaETag = v.text
		case strings.HasPrefix(m.name, "#"):
			if err := r.readOperations(m.name, v, e); err != nil {
				return nil, err
			}
		case strings.HasPrefix(m.name, "odata."):
			// other instance annotations carry nothing the model keeps
		case strings.Contains(m.name, "@"):
			name, annotation, _ := strings.Cut(m.name, "@")
			switch annotation {
			case constants.JSONType:
				if err := r.checkType(v.text); err != nil {
					return nil, err
				}
				propTypes[name] = v.text
			case constants.JSONNavigationLink:
				if i, ok := navIndex[name]; ok {
					links[i].Href = v.text
					continue
				}
				navIndex[name] = len(links)
				links = append(links, entity.NewNavigationLink(name, v.text))
			case constants.JSONAssociationLink:
				if r.level != LevelNone {
					links = append(links, entity.NewAssociationLink(name, v.text))
				}
			case constants.JSONMediaEditLink:
				stream(name).Href = v.text
			case constants.JSONMediaContentType:
				stream(name).ContentType = v.text
			case constants.JSONMediaETag:
				stream(name).ETag = v.text
			case constants.JSONMediaReadLink:
				stream(name)
			case constants.JSONNextLink:
				feed(name).next = v.text
			case constants.JSONCount:
				count, err := r.readCount(v)
				if err != nil {
					return nil, err
				}
				feed(name).count = &count
			}
		default:
			_, isNav := navIndex[m.name]
			if !isNav && v.kind != '"' && v.kind != '0' {
				_, _, isNav = r.navigation(owner, m.name)
			}
			if isNav {
				i, ok := navIndex[m.name]
				if !ok {
					i = len(links)
					navIndex[m.name] = i
					links = append(links, entity.NewNavigationLink(m.name, ""))
				}
				if err := r.readInline(v, owner, &links[i]); err != nil {
					return nil, err
				}
				continue
			}
			typeName := propTypes[m.name]
			if typeName == "" {
				typeName = r.propertyType(owner, m.name)
			}
			value, err := r.readValue(v, typeName)
			if err != nil {
				return nil, err
			}
			if err := e.AddProperty(entity.Property{Name: m.name, Value: value}); err != nil {
				return nil, r.fail(v, err)
			}
		}
	}

	if r.level != LevelFull {
		links = r.withConventionalLinks(links, owner, r.entityURL(entitySet, owner, e))
	}
	for i := range links {
		l := &links[i]
		if l.Kind.IsNavigation() && !l.HasInline() {
			if _, many, ok := r.navigation(owner, l.Name); ok && many {
				l.Kind = entity.LinkNavigationFeed
			}
		}
		if f := feeds[l.Name]; f != nil && l.InlineSet != nil {
			l.InlineSet.Next = f.next
			l.InlineSet.Count = f.count
		}
		if err := e.AddLink(*l); err != nil {
			return nil, r.fail(n, err)
		}
	}
	return e, nil
}

// withConventionalLinks puts the navigation links in declaration order,
// adding base/Name for each declared navigation property the payload
// left out. Other links follow in payload order.
func (r *jsonReader) withConventionalLinks(links []entity.Link, owner, base string) []entity.Link {
	declared := r.navigations(owner)
	if base == "" || len(declared) == 0 {
		return links
	}
	out := make([]entity.Link, 0, len(links)+len(declared))
	used := make([]bool, len(links))
	for _, name := range declared {
		i := slices.IndexFunc(links, func(l entity.Link) bool {
			return l.Kind.IsNavigation() && l.Name == name
		})
		if i < 0 {
			out = append(out, entity.NewNavigationLink(name, base+"/"+name))
			continue
		}
		if links[i].Href == "" {
			links[i].Href = base + "/" + name
		}
		used[i] = true
		out = append(out, links[i])
	}
	for i, l := range links {
		if !used[i] {
			out = append(out, l)
		}
	}
	return out
}

func (r *jsonReader) readInline(v *jsonNode, owner string, l *entity.Link) error {
	target, _, _ := r.navigation(owner, l.Name)
	switch v.kind {
	case '{':
		child, err := r.readEntity(v, target, "")
		if err != nil {
			return err
		}
		l.Kind = entity.LinkNavigationEntry
		l.InlineEntity = child
	case '[':
		set := entity.NewEntitySet()
		if err := r.readEntities(v, target, "", set); err != nil {
			return err
		}
		l.Kind = entity.LinkNavigationFeed
		l.InlineSet = set
	case 'n':
	default:
		return r.fail(v, fmt.Errorf("expanded %s must be an object or array", l.Name))
	}
	return nil
}

// readOperations reads "#Container.Op": {...} or an array of bindings.
// JSON light does not tell actions from functions, so the kind comes from
// the function import's side-effecting flag; without metadata both decode
// as actions.
func (r *jsonReader) readOperations(ref string, v *jsonNode, e *entity.Entity) error {
	bindings := []*jsonNode{v}
	if v.kind == '[' {
		bindings = v.items
	}
	for _, b := range bindings {
		if b.kind != '{' {
			return r.fail(b, fmt.Errorf("operation %s must be an object", ref))
		}
		op := entity.Operation{Kind: r.operationKind(ref), Metadata: ref}
		if t := b.member(constants.JSONOperationTitle); t != nil {
			op.Title = t.text
		}
		if t := b.member(constants.JSONOperationTarget); t != nil {
			op.Target = t.text
		}
		e.AddOperation(op)
	}
	return nil
}

// operationKind resolves "#Container.Name" against the function imports.
func (r *jsonReader) operationKind(ref string) entity.OperationKind {
	if r.lookup == nil {
		return entity.OperationAction
	}
	name := strings.TrimPrefix(ref, "#")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if fi, ok := r.lookup.FunctionImport(name); ok && !fi.IsSideEffecting {
		return entity.OperationFunction
	}
	return entity.OperationAction
}

// readValue decodes v as typeName, inferring the type from the JSON
// token when typeName is empty.
func (r *jsonReader) readValue(v *jsonNode, typeName string) (edm.Value, error) {
	if v.kind == 'n' {
		return nil, nil
	}
	if typeName == "" {
		switch v.kind {
		case '{':
			return r.readComplex(v, "")
		case '[':
			return r.readCollection(v, "")
		}
		typeName = inferType(v)
	}

	switch r.typeKind(typeName) {
	case metadata.KindCollection:
		if v.kind != '[' {
			return nil, r.fail(v, fmt.Errorf("%s value must be an array", typeName))
		}
		item, _ := edm.CollectionItemType(typeName)
		return r.readCollection(v, item)
	case metadata.KindComplex, metadata.KindEntity:
		if v.kind != '{' {
			return nil, r.fail(v, fmt.Errorf("%s value must be an object", typeName))
		}
		return r.readComplex(v, typeName)
	}
	return r.readPrimitive(v, typeName)
}

func inferType(v *jsonNode) string {
	switch v.kind {
	case 't', 'f':
		return edm.TypeBoolean.Name()
	case '0':
		if strings.ContainsAny(v.text, ".eE") {
			return edm.TypeDouble.Name()
		}
		n, err := strconv.ParseInt(v.text, 10, 64)
		switch {
		case err != nil:
			return edm.TypeDouble.Name()
		case n >= math.MinInt32 && n <= math.MaxInt32:
			return edm.TypeInt32.Name()
		default:
			return edm.TypeInt64.Name()
		}
	}
	return edm.TypeString.Name()
}

func (r *jsonReader) readPrimitive(v *jsonNode, typeName string) (edm.Value, error) {
	typ, _, ok := edm.LookupPrimitive(typeName)
	if !ok {
		return nil, &UnknownTypeError{Type: typeName}
	}
	switch {
	case typ.IsGeo():
		if v.kind != '{' {
			return nil, r.fail(v, fmt.Errorf("%s value must be a GeoJSON object", typeName))
		}
		dim := edm.Geography
		if typ == edm.TypeGeometry {
			dim = edm.Geometry
		}
		g, err := readGeoJSON(v, dim)
		if err != nil {
			return nil, r.fail(v, err)
		}
		p, err := edm.FromTyped(typeName, g)
		if err != nil {
			return nil, r.fail(v, err)
		}
		return p, nil
	case v.kind == 't' || v.kind == 'f':
		if typ != edm.TypeBoolean {
			return nil, r.fail(v, &edm.TypeMismatchError{Type: typeName, Value: v.text})
		}
		return edm.NewBoolean(v.kind == 't'), nil
	case v.kind == '"' || v.kind == '0':
		p, err := parsePrimitive(typeName, v.text)
		if err != nil {
			return nil, r.fail(v, err)
		}
		return p, nil
	}
	return nil, r.fail(v, &edm.TypeMismatchError{Type: typeName, Value: v.text})
}

func (r *jsonReader) readComplex(v *jsonNode, typeName string) (edm.Value, error) {
	if t := v.member(constants.JSONType); t != nil {
		if err := r.checkType(t.text); err != nil {
			return nil, err
		}
		typeName = t.text
	}
	propTypes := make(map[string]string)
	c := edm.NewComplex(typeName)
	for _, m := range v.members {
		if name, annotation, ok := strings.Cut(m.name, "@"); ok {
			if annotation == constants.JSONType {
				if err := r.checkType(m.value.text); err != nil {
					return nil, err
				}
				propTypes[name] = m.value.text
			}
			continue
		}
		if strings.HasPrefix(m.name, "odata.") {
			continue
		}
		fieldType := propTypes[m.name]
		if fieldType == "" {
			fieldType = r.propertyType(typeName, m.name)
		}
		fv, err := r.readValue(m.value, fieldType)
		if err != nil {
			return nil, err
		}
		if err := c.Add(m.name, fv); err != nil {
			return nil, r.fail(m.value, err)
		}
	}
	return c, nil
}

func (r *jsonReader) readCollection(v *jsonNode, itemType string) (edm.Value, error) {
	coll := edm.NewCollection(itemType)
	for _, item := range v.items {
		iv, err := r.readValue(item, itemType)
		if err != nil {
			return nil, err
		}
		coll.Append(iv)
	}
	return coll, nil
}
