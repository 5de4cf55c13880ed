package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zmcp/odata-client/internal/constants"
	"github.com/zmcp/odata-client/internal/edm"
	"github.com/zmcp/odata-client/internal/entity"
	"github.com/zmcp/odata-client/internal/metadata"
)

const (
	nsAtom = constants.AtomNamespace
	nsD    = constants.DataNamespace
	nsM    = constants.MetadataNamespace
)

func (a *Atom) DecodeEntity(data []byte) (*entity.Entity, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}
	if !root.is(nsAtom, "entry") {
		return nil, atomError(root, fmt.Errorf("expected entry, found %s", root.name.Local))
	}
	return a.readEntry(root, a.hintedType())
}

func (a *Atom) DecodeEntitySet(data []byte) (*entity.EntitySet, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}
	if !root.is(nsAtom, "feed") {
		return nil, atomError(root, fmt.Errorf("expected feed, found %s", root.name.Local))
	}
	return a.readFeed(root, a.hintedType())
}

func (a *Atom) DecodeProperty(data []byte) (entity.Property, error) {
	root, err := parseTree(data)
	if err != nil {
		return entity.Property{}, err
	}
	if root.name.Space != nsD {
		return entity.Property{}, atomError(root, fmt.Errorf("expected a data service property, found %s", root.name.Local))
	}
	v, err := a.readValue(root, "", "")
	if err != nil {
		return entity.Property{}, err
	}
	return entity.Property{Name: root.name.Local, Value: v}, nil
}

func (a *Atom) DecodeReferences(data []byte) ([]string, error) {
	root, err := parseTree(data)
	if err != nil {
		return nil, err
	}
	switch {
	case root.is(nsD, "uri"):
		return []string{strings.TrimSpace(root.Text())}, nil
	case root.is(nsD, "links"):
		uris := []string{}
		for _, c := range root.childrenNamed(nsD, "uri") {
			uris = append(uris, strings.TrimSpace(c.Text()))
		}
		return uris, nil
	}
	return nil, atomError(root, fmt.Errorf("expected uri or links, found %s", root.name.Local))
}

// atomError wraps err with an excerpt of the element it concerns.
func atomError(n *node, err error) error {
	var unknown *UnknownTypeError
	var de *DeserializationError
	if errors.As(err, &unknown) || errors.As(err, &de) {
		return err
	}
	fragment := "<" + n.name.Local
	for _, a := range n.attrs {
		fragment += fmt.Sprintf(" %s=%q", a.Name.Local, a.Value)
	}
	fragment += ">" + strings.TrimSpace(n.Text())
	return &DeserializationError{Format: FormatAtom, Fragment: truncate(fragment), Err: err}
}

func (a *Atom) readFeed(n *node, typeHint string) (*entity.EntitySet, error) {
	set := entity.NewEntitySet()
	for _, c := range n.children {
		switch {
		case c.is(nsAtom, "entry"):
			e, err := a.readEntry(c, typeHint)
			if err != nil {
				return nil, err
			}
			set.Add(e)
		case c.is(nsM, "count"):
			count, err := strconv.ParseInt(strings.TrimSpace(c.Text()), 10, 64)
			if err != nil {
				return nil, atomError(c, err)
			}
			set.SetCount(count)
		case c.is(nsAtom, "link") && c.attrValue("", "rel") == constants.RelNext:
			set.Next = c.attrValue("", "href")
		}
	}
	return set, nil
}

func (a *Atom) readEntry(n *node, typeHint string) (*entity.Entity, error) {
	e := entity.New("")
	e.ETag = n.attrValue(nsM, "etag")

	for _, c := range n.childrenNamed(nsAtom, "category") {
		if c.attrValue("", "scheme") == constants.SchemeNamespace {
			e.TypeName = c.attrValue("", "term")
			if err := a.checkType(e.TypeName); err != nil {
				return nil, err
			}
		}
	}
	owner := e.TypeName
	if owner == "" {
		owner = typeHint
	}

	var props *node
	for _, c := range n.children {
		switch {
		case c.is(nsAtom, "id"):
			e.ID = strings.TrimSpace(c.Text())
		case c.is(nsAtom, "link"):
			if err := a.readLink(c, e, owner); err != nil {
				return nil, err
			}
		case c.is(nsM, "action"), c.is(nsM, "function"):
			op := entity.Operation{
				Metadata: c.attrValue("", "metadata"),
				Title:    c.attrValue("", "title"),
				Target:   c.attrValue("", "target"),
			}
			if c.name.Local == "function" {
				op.Kind = entity.OperationFunction
			}
			e.AddOperation(op)
		case c.is(nsAtom, "content"):
			if src, ok := c.attr("", "src"); ok {
				e.SetMediaEntity(true)
				e.MediaReadLink = src
				e.MediaContentType = c.attrValue("", "type")
				continue
			}
			if p := c.child(nsM, "properties"); p != nil {
				props = p
			}
		case c.is(nsM, "properties"):
			props = c
		}
	}

	if props == nil {
		return e, nil
	}
	for _, p := range props.children {
		if p.name.Space != nsD {
			continue
		}
		v, err := a.readValue(p, owner, p.name.Local)
		if err != nil {
			return nil, err
		}
		if err := e.AddProperty(entity.Property{Name: p.name.Local, Value: v}); err != nil {
			return nil, atomError(p, err)
		}
	}
	return e, nil
}

func (a *Atom) readLink(n *node, e *entity.Entity, owner string) error {
	rel := n.attrValue("", "rel")
	href := n.attrValue("", "href")
	title := n.attrValue("", "title")

	var l entity.Link
	switch {
	case rel == constants.RelEdit:
		e.EditLink = href
		return nil
	case rel == constants.RelSelf:
		e.ReadLink = href
		return nil
	case rel == constants.RelEditMedia:
		e.SetMediaEntity(true)
		e.MediaEditLink = href
		e.MediaETag = n.attrValue(nsM, "etag")
		return nil
	case strings.HasPrefix(rel, constants.RelatedRelPrefix):
		name := strings.TrimPrefix(rel, constants.RelatedRelPrefix)
		l = entity.NewNavigationLink(name, href)
		if strings.Contains(n.attrValue("", "type"), "type=feed") {
			l.Kind = entity.LinkNavigationFeed
		}
		if err := a.readInline(n, owner, &l); err != nil {
			return err
		}
	case strings.HasPrefix(rel, constants.RelatedLinksRelPrefix):
		l = entity.NewAssociationLink(strings.TrimPrefix(rel, constants.RelatedLinksRelPrefix), href)
	case strings.HasPrefix(rel, constants.EditMediaRelPrefix):
		l = entity.NewMediaEditLink(strings.TrimPrefix(rel, constants.EditMediaRelPrefix), href)
		l.ContentType = n.attrValue("", "type")
		l.ETag = n.attrValue(nsM, "etag")
	default:
		return nil
	}
	if _, ok := n.attr("", "title"); ok {
		l.Title = title
	}
	if err := e.AddLink(l); err != nil {
		return atomError(n, err)
	}
	return nil
}

func (a *Atom) readInline(n *node, owner string, l *entity.Link) error {
	inline := n.child(nsM, "inline")
	if inline == nil {
		return nil
	}
	target, _, _ := a.navigation(owner, l.Name)
	for _, c := range inline.children {
		switch {
		case c.is(nsAtom, "entry"):
			child, err := a.readEntry(c, target)
			if err != nil {
				return err
			}
			l.InlineEntity = child
			l.Kind = entity.LinkNavigationEntry
		case c.is(nsAtom, "feed"):
			set, err := a.readFeed(c, target)
			if err != nil {
				return err
			}
			l.InlineSet = set
			l.Kind = entity.LinkNavigationFeed
		}
	}
	return nil
}

// readValue decodes a d: element. The type comes from m:type, then from
// the lookup via the owning type, then from the element's shape.
func (a *Atom) readValue(n *node, owner, name string) (edm.Value, error) {
	if n.attrValue(nsM, "null") == "true" {
		return nil, nil
	}
	typeName := n.attrValue(nsM, "type")
	if typeName != "" {
		if err := a.checkType(typeName); err != nil {
			return nil, err
		}
	} else {
		typeName = a.propertyType(owner, name)
	}
	return a.readTyped(n, typeName)
}

func (a *Atom) readTyped(n *node, typeName string) (edm.Value, error) {
	if typeName == "" {
		switch {
		case len(n.children) == 0:
			typeName = edm.TypeString.Name()
		case n.children[0].is(nsD, "element"):
			return a.readCollection(n, "")
		default:
			return a.readComplex(n, "")
		}
	}

	switch a.typeKind(typeName) {
	case metadata.KindCollection:
		item, _ := edm.CollectionItemType(typeName)
		return a.readCollection(n, item)
	case metadata.KindComplex, metadata.KindEntity:
		return a.readComplex(n, typeName)
	}

	typ, _, _ := edm.LookupPrimitive(typeName)
	if typ.IsGeo() {
		if len(n.children) != 1 {
			return nil, atomError(n, fmt.Errorf("%s value needs one GML element", typeName))
		}
		dim := edm.Geography
		if typ == edm.TypeGeometry {
			dim = edm.Geometry
		}
		g, err := readGML(n.children[0], dim)
		if err != nil {
			return nil, atomError(n, err)
		}
		p, err := edm.FromTyped(typeName, g)
		if err != nil {
			return nil, atomError(n, err)
		}
		return p, nil
	}
	p, err := parsePrimitive(typeName, n.Text())
	if err != nil {
		return nil, atomError(n, err)
	}
	return p, nil
}

func (a *Atom) readComplex(n *node, typeName string) (edm.Value, error) {
	c := edm.NewComplex(typeName)
	for _, f := range n.children {
		if f.name.Space != nsD {
			continue
		}
		v, err := a.readValue(f, typeName, f.name.Local)
		if err != nil {
			return nil, err
		}
		if err := c.Add(f.name.Local, v); err != nil {
			return nil, atomError(f, err)
		}
	}
	return c, nil
}

func (a *Atom) readCollection(n *node, itemType string) (edm.Value, error) {
	coll := edm.NewCollection(itemType)
	for _, item := range n.childrenNamed(nsD, "element") {
		if item.attrValue(nsM, "null") == "true" {
			coll.Append(nil)
			continue
		}
		t := item.attrValue(nsM, "type")
		if t == "" {
			t = itemType
		} else if err := a.checkType(t); err != nil {
			return nil, err
		}
		v, err := a.readTyped(item, t)
		if err != nil {
			return nil, err
		}
		coll.Append(v)
	}
	return coll, nil
}
