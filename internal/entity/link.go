package entity

import "fmt"

// LinkKind distinguishes the link variants an entity can carry.
type LinkKind int

const (
	// LinkNavigationEntry points at a single related entity.
	LinkNavigationEntry LinkKind = iota
	// LinkNavigationFeed points at a set of related entities.
	LinkNavigationFeed
	// LinkAssociation addresses the relationship itself ($links).
	LinkAssociation
	// LinkMediaEdit addresses a named stream property.
	LinkMediaEdit
)

func (k LinkKind) String() string {
	switch k {
	case LinkNavigationEntry:
		return "entry"
	case LinkNavigationFeed:
		return "feed"
	case LinkAssociation:
		return "association"
	case LinkMediaEdit:
		return "media-edit"
	}
	return fmt.Sprintf("LinkKind(%d)", int(k))
}

// IsNavigation reports whether links of this kind may carry inline content.
func (k LinkKind) IsNavigation() bool {
	return k == LinkNavigationEntry || k == LinkNavigationFeed
}

// Link is a named, typed reference from an entity. Href may be empty when
// the service omits it (for example under minimal metadata).
type Link struct {
	Kind  LinkKind
	Name  string
	Href  string
	Title string

	// ContentType and ETag are used by media-edit links.
	ContentType string
	ETag        string

	// Inline holds expanded content on navigation links: an entry link
	// may set InlineEntity, a feed link InlineSet.
	InlineEntity *Entity
	InlineSet    *EntitySet
}

// NewNavigationLink returns a to-one navigation link.
func NewNavigationLink(name, href string) Link {
	return Link{Kind: LinkNavigationEntry, Name: name, Href: href, Title: name}
}

// NewFeedLink returns a to-many navigation link.
func NewFeedLink(name, href string) Link {
	return Link{Kind: LinkNavigationFeed, Name: name, Href: href, Title: name}
}

// NewAssociationLink returns an association ($links) link.
func NewAssociationLink(name, href string) Link {
	return Link{Kind: LinkAssociation, Name: name, Href: href, Title: name}
}

// NewMediaEditLink returns a named stream link.
func NewMediaEditLink(name, href string) Link {
	return Link{Kind: LinkMediaEdit, Name: name, Href: href, Title: name}
}

// WithInlineEntity returns a copy of l expanding to e.
func (l Link) WithInlineEntity(e *Entity) Link {
	l.InlineEntity = e
	return l
}

// WithInlineSet returns a copy of l expanding to set.
func (l Link) WithInlineSet(set *EntitySet) Link {
	l.InlineSet = set
	return l
}

// HasInline reports whether the link carries expanded content.
func (l Link) HasInline() bool {
	return l.InlineEntity != nil || l.InlineSet != nil
}

// OperationKind separates side-effecting actions from functions.
type OperationKind int

const (
	OperationAction OperationKind = iota
	OperationFunction
)

func (k OperationKind) String() string {
	if k == OperationFunction {
		return "function"
	}
	return "action"
}

// Operation is an action or function the service advertises as bound to
// an entity.
type Operation struct {
	Kind OperationKind
	// Metadata is the operation's metadata reference, e.g. "#Container.Name".
	Metadata string
	Title    string
	Target   string
}
