package entity

// EntitySet is one page of a feed.
type EntitySet struct {
	Entities []*Entity
	// Next is the server-driven continuation link; empty on the last page.
	Next string
	// Count is the $inlinecount total, nil when not requested.
	Count *int64
}

// NewEntitySet returns an empty page.
func NewEntitySet(entities ...*Entity) *EntitySet {
	return &EntitySet{Entities: entities}
}

func (s *EntitySet) Add(e *Entity) {
	s.Entities = append(s.Entities, e)
}

func (s *EntitySet) HasNext() bool {
	return s.Next != ""
}

// SetCount records the inline count.
func (s *EntitySet) SetCount(n int64) {
	s.Count = &n
}
