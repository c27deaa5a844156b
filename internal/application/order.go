package application

import "github.com/jobrunner/gpkgindex/internal/domain"

// QueryOrder is the ordered, duplicate free list of index kinds consulted by
// reads. IndexNone is never a member.
type QueryOrder struct {
	kinds   []domain.IndexKind
	members map[domain.IndexKind]struct{}
}

// NewQueryOrder creates an order holding kinds.
func NewQueryOrder(kinds ...domain.IndexKind) *QueryOrder {
	o := &QueryOrder{}
	o.Replace(kinds...)
	return o
}

// Prioritize moves kinds to the front in the given order. Members not named
// keep their relative order behind them; new kinds are added.
func (o *QueryOrder) Prioritize(kinds ...domain.IndexKind) {
	front := newKindSet(kinds)
	for _, k := range o.kinds {
		front.add(k)
	}
	o.kinds, o.members = front.kinds, front.members
}

// Replace discards the current order and installs kinds.
func (o *QueryOrder) Replace(kinds ...domain.IndexKind) {
	s := newKindSet(kinds)
	o.kinds, o.members = s.kinds, s.members
}

// Kinds returns a copy of the order.
func (o *QueryOrder) Kinds() []domain.IndexKind {
	out := make([]domain.IndexKind, len(o.kinds))
	copy(out, o.kinds)
	return out
}

// Contains reports whether kind is a member.
func (o *QueryOrder) Contains(kind domain.IndexKind) bool {
	_, ok := o.members[kind]
	return ok
}

// Len returns the number of members.
func (o *QueryOrder) Len() int {
	return len(o.kinds)
}

// Without returns the members not in kinds, in order.
func (o *QueryOrder) Without(kinds []domain.IndexKind) []domain.IndexKind {
	exclude := newKindSet(kinds)
	var out []domain.IndexKind
	for _, k := range o.kinds {
		if _, ok := exclude.members[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

type kindSet struct {
	kinds   []domain.IndexKind
	members map[domain.IndexKind]struct{}
}

func newKindSet(kinds []domain.IndexKind) *kindSet {
	s := &kindSet{members: make(map[domain.IndexKind]struct{}, len(kinds))}
	for _, k := range kinds {
		s.add(k)
	}
	return s
}

func (s *kindSet) add(k domain.IndexKind) {
	if k == domain.IndexNone {
		return
	}
	if _, ok := s.members[k]; ok {
		return
	}
	s.members[k] = struct{}{}
	s.kinds = append(s.kinds, k)
}
