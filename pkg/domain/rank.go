package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Rank identifies a process within the active communication scope.
type Rank int

// String implements fmt.Stringer.
func (r Rank) String() string {
	return fmt.Sprintf("rank-%d", int(r))
}

// Group is an immutable ordered set of ranks.
// The zero value is the empty group.
type Group struct {
	ranks []Rank
}

// NewGroup builds a group from the given ranks, keeping the first occurrence order
// and dropping duplicates.
func NewGroup(ranks ...Rank) Group {
	out := make([]Rank, 0, len(ranks))
	for _, r := range ranks {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return Group{ranks: out}
}

// RangeGroup returns the group [0, size).
func RangeGroup(size int) Group {
	ranks := make([]Rank, size)
	for i := range ranks {
		ranks[i] = Rank(i)
	}
	return Group{ranks: ranks}
}

// Ranks returns a copy of the group members in order.
func (g Group) Ranks() []Rank {
	return slices.Clone(g.ranks)
}

// Size returns the number of members.
func (g Group) Size() int {
	return len(g.ranks)
}

// Contains reports whether r is a member.
func (g Group) Contains(r Rank) bool {
	return slices.Contains(g.ranks, r)
}

// String implements fmt.Stringer.
func (g Group) String() string {
	parts := make([]string, len(g.ranks))
	for i, r := range g.ranks {
		parts[i] = fmt.Sprint(int(r))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
