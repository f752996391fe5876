package membership

import (
	"slices"

	"github.com/ryandielhenn/zephyrmutex/pkg/transport"
)

type ID = transport.ID

// View is the group as seen by one process: all members sorted numerically,
// and the same list without the process itself.
type View struct {
	self   ID
	all    []ID
	others []ID
}

// NewView sorts and deduplicates members. self is added if missing.
func NewView(self ID, members []ID) View {
	all := slices.Clone(members)
	if !slices.Contains(all, self) {
		all = append(all, self)
	}
	slices.Sort(all)
	all = slices.Compact(all)

	return View{self: self, all: all, others: without(all, self)}
}

func (v View) Self() ID { return v.self }

// All returns the members, self included. The slice must not be modified.
func (v View) All() []ID { return v.all }

// Others returns the members other than self. The slice must not be modified.
func (v View) Others() []ID { return v.others }

func (v View) Len() int { return len(v.all) }

func (v View) Contains(id ID) bool {
	_, found := slices.BinarySearch(v.all, id)
	return found
}

// Without returns a view from which id has been expelled. Removing self or
// an unknown id returns v unchanged.
func (v View) Without(id ID) View {
	if id == v.self || !v.Contains(id) {
		return v
	}
	return View{self: v.self, all: without(v.all, id), others: without(v.others, id)}
}

func without(ids []ID, id ID) []ID {
	out := make([]ID, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
