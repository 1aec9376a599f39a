package analysis

import (
	"sort"

	"github.com/benbjohnson/kestrel"
)

// Location is a point of a control-flow graph that an analysis assigns state
// to: the state after an instruction, after an empty block, or along an edge.
//
// The state of an instruction location is the state after the instruction
// executes, so the states of consecutive instructions are ordered within a
// block.
type Location struct {
	kestrel.FunctionLocation
}

// NewLocation wraps a function location.
func NewLocation(loc kestrel.FunctionLocation) Location {
	return Location{FunctionLocation: loc}
}

// Compare returns -1, 0, or +1 ordering l against other.
func (l Location) Compare(other Location) int {
	return l.FunctionLocation.Compare(other.FunctionLocation)
}

// Predecessors returns the locations whose state flows into l.
func (l Location) Predecessors(g *kestrel.ControlFlowGraph) ([]Location, error) {
	locs, err := l.Backward(g)
	if err != nil {
		return nil, err
	}
	return wrap(locs), nil
}

// Successors returns the locations l's state flows into.
func (l Location) Successors(g *kestrel.ControlFlowGraph) ([]Location, error) {
	locs, err := l.Forward(g)
	if err != nil {
		return nil, err
	}
	return wrap(locs), nil
}

// Locations returns every instruction, empty block and edge of g in order.
func Locations(g *kestrel.ControlFlowGraph) []Location {
	var a []Location
	for _, b := range g.Blocks() {
		if b.Len() == 0 {
			a = append(a, NewLocation(kestrel.NewEmptyBlockLocation(b.Index)))
		}
		for i := 0; i < b.Len(); i++ {
			a = append(a, NewLocation(kestrel.NewInstructionLocation(b.Index, i)))
		}
	}
	for _, e := range g.Edges() {
		a = append(a, NewLocation(kestrel.NewEdgeLocation(e.Head, e.Tail)))
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Compare(a[j]) < 0 })
	return a
}

func wrap(locs []kestrel.FunctionLocation) []Location {
	a := make([]Location, len(locs))
	for i := range locs {
		a[i] = NewLocation(locs[i])
	}
	return a
}
