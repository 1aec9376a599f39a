// Package analysis implements dataflow analyses over kestrel control-flow
// graphs: a generic worklist fixed-point solver and a value-set analysis that
// tracks bounded sets of concrete values for every scalar and memory cell.
package analysis

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/kestrel"
)

// ErrDidNotConverge is returned when the solver exceeds its iteration cap.
var ErrDidNotConverge = errors.New("analysis: did not converge")

// State is a lattice element computed by an analysis.
type State[S any] interface {
	Equal(other S) bool
}

// FixedPointAnalysis is implemented by analyses solved with FixedPoint.
type FixedPointAnalysis[S State[S]] interface {
	// Initial returns the state every location starts with.
	Initial(loc Location) (S, error)

	// Trans applies the effect of loc to the joined state of its
	// predecessors. hasIn is false if loc has no predecessors.
	Trans(loc Location, in S, hasIn bool) (S, error)

	// Join returns the least upper bound of two states.
	Join(a, b S) (S, error)
}

// FixedPoint computes the state of every location of g by iterating a until
// no state changes. Locations are visited from a FIFO worklist and a location
// is only requeued when the state of one of its predecessors changes.
//
// The computation stops with ErrDidNotConverge after maxIterations location
// visits. A zero maxIterations is unbounded, so the analysis must guarantee
// that its lattice has finite height. Any error returned by a, or by a lookup
// into g, aborts the computation.
func FixedPoint[S State[S]](a FixedPointAnalysis[S], g *kestrel.ControlFlowGraph, maxIterations int) (map[Location]S, error) {
	locs := Locations(g)

	states := make(map[Location]S, len(locs))
	for _, loc := range locs {
		s, err := a.Initial(loc)
		if err != nil {
			return nil, fmt.Errorf("initial %s: %w", loc, err)
		}
		states[loc] = s
	}

	queue := make([]Location, len(locs))
	copy(queue, locs)
	queued := make(map[Location]bool, len(locs))
	for _, loc := range locs {
		queued[loc] = true
	}

	for n := 0; len(queue) > 0; n++ {
		if maxIterations > 0 && n >= maxIterations {
			return nil, fmt.Errorf("%w after %d iterations", ErrDidNotConverge, n)
		}

		loc := queue[0]
		queue = queue[1:]
		delete(queued, loc)

		preds, err := loc.Predecessors(g)
		if err != nil {
			return nil, err
		}

		var in S
		var hasIn bool
		for _, pred := range preds {
			if !hasIn {
				in, hasIn = states[pred], true
			} else if in, err = a.Join(in, states[pred]); err != nil {
				return nil, fmt.Errorf("join %s: %w", loc, err)
			}
		}

		out, err := a.Trans(loc, in, hasIn)
		if err != nil {
			return nil, fmt.Errorf("trans %s: %w", loc, err)
		} else if out.Equal(states[loc]) {
			continue
		}
		states[loc] = out

		succs, err := loc.Successors(g)
		if err != nil {
			return nil, err
		}
		for _, succ := range succs {
			if !queued[succ] {
				queue, queued[succ] = append(queue, succ), true
			}
		}
	}
	kestrel.Logger.Printf("[fixpoint] converged: %d locations", len(states))

	return states, nil
}
