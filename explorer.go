package kestrel

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ExploreStatus describes how an exploration ended.
type ExploreStatus int

const (
	ExploreFound = ExploreStatus(iota + 1)
	ExploreExhausted
	ExploreBudgetExceeded
)

// String returns the name of the status.
func (s ExploreStatus) String() string {
	switch s {
	case ExploreFound:
		return "found"
	case ExploreExhausted:
		return "exhausted"
	case ExploreBudgetExceeded:
		return "budget-exceeded"
	default:
		return fmt.Sprintf("ExploreStatus<%d>", int(s))
	}
}

// Termination records a path that was abandoned because of a memory error.
type Termination struct {
	Driver *EngineDriver
	Err    error
}

// ExploreResult is the outcome of Explorer.Explore.
type ExploreResult struct {
	Status ExploreStatus

	// Driver positioned at the target. Only set when Status is ExploreFound.
	Driver *EngineDriver

	// Generations completed, or steps taken when a searcher is used.
	Generations int

	Terminated []Termination
}

// Explorer searches for a path from a root driver to a target address.
//
// By default every pending driver is stepped once per generation and the
// frontier is replaced by the union of their successors. When Searcher is set,
// drivers are instead stepped one at a time in the order the searcher chooses.
type Explorer struct {
	// Generation (or step) budget. Zero is unbounded.
	MaxGenerations int

	// Step the drivers of a generation concurrently.
	Parallel bool

	Searcher Searcher
}

// NewExplorer returns an explorer configured by c.
func NewExplorer(c ExploreConfig) (*Explorer, error) {
	searcher, err := NewSearcher(c.Searcher, c.Seed)
	if err != nil {
		return nil, err
	}
	return &Explorer{
		MaxGenerations: c.MaxGenerations,
		Parallel:       c.Parallel,
		Searcher:       searcher,
	}, nil
}

// Explore steps drivers, starting from root, until one reaches target, no
// driver remains, or the budget runs out. A driver is checked against target
// before it is stepped.
//
// Memory errors end only the path that raised them. Any other error aborts the
// exploration.
func (x *Explorer) Explore(ctx context.Context, root *EngineDriver, target uint64) (*ExploreResult, error) {
	if x.Searcher != nil {
		return x.search(ctx, root, target)
	}

	result := &ExploreResult{}
	frontier := []*EngineDriver{root}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(frontier) == 0 {
			result.Status = ExploreExhausted
			return result, nil
		}
		for _, d := range frontier {
			if addr, ok := d.Address(); ok && addr == target {
				Logger.Printf("[explore] found 0x%x at %s", target, d.Location())
				result.Status, result.Driver = ExploreFound, d
				return result, nil
			}
		}
		if x.MaxGenerations > 0 && result.Generations >= x.MaxGenerations {
			result.Status = ExploreBudgetExceeded
			return result, nil
		}

		Logger.Printf("[explore] generation %d: %d drivers", result.Generations, len(frontier))
		next, err := x.stepGeneration(frontier, result)
		if err != nil {
			return nil, err
		}
		frontier = next
		result.Generations++
	}
}

// stepGeneration steps every driver in frontier and returns their successors
// in frontier order.
func (x *Explorer) stepGeneration(frontier []*EngineDriver, result *ExploreResult) ([]*EngineDriver, error) {
	successors := make([][]*EngineDriver, len(frontier))
	errs := make([]error, len(frontier))

	if x.Parallel {
		var wg sync.WaitGroup
		for i := range frontier {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				successors[i], errs[i] = frontier[i].Step()
			}(i)
		}
		wg.Wait()
	} else {
		for i := range frontier {
			successors[i], errs[i] = frontier[i].Step()
		}
	}

	var next []*EngineDriver
	for i, err := range errs {
		if err := x.handleError(frontier[i], err, result); err != nil {
			return nil, err
		}
		next = append(next, successors[i]...)
	}
	return next, nil
}

// search runs the exploration one driver at a time using the searcher. When
// the budget runs out the unexplored drivers are left in the searcher until
// the next call.
func (x *Explorer) search(ctx context.Context, root *EngineDriver, target uint64) (*ExploreResult, error) {
	// Drivers pending from an earlier exploration belong to another root.
	for x.Searcher.Len() > 0 {
		x.Searcher.SelectDriver()
	}

	result := &ExploreResult{}
	x.Searcher.AddDriver(root)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d := x.Searcher.SelectDriver()
		if d == nil {
			result.Status = ExploreExhausted
			return result, nil
		} else if addr, ok := d.Address(); ok && addr == target {
			Logger.Printf("[explore] found 0x%x at %s", target, d.Location())
			result.Status, result.Driver = ExploreFound, d
			return result, nil
		} else if x.MaxGenerations > 0 && result.Generations >= x.MaxGenerations {
			x.Searcher.AddDriver(d)
			result.Status = ExploreBudgetExceeded
			return result, nil
		}

		successors, err := d.Step()
		if err := x.handleError(d, err, result); err != nil {
			return nil, err
		}
		for _, s := range successors {
			x.Searcher.AddDriver(s)
		}
		result.Generations++
	}
}

// handleError records memory errors as terminated paths and returns any
// other error.
func (x *Explorer) handleError(d *EngineDriver, err error, result *ExploreResult) error {
	if err == nil {
		return nil
	}

	var merr *MemoryError
	if errors.As(err, &merr) {
		Logger.Printf("[halt] %s: %s", d.Location(), err)
		result.Terminated = append(result.Terminated, Termination{Driver: d, Err: err})
		return nil
	}
	return err
}

// NewRootDriver builds the first driver of an exploration. Memory is created
// from c and filled from loader, the platform initializes the engine, and
// execution starts at the loader's entry address. The entry function is lifted
// with translator if the program does not contain it yet. Platform and
// translator may be nil.
func NewRootDriver(program *Program, loader Loader, translator Translator, platform Platform, c MemoryConfig) (*EngineDriver, error) {
	memory := c.NewMemory()
	strict := memory.Strict
	memory.Strict = false
	if err := LoadMemory(memory, loader); err != nil {
		return nil, err
	}
	memory.Strict = strict

	engine := NewSymbolicEngine(memory)
	if platform != nil {
		if err := platform.Initialize(engine); err != nil {
			return nil, fmt.Errorf("initialize platform: %w", err)
		}
	}

	d := &EngineDriver{program: program, engine: engine, translator: translator, platform: platform}
	program, location, err := d.resolve(loader.ProgramEntry())
	if err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	d.program, d.location = program, location
	return d, nil
}
