package kestrel

import (
	"fmt"
	"math/rand"
)

// Searcher represents a strategy for choosing the next driver to step.
type Searcher interface {
	// Returns the next driver to step or nil if none remain.
	SelectDriver() *EngineDriver

	// Adds a driver to the searcher.
	AddDriver(d *EngineDriver)

	// Returns the number of pending drivers.
	Len() int
}

// NewSearcher returns the searcher registered under name. The generational
// strategy has no searcher and returns nil.
func NewSearcher(name string, seed int64) (Searcher, error) {
	switch name {
	case SearcherGenerational, "":
		return nil, nil
	case SearcherDFS:
		return NewDFSSearcher(), nil
	case SearcherBFS:
		return NewBFSSearcher(), nil
	case SearcherRandom:
		return NewRandomSearcher(rand.New(rand.NewSource(seed))), nil
	default:
		return nil, fmt.Errorf("unknown searcher: %q", name)
	}
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	drivers []*EngineDriver
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectDriver returns the most recently added driver.
func (s *DFSSearcher) SelectDriver() *EngineDriver {
	if len(s.drivers) == 0 {
		return nil
	}
	d := s.drivers[len(s.drivers)-1]
	s.drivers = s.drivers[:len(s.drivers)-1]
	return d
}

// AddDriver adds a new driver to the searcher.
func (s *DFSSearcher) AddDriver(d *EngineDriver) {
	s.drivers = append(s.drivers, d)
}

// Len returns the number of pending drivers.
func (s *DFSSearcher) Len() int { return len(s.drivers) }

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	drivers []*EngineDriver
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectDriver returns the least recently added driver.
func (s *BFSSearcher) SelectDriver() *EngineDriver {
	if len(s.drivers) == 0 {
		return nil
	}
	d := s.drivers[0]
	s.drivers = s.drivers[1:]
	return d
}

// AddDriver adds a new driver to the searcher.
func (s *BFSSearcher) AddDriver(d *EngineDriver) {
	s.drivers = append(s.drivers, d)
}

// Len returns the number of pending drivers.
func (s *BFSSearcher) Len() int { return len(s.drivers) }

// RandomSearcher selects a pending driver uniformly at random.
type RandomSearcher struct {
	drivers []*EngineDriver
	rand    *rand.Rand
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{rand: rand}
}

// SelectDriver removes and returns a random driver.
func (s *RandomSearcher) SelectDriver() *EngineDriver {
	if len(s.drivers) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.drivers))
	d := s.drivers[i]
	s.drivers[i] = s.drivers[len(s.drivers)-1]
	s.drivers = s.drivers[:len(s.drivers)-1]
	return d
}

// AddDriver adds a new driver to the searcher.
func (s *RandomSearcher) AddDriver(d *EngineDriver) {
	s.drivers = append(s.drivers, d)
}

// Len returns the number of pending drivers.
func (s *RandomSearcher) Len() int { return len(s.drivers) }
