package analysis

import (
	"fmt"

	"github.com/benbjohnson/kestrel"
)

// Options configures a value-set analysis.
type Options struct {
	// Number of distinct values tracked per scalar or cell before widening.
	Max int

	// Byte order of memory.
	Endian kestrel.Endian

	// Solver iteration cap. Zero is unbounded.
	MaxIterations int

	// Drop the state along edges whose guard is known to be false.
	NarrowEdges bool
}

// OptionsFromConfig returns the analysis options described by c.
func OptionsFromConfig(c kestrel.AnalysisConfig) Options {
	return Options{
		Max:           c.MaxValues,
		Endian:        c.Endian,
		MaxIterations: c.MaxIterations,
		NarrowEdges:   c.NarrowEdges,
	}
}

// ValueSetAnalysis computes, for every location of a control-flow graph, the
// set of values each scalar and memory cell may hold.
type ValueSetAnalysis struct {
	graph *kestrel.ControlFlowGraph
	opt   Options
}

// NewValueSetAnalysis returns an analysis of g.
func NewValueSetAnalysis(g *kestrel.ControlFlowGraph, opt Options) *ValueSetAnalysis {
	return &ValueSetAnalysis{graph: g, opt: opt}
}

// Compute runs a value-set analysis over g and returns the state after every
// location.
func Compute(g *kestrel.ControlFlowGraph, max int, endian kestrel.Endian) (map[Location]*LatticeAssignments, error) {
	return ComputeWithOptions(g, Options{Max: max, Endian: endian})
}

// ComputeWithOptions runs a value-set analysis over g configured by opt.
func ComputeWithOptions(g *kestrel.ControlFlowGraph, opt Options) (map[Location]*LatticeAssignments, error) {
	if opt.Max < 1 {
		return nil, fmt.Errorf("analysis: invalid max values: %d", opt.Max)
	}
	a := NewValueSetAnalysis(g, opt)
	return FixedPoint[*LatticeAssignments](a, g, opt.MaxIterations)
}

// Initial returns empty assignments.
func (a *ValueSetAnalysis) Initial(loc Location) (*LatticeAssignments, error) {
	return NewLatticeAssignments(a.opt.Max), nil
}

// Join returns the least upper bound of x and y.
func (a *ValueSetAnalysis) Join(x, y *LatticeAssignments) (*LatticeAssignments, error) {
	return x.Join(y), nil
}

// Trans applies the effect of loc to in.
func (a *ValueSetAnalysis) Trans(loc Location, in *LatticeAssignments, hasIn bool) (*LatticeAssignments, error) {
	var out *LatticeAssignments
	if hasIn {
		out = in.Clone()
	} else {
		out = NewLatticeAssignments(a.opt.Max)
	}

	switch loc.Kind {
	case kestrel.EdgeLocation:
		return a.transEdge(loc, out)
	case kestrel.InstructionLocation:
		ins, err := loc.ResolveInstruction(a.graph)
		if err != nil {
			return nil, err
		}
		if err := a.transOperation(ins.Operation, out); err != nil {
			return nil, fmt.Errorf("%s: %w", ins, err)
		}
		return out, nil
	default:
		if _, err := loc.ResolveBlock(a.graph); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// transEdge passes state along an edge unchanged. With NarrowEdges set, an
// edge whose guard can only be false carries no state.
func (a *ValueSetAnalysis) transEdge(loc Location, out *LatticeAssignments) (*LatticeAssignments, error) {
	edge, err := loc.ResolveEdge(a.graph)
	if err != nil {
		return nil, err
	} else if !a.opt.NarrowEdges || edge.Condition == nil {
		return out, nil
	}

	cond, err := out.Eval(edge.Condition)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", edge, err)
	}
	if c, ok := cond.Constant(); ok && c.Value == 0 {
		return NewLatticeAssignments(a.opt.Max), nil
	}
	return out, nil
}

func (a *ValueSetAnalysis) transOperation(op kestrel.Operation, s *LatticeAssignments) error {
	switch op := op.(type) {
	case *kestrel.Assign:
		v, err := s.Eval(op.Src)
		if err != nil {
			return err
		}
		s.Set(op.Dst.Name, v)
		return nil

	case *kestrel.Store:
		address, err := s.Eval(op.Address)
		if err != nil {
			return err
		}
		value, err := s.Eval(op.Src)
		if err != nil {
			return err
		}
		if a.opt.Endian == kestrel.LittleEndian {
			if value, err = value.EndianSwap(); err != nil {
				return err
			}
		}
		s.Store(address, value, kestrel.ExprWidth(op.Src))
		return nil

	case *kestrel.Load:
		address, err := s.Eval(op.Address)
		if err != nil {
			return err
		}
		value, ok := s.Load(address, op.Dst.Width)
		if !ok {
			s.Set(op.Dst.Name, MeetValue())
			return nil
		}
		if a.opt.Endian == kestrel.LittleEndian {
			if value, err = value.EndianSwap(); err != nil {
				return err
			}
		}
		s.Set(op.Dst.Name, value)
		return nil

	case *kestrel.Brc:
		return nil

	case *kestrel.Phi:
		var v LatticeValue
		for _, src := range op.Src {
			v = v.Join(s.Value(src.Name), a.opt.Max)
		}
		s.Set(op.Dst.Name, v)
		return nil

	default:
		return fmt.Errorf("%w: %s", kestrel.ErrUnsupportedOperation, op)
	}
}
