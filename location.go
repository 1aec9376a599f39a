package kestrel

import (
	"fmt"
)

// LocationKind identifies which part of a control-flow graph a location names.
type LocationKind int

const (
	InstructionLocation = LocationKind(iota)
	EmptyBlockLocation
	EdgeLocation
)

// String returns the name of the kind.
func (k LocationKind) String() string {
	switch k {
	case InstructionLocation:
		return "instruction"
	case EmptyBlockLocation:
		return "empty-block"
	case EdgeLocation:
		return "edge"
	default:
		return fmt.Sprintf("LocationKind<%d>", int(k))
	}
}

// FunctionLocation names an instruction, an empty block, or an edge within a
// single control-flow graph. Only the fields relevant to Kind are set, so two
// locations naming the same point are always equal and usable as map keys.
type FunctionLocation struct {
	Kind        LocationKind
	Block       int // instruction & empty block
	Instruction int // position within Block
	Head        int // edge
	Tail        int // edge
}

// NewInstructionLocation returns the location of the i-th instruction of block.
func NewInstructionLocation(block, i int) FunctionLocation {
	return FunctionLocation{Kind: InstructionLocation, Block: block, Instruction: i}
}

// NewEmptyBlockLocation returns the location of a block with no instructions.
func NewEmptyBlockLocation(block int) FunctionLocation {
	return FunctionLocation{Kind: EmptyBlockLocation, Block: block}
}

// NewEdgeLocation returns the location of the edge from head to tail.
func NewEdgeLocation(head, tail int) FunctionLocation {
	return FunctionLocation{Kind: EdgeLocation, Head: head, Tail: tail}
}

// Compare returns -1, 0, or +1 ordering l against other.
func (l FunctionLocation) Compare(other FunctionLocation) int {
	if l.Kind != other.Kind {
		return compareInt(int(l.Kind), int(other.Kind))
	}
	switch l.Kind {
	case EdgeLocation:
		if cmp := compareInt(l.Head, other.Head); cmp != 0 {
			return cmp
		}
		return compareInt(l.Tail, other.Tail)
	default:
		if cmp := compareInt(l.Block, other.Block); cmp != 0 {
			return cmp
		}
		return compareInt(l.Instruction, other.Instruction)
	}
}

// String returns the string representation of the location.
func (l FunctionLocation) String() string {
	switch l.Kind {
	case InstructionLocation:
		return fmt.Sprintf("0x%X:%02X", l.Block, l.Instruction)
	case EmptyBlockLocation:
		return fmt.Sprintf("0x%X", l.Block)
	case EdgeLocation:
		return fmt.Sprintf("(0x%X->0x%X)", l.Head, l.Tail)
	default:
		return fmt.Sprintf("FunctionLocation<%d>", int(l.Kind))
	}
}

// ResolveBlock returns the block named by an instruction or empty block location.
func (l FunctionLocation) ResolveBlock(g *ControlFlowGraph) (*Block, error) {
	if l.Kind == EdgeLocation {
		return nil, fmt.Errorf("%s: %w", l, ErrBlockNotFound)
	}
	return g.Block(l.Block)
}

// ResolveInstruction returns the instruction named by l.
func (l FunctionLocation) ResolveInstruction(g *ControlFlowGraph) (*Instruction, error) {
	if l.Kind != InstructionLocation {
		return nil, fmt.Errorf("%s: %w", l, ErrInstructionNotFound)
	}
	b, err := g.Block(l.Block)
	if err != nil {
		return nil, err
	}
	return b.Instruction(l.Instruction)
}

// ResolveEdge returns the edge named by l.
func (l FunctionLocation) ResolveEdge(g *ControlFlowGraph) (*Edge, error) {
	if l.Kind != EdgeLocation {
		return nil, fmt.Errorf("%s: %w", l, ErrEdgeNotFound)
	}
	return g.Edge(l.Head, l.Tail)
}

// Forward returns the locations control reaches immediately after l.
func (l FunctionLocation) Forward(g *ControlFlowGraph) ([]FunctionLocation, error) {
	switch l.Kind {
	case InstructionLocation:
		b, err := g.Block(l.Block)
		if err != nil {
			return nil, err
		} else if _, err := b.Instruction(l.Instruction); err != nil {
			return nil, err
		}
		if l.Instruction+1 < b.Len() {
			return []FunctionLocation{NewInstructionLocation(l.Block, l.Instruction+1)}, nil
		}
		return blockExitEdges(g, l.Block)

	case EmptyBlockLocation:
		return blockExitEdges(g, l.Block)

	case EdgeLocation:
		if _, err := g.Edge(l.Head, l.Tail); err != nil {
			return nil, err
		}
		entry, err := BlockEntryLocation(g, l.Tail)
		if err != nil {
			return nil, err
		}
		return []FunctionLocation{entry}, nil

	default:
		panic("unreachable")
	}
}

// Backward returns the locations control may arrive at l from.
func (l FunctionLocation) Backward(g *ControlFlowGraph) ([]FunctionLocation, error) {
	switch l.Kind {
	case InstructionLocation:
		b, err := g.Block(l.Block)
		if err != nil {
			return nil, err
		} else if _, err := b.Instruction(l.Instruction); err != nil {
			return nil, err
		}
		if l.Instruction > 0 {
			return []FunctionLocation{NewInstructionLocation(l.Block, l.Instruction-1)}, nil
		}
		return blockEntryEdges(g, l.Block)

	case EmptyBlockLocation:
		return blockEntryEdges(g, l.Block)

	case EdgeLocation:
		if _, err := g.Edge(l.Head, l.Tail); err != nil {
			return nil, err
		}
		exit, err := BlockExitLocation(g, l.Head)
		if err != nil {
			return nil, err
		}
		return []FunctionLocation{exit}, nil

	default:
		panic("unreachable")
	}
}

// BlockEntryLocation returns the first location inside the block at index.
func BlockEntryLocation(g *ControlFlowGraph, index int) (FunctionLocation, error) {
	b, err := g.Block(index)
	if err != nil {
		return FunctionLocation{}, err
	} else if b.Len() == 0 {
		return NewEmptyBlockLocation(index), nil
	}
	return NewInstructionLocation(index, 0), nil
}

// BlockExitLocation returns the last location inside the block at index.
func BlockExitLocation(g *ControlFlowGraph, index int) (FunctionLocation, error) {
	b, err := g.Block(index)
	if err != nil {
		return FunctionLocation{}, err
	} else if b.Len() == 0 {
		return NewEmptyBlockLocation(index), nil
	}
	return NewInstructionLocation(index, b.Len()-1), nil
}

func blockExitEdges(g *ControlFlowGraph, index int) ([]FunctionLocation, error) {
	edges, err := g.EdgesOut(index)
	if err != nil {
		return nil, err
	}
	a := make([]FunctionLocation, len(edges))
	for i, e := range edges {
		a[i] = NewEdgeLocation(e.Head, e.Tail)
	}
	return a, nil
}

func blockEntryEdges(g *ControlFlowGraph, index int) ([]FunctionLocation, error) {
	edges, err := g.EdgesIn(index)
	if err != nil {
		return nil, err
	}
	a := make([]FunctionLocation, len(edges))
	for i, e := range edges {
		a[i] = NewEdgeLocation(e.Head, e.Tail)
	}
	return a, nil
}

// ProgramLocation names a point inside a specific function of a program.
type ProgramLocation struct {
	FunctionIndex int
	FunctionLocation
}

// NewProgramLocation returns a location within the function at index.
func NewProgramLocation(functionIndex int, loc FunctionLocation) ProgramLocation {
	return ProgramLocation{FunctionIndex: functionIndex, FunctionLocation: loc}
}

// ProgramLocationFromAddress returns the location of the instruction lifted
// from address. Functions are searched in index order.
func ProgramLocationFromAddress(p *Program, address uint64) (ProgramLocation, error) {
	for _, fn := range p.Functions() {
		for _, b := range fn.Graph.Blocks() {
			for i, ins := range b.Instructions() {
				if ins.HasAddress && ins.Address == address {
					return NewProgramLocation(fn.Index, NewInstructionLocation(b.Index, i)), nil
				}
			}
		}
	}
	return ProgramLocation{}, fmt.Errorf("address 0x%x: %w", address, ErrLocationNotFound)
}

// ProgramLocationFromFunction returns the entry location of fn.
func ProgramLocationFromFunction(fn *Function) (ProgramLocation, error) {
	entry, err := fn.Graph.Entry()
	if err != nil {
		return ProgramLocation{}, fmt.Errorf("function %s: %w", fn.Name, err)
	}
	loc, err := BlockEntryLocation(fn.Graph, entry)
	if err != nil {
		return ProgramLocation{}, err
	}
	return NewProgramLocation(fn.Index, loc), nil
}

// Compare returns -1, 0, or +1 ordering l against other.
func (l ProgramLocation) Compare(other ProgramLocation) int {
	if cmp := compareInt(l.FunctionIndex, other.FunctionIndex); cmp != 0 {
		return cmp
	}
	return l.FunctionLocation.Compare(other.FunctionLocation)
}

// String returns the string representation of the location.
func (l ProgramLocation) String() string {
	return fmt.Sprintf("0x%X:%s", l.FunctionIndex, l.FunctionLocation)
}

// Function returns the function the location is in.
func (l ProgramLocation) Function(p *Program) (*Function, error) {
	return p.Function(l.FunctionIndex)
}

// Instruction returns the instruction named by the location.
func (l ProgramLocation) Instruction(p *Program) (*Instruction, error) {
	fn, err := p.Function(l.FunctionIndex)
	if err != nil {
		return nil, err
	}
	return l.ResolveInstruction(fn.Graph)
}

// Edge returns the edge named by the location.
func (l ProgramLocation) Edge(p *Program) (*Edge, error) {
	fn, err := p.Function(l.FunctionIndex)
	if err != nil {
		return nil, err
	}
	return l.ResolveEdge(fn.Graph)
}

// Address returns the address of the instruction at the location, if it has one.
func (l ProgramLocation) Address(p *Program) (uint64, bool) {
	ins, err := l.Instruction(p)
	if err != nil || !ins.HasAddress {
		return 0, false
	}
	return ins.Address, true
}

// Forward returns the program locations control reaches after l.
func (l ProgramLocation) Forward(p *Program) ([]ProgramLocation, error) {
	fn, err := p.Function(l.FunctionIndex)
	if err != nil {
		return nil, err
	}
	locs, err := l.FunctionLocation.Forward(fn.Graph)
	if err != nil {
		return nil, err
	}
	return l.wrap(locs), nil
}

// Backward returns the program locations control may arrive at l from.
func (l ProgramLocation) Backward(p *Program) ([]ProgramLocation, error) {
	fn, err := p.Function(l.FunctionIndex)
	if err != nil {
		return nil, err
	}
	locs, err := l.FunctionLocation.Backward(fn.Graph)
	if err != nil {
		return nil, err
	}
	return l.wrap(locs), nil
}

func (l ProgramLocation) wrap(locs []FunctionLocation) []ProgramLocation {
	a := make([]ProgramLocation, len(locs))
	for i, loc := range locs {
		a[i] = NewProgramLocation(l.FunctionIndex, loc)
	}
	return a
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
