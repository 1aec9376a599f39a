package kestrel

import (
	"fmt"
)

// Segment is a contiguous range of bytes provided by a loader.
type Segment struct {
	Address uint64
	Bytes   []byte
}

// Loader provides the initial memory image of a program.
type Loader interface {
	// Memory returns the loaded segments in address order.
	Memory() ([]Segment, error)

	// ProgramEntry returns the address execution starts at.
	ProgramEntry() uint64
}

// Translator lifts machine code into IL on demand.
type Translator interface {
	TranslateFunction(address uint64) (*Function, error)
}

// Platform prepares an engine for execution and names the symbolic inputs
// of the program.
type Platform interface {
	Initialize(engine *SymbolicEngine) error
	SymbolicVariables() []*ScalarExpr
}

// LoadMemory copies every segment of loader into memory one byte at a time.
func LoadMemory(memory *SymbolicMemory, loader Loader) error {
	segments, err := loader.Memory()
	if err != nil {
		return fmt.Errorf("load memory: %w", err)
	}

	for _, seg := range segments {
		for i, b := range seg.Bytes {
			if err := memory.Store(seg.Address+uint64(i), NewConstantExpr(uint64(b), Width8)); err != nil {
				return err
			}
		}
	}
	return nil
}

// BasicPlatform is a minimal platform that sets up a zeroed stack and exposes
// a fixed list of inputs.
type BasicPlatform struct {
	// Register holding the stack pointer. Ignored if nil.
	StackPointer *ScalarExpr

	// Highest stack address and the number of bytes reserved below it.
	StackTop  uint64
	StackSize uint64

	// Scalars left unassigned so they remain free inputs.
	Inputs []*ScalarExpr
}

// Initialize reserves the stack and points the stack pointer at its top.
func (p *BasicPlatform) Initialize(engine *SymbolicEngine) error {
	if p.StackSize > p.StackTop {
		return fmt.Errorf("stack size 0x%x exceeds stack top 0x%x", p.StackSize, p.StackTop)
	}
	if p.StackSize > 0 {
		engine.Memory().Reserve(p.StackTop-p.StackSize, p.StackSize)
	}
	if p.StackPointer != nil {
		engine.SetScalar(p.StackPointer.Name, NewConstantExpr(p.StackTop, p.StackPointer.Width))
	}
	return nil
}

// SymbolicVariables returns the configured inputs.
func (p *BasicPlatform) SymbolicVariables() []*ScalarExpr {
	return p.Inputs
}
