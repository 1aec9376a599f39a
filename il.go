package kestrel

import (
	"bytes"
	"fmt"
	"sort"
)

// Operation represents the semantics of a single IL instruction.
type Operation interface {
	String() string
	operation()
}

func (*Assign) operation() {}
func (*Store) operation()  {}
func (*Load) operation()   {}
func (*Brc) operation()    {}
func (*Phi) operation()    {}

// Assign sets a scalar to the value of an expression.
type Assign struct {
	Dst *ScalarExpr
	Src Expr
}

func (op *Assign) String() string { return fmt.Sprintf("%s = %s", op.Dst, op.Src) }

// Store writes Src to memory at Address.
type Store struct {
	Address Expr
	Src     Expr
}

func (op *Store) String() string { return fmt.Sprintf("[%s] = %s", op.Address, op.Src) }

// Load reads Dst's width in bits from memory at Address.
type Load struct {
	Dst     *ScalarExpr
	Address Expr
}

func (op *Load) String() string { return fmt.Sprintf("%s = [%s]", op.Dst, op.Address) }

// Brc transfers control to Target when Condition is non-zero.
type Brc struct {
	Target    Expr
	Condition Expr
}

func (op *Brc) String() string { return fmt.Sprintf("brc %s ? %s", op.Condition, op.Target) }

// Phi merges the values of Src into Dst at a control-flow join.
type Phi struct {
	Dst *ScalarExpr
	Src []*ScalarExpr
}

func (op *Phi) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s = phi(", op.Dst)
	for i, src := range op.Src {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(src.String())
	}
	buf.WriteString(")")
	return buf.String()
}

// Instruction is a single operation inside a block.
type Instruction struct {
	Index      int
	Operation  Operation
	Address    uint64
	HasAddress bool
	Comment    string
}

// SetAddress assigns the address of the machine instruction this was lifted from.
func (ins *Instruction) SetAddress(address uint64) {
	ins.Address, ins.HasAddress = address, true
}

// String returns the string representation of the instruction.
func (ins *Instruction) String() string {
	var s string
	if ins.HasAddress {
		s = fmt.Sprintf("%X %02X %s", ins.Address, ins.Index, ins.Operation)
	} else {
		s = fmt.Sprintf("%02X %s", ins.Index, ins.Operation)
	}
	if ins.Comment != "" {
		s += " // " + ins.Comment
	}
	return s
}

// Block is an ordered sequence of instructions.
type Block struct {
	Index        int
	instructions []*Instruction
}

// Instructions returns the instructions of the block in execution order.
func (b *Block) Instructions() []*Instruction { return b.instructions }

// Len returns the number of instructions in the block.
func (b *Block) Len() int { return len(b.instructions) }

// Instruction returns the instruction at position i within the block.
func (b *Block) Instruction(i int) (*Instruction, error) {
	if i < 0 || i >= len(b.instructions) {
		return nil, fmt.Errorf("block %d, instruction %d: %w", b.Index, i, ErrInstructionNotFound)
	}
	return b.instructions[i], nil
}

// Append adds op to the end of the block and returns the new instruction.
func (b *Block) Append(op Operation) *Instruction {
	ins := &Instruction{Index: len(b.instructions), Operation: op}
	b.instructions = append(b.instructions, ins)
	return ins
}

// Assign appends an Assign operation to the block.
func (b *Block) Assign(dst *ScalarExpr, src Expr) *Instruction {
	assert(dst.Width == ExprWidth(src), "assign width mismatch: %s", dst)
	return b.Append(&Assign{Dst: dst, Src: src})
}

// Store appends a Store operation to the block.
func (b *Block) Store(address, src Expr) *Instruction {
	return b.Append(&Store{Address: address, Src: src})
}

// Load appends a Load operation to the block.
func (b *Block) Load(dst *ScalarExpr, address Expr) *Instruction {
	return b.Append(&Load{Dst: dst, Address: address})
}

// Brc appends a conditional branch to the block.
func (b *Block) Brc(target, condition Expr) *Instruction {
	return b.Append(&Brc{Target: target, Condition: condition})
}

// Phi appends a Phi operation to the block.
func (b *Block) Phi(dst *ScalarExpr, src ...*ScalarExpr) *Instruction {
	return b.Append(&Phi{Dst: dst, Src: src})
}

// Edge connects the exit of Head to the entry of Tail. A nil Condition is
// always taken.
type Edge struct {
	Head      int
	Tail      int
	Condition Expr
}

// String returns the string representation of the edge.
func (e *Edge) String() string {
	if e.Condition == nil {
		return fmt.Sprintf("(%X->%X)", e.Head, e.Tail)
	}
	return fmt.Sprintf("(%X->%X) ? %s", e.Head, e.Tail, e.Condition)
}

type edgeKey struct{ head, tail int }

// ControlFlowGraph is a directed graph of blocks joined by guarded edges.
// Blocks and edges are always listed in index order.
type ControlFlowGraph struct {
	blocks   map[int]*Block
	edges    map[edgeKey]*Edge
	next     int
	entry    int
	hasEntry bool
}

// NewControlFlowGraph returns an empty control-flow graph.
func NewControlFlowGraph() *ControlFlowGraph {
	return &ControlFlowGraph{
		blocks: make(map[int]*Block),
		edges:  make(map[edgeKey]*Edge),
	}
}

// NewBlock adds an empty block to the graph. The first block added becomes the
// entry unless SetEntry is called.
func (g *ControlFlowGraph) NewBlock() *Block {
	b := &Block{Index: g.next}
	g.blocks[b.Index] = b
	g.next++

	if !g.hasEntry {
		g.entry, g.hasEntry = b.Index, true
	}
	return b
}

// Block returns the block at index.
func (g *ControlFlowGraph) Block(index int) (*Block, error) {
	b := g.blocks[index]
	if b == nil {
		return nil, fmt.Errorf("block %d: %w", index, ErrBlockNotFound)
	}
	return b, nil
}

// Blocks returns all blocks sorted by index.
func (g *ControlFlowGraph) Blocks() []*Block {
	a := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		a = append(a, b)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Index < a[j].Index })
	return a
}

// Entry returns the index of the entry block.
func (g *ControlFlowGraph) Entry() (int, error) {
	if !g.hasEntry {
		return 0, fmt.Errorf("entry: %w", ErrBlockNotFound)
	}
	return g.entry, nil
}

// SetEntry marks the block at index as the entry.
func (g *ControlFlowGraph) SetEntry(index int) error {
	if _, err := g.Block(index); err != nil {
		return err
	}
	g.entry, g.hasEntry = index, true
	return nil
}

// AddEdge connects head to tail. Both blocks must exist and only one edge may
// connect a given pair.
func (g *ControlFlowGraph) AddEdge(head, tail int, condition Expr) (*Edge, error) {
	if _, err := g.Block(head); err != nil {
		return nil, err
	} else if _, err := g.Block(tail); err != nil {
		return nil, err
	} else if condition != nil && ExprWidth(condition) != WidthBool {
		return nil, fmt.Errorf("edge (%d->%d) condition %s: %w", head, tail, condition, ErrInvalidWidth)
	}

	key := edgeKey{head, tail}
	if _, ok := g.edges[key]; ok {
		return nil, fmt.Errorf("edge (%d->%d) already exists", head, tail)
	}
	e := &Edge{Head: head, Tail: tail, Condition: condition}
	g.edges[key] = e
	return e, nil
}

// Edge returns the edge from head to tail.
func (g *ControlFlowGraph) Edge(head, tail int) (*Edge, error) {
	e := g.edges[edgeKey{head, tail}]
	if e == nil {
		return nil, fmt.Errorf("edge (%d->%d): %w", head, tail, ErrEdgeNotFound)
	}
	return e, nil
}

// Edges returns all edges sorted by head then tail.
func (g *ControlFlowGraph) Edges() []*Edge {
	a := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		a = append(a, e)
	}
	sortEdges(a)
	return a
}

// EdgesOut returns the edges leaving the block at index, sorted by tail.
func (g *ControlFlowGraph) EdgesOut(index int) ([]*Edge, error) {
	if _, err := g.Block(index); err != nil {
		return nil, err
	}
	var a []*Edge
	for key, e := range g.edges {
		if key.head == index {
			a = append(a, e)
		}
	}
	sortEdges(a)
	return a, nil
}

// EdgesIn returns the edges entering the block at index, sorted by head.
func (g *ControlFlowGraph) EdgesIn(index int) ([]*Edge, error) {
	if _, err := g.Block(index); err != nil {
		return nil, err
	}
	var a []*Edge
	for key, e := range g.edges {
		if key.tail == index {
			a = append(a, e)
		}
	}
	sortEdges(a)
	return a, nil
}

// RemoveEdge deletes the edge from head to tail.
func (g *ControlFlowGraph) RemoveEdge(head, tail int) error {
	if _, err := g.Edge(head, tail); err != nil {
		return err
	}
	delete(g.edges, edgeKey{head, tail})
	return nil
}

// RemoveBlock deletes the block at index along with its edges.
func (g *ControlFlowGraph) RemoveBlock(index int) error {
	if _, err := g.Block(index); err != nil {
		return err
	}
	for key := range g.edges {
		if key.head == index || key.tail == index {
			delete(g.edges, key)
		}
	}
	delete(g.blocks, index)

	if g.hasEntry && g.entry == index {
		g.hasEntry = false
	}
	return nil
}

// String returns a textual listing of the graph.
func (g *ControlFlowGraph) String() string {
	var buf bytes.Buffer
	for _, b := range g.Blocks() {
		fmt.Fprintf(&buf, "[ Block: 0x%X ]\n", b.Index)
		for _, ins := range b.instructions {
			fmt.Fprintf(&buf, "%s\n", ins)
		}
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&buf, "edge %s\n", e)
	}
	return buf.String()
}

func sortEdges(a []*Edge) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].Head != a[j].Head {
			return a[i].Head < a[j].Head
		}
		return a[i].Tail < a[j].Tail
	})
}

// Function is a lifted function: a control-flow graph with an entry address.
type Function struct {
	Index   int
	Address uint64
	Name    string
	Graph   *ControlFlowGraph
}

// NewFunction returns a new function. Its index is assigned by Program.AddFunction.
func NewFunction(address uint64, name string, graph *ControlFlowGraph) *Function {
	return &Function{Address: address, Name: name, Graph: graph}
}

// Program is a collection of functions keyed by index.
type Program struct {
	functions map[int]*Function
	next      int
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{functions: make(map[int]*Function)}
}

// AddFunction assigns fn the next free index and adds it to the program.
func (p *Program) AddFunction(fn *Function) int {
	fn.Index = p.next
	p.functions[fn.Index] = fn
	p.next++
	return fn.Index
}

// Function returns the function at index.
func (p *Program) Function(index int) (*Function, error) {
	fn := p.functions[index]
	if fn == nil {
		return nil, fmt.Errorf("function %d: %w", index, ErrFunctionNotFound)
	}
	return fn, nil
}

// FunctionByAddress returns the function whose entry address is address.
func (p *Program) FunctionByAddress(address uint64) (*Function, error) {
	for _, fn := range p.Functions() {
		if fn.Address == address {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("function at 0x%x: %w", address, ErrFunctionNotFound)
}

// Functions returns all functions sorted by index.
func (p *Program) Functions() []*Function {
	a := make([]*Function, 0, len(p.functions))
	for _, fn := range p.functions {
		a = append(a, fn)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Index < a[j].Index })
	return a
}

// Clone returns a copy of the program that shares its functions. Adding a
// function to the copy does not affect the original.
func (p *Program) Clone() *Program {
	other := &Program{functions: make(map[int]*Function, len(p.functions)), next: p.next}
	for k, v := range p.functions {
		other.functions[k] = v
	}
	return other
}
