// Package ssail lifts Go SSA functions into kestrel IL.
//
// Only scalar code is supported: booleans, integers and pointers to them.
// Every function, instruction, global and local allocation is assigned a
// fixed address so the engines can search for and load from them.
package ssail

import (
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"sync"

	"github.com/benbjohnson/kestrel"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
)

var (
	ErrUnsupportedInstruction = errors.New("ssail: unsupported instruction")
	ErrUnsupportedType        = errors.New("ssail: unsupported type")
)

// Memory layout of a translated package.
const (
	WordSize = kestrel.Width64

	FunctionBase   = 0x10000000
	FunctionStride = 0x01000000

	DataBase = 0x20000000

	StackTop  = 0x70000000
	StackSize = 0x00100000
)

// Translator lifts the functions of an SSA package on demand. It is safe
// for concurrent use by drivers stepped in parallel.
// Implements kestrel.Translator.
type Translator struct {
	pkg   *ssa.Package
	sizes types.Sizes

	funcs   map[uint64]*ssa.Function
	addrs   map[*ssa.Function]uint64
	globals map[*ssa.Global]uint64
	dataEnd uint64

	mu       sync.Mutex
	allocs   map[*ssa.Alloc]uint64
	stackEnd uint64
}

// NewTranslator returns a translator for the functions and globals of pkg.
// Addresses are assigned in member name order.
func NewTranslator(pkg *ssa.Package) *Translator {
	t := &Translator{
		pkg:      pkg,
		sizes:    types.SizesFor("gc", "amd64"),
		funcs:    make(map[uint64]*ssa.Function),
		addrs:    make(map[*ssa.Function]uint64),
		globals:  make(map[*ssa.Global]uint64),
		dataEnd:  DataBase,
		allocs:   make(map[*ssa.Alloc]uint64),
		stackEnd: StackTop,
	}

	names := make([]string, 0, len(pkg.Members))
	for name := range pkg.Members {
		names = append(names, name)
	}
	slices.Sort(names)

	var n uint64
	for _, name := range names {
		switch m := pkg.Members[name].(type) {
		case *ssa.Function:
			addr := FunctionBase + n*FunctionStride
			t.funcs[addr], t.addrs[m] = m, addr
			n++
		case *ssa.Global:
			t.globals[m] = t.dataEnd
			t.dataEnd += align(uint64(t.sizes.Sizeof(deref(m.Type()))))
		}
	}
	return t
}

// Package returns the package being translated.
func (t *Translator) Package() *ssa.Package { return t.pkg }

// FunctionAddress returns the entry address of fn.
func (t *Translator) FunctionAddress(fn *ssa.Function) (uint64, bool) {
	addr, ok := t.addrs[fn]
	return addr, ok
}

// InstructionAddress returns the address assigned to instr. Instructions
// that produce no IL, such as jumps and phis, are never reached at their
// address.
func (t *Translator) InstructionAddress(instr ssa.Instruction) (uint64, bool) {
	b := instr.Block()
	base, ok := t.addrs[b.Parent()]
	if !ok {
		return 0, false
	}
	for i := range b.Instrs {
		if b.Instrs[i] == instr {
			return instructionAddress(base, b.Index, i), true
		}
	}
	return 0, false
}

// GlobalAddress returns the address of g in the data segment.
func (t *Translator) GlobalAddress(g *ssa.Global) (uint64, bool) {
	addr, ok := t.globals[g]
	return addr, ok
}

// TranslateFunction lifts the function whose entry is at address.
func (t *Translator) TranslateFunction(address uint64) (*kestrel.Function, error) {
	fn := t.funcs[address]
	if fn == nil {
		return nil, fmt.Errorf("0x%x: %w", address, kestrel.ErrFunctionNotFound)
	} else if len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("%s: external function: %w", fn, ErrUnsupportedInstruction)
	}

	tr := &translation{t: t, fn: fn, base: address, graph: kestrel.NewControlFlowGraph()}
	if err := tr.translate(); err != nil {
		return nil, err
	}
	kestrel.Logger.Printf("[translate] %s: %d blocks", fn, len(tr.graph.Blocks()))
	return kestrel.NewFunction(address, fn.Name(), tr.graph), nil
}

// ScalarName returns the IL scalar name of an SSA value in fn.
func ScalarName(fn *ssa.Function, v ssa.Value) string {
	return fmt.Sprintf("%s.%s", fn.Name(), v.Name())
}

// ResultName returns the IL scalar name of the i-th result of fn.
func ResultName(fn *ssa.Function, i int) string {
	return fmt.Sprintf("%s.ret%d", fn.Name(), i)
}

// width returns the IL width of a scalar type.
func (t *Translator) width(typ types.Type) (uint, error) {
	switch typ := typ.Underlying().(type) {
	case *types.Basic:
		switch {
		case typ.Info()&types.IsBoolean != 0:
			return kestrel.WidthBool, nil
		case typ.Info()&types.IsUntyped != 0 && typ.Info()&types.IsInteger != 0:
			return WordSize, nil
		case typ.Info()&types.IsInteger != 0:
			return uint(t.sizes.Sizeof(typ)) * 8, nil
		case typ.Kind() == types.UnsafePointer:
			return WordSize, nil
		}
	case *types.Pointer:
		return WordSize, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
}

// allocAddress returns the stack slot of a, assigning one on first use.
func (t *Translator) allocAddress(a *ssa.Alloc) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if addr, ok := t.allocs[a]; ok {
		return addr
	}
	t.stackEnd -= align(uint64(t.sizes.Sizeof(deref(a.Type()))))
	t.allocs[a] = t.stackEnd
	return t.stackEnd
}

// translation holds the state of a single function being lifted.
type translation struct {
	t     *Translator
	fn    *ssa.Function
	base  uint64
	graph *kestrel.ControlFlowGraph
}

func (tr *translation) translate() error {
	// IL block indices match SSA block indices. Phi copy blocks follow.
	blocks := make([]*kestrel.Block, len(tr.fn.Blocks))
	for i := range tr.fn.Blocks {
		blocks[i] = tr.graph.NewBlock()
	}

	for _, b := range tr.fn.Blocks {
		for i, instr := range b.Instrs {
			n := blocks[b.Index].Len()
			if err := tr.instruction(blocks[b.Index], instr); err != nil {
				return fmt.Errorf("%s: %s: %w", tr.fn, instr, err)
			}

			if ins := blocks[b.Index].Instructions(); len(ins) > n {
				ins[n].SetAddress(instructionAddress(tr.base, b.Index, i))
			}
		}
	}

	for _, b := range tr.fn.Blocks {
		if err := tr.edges(b); err != nil {
			return fmt.Errorf("%s: block %d: %w", tr.fn, b.Index, err)
		}
	}
	return nil
}

func (tr *translation) instruction(b *kestrel.Block, instr ssa.Instruction) error {
	switch instr := instr.(type) {
	case *ssa.DebugRef, *ssa.Jump, *ssa.If, *ssa.Phi:
		return nil // control flow & phis are lowered into edges

	case *ssa.BinOp:
		return tr.binOp(b, instr)

	case *ssa.UnOp:
		return tr.unOp(b, instr)

	case *ssa.Convert:
		dst, err := tr.register(instr)
		if err != nil {
			return err
		}
		x, err := tr.value(instr.X)
		if err != nil {
			return err
		}
		src, ok := instr.X.Type().Underlying().(*types.Basic)
		if !ok || src.Info()&types.IsInteger == 0 {
			return fmt.Errorf("%w: conversion from %s", ErrUnsupportedType, instr.X.Type())
		}
		b.Assign(dst, kestrel.NewCastExpr(x, dst.Width, src.Info()&types.IsUnsigned == 0))
		return nil

	case *ssa.ChangeType:
		dst, err := tr.register(instr)
		if err != nil {
			return err
		}
		x, err := tr.value(instr.X)
		if err != nil {
			return err
		}
		b.Assign(dst, x)
		return nil

	case *ssa.Alloc:
		w, err := tr.t.width(deref(instr.Type()))
		if err != nil {
			return err
		}
		addr := kestrel.NewConstantExpr(tr.t.allocAddress(instr), WordSize)
		b.Store(addr, kestrel.NewConstantExpr(0, w))
		return nil

	case *ssa.Store:
		addr, err := tr.value(instr.Addr)
		if err != nil {
			return err
		}
		val, err := tr.value(instr.Val)
		if err != nil {
			return err
		}
		b.Store(addr, val)
		return nil

	case *ssa.Return:
		for i, result := range instr.Results {
			w, err := tr.t.width(result.Type())
			if err != nil {
				return err
			}
			x, err := tr.value(result)
			if err != nil {
				return err
			}
			b.Assign(kestrel.NewScalarExpr(ResultName(tr.fn, i), w), x)
		}
		return nil

	case *ssa.Panic:
		ins := b.Assign(kestrel.NewScalarExpr(tr.fn.Name()+".panic", kestrel.WidthBool), kestrel.NewBoolConstantExpr(true))
		ins.Comment = "panic"
		return nil

	case *ssa.MakeInterface:
		// Panic values are never inspected.
		for _, ref := range *instr.Referrers() {
			if _, ok := ref.(*ssa.Panic); !ok {
				return fmt.Errorf("%w: %T", ErrUnsupportedInstruction, instr)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedInstruction, instr)
	}
}

func (tr *translation) binOp(b *kestrel.Block, instr *ssa.BinOp) error {
	dst, err := tr.register(instr)
	if err != nil {
		return err
	}
	x, err := tr.value(instr.X)
	if err != nil {
		return err
	}
	y, err := tr.value(instr.Y)
	if err != nil {
		return err
	}

	var signed bool
	if typ, ok := instr.X.Type().Underlying().(*types.Basic); ok {
		signed = typ.Info()&types.IsUnsigned == 0
	}

	var expr kestrel.Expr
	switch instr.Op {
	case token.ADD:
		expr = kestrel.NewBinaryExpr(kestrel.ADD, x, y)
	case token.SUB:
		expr = kestrel.NewBinaryExpr(kestrel.SUB, x, y)
	case token.MUL:
		expr = kestrel.NewBinaryExpr(kestrel.MUL, x, y)
	case token.QUO:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SDIV, kestrel.UDIV), x, y)
	case token.REM:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SREM, kestrel.UREM), x, y)
	case token.AND:
		expr = kestrel.NewBinaryExpr(kestrel.AND, x, y)
	case token.OR:
		expr = kestrel.NewBinaryExpr(kestrel.OR, x, y)
	case token.XOR:
		expr = kestrel.NewBinaryExpr(kestrel.XOR, x, y)
	case token.AND_NOT:
		expr = kestrel.NewBinaryExpr(kestrel.AND, x, kestrel.NewNotExpr(y))
	case token.SHL:
		expr = kestrel.NewBinaryExpr(kestrel.SHL, x, y)
	case token.SHR:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.ASHR, kestrel.LSHR), x, y)
	case token.EQL:
		expr = kestrel.NewBinaryExpr(kestrel.EQ, x, y)
	case token.NEQ:
		expr = kestrel.NewBinaryExpr(kestrel.NE, x, y)
	case token.LSS:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SLT, kestrel.ULT), x, y)
	case token.LEQ:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SLE, kestrel.ULE), x, y)
	case token.GTR:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SGT, kestrel.UGT), x, y)
	case token.GEQ:
		expr = kestrel.NewBinaryExpr(pick(signed, kestrel.SGE, kestrel.UGE), x, y)
	default:
		return fmt.Errorf("%w: binop %s", ErrUnsupportedInstruction, instr.Op)
	}
	b.Assign(dst, expr)
	return nil
}

func (tr *translation) unOp(b *kestrel.Block, instr *ssa.UnOp) error {
	dst, err := tr.register(instr)
	if err != nil {
		return err
	}
	x, err := tr.value(instr.X)
	if err != nil {
		return err
	}

	switch instr.Op {
	case token.NOT, token.XOR:
		b.Assign(dst, kestrel.NewNotExpr(x))
	case token.SUB:
		b.Assign(dst, kestrel.NewBinaryExpr(kestrel.SUB, kestrel.NewConstantExpr(0, dst.Width), x))
	case token.MUL:
		b.Load(dst, x)
	default:
		return fmt.Errorf("%w: unop %s", ErrUnsupportedInstruction, instr.Op)
	}
	return nil
}

// edges connects b to its successors. Phis of a successor are lowered into
// a copy block on the edge.
func (tr *translation) edges(b *ssa.BasicBlock) error {
	if len(b.Instrs) == 0 {
		return nil
	}

	switch last := b.Instrs[len(b.Instrs)-1].(type) {
	case *ssa.If:
		if b.Succs[0] == b.Succs[1] {
			return tr.edge(b, b.Succs[0], nil)
		}
		cond, err := tr.value(last.Cond)
		if err != nil {
			return err
		} else if err := tr.edge(b, b.Succs[0], cond); err != nil {
			return err
		}
		return tr.edge(b, b.Succs[1], kestrel.NewNotExpr(cond))

	case *ssa.Jump:
		return tr.edge(b, b.Succs[0], nil)

	default:
		return nil
	}
}

func (tr *translation) edge(pred, succ *ssa.BasicBlock, cond kestrel.Expr) error {
	phis := succ.Phis()
	if len(phis) == 0 {
		_, err := tr.graph.AddEdge(pred.Index, succ.Index, cond)
		return err
	}

	i := predIndex(succ, pred)
	if i < 0 {
		return fmt.Errorf("block %d is not a predecessor of block %d", pred.Index, succ.Index)
	}

	// Copies are staged through temporaries when several phis may read each
	// other's previous values.
	block := tr.graph.NewBlock()
	dsts := make([]*kestrel.ScalarExpr, len(phis))
	for j, instr := range phis {
		phi := instr.(*ssa.Phi)
		dst, err := tr.register(phi)
		if err != nil {
			return err
		}
		src, err := tr.value(phi.Edges[i])
		if err != nil {
			return err
		}

		if len(phis) == 1 {
			block.Assign(dst, src)
			break
		}
		dsts[j] = dst
		block.Assign(kestrel.NewScalarExpr(dst.Name+".next", dst.Width), src)
	}
	if len(phis) > 1 {
		for _, dst := range dsts {
			block.Assign(dst, kestrel.NewScalarExpr(dst.Name+".next", dst.Width))
		}
	}

	if _, err := tr.graph.AddEdge(pred.Index, block.Index, cond); err != nil {
		return err
	}
	_, err := tr.graph.AddEdge(block.Index, succ.Index, nil)
	return err
}

// register returns the scalar holding the result of v.
func (tr *translation) register(v ssa.Value) (*kestrel.ScalarExpr, error) {
	w, err := tr.t.width(v.Type())
	if err != nil {
		return nil, err
	}
	return kestrel.NewScalarExpr(ScalarName(tr.fn, v), w), nil
}

// value returns the IL expression of an SSA operand.
func (tr *translation) value(v ssa.Value) (kestrel.Expr, error) {
	switch v := v.(type) {
	case *ssa.Const:
		w, err := tr.t.width(v.Type())
		if err != nil {
			return nil, err
		} else if v.Value == nil {
			return kestrel.NewConstantExpr(0, w), nil
		}

		switch v.Value.Kind() {
		case constant.Bool:
			return kestrel.NewBoolConstantExpr(constant.BoolVal(v.Value)), nil
		case constant.Int:
			if u, exact := constant.Uint64Val(v.Value); exact {
				return kestrel.NewConstantExpr(u, w), nil
			}
			i, _ := constant.Int64Val(v.Value)
			return kestrel.NewConstantExpr(uint64(i), w), nil
		default:
			return nil, fmt.Errorf("%w: constant %s", ErrUnsupportedType, v)
		}

	case *ssa.Global:
		addr, ok := tr.t.globals[v]
		if !ok {
			return nil, fmt.Errorf("%w: global %s", ErrUnsupportedInstruction, v)
		}
		return kestrel.NewConstantExpr(addr, WordSize), nil

	case *ssa.Alloc:
		return kestrel.NewConstantExpr(tr.t.allocAddress(v), WordSize), nil

	case *ssa.Function:
		addr, ok := tr.t.addrs[v]
		if !ok {
			return nil, fmt.Errorf("%w: function %s", ErrUnsupportedInstruction, v)
		}
		return kestrel.NewConstantExpr(addr, WordSize), nil

	default:
		return tr.register(v)
	}
}

func instructionAddress(base uint64, block, i int) uint64 {
	return base + uint64(block)<<12 + uint64(i)
}

func predIndex(b, pred *ssa.BasicBlock) int {
	for i, p := range b.Preds {
		if p == pred {
			return i
		}
	}
	return -1
}

func pick(signed bool, s, u kestrel.BinaryOp) kestrel.BinaryOp {
	if signed {
		return s
	}
	return u
}

// align rounds n up to a whole word.
func align(n uint64) uint64 {
	const w = WordSize / 8
	if n == 0 {
		return w
	}
	return (n + w - 1) / w * w
}

func deref(typ types.Type) types.Type {
	if p, ok := typ.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return typ
}
