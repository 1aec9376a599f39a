package kestrel

import (
	"fmt"
	"sort"
)

// Expr represents an IL expression over fixed-width bitvectors.
// Expressions are immutable once constructed and may be shared freely.
type Expr interface {
	String() string
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*NotExpr) expr()      {}
func (*ScalarExpr) expr()   {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *ScalarExpr:
		return expr.Width
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations.
const (
	ADD = BinaryOp(iota + 1)
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR

	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op > 0 && op < BinaryOp(len(binaryOps)) {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsCompare returns true if op produces a boolean result.
func (op BinaryOp) IsCompare() bool {
	return op >= EQ && op <= SGE
}

// IsShift returns true if op is a shift. Shift operands may differ in width.
func (op BinaryOp) IsShift() bool {
	return op == SHL || op == LSHR || op == ASHR
}

// IsCommutative returns true if the operands of op can be swapped.
func (op BinaryOp) IsCommutative() bool {
	switch op {
	case ADD, MUL, AND, OR, XOR, EQ, NE:
		return true
	default:
		return false
	}
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns an expression applying op to lhs & rhs.
// Constant operands are folded and trivial identities are simplified.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	if !op.IsShift() {
		assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s %d != %d", op, ExprWidth(lhs), ExprWidth(rhs))
	}

	if l, ok := lhs.(*ConstantExpr); ok {
		if r, ok := rhs.(*ConstantExpr); ok {
			return l.Apply(op, r)
		}
	}

	// Reduce the comparison operators to a smaller canonical set.
	switch op {
	case NE:
		return NewNotExpr(NewBinaryExpr(EQ, lhs, rhs))
	case UGT:
		return NewBinaryExpr(ULT, rhs, lhs)
	case UGE:
		return NewBinaryExpr(ULE, rhs, lhs)
	case SGT:
		return NewBinaryExpr(SLT, rhs, lhs)
	case SGE:
		return NewBinaryExpr(SLE, rhs, lhs)
	}

	// Move constants to the left hand side.
	if op.IsCommutative() && !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if c, ok := lhs.(*ConstantExpr); ok {
		switch op {
		case ADD, XOR:
			if c.Value == 0 {
				return rhs
			}
		case OR:
			if c.Value == 0 {
				return rhs
			} else if c.IsAllOnes() {
				return c
			}
		case AND:
			if c.Value == 0 {
				return c
			} else if c.IsAllOnes() {
				return rhs
			}
		case MUL:
			if c.Value == 0 {
				return c
			} else if c.Value == 1 {
				return rhs
			}
		case SHL, LSHR, ASHR:
			if c.Value == 0 {
				return c
			}
		}
	}

	if c, ok := rhs.(*ConstantExpr); ok {
		switch op {
		case SUB, SHL, LSHR, ASHR:
			if c.Value == 0 {
				return lhs
			}
		case UDIV, SDIV:
			if c.Value == 1 {
				return lhs
			}
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		switch op {
		case SUB, XOR:
			return NewConstantExpr(0, ExprWidth(lhs))
		case AND, OR:
			return lhs
		case EQ, ULE, SLE:
			return NewBoolConstantExpr(true)
		case ULT, SLT:
			return NewBoolConstantExpr(false)
		}
	}

	return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// ScalarExpr represents a named variable of a fixed width.
type ScalarExpr struct {
	Name  string
	Width uint
}

// NewScalarExpr returns a new instance of ScalarExpr.
func NewScalarExpr(name string, width uint) *ScalarExpr {
	assert(width > 0, "scalar width cannot be zero: %s", name)
	return &ScalarExpr{Name: name, Width: width}
}

// String returns the string representation of the expression.
func (e *ScalarExpr) String() string {
	return fmt.Sprintf("%s:%d", e.Name, e.Width)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}

	// Adjacent extractions of the same expression collapse into one.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if lsb.Offset+lsb.Width == msb.Offset && CompareExpr(msb.Expr, lsb.Expr) == 0 {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	return &ConcatExpr{MSB: msb, LSB: lsb}
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a range of bits at a given offset.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", offset, width, kw)

	if offset == 0 && width == kw {
		return expr
	}

	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Extract(offset, width)

	case *ExtractExpr:
		return NewExtractExpr(expr.Expr, expr.Offset+offset, width)

	case *ConcatExpr:
		lw := ExprWidth(expr.LSB)
		if offset >= lw {
			return NewExtractExpr(expr.MSB, offset-lw, width)
		} else if offset+width <= lw {
			return NewExtractExpr(expr.LSB, offset, width)
		}
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-lw),
			NewExtractExpr(expr.LSB, offset, lw-offset),
		)

	case *CastExpr:
		// Bits below the source width are unaffected by the extension.
		if offset+width <= ExprWidth(expr.Src) {
			return NewExtractExpr(expr.Src, offset, width)
		}
	}

	return &ExtractExpr{Expr: expr, Offset: offset, Width: width}
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Not()
	case *NotExpr:
		return expr.Expr
	}
	return &NotExpr{Expr: expr}
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents the extension of an expression to a larger width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns an expression resizing src to width. A smaller width
// truncates and a larger width zero or sign extends.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	sw := ExprWidth(src)
	if width == sw {
		return src
	} else if width < sw {
		return NewExtractExpr(src, 0, width)
	}

	if src, ok := src.(*ConstantExpr); ok {
		if signed {
			return src.SExt(width)
		}
		return src.ZExt(width)
	}
	return &CastExpr{Src: src, Width: width, Signed: signed}
}

// NewZExtExpr returns src zero extended to width.
func NewZExtExpr(src Expr, width uint) Expr { return NewCastExpr(src, width, false) }

// NewSExtExpr returns src sign extended to width.
func NewSExtExpr(src Expr, width uint) Expr { return NewCastExpr(src, width, true) }

// NewTruncExpr returns the low width bits of src.
func NewTruncExpr(src Expr, width uint) Expr { return NewExtractExpr(src, 0, width) }

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// ConstantExpr represents a bitvector constant of up to 64 bits.
type ConstantExpr struct {
	Value uint64
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr. Bits beyond the
// width are discarded.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	assert(width > 0 && width <= Width64, "invalid constant width: %d", width)
	return &ConstantExpr{Value: value & bitmask(width), Width: width}
}

// NewBoolConstantExpr returns a 1-bit constant for value.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return &ConstantExpr{Value: 1, Width: WidthBool}
	}
	return &ConstantExpr{Value: 0, Width: WidthBool}
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("0x%x:%d", e.Value, e.Width)
}

// IsTrue returns true if this is a non-zero boolean.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value != 0
}

// IsFalse returns true if this is a zero boolean.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value == 0
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value == bitmask(e.Width)
}

// Int64 returns the value interpreted as a two's complement integer.
func (e *ConstantExpr) Int64() int64 {
	shift := Width64 - e.Width
	return int64(e.Value<<shift) >> shift
}

// Apply computes op over e & other.
//
// Division and remainder by zero follow the SMT-LIB bitvector semantics so
// that folding is total: unsigned division yields all ones, signed division
// yields -1 or 1 depending on the sign of the dividend, and remainders yield
// the dividend.
func (e *ConstantExpr) Apply(op BinaryOp, other *ConstantExpr) *ConstantExpr {
	if !op.IsShift() {
		assert(e.Width == other.Width, "%s: width mismatch: %d != %d", op, e.Width, other.Width)
	}

	w, x, y := e.Width, e.Value, other.Value
	switch op {
	case ADD:
		return NewConstantExpr(x+y, w)
	case SUB:
		return NewConstantExpr(x-y, w)
	case MUL:
		return NewConstantExpr(x*y, w)
	case UDIV:
		if y == 0 {
			return NewConstantExpr(bitmask(w), w)
		}
		return NewConstantExpr(x/y, w)
	case SDIV:
		if y == 0 {
			if e.Int64() < 0 {
				return NewConstantExpr(1, w)
			}
			return NewConstantExpr(bitmask(w), w)
		}
		return NewConstantExpr(uint64(e.Int64()/other.Int64()), w)
	case UREM:
		if y == 0 {
			return e
		}
		return NewConstantExpr(x%y, w)
	case SREM:
		if y == 0 {
			return e
		}
		return NewConstantExpr(uint64(e.Int64()%other.Int64()), w)
	case AND:
		return NewConstantExpr(x&y, w)
	case OR:
		return NewConstantExpr(x|y, w)
	case XOR:
		return NewConstantExpr(x^y, w)
	case SHL:
		if y >= uint64(w) {
			return NewConstantExpr(0, w)
		}
		return NewConstantExpr(x<<y, w)
	case LSHR:
		if y >= uint64(w) {
			return NewConstantExpr(0, w)
		}
		return NewConstantExpr(x>>y, w)
	case ASHR:
		if y >= uint64(w) {
			y = uint64(w) - 1
		}
		return NewConstantExpr(uint64(e.Int64()>>y), w)
	case EQ:
		return NewBoolConstantExpr(x == y)
	case NE:
		return NewBoolConstantExpr(x != y)
	case ULT:
		return NewBoolConstantExpr(x < y)
	case ULE:
		return NewBoolConstantExpr(x <= y)
	case UGT:
		return NewBoolConstantExpr(x > y)
	case UGE:
		return NewBoolConstantExpr(x >= y)
	case SLT:
		return NewBoolConstantExpr(e.Int64() < other.Int64())
	case SLE:
		return NewBoolConstantExpr(e.Int64() <= other.Int64())
	case SGT:
		return NewBoolConstantExpr(e.Int64() > other.Int64())
	case SGE:
		return NewBoolConstantExpr(e.Int64() >= other.Int64())
	default:
		panic(fmt.Sprintf("invalid binary op: %d", op))
	}
}

// ZExt returns e zero extended to width.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	return NewConstantExpr(e.Value, width)
}

// SExt returns e sign extended to width.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	return NewConstantExpr(uint64(e.Int64()), width)
}

// Not returns the bitwise inverse of e.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExpr(^e.Value, e.Width)
}

// Extract returns width bits of e starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExpr(e.Value>>offset, width)
}

// Concat returns e placed above lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	return NewConstantExpr((e.Value<<lsb.Width)|lsb.Value, e.Width+lsb.Width)
}

func bitmask(width uint) uint64 {
	if width >= Width64 {
		return ^uint64(0)
	}
	return (1 << width) - 1
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is a true boolean constant.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is a false boolean constant.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, other, NewConstantExpr(0, ExprWidth(other)))
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *ScalarExpr:
		return compareScalarExpr(a, b.(*ScalarExpr))
	case *ConcatExpr:
		if cmp := CompareExpr(a.MSB, b.(*ConcatExpr).MSB); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.LSB, b.(*ConcatExpr).LSB)
	case *ExtractExpr:
		b := b.(*ExtractExpr)
		if cmp := compareUint(uint64(a.Offset), uint64(b.Offset)); cmp != 0 {
			return cmp
		} else if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Expr, b.Expr)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		b := b.(*CastExpr)
		if a.Signed != b.Signed {
			if !a.Signed {
				return -1
			}
			return 1
		} else if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Src, b.Src)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		if cmp := compareUint(uint64(a.Op), uint64(b.Op)); cmp != 0 {
			return cmp
		} else if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.RHS, b.RHS)
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if cmp := compareUint(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	}
	return compareUint(a.Value, b.Value)
}

func compareScalarExpr(a, b *ScalarExpr) int {
	if a.Name < b.Name {
		return -1
	} else if a.Name > b.Name {
		return 1
	}
	return compareUint(uint64(a.Width), uint64(b.Width))
}

func compareUint(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *ScalarExpr:
		return 2
	case *ConcatExpr:
		return 3
	case *ExtractExpr:
		return 4
	case *NotExpr:
		return 5
	case *CastExpr:
		return 6
	case *BinaryExpr:
		return 7
	default:
		panic("unreachable")
	}
}

// WalkExpr calls fn for expr and each of its subexpressions in depth-first
// order. Children are skipped when fn returns false.
func WalkExpr(expr Expr, fn func(Expr) bool) {
	if !fn(expr) {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(expr.LHS, fn)
		WalkExpr(expr.RHS, fn)
	case *CastExpr:
		WalkExpr(expr.Src, fn)
	case *ConcatExpr:
		WalkExpr(expr.MSB, fn)
		WalkExpr(expr.LSB, fn)
	case *ExtractExpr:
		WalkExpr(expr.Expr, fn)
	case *NotExpr:
		WalkExpr(expr.Expr, fn)
	}
}

// ReplaceScalars returns a copy of expr with every scalar replaced by the
// result of fn. Returning nil from fn leaves the scalar in place. The tree is
// rebuilt through the constructors so that newly constant subtrees fold.
func ReplaceScalars(expr Expr, fn func(*ScalarExpr) Expr) Expr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr
	case *ScalarExpr:
		if other := fn(expr); other != nil {
			return other
		}
		return expr
	case *BinaryExpr:
		lhs, rhs := ReplaceScalars(expr.LHS, fn), ReplaceScalars(expr.RHS, fn)
		if lhs == expr.LHS && rhs == expr.RHS {
			return expr
		}
		return NewBinaryExpr(expr.Op, lhs, rhs)
	case *CastExpr:
		src := ReplaceScalars(expr.Src, fn)
		if src == expr.Src {
			return expr
		}
		return NewCastExpr(src, expr.Width, expr.Signed)
	case *ConcatExpr:
		msb, lsb := ReplaceScalars(expr.MSB, fn), ReplaceScalars(expr.LSB, fn)
		if msb == expr.MSB && lsb == expr.LSB {
			return expr
		}
		return NewConcatExpr(msb, lsb)
	case *ExtractExpr:
		src := ReplaceScalars(expr.Expr, fn)
		if src == expr.Expr {
			return expr
		}
		return NewExtractExpr(src, expr.Offset, expr.Width)
	case *NotExpr:
		src := ReplaceScalars(expr.Expr, fn)
		if src == expr.Expr {
			return expr
		}
		return NewNotExpr(src)
	default:
		panic("unreachable")
	}
}

// FindScalars returns the distinct scalars referenced by exprs, sorted by name.
func FindScalars(exprs ...Expr) []*ScalarExpr {
	m := make(map[string]*ScalarExpr)
	for _, expr := range exprs {
		WalkExpr(expr, func(e Expr) bool {
			if e, ok := e.(*ScalarExpr); ok {
				m[e.Name] = e
			}
			return true
		})
	}

	a := make([]*ScalarExpr, 0, len(m))
	for _, s := range m {
		a = append(a, s)
	}
	sort.Slice(a, func(i, j int) bool { return compareScalarExpr(a[i], a[j]) < 0 })
	return a
}

// EvaluateExpr reduces expr to a constant by binding every scalar to its value
// in model. Returns ErrUnboundScalar if a scalar has no value.
func EvaluateExpr(expr Expr, model map[string]uint64) (*ConstantExpr, error) {
	var unbound *ScalarExpr
	result := ReplaceScalars(expr, func(s *ScalarExpr) Expr {
		value, ok := model[s.Name]
		if !ok {
			unbound = s
			return nil
		}
		return NewConstantExpr(value, s.Width)
	})

	if unbound != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnboundScalar, unbound.Name)
	}
	c, ok := result.(*ConstantExpr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExpr, result)
	}
	return c, nil
}
