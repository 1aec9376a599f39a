package analysis

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/kestrel"
	"github.com/fatih/color"
	"golang.org/x/exp/slices"
)

// colorize is used for pretty-printing.
var colorize = struct {
	Lattice  func(...interface{}) string
	Variable func(...interface{}) string
	Address  func(...interface{}) string
}{
	Lattice:  color.New(color.FgHiRed).SprintFunc(),
	Variable: color.New(color.FgHiGreen).SprintFunc(),
	Address:  color.New(color.FgHiBlue).SprintFunc(),
}

// Kind identifies the shape of a LatticeValue.
type Kind int

const (
	// Meet is the bottom element: unreached or not yet observed.
	Meet = Kind(iota)

	// Values is a finite set of concrete values.
	Values

	// Join is the top element: any value.
	Join
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case Meet:
		return "meet"
	case Values:
		return "values"
	case Join:
		return "join"
	default:
		return fmt.Sprintf("Kind<%d>", int(k))
	}
}

// LatticeValue is an element of the value-set lattice. Sets are ordered by
// inclusion with Meet below every set and Join above every set. The zero
// value is Meet.
type LatticeValue struct {
	kind   Kind
	values []*kestrel.ConstantExpr // sorted, distinct
}

// MeetValue returns the bottom element.
func MeetValue() LatticeValue { return LatticeValue{kind: Meet} }

// JoinValue returns the top element.
func JoinValue() LatticeValue { return LatticeValue{kind: Join} }

// NewLatticeValue returns the set of the given values.
func NewLatticeValue(values ...*kestrel.ConstantExpr) LatticeValue {
	a := make([]*kestrel.ConstantExpr, len(values))
	copy(a, values)
	return newValueSet(a, 0)
}

// newValueSet sorts and deduplicates a in place. The set widens to Join if it
// holds more than max values. A max of zero is unbounded.
func newValueSet(a []*kestrel.ConstantExpr, max int) LatticeValue {
	slices.SortFunc(a, func(x, y *kestrel.ConstantExpr) bool { return kestrel.CompareExpr(x, y) < 0 })
	a = slices.CompactFunc(a, func(x, y *kestrel.ConstantExpr) bool { return kestrel.CompareExpr(x, y) == 0 })
	if max > 0 && len(a) > max {
		return JoinValue()
	}
	return LatticeValue{kind: Values, values: a}
}

// Kind returns the shape of the value.
func (v LatticeValue) Kind() Kind { return v.kind }

// Values returns the concrete values of a Values set in ascending order.
func (v LatticeValue) Values() []*kestrel.ConstantExpr { return v.values }

// Constant returns the only member of a single-valued set.
func (v LatticeValue) Constant() (*kestrel.ConstantExpr, bool) {
	if v.kind != Values || len(v.values) != 1 {
		return nil, false
	}
	return v.values[0], true
}

// Equal returns true if v and other are the same lattice element.
func (v LatticeValue) Equal(other LatticeValue) bool {
	if v.kind != other.kind {
		return false
	}
	return slices.EqualFunc(v.values, other.values, func(x, y *kestrel.ConstantExpr) bool {
		return kestrel.CompareExpr(x, y) == 0
	})
}

// Join returns the least upper bound of v and other, widened to Join if the
// union holds more than max values.
func (v LatticeValue) Join(other LatticeValue, max int) LatticeValue {
	switch {
	case v.kind == Join || other.kind == Join:
		return JoinValue()
	case v.kind == Meet:
		return other
	case other.kind == Meet:
		return v
	}

	a := make([]*kestrel.ConstantExpr, 0, len(v.values)+len(other.values))
	a = append(a, v.values...)
	a = append(a, other.values...)
	return newValueSet(a, max)
}

// Binary applies op to every pair of values drawn from v and other. Join is
// absorbing, then Meet.
func (v LatticeValue) Binary(op kestrel.BinaryOp, other LatticeValue, max int) (LatticeValue, error) {
	return v.combine(other, max, func(x, y *kestrel.ConstantExpr) (*kestrel.ConstantExpr, error) {
		if !op.IsShift() && x.Width != y.Width {
			return nil, fmt.Errorf("%s: %w: %d != %d", op, kestrel.ErrInvalidWidth, x.Width, y.Width)
		}
		return x.Apply(op, y), nil
	})
}

// Concat places every value of v above every value of lsb.
func (v LatticeValue) Concat(lsb LatticeValue, max int) (LatticeValue, error) {
	return v.combine(lsb, max, func(x, y *kestrel.ConstantExpr) (*kestrel.ConstantExpr, error) {
		if x.Width+y.Width > kestrel.Width64 {
			return nil, fmt.Errorf("concat: %w: %d", kestrel.ErrInvalidWidth, x.Width+y.Width)
		}
		return x.Concat(y), nil
	})
}

func (v LatticeValue) combine(other LatticeValue, max int, fn func(x, y *kestrel.ConstantExpr) (*kestrel.ConstantExpr, error)) (LatticeValue, error) {
	switch {
	case v.kind == Join || other.kind == Join:
		return JoinValue(), nil
	case v.kind == Meet || other.kind == Meet:
		return MeetValue(), nil
	}

	a := make([]*kestrel.ConstantExpr, 0, len(v.values)*len(other.values))
	for _, x := range v.values {
		for _, y := range other.values {
			c, err := fn(x, y)
			if err != nil {
				return LatticeValue{}, err
			}
			a = append(a, c)
		}
	}
	return newValueSet(a, max), nil
}

// Map applies fn to every value of the set. Join and Meet are unchanged.
func (v LatticeValue) Map(max int, fn func(c *kestrel.ConstantExpr) *kestrel.ConstantExpr) LatticeValue {
	if v.kind != Values {
		return v
	}
	a := make([]*kestrel.ConstantExpr, len(v.values))
	for i, c := range v.values {
		a[i] = fn(c)
	}
	return newValueSet(a, max)
}

// EndianSwap reverses the byte order of every value. Values narrower than a
// byte are unchanged.
func (v LatticeValue) EndianSwap() (LatticeValue, error) {
	if v.kind != Values {
		return v, nil
	}

	a := make([]*kestrel.ConstantExpr, len(v.values))
	for i, c := range v.values {
		if c.Width < kestrel.Width8 {
			a[i] = c
			continue
		} else if c.Width%8 != 0 {
			return LatticeValue{}, fmt.Errorf("endian swap: %w: %d", kestrel.ErrInvalidWidth, c.Width)
		}

		var x uint64
		for shift := uint(0); shift < c.Width; shift += 8 {
			x = (x << 8) | ((c.Value >> shift) & 0xFF)
		}
		a[i] = kestrel.NewConstantExpr(x, c.Width)
	}
	return newValueSet(a, 0), nil
}

// String returns the string representation of the value.
func (v LatticeValue) String() string {
	switch v.kind {
	case Meet:
		return colorize.Lattice("⊥")
	case Join:
		return colorize.Lattice("⊤")
	default:
		a := make([]string, len(v.values))
		for i, c := range v.values {
			a[i] = c.String()
		}
		return "{" + strings.Join(a, ", ") + "}"
	}
}

// memoryCell is a value stored in abstract memory.
type memoryCell struct {
	value LatticeValue
	width uint
}

// size returns the number of bytes covered by the cell.
func (c memoryCell) size() uint64 { return uint64((c.width + 7) / 8) }

// LatticeAssignments maps scalars and memory cells to lattice values. Unbound
// scalars and unwritten cells are Meet.
//
// Assignments are backed by persistent maps so Clone is cheap. Once the
// abstract memory has been written through an unknown address it is
// invalidated and every load yields Join.
type LatticeAssignments struct {
	max       int
	variables *immutable.SortedMap // string -> LatticeValue
	cells     *immutable.SortedMap // uint64 -> memoryCell
	invalid   bool
}

// NewLatticeAssignments returns an empty set of assignments whose value sets
// widen to Join beyond max values.
func NewLatticeAssignments(max int) *LatticeAssignments {
	return &LatticeAssignments{
		max:       max,
		variables: immutable.NewSortedMap(&stringComparer{}),
		cells:     immutable.NewSortedMap(&uint64Comparer{}),
	}
}

// Max returns the widening bound.
func (s *LatticeAssignments) Max() int { return s.max }

// Clone returns an independent copy of s.
func (s *LatticeAssignments) Clone() *LatticeAssignments {
	other := *s
	return &other
}

// Get returns the value of the named scalar, if bound.
func (s *LatticeAssignments) Get(name string) (LatticeValue, bool) {
	v, ok := s.variables.Get(name)
	if !ok {
		return LatticeValue{}, false
	}
	return v.(LatticeValue), true
}

// Value returns the value of the named scalar or Meet if it is unbound.
func (s *LatticeAssignments) Value(name string) LatticeValue {
	v, _ := s.Get(name)
	return v
}

// Set binds the named scalar to v.
func (s *LatticeAssignments) Set(name string, v LatticeValue) {
	s.variables = s.variables.Set(name, v)
}

// Eval abstractly evaluates expr under the current assignments.
func (s *LatticeAssignments) Eval(expr kestrel.Expr) (LatticeValue, error) {
	switch expr := expr.(type) {
	case *kestrel.ConstantExpr:
		return NewLatticeValue(expr), nil

	case *kestrel.ScalarExpr:
		return s.Value(expr.Name), nil

	case *kestrel.BinaryExpr:
		lhs, err := s.Eval(expr.LHS)
		if err != nil {
			return LatticeValue{}, err
		}
		rhs, err := s.Eval(expr.RHS)
		if err != nil {
			return LatticeValue{}, err
		}
		return lhs.Binary(expr.Op, rhs, s.max)

	case *kestrel.NotExpr:
		v, err := s.Eval(expr.Expr)
		if err != nil {
			return LatticeValue{}, err
		}
		return v.Map(s.max, (*kestrel.ConstantExpr).Not), nil

	case *kestrel.CastExpr:
		v, err := s.Eval(expr.Src)
		if err != nil {
			return LatticeValue{}, err
		}
		return v.Map(s.max, func(c *kestrel.ConstantExpr) *kestrel.ConstantExpr {
			if expr.Signed {
				return c.SExt(expr.Width)
			}
			return c.ZExt(expr.Width)
		}), nil

	case *kestrel.ExtractExpr:
		v, err := s.Eval(expr.Expr)
		if err != nil {
			return LatticeValue{}, err
		}
		return v.Map(s.max, func(c *kestrel.ConstantExpr) *kestrel.ConstantExpr {
			return c.Extract(expr.Offset, expr.Width)
		}), nil

	case *kestrel.ConcatExpr:
		msb, err := s.Eval(expr.MSB)
		if err != nil {
			return LatticeValue{}, err
		}
		lsb, err := s.Eval(expr.LSB)
		if err != nil {
			return LatticeValue{}, err
		}
		return msb.Concat(lsb, s.max)

	default:
		return LatticeValue{}, fmt.Errorf("%w: %s", kestrel.ErrUnsupportedExpr, expr)
	}
}

// Store writes value, width bits wide, to every address in address.
//
// A single address replaces the previous cell. Several addresses may each be
// the target, so their cells are joined with value. A Join address may alias
// anything and invalidates all of memory. A Meet address is unreached and
// stores nothing.
func (s *LatticeAssignments) Store(address LatticeValue, value LatticeValue, width uint) {
	switch address.kind {
	case Meet:
		return
	case Join:
		s.invalid = true
		s.cells = immutable.NewSortedMap(&uint64Comparer{})
		return
	}
	if s.invalid {
		return
	}

	cell := memoryCell{value: value, width: width}
	strong := len(address.values) == 1
	for _, addr := range address.values {
		s.storeCell(addr.Value, cell, strong)
	}
}

func (s *LatticeAssignments) storeCell(addr uint64, cell memoryCell, strong bool) {
	end := addr + cell.size()

	// Cells partially covered by the write no longer hold a known value.
	// Cells fully covered are replaced.
	for _, k := range s.overlapping(addr, end) {
		if k == addr {
			continue
		}
		other, _ := s.cells.Get(k)
		c := other.(memoryCell)
		if strong && k >= addr && k+c.size() <= end {
			s.cells = s.cells.Delete(k)
		} else {
			s.cells = s.cells.Set(k, memoryCell{value: JoinValue(), width: c.width})
		}
	}

	if v, ok := s.cells.Get(addr); ok {
		prev := v.(memoryCell)
		switch {
		case prev.width > cell.width:
			cell = memoryCell{value: JoinValue(), width: prev.width}
		case !strong && prev.width == cell.width:
			cell.value = prev.value.Join(cell.value, s.max)
		case !strong:
			cell.value = JoinValue()
		}
	}
	s.cells = s.cells.Set(addr, cell)
}

// overlapping returns the addresses of cells that intersect [addr, end).
func (s *LatticeAssignments) overlapping(addr, end uint64) []uint64 {
	start := uint64(0)
	if addr > kestrel.Width64/8 {
		start = addr - kestrel.Width64/8
	}

	var a []uint64
	itr := s.cells.Iterator()
	itr.Seek(start)
	for !itr.Done() {
		k, v := itr.Next()
		key := k.(uint64)
		if key >= end {
			break
		} else if key+v.(memoryCell).size() > addr {
			a = append(a, key)
		}
	}
	return a
}

// Load reads width bits from every address in address and joins the results.
// Returns false if no address has been written, in which case the content is
// unknown.
func (s *LatticeAssignments) Load(address LatticeValue, width uint) (LatticeValue, bool) {
	if s.invalid || address.kind == Join {
		return JoinValue(), true
	} else if address.kind == Meet {
		return MeetValue(), true
	}

	var result LatticeValue
	var found bool
	for _, addr := range address.values {
		v, ok := s.loadCell(addr.Value, width)
		if !ok {
			continue
		}
		result, found = result.Join(v, s.max), true
	}
	return result, found
}

func (s *LatticeAssignments) loadCell(addr uint64, width uint) (LatticeValue, bool) {
	end := addr + uint64((width+7)/8)
	keys := s.overlapping(addr, end)
	if len(keys) == 0 {
		return LatticeValue{}, false
	} else if len(keys) > 1 || keys[0] != addr {
		return JoinValue(), true
	}

	v, _ := s.cells.Get(addr)
	if cell := v.(memoryCell); cell.width == width {
		return cell.value, true
	}
	return JoinValue(), true
}

// Equal returns true if s and other assign the same values.
func (s *LatticeAssignments) Equal(other *LatticeAssignments) bool {
	if s.invalid != other.invalid {
		return false
	} else if !equalSortedMaps(s.variables, other.variables, func(a, b interface{}) bool {
		return a.(LatticeValue).Equal(b.(LatticeValue))
	}) {
		return false
	}
	return equalSortedMaps(s.cells, other.cells, func(a, b interface{}) bool {
		x, y := a.(memoryCell), b.(memoryCell)
		return x.width == y.width && x.value.Equal(y.value)
	})
}

// Join returns the least upper bound of s and other. Bindings present on only
// one side are joined with Meet.
func (s *LatticeAssignments) Join(other *LatticeAssignments) *LatticeAssignments {
	result := s.Clone()

	itr := other.variables.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		result.Set(k.(string), result.Value(k.(string)).Join(v.(LatticeValue), s.max))
	}

	if other.invalid {
		result.invalid = true
		result.cells = immutable.NewSortedMap(&uint64Comparer{})
		return result
	} else if result.invalid {
		return result
	}

	itr = other.cells.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		addr, cell := k.(uint64), v.(memoryCell)
		if prev, ok := result.cells.Get(addr); ok {
			p := prev.(memoryCell)
			if p.width == cell.width {
				cell.value = p.value.Join(cell.value, s.max)
			} else if p.width > cell.width {
				cell = memoryCell{value: JoinValue(), width: p.width}
			} else {
				cell.value = JoinValue()
			}
		}
		result.cells = result.cells.Set(addr, cell)
	}
	return result
}

// String returns a listing of every binding.
func (s *LatticeAssignments) String() string {
	var buf bytes.Buffer
	itr := s.variables.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%s = %s\n", colorize.Variable(k.(string)), v.(LatticeValue))
	}

	if s.invalid {
		fmt.Fprintf(&buf, "[%s] = %s\n", colorize.Address("*"), JoinValue())
		return buf.String()
	}
	itr = s.cells.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		cell := v.(memoryCell)
		fmt.Fprintf(&buf, "[%s]:%d = %s\n", colorize.Address(fmt.Sprintf("0x%x", k.(uint64))), cell.width, cell.value)
	}
	return buf.String()
}

func equalSortedMaps(a, b *immutable.SortedMap, eq func(x, y interface{}) bool) bool {
	if a.Len() != b.Len() {
		return false
	}
	itrA, itrB := a.Iterator(), b.Iterator()
	for !itrA.Done() {
		ka, va := itrA.Next()
		kb, vb := itrB.Next()
		if ka != kb || !eq(va, vb) {
			return false
		}
	}
	return true
}

// stringComparer orders scalar names. Implements immutable.Comparer.
type stringComparer struct{}

func (c *stringComparer) Compare(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}

// uint64Comparer orders addresses. Implements immutable.Comparer.
type uint64Comparer struct{}

func (c *uint64Comparer) Compare(a, b interface{}) int {
	if x, y := a.(uint64), b.(uint64); x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
