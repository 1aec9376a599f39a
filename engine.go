package kestrel

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// SymbolicEngine holds the machine state of a single execution path: memory,
// the current value of every assigned scalar, and the path constraints
// accumulated at forks. Engines are never shared; use Clone before forking.
//
// Scalars that have never been assigned are treated as free symbolic inputs.
type SymbolicEngine struct {
	memory     *SymbolicMemory
	scalars    *immutable.SortedMap // string -> Expr
	assertions []Expr
}

// NewSymbolicEngine returns a new engine that owns memory.
func NewSymbolicEngine(memory *SymbolicMemory) *SymbolicEngine {
	return &SymbolicEngine{
		memory:  memory,
		scalars: immutable.NewSortedMap(&stringComparer{}),
	}
}

// Memory returns the memory owned by the engine.
func (e *SymbolicEngine) Memory() *SymbolicMemory { return e.memory }

// Clone returns an independent copy of the engine.
func (e *SymbolicEngine) Clone() *SymbolicEngine {
	assertions := make([]Expr, len(e.assertions))
	copy(assertions, e.assertions)

	return &SymbolicEngine{
		memory:     e.memory.Clone(),
		scalars:    e.scalars,
		assertions: assertions,
	}
}

// Scalar returns the current value of the named scalar.
func (e *SymbolicEngine) Scalar(name string) (Expr, bool) {
	v, ok := e.scalars.Get(name)
	if !ok {
		return nil, false
	}
	return v.(Expr), true
}

// SetScalar assigns value to the named scalar.
func (e *SymbolicEngine) SetScalar(name string, value Expr) {
	e.scalars = e.scalars.Set(name, value)
}

// ScalarNames returns the names of all assigned scalars in sorted order.
func (e *SymbolicEngine) ScalarNames() []string {
	a := make([]string, 0, e.scalars.Len())
	itr := e.scalars.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(string))
	}
	return a
}

// Assertions returns the path constraints in the order they were added.
func (e *SymbolicEngine) Assertions() []Expr { return e.assertions }

// AddAssertion appends a 1-bit path constraint. The expression must already be
// expressed in terms of free inputs, as returned by Symbolize. Constant true
// assertions carry no information and are dropped. A constant false is kept
// and marks the path as infeasible.
func (e *SymbolicEngine) AddAssertion(expr Expr) error {
	if w := ExprWidth(expr); w != WidthBool {
		return fmt.Errorf("assertion %s: %w: %d", expr, ErrInvalidWidth, w)
	}

	if expr, ok := expr.(*ConstantExpr); ok && expr.IsTrue() {
		return nil
	}
	e.assertions = append(e.assertions, expr)
	return nil
}

// Symbolize replaces every assigned scalar in expr with its current value.
// The result is expressed only in terms of free inputs and memory bytes.
func (e *SymbolicEngine) Symbolize(expr Expr) Expr {
	return ReplaceScalars(expr, func(s *ScalarExpr) Expr {
		if v, ok := e.Scalar(s.Name); ok {
			return v
		}
		return nil
	})
}

// Eval returns the concrete value of expr under the current state, if the
// expression does not depend on any free input.
func (e *SymbolicEngine) Eval(expr Expr) (*ConstantExpr, bool) {
	c, ok := e.Symbolize(expr).(*ConstantExpr)
	return c, ok
}

// Evaluate returns the value of the IL expression expr once every free input
// is bound to its value in model. Assertions are already symbolized and should
// be evaluated with EvaluateExpr instead.
func (e *SymbolicEngine) Evaluate(expr Expr, model map[string]uint64) (*ConstantExpr, error) {
	return EvaluateExpr(e.Symbolize(expr), model)
}

// Execute applies the data effects of op to the engine. Control flow is the
// responsibility of the caller, so Brc is rejected along with Phi.
func (e *SymbolicEngine) Execute(op Operation) error {
	switch op := op.(type) {
	case *Assign:
		e.SetScalar(op.Dst.Name, e.Symbolize(op.Src))
		return nil

	case *Store:
		address, err := e.concreteAddress("store", op.Address)
		if err != nil {
			return err
		}
		return e.memory.Store(address, e.Symbolize(op.Src))

	case *Load:
		address, err := e.concreteAddress("load", op.Address)
		if err != nil {
			return err
		}
		value, err := e.memory.Load(address, op.Dst.Width)
		if err != nil {
			return err
		}
		e.SetScalar(op.Dst.Name, value)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
	}
}

// concreteAddress evaluates an address expression, failing if it is symbolic.
func (e *SymbolicEngine) concreteAddress(op string, expr Expr) (uint64, error) {
	c, ok := e.Eval(expr)
	if !ok {
		return 0, &MemoryError{Op: op, Err: fmt.Errorf("%w: %s", ErrSymbolicAddress, e.Symbolize(expr))}
	}
	return c.Value, nil
}

// String returns a listing of the scalars and assertions of the engine.
func (e *SymbolicEngine) String() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "== SCALARS")
	itr := e.scalars.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%s = %s\n", k.(string), v.(Expr))
	}

	fmt.Fprintln(&buf, "== ASSERTIONS")
	for i, expr := range e.assertions {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr)
	}
	return buf.String()
}

// stringComparer orders scalar names. Implements immutable.Comparer.
type stringComparer struct{}

func (c *stringComparer) Compare(a, b interface{}) int {
	if x, y := a.(string), b.(string); x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
