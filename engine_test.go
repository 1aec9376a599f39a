package kestrel_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/kestrel"
	"github.com/google/go-cmp/cmp"
)

func newEngine() *kestrel.SymbolicEngine {
	return kestrel.NewSymbolicEngine(kestrel.NewSymbolicMemory(kestrel.Width64, kestrel.LittleEndian))
}

func TestSymbolicEngine_Execute(t *testing.T) {
	t.Run("Assign", func(t *testing.T) {
		in, x, y := kestrel.NewScalarExpr("in", 32), kestrel.NewScalarExpr("x", 32), kestrel.NewScalarExpr("y", 32)

		e := newEngine()
		if err := e.Execute(&kestrel.Assign{Dst: x, Src: kestrel.NewBinaryExpr(kestrel.ADD, in, kestrel.NewConstantExpr(1, 32))}); err != nil {
			t.Fatal(err)
		} else if err := e.Execute(&kestrel.Assign{Dst: y, Src: kestrel.NewBinaryExpr(kestrel.MUL, x, kestrel.NewConstantExpr(2, 32))}); err != nil {
			t.Fatal(err)
		}

		// y only depends on the free input.
		v, _ := e.Scalar("y")
		if diff := cmp.Diff([]*kestrel.ScalarExpr{in}, kestrel.FindScalars(v)); diff != "" {
			t.Fatal(diff)
		}

		c, err := e.Evaluate(y, map[string]uint64{"in": 4})
		if err != nil {
			t.Fatal(err)
		} else if c.Value != 10 {
			t.Fatalf("unexpected value: %d", c.Value)
		}

		if diff := cmp.Diff([]string{"x", "y"}, e.ScalarNames()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("StoreLoad", func(t *testing.T) {
		addr, v := kestrel.NewScalarExpr("addr", 64), kestrel.NewScalarExpr("v", 16)

		e := newEngine()
		e.SetScalar("addr", kestrel.NewConstantExpr(0x100, 64))
		if err := e.Execute(&kestrel.Store{Address: addr, Src: kestrel.NewConstantExpr(0xBEEF, 16)}); err != nil {
			t.Fatal(err)
		} else if err := e.Execute(&kestrel.Load{Dst: v, Address: addr}); err != nil {
			t.Fatal(err)
		}

		if c, ok := e.Eval(v); !ok {
			t.Fatal("expected concrete value")
		} else if c.Value != 0xBEEF {
			t.Fatalf("unexpected value: 0x%x", c.Value)
		}
	})

	t.Run("ErrSymbolicAddress", func(t *testing.T) {
		e := newEngine()
		err := e.Execute(&kestrel.Store{Address: kestrel.NewScalarExpr("p", 64), Src: kestrel.NewConstantExpr(1, 8)})

		var merr *kestrel.MemoryError
		if !errors.As(err, &merr) {
			t.Fatalf("unexpected error: %v", err)
		} else if !errors.Is(err, kestrel.ErrSymbolicAddress) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrUnsupportedOperation", func(t *testing.T) {
		e := newEngine()
		for _, op := range []kestrel.Operation{
			&kestrel.Brc{Target: kestrel.NewConstantExpr(0, 64), Condition: kestrel.NewBoolConstantExpr(true)},
			&kestrel.Phi{Dst: kestrel.NewScalarExpr("x", 8), Src: []*kestrel.ScalarExpr{kestrel.NewScalarExpr("y", 8)}},
		} {
			if err := e.Execute(op); !errors.Is(err, kestrel.ErrUnsupportedOperation) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}

func TestSymbolicEngine_AddAssertion(t *testing.T) {
	cond := kestrel.NewBinaryExpr(kestrel.EQ, kestrel.NewScalarExpr("in", 8), kestrel.NewConstantExpr(3, 8))

	t.Run("OK", func(t *testing.T) {
		e := newEngine()
		if err := e.AddAssertion(cond); err != nil {
			t.Fatal(err)
		} else if err := e.AddAssertion(kestrel.NewBoolConstantExpr(true)); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]kestrel.Expr{cond}, e.Assertions()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ConstantFalse", func(t *testing.T) {
		e := newEngine()
		if err := e.AddAssertion(kestrel.NewBoolConstantExpr(false)); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]kestrel.Expr{kestrel.NewBoolConstantExpr(false)}, e.Assertions()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrInvalidWidth", func(t *testing.T) {
		if err := newEngine().AddAssertion(kestrel.NewScalarExpr("in", 8)); !errors.Is(err, kestrel.ErrInvalidWidth) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSymbolicEngine_Clone(t *testing.T) {
	e := newEngine()
	e.SetScalar("x", kestrel.NewConstantExpr(1, 8))

	other := e.Clone()
	other.SetScalar("x", kestrel.NewConstantExpr(2, 8))
	if err := other.AddAssertion(kestrel.NewBinaryExpr(kestrel.EQ, kestrel.NewScalarExpr("in", 8), kestrel.NewConstantExpr(0, 8))); err != nil {
		t.Fatal(err)
	} else if err := other.Memory().Store(0x10, kestrel.NewConstantExpr(0xFF, 8)); err != nil {
		t.Fatal(err)
	}

	if v, _ := e.Scalar("x"); v.(*kestrel.ConstantExpr).Value != 1 {
		t.Fatalf("unexpected value: %s", v)
	} else if n := len(e.Assertions()); n != 0 {
		t.Fatalf("unexpected assertion count: %d", n)
	} else if e.Memory().IsMapped(0x10) {
		t.Fatal("expected original memory to be unchanged")
	}
}
