package kestrel_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/kestrel"
	"github.com/google/go-cmp/cmp"
)

type mockLoader struct {
	segments []kestrel.Segment
	entry    uint64
	err      error
}

func (l *mockLoader) Memory() ([]kestrel.Segment, error) { return l.segments, l.err }
func (l *mockLoader) ProgramEntry() uint64              { return l.entry }

func TestLoadMemory(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(kestrel.Width64, kestrel.LittleEndian)
		loader := &mockLoader{segments: []kestrel.Segment{
			{Address: 0x100, Bytes: []byte{0x44, 0x33, 0x22, 0x11}},
			{Address: 0x200, Bytes: []byte{0xFF}},
		}}
		if err := kestrel.LoadMemory(m, loader); err != nil {
			t.Fatal(err)
		}

		if v, err := m.Load(0x100, 32); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(kestrel.Expr(kestrel.NewConstantExpr(0x11223344, 32)), v); diff != "" {
			t.Fatal(diff)
		} else if m.Len() != 5 {
			t.Fatalf("unexpected length: %d", m.Len())
		}
	})

	t.Run("Error", func(t *testing.T) {
		m := kestrel.NewSymbolicMemory(kestrel.Width64, kestrel.LittleEndian)
		errMarker := errors.New("marker")
		if err := kestrel.LoadMemory(m, &mockLoader{err: errMarker}); !errors.Is(err, errMarker) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestBasicPlatform_Initialize(t *testing.T) {
	sp := kestrel.NewScalarExpr("sp", 64)

	t.Run("OK", func(t *testing.T) {
		p := &kestrel.BasicPlatform{StackPointer: sp, StackTop: 0x8000, StackSize: 0x100}
		e := newEngine()
		if err := p.Initialize(e); err != nil {
			t.Fatal(err)
		}

		if c, ok := e.Eval(sp); !ok || c.Value != 0x8000 {
			t.Fatalf("unexpected stack pointer: %v", c)
		} else if !e.Memory().IsMapped(0x7F00) || !e.Memory().IsMapped(0x7FFF) || e.Memory().IsMapped(0x8000) {
			t.Fatal("unexpected stack range")
		}
	})

	t.Run("ErrStackSize", func(t *testing.T) {
		p := &kestrel.BasicPlatform{StackTop: 0x10, StackSize: 0x20}
		if err := p.Initialize(newEngine()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestNewRootDriver(t *testing.T) {
	in := kestrel.NewScalarExpr("in", 32)
	loader := &mockLoader{
		segments: []kestrel.Segment{{Address: 0x4000, Bytes: []byte{1, 2}}},
		entry:    0x1000,
	}
	platform := &kestrel.BasicPlatform{
		StackPointer: kestrel.NewScalarExpr("sp", 64),
		StackTop:     0x8000,
		StackSize:    0x10,
		Inputs:       []*kestrel.ScalarExpr{in},
	}

	t.Run("OK", func(t *testing.T) {
		c := kestrel.DefaultConfig().Memory
		c.Strict = true

		d, err := kestrel.NewRootDriver(newForkProgram(t), loader, nil, platform, c)
		if err != nil {
			t.Fatal(err)
		}

		if addr, ok := d.Address(); !ok || addr != 0x1000 {
			t.Fatalf("unexpected address: 0x%x", addr)
		} else if !d.Engine().Memory().Strict {
			t.Fatal("expected strict memory")
		} else if !d.Engine().Memory().IsMapped(0x4001) {
			t.Fatal("expected loaded segment")
		} else if diff := cmp.Diff([]*kestrel.ScalarExpr{in}, d.Report().Inputs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Translate", func(t *testing.T) {
		translator := &mockTranslator{functions: map[uint64]*kestrel.Function{0x1000: newLeafFunction(0x1000, "entry")}}
		d, err := kestrel.NewRootDriver(kestrel.NewProgram(), loader, translator, nil, kestrel.DefaultConfig().Memory)
		if err != nil {
			t.Fatal(err)
		} else if fn, err := d.Location().Function(d.Program()); err != nil {
			t.Fatal(err)
		} else if fn.Name != "entry" {
			t.Fatalf("unexpected function: %s", fn.Name)
		}
	})

	t.Run("ErrLocationNotFound", func(t *testing.T) {
		if _, err := kestrel.NewRootDriver(kestrel.NewProgram(), loader, nil, nil, kestrel.DefaultConfig().Memory); !errors.Is(err, kestrel.ErrLocationNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
