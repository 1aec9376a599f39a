package ssail_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/kestrel"
	"github.com/benbjohnson/kestrel/analysis"
	"github.com/benbjohnson/kestrel/ssail"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/ssa"
)

// MustBuildTestdata builds the SSA package of a file under testdata.
func MustBuildTestdata(tb testing.TB, name string) *ssa.Package {
	tb.Helper()
	filename := filepath.Join("testdata", name)
	src, err := os.ReadFile(filename)
	if err != nil {
		tb.Fatal(err)
	}
	pkg, err := ssail.BuildSource(filename, src)
	if err != nil {
		tb.Fatal(err)
	}
	return pkg
}

// mustFunc returns the named function of pkg.
func mustFunc(tb testing.TB, pkg *ssa.Package, name string) *ssa.Function {
	tb.Helper()
	fn := pkg.Func(name)
	if fn == nil {
		tb.Fatalf("function not found: %s", name)
	}
	return fn
}

// instructionAddress returns the address of the first instruction of fn
// accepted by match.
func instructionAddress(tb testing.TB, tr *ssail.Translator, fn *ssa.Function, match func(ssa.Instruction) bool) uint64 {
	tb.Helper()
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if !match(instr) {
				continue
			}
			addr, ok := tr.InstructionAddress(instr)
			if !ok {
				tb.Fatalf("no address: %s", instr)
			}
			return addr
		}
	}
	tb.Fatalf("no matching instruction in %s", fn)
	return 0
}

func isPanic(instr ssa.Instruction) bool {
	_, ok := instr.(*ssa.Panic)
	return ok
}

func isReturn(instr ssa.Instruction) bool {
	_, ok := instr.(*ssa.Return)
	return ok
}

// findInstruction returns the location of the lifted instruction at address.
func findInstruction(tb testing.TB, g *kestrel.ControlFlowGraph, address uint64) kestrel.FunctionLocation {
	tb.Helper()
	for _, b := range g.Blocks() {
		for _, ins := range b.Instructions() {
			if ins.HasAddress && ins.Address == address {
				return kestrel.NewInstructionLocation(b.Index, ins.Index)
			}
		}
	}
	tb.Fatalf("no instruction at 0x%x", address)
	return kestrel.FunctionLocation{}
}

func TestTranslator_TranslateFunction(t *testing.T) {
	pkg := MustBuildTestdata(t, "ops.go")
	tr := ssail.NewTranslator(pkg)

	t.Run("OK", func(t *testing.T) {
		fn := mustFunc(t, pkg, "Check")
		addr, ok := tr.FunctionAddress(fn)
		if !ok {
			t.Fatal("expected function address")
		}

		f, err := tr.TranslateFunction(addr)
		if err != nil {
			t.Fatal(err)
		} else if f.Name != "Check" || f.Address != addr {
			t.Fatalf("unexpected function: %s@0x%x", f.Name, f.Address)
		}

		// IL blocks mirror SSA blocks and the panic is addressable.
		if got, want := len(f.Graph.Blocks()), len(fn.Blocks); got != want {
			t.Fatalf("block count: got %d, want %d", got, want)
		}
		loc := findInstruction(t, f.Graph, instructionAddress(t, tr, fn, isPanic))
		ins, err := loc.ResolveInstruction(f.Graph)
		if err != nil {
			t.Fatal(err)
		} else if ins.Comment != "panic" {
			t.Fatalf("unexpected instruction: %s", ins)
		}
	})

	t.Run("PhiCopyBlocks", func(t *testing.T) {
		fn := mustFunc(t, pkg, "Pick")
		addr, _ := tr.FunctionAddress(fn)
		f, err := tr.TranslateFunction(addr)
		if err != nil {
			t.Fatal(err)
		}

		// One copy block per incoming edge of the merge block.
		if got, want := len(f.Graph.Blocks()), len(fn.Blocks)+2; got != want {
			t.Fatalf("block count: got %d, want %d", got, want)
		}
	})

	t.Run("ErrFunctionNotFound", func(t *testing.T) {
		if _, err := tr.TranslateFunction(0x1234); !errors.Is(err, kestrel.ErrFunctionNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrUnsupportedInstruction", func(t *testing.T) {
		pkg, err := ssail.BuildSource("len.go", []byte("package p\n\nfunc Len(s []byte) int { return len(s) }\n"))
		if err != nil {
			t.Fatal(err)
		}
		tr := ssail.NewTranslator(pkg)
		addr, _ := tr.FunctionAddress(mustFunc(t, pkg, "Len"))
		if _, err := tr.TranslateFunction(addr); !errors.Is(err, ssail.ErrUnsupportedInstruction) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestTranslator_Loader(t *testing.T) {
	pkg := MustBuildTestdata(t, "ops.go")
	tr := ssail.NewTranslator(pkg)
	fn := mustFunc(t, pkg, "Mix")

	l, err := tr.Loader(fn)
	if err != nil {
		t.Fatal(err)
	}
	if addr, _ := tr.FunctionAddress(fn); l.ProgramEntry() != addr {
		t.Fatalf("unexpected entry: 0x%x", l.ProgramEntry())
	}

	// The counter and the package init guard each take a word.
	segments, err := l.Memory()
	if err != nil {
		t.Fatal(err)
	} else if len(segments) != 1 || segments[0].Address != ssail.DataBase || len(segments[0].Bytes) != 16 {
		t.Fatalf("unexpected segments: %+v", segments)
	}
	if addr, ok := tr.GlobalAddress(pkg.Var("counter")); !ok || addr < ssail.DataBase || addr >= ssail.DataBase+16 {
		t.Fatalf("unexpected counter address: 0x%x", addr)
	}

	p, err := tr.Platform(fn)
	if err != nil {
		t.Fatal(err)
	} else if diff := cmp.Diff([]*kestrel.ScalarExpr{
		kestrel.NewScalarExpr("Mix.a", 16),
		kestrel.NewScalarExpr("Mix.b", 16),
	}, p.SymbolicVariables()); diff != "" {
		t.Fatal(diff)
	}
}

func mix(a, b uint16) uint16 {
	return a&^b + uint16(int8(b))>>1 - a%3
}

func TestTranslator_Explore(t *testing.T) {
	pkg := MustBuildTestdata(t, "ops.go")

	for _, tt := range []struct {
		name    string
		sat     []map[string]uint64
		unsat   []map[string]uint64
		strict  bool
		explore kestrel.ExploreConfig
	}{
		{
			name:  "Check",
			sat:   []map[string]uint64{{"Check.x": 42}},
			unsat: []map[string]uint64{{"Check.x": 41}},
		},
		{
			name:   "Bump",
			sat:    []map[string]uint64{{"Bump.x": 11}, {"Bump.x": 0x7FFFFFFF}},
			unsat:  []map[string]uint64{{"Bump.x": 10}, {"Bump.x": 0xFFFFFFFF}},
			strict: true,
		},
		{
			name:  "Flip",
			sat:   []map[string]uint64{{"Flip.x": 5}},
			unsat: []map[string]uint64{{"Flip.x": 4}, {"Flip.x": 0xFB}},
		},
		{
			name:    "Deref",
			sat:     []map[string]uint64{{"Deref.x": 7}},
			unsat:   []map[string]uint64{{"Deref.x": 8}},
			strict:  true,
			explore: kestrel.ExploreConfig{Searcher: kestrel.SearcherDFS},
		},
		{
			name: "Sum",
			sat:  []map[string]uint64{{}},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tr := ssail.NewTranslator(pkg)
			fn := mustFunc(t, pkg, tt.name)

			c := kestrel.DefaultConfig().Memory
			c.Strict = tt.strict
			root, err := tr.NewRootDriver(fn, c)
			if err != nil {
				t.Fatal(err)
			}

			x, err := kestrel.NewExplorer(tt.explore)
			if err != nil {
				t.Fatal(err)
			}
			x.MaxGenerations = 10000

			result, err := x.Explore(context.Background(), root, instructionAddress(t, tr, fn, isPanic))
			if err != nil {
				t.Fatal(err)
			} else if result.Status != kestrel.ExploreFound {
				t.Fatalf("unexpected status: %s", result.Status)
			}

			report := result.Driver.Report()
			for _, model := range tt.sat {
				if _, ok, err := report.Evaluate(model); err != nil {
					t.Fatal(err)
				} else if !ok {
					t.Fatalf("expected %v to reach panic", model)
				}
			}
			for _, model := range tt.unsat {
				if _, ok, err := report.Evaluate(model); err != nil {
					t.Fatal(err)
				} else if ok {
					t.Fatalf("expected %v not to reach panic", model)
				}
			}
		})
	}

	t.Run("Mix", func(t *testing.T) {
		tr := ssail.NewTranslator(pkg)
		fn := mustFunc(t, pkg, "Mix")
		root, err := tr.NewRootDriver(fn, kestrel.DefaultConfig().Memory)
		if err != nil {
			t.Fatal(err)
		}

		result, err := (&kestrel.Explorer{MaxGenerations: 1000}).Explore(context.Background(), root, instructionAddress(t, tr, fn, isPanic))
		if err != nil {
			t.Fatal(err)
		} else if result.Status != kestrel.ExploreFound {
			t.Fatalf("unexpected status: %s", result.Status)
		}

		report := result.Driver.Report()
		for _, in := range [][2]uint16{{0x7ff2, 0}, {0x7ff2, 1}, {0x7ff2, 0x80}, {1, 2}, {0xFFFF, 0xFFFF}, {0x8000, 0x7F}} {
			_, ok, err := report.Evaluate(map[string]uint64{"Mix.a": uint64(in[0]), "Mix.b": uint64(in[1])})
			if err != nil {
				t.Fatal(err)
			} else if want := mix(in[0], in[1]) == 0x7ff2; ok != want {
				t.Fatalf("mix(0x%x, 0x%x): got %v, want %v", in[0], in[1], ok, want)
			}
		}
	})
}

func TestTranslator_ValueSet(t *testing.T) {
	pkg := MustBuildTestdata(t, "ops.go")
	tr := ssail.NewTranslator(pkg)
	fn := mustFunc(t, pkg, "Pick")

	addr, _ := tr.FunctionAddress(fn)
	f, err := tr.TranslateFunction(addr)
	if err != nil {
		t.Fatal(err)
	}

	result, err := analysis.Compute(f.Graph, 16, kestrel.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}

	loc := analysis.NewLocation(findInstruction(t, f.Graph, instructionAddress(t, tr, fn, isReturn)))
	want := analysis.NewLatticeValue(kestrel.NewConstantExpr(1, 32), kestrel.NewConstantExpr(2, 32))
	if v := result[loc].Value(ssail.ResultName(fn, 0)); !v.Equal(want) {
		t.Fatalf("unexpected result: %s", v)
	}
}
