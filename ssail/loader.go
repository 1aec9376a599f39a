package ssail

import (
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"

	"github.com/benbjohnson/kestrel"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedTypesSizes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedDeps

// LoadPackage loads the package matching pattern relative to dir and builds
// its SSA form.
func LoadPackage(dir, pattern string) (*ssa.Package, error) {
	pkgs, err := packages.Load(&packages.Config{Mode: loadMode, Dir: dir}, pattern)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("errors encountered while loading packages")
	} else if len(pkgs) != 1 {
		return nil, fmt.Errorf("pattern %q matched %d packages", pattern, len(pkgs))
	}

	prog, ssapkgs := ssautil.AllPackages(pkgs, ssa.BuilderMode(0))
	prog.Build()
	return ssapkgs[0], nil
}

// BuildSource parses a single Go source file and builds its SSA form. The
// file may only import packages available to the default importer.
func BuildSource(filename string, src []byte) (*ssa.Package, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	pkg := types.NewPackage(f.Name.Name, f.Name.Name)
	conf := &types.Config{Importer: importer.Default()}
	ssapkg, _, err := ssautil.BuildPackage(conf, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		return nil, err
	}
	return ssapkg, nil
}

// Loader provides the zeroed data segment holding the package globals and
// the entry address of one function.
// Implements kestrel.Loader.
type Loader struct {
	segment kestrel.Segment
	entry   uint64
}

// Loader returns a loader that starts execution at fn.
func (t *Translator) Loader(fn *ssa.Function) (*Loader, error) {
	addr, ok := t.addrs[fn]
	if !ok {
		return nil, fmt.Errorf("%s: %w", fn, kestrel.ErrFunctionNotFound)
	}
	return &Loader{
		segment: kestrel.Segment{Address: DataBase, Bytes: make([]byte, t.dataEnd-DataBase)},
		entry:   addr,
	}, nil
}

// Memory returns the data segment.
func (l *Loader) Memory() ([]kestrel.Segment, error) {
	return []kestrel.Segment{l.segment}, nil
}

// ProgramEntry returns the entry function address.
func (l *Loader) ProgramEntry() uint64 { return l.entry }

// Platform returns a platform that reserves the stack used for local
// allocations and exposes the parameters of fn as symbolic inputs.
func (t *Translator) Platform(fn *ssa.Function) (*kestrel.BasicPlatform, error) {
	p := &kestrel.BasicPlatform{StackTop: StackTop, StackSize: StackSize}
	for _, param := range fn.Params {
		w, err := t.width(param.Type())
		if err != nil {
			return nil, fmt.Errorf("%s: param %s: %w", fn, param.Name(), err)
		}
		p.Inputs = append(p.Inputs, kestrel.NewScalarExpr(ScalarName(fn, param), w))
	}
	return p, nil
}

// NewRootDriver returns a driver positioned at the entry of fn, with memory
// configured by c.
func (t *Translator) NewRootDriver(fn *ssa.Function, c kestrel.MemoryConfig) (*kestrel.EngineDriver, error) {
	loader, err := t.Loader(fn)
	if err != nil {
		return nil, err
	}
	platform, err := t.Platform(fn)
	if err != nil {
		return nil, err
	}
	return kestrel.NewRootDriver(kestrel.NewProgram(), loader, t, platform, c)
}
