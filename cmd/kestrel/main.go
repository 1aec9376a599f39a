package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/benbjohnson/kestrel"
	"github.com/benbjohnson/kestrel/ssail"
	"golang.org/x/tools/go/ssa"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "explore":
		return NewExploreCommand().Run(ctx, args)
	case "analyze":
		return NewAnalyzeCommand().Run(ctx, args)
	case "dot":
		return NewDotCommand().Run(ctx, args)
	case "ssa":
		return NewSSACommand().Run(ctx, args)
	default:
		return fmt.Errorf(`kestrel %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Kestrel is a tool for symbolic execution and value-set analysis of Go code.

Usage:

	kestrel <command> [arguments]

The commands are:

	explore     search for inputs reaching a panic or address
	analyze     print the value sets of a function
	dot         print or render a function's control-flow graph
	ssa         list a function's instructions and addresses
	help        this screen
`[1:])
}

// loadConfig returns the configuration at path, or the defaults if path is blank.
func loadConfig(path string) (kestrel.Config, error) {
	if path == "" {
		return kestrel.DefaultConfig(), nil
	}
	return kestrel.LoadConfig(path)
}

// loadFunction builds the package matching pattern and returns a translator
// for it along with the named function.
func loadFunction(dir, pattern, name string) (*ssail.Translator, *ssa.Function, error) {
	pkg, err := ssail.LoadPackage(dir, pattern)
	if err != nil {
		return nil, nil, err
	}

	fn := pkg.Func(name)
	if fn == nil {
		return nil, nil, fmt.Errorf("function not found: %s", name)
	}
	return ssail.NewTranslator(pkg), fn, nil
}

// translate lifts fn into IL.
func translate(t *ssail.Translator, fn *ssa.Function) (*kestrel.Function, error) {
	addr, ok := t.FunctionAddress(fn)
	if !ok {
		return nil, fmt.Errorf("no address: %s", fn)
	}
	return t.TranslateFunction(addr)
}
