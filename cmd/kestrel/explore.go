package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/benbjohnson/kestrel"
	"github.com/benbjohnson/kestrel/ssail"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"
)

// ExploreCommand represents a command for searching inputs that reach a target.
type ExploreCommand struct{}

// NewExploreCommand returns a new instance of ExploreCommand.
func NewExploreCommand() *ExploreCommand {
	return &ExploreCommand{}
}

// Run executes the "explore" subcommand.
func (cmd *ExploreCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kestrel-explore", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	dump := fs.Bool("dump", false, "dump driver state")
	configPath := fs.String("config", "", "config path")
	dir := fs.String("dir", "", "package directory")
	target := fs.String("target", "", "target address")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 2 {
		return fmt.Errorf("package and function required")
	}

	if *verbose {
		kestrel.SetLogger(os.Stderr, 0)
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	t, fn, err := loadFunction(*dir, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	// Default to the first panic in the function.
	var addr uint64
	if *target != "" {
		if addr, err = strconv.ParseUint(*target, 0, 64); err != nil {
			return fmt.Errorf("invalid target: %w", err)
		}
	} else if addr, err = firstPanic(t, fn); err != nil {
		return err
	}

	root, err := t.NewRootDriver(fn, config.Memory)
	if err != nil {
		return err
	}

	x, err := kestrel.NewExplorer(config.Explore)
	if err != nil {
		return err
	}

	result, err := x.Explore(ctx, root, addr)
	if err != nil {
		return err
	}

	fmt.Printf("%s after %d generations\n", result.Status, result.Generations)
	for _, term := range result.Terminated {
		fmt.Printf("terminated at %s: %s\n", term.Driver.Location(), term.Err)
	}
	if result.Status != kestrel.ExploreFound {
		return nil
	}

	report := result.Driver.Report()
	for _, expr := range report.Assertions {
		fmt.Printf("assert %s\n", expr)
	}
	for _, in := range report.Inputs {
		fmt.Printf("input %s\n", in)
	}
	if *dump {
		fmt.Println(result.Driver.Dump())
	}
	return nil
}

// firstPanic returns the address of the first panic in fn.
func firstPanic(t *ssail.Translator, fn *ssa.Function) (uint64, error) {
	var addrs []uint64
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if _, ok := instr.(*ssa.Panic); !ok {
				continue
			}
			if addr, ok := t.InstructionAddress(instr); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	if len(addrs) == 0 {
		return 0, fmt.Errorf("%s: no panic found, specify -target", fn)
	}
	slices.Sort(addrs)
	return addrs[0], nil
}

func (cmd *ExploreCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: kestrel explore [arguments] package function

Arguments:

	-config path
	    Read settings from a TOML file.
	-dir path
	    Directory the package pattern is relative to.
	-target address
	    Address to reach. Defaults to the first panic.
	-dump
	    Dump the state of the driver reaching the target.
	-v
	    Enable verbose logging.
`[1:])
}
