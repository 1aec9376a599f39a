package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/benbjohnson/kestrel"
)

// DotCommand represents a command for printing a function's control-flow graph.
type DotCommand struct{}

// NewDotCommand returns a new instance of DotCommand.
func NewDotCommand() *DotCommand {
	return &DotCommand{}
}

// Run executes the "dot" subcommand.
func (cmd *DotCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kestrel-dot", flag.ContinueOnError)
	dir := fs.String("dir", "", "package directory")
	format := fs.String("format", "dot", "output format")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 2 {
		return fmt.Errorf("package and function required")
	}

	t, fn, err := loadFunction(*dir, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	f, err := translate(t, fn)
	if err != nil {
		return err
	}

	if *format == "dot" {
		fmt.Print(f.Graph.Dot(f.Name))
		return nil
	}
	return kestrel.RenderCFG(os.Stdout, f, *format)
}

func (cmd *DotCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: kestrel dot [arguments] package function

Arguments:

	-dir path
	    Directory the package pattern is relative to.
	-format name
	    Output format: dot, svg or png. Defaults to dot.
`[1:])
}
