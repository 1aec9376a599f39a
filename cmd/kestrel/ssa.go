package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/tools/go/ssa"
)

// SSACommand represents a command for listing a function's SSA instructions
// with the addresses they are lifted to.
type SSACommand struct{}

// NewSSACommand returns a new instance of SSACommand.
func NewSSACommand() *SSACommand {
	return &SSACommand{}
}

// Run executes the "ssa" subcommand.
func (cmd *SSACommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kestrel-ssa", flag.ContinueOnError)
	dir := fs.String("dir", "", "package directory")
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

	addr, _ := t.FunctionAddress(fn)
	fmt.Printf("%s @ 0x%X\n", fn, addr)
	for _, b := range fn.Blocks {
		fmt.Printf("%d: %s\n", b.Index, b.Comment)
		for _, instr := range b.Instrs {
			addr, _ := t.InstructionAddress(instr)
			if v, ok := instr.(ssa.Value); ok {
				fmt.Printf("\t%X %s = %s\n", addr, v.Name(), instr)
			} else {
				fmt.Printf("\t%X %s\n", addr, instr)
			}
		}
	}
	return nil
}

func (cmd *SSACommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: kestrel ssa [arguments] package function

Arguments:

	-dir path
	    Directory the package pattern is relative to.
`[1:])
}
