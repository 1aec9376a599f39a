package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/benbjohnson/kestrel"
	"github.com/benbjohnson/kestrel/analysis"
)

// AnalyzeCommand represents a command for printing the value sets of a function.
type AnalyzeCommand struct{}

// NewAnalyzeCommand returns a new instance of AnalyzeCommand.
func NewAnalyzeCommand() *AnalyzeCommand {
	return &AnalyzeCommand{}
}

// Run executes the "analyze" subcommand.
func (cmd *AnalyzeCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kestrel-analyze", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	configPath := fs.String("config", "", "config path")
	dir := fs.String("dir", "", "package directory")
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
	f, err := translate(t, fn)
	if err != nil {
		return err
	}

	result, err := analysis.ComputeWithOptions(f.Graph, analysis.OptionsFromConfig(config.Analysis))
	if err != nil {
		return err
	}

	for _, loc := range analysis.Locations(f.Graph) {
		fmt.Printf("%s\n%s\n", loc, result[loc])
	}
	return nil
}

func (cmd *AnalyzeCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: kestrel analyze [arguments] package function

Arguments:

	-config path
	    Read settings from a TOML file.
	-dir path
	    Directory the package pattern is relative to.
	-v
	    Enable verbose logging.
`[1:])
}
