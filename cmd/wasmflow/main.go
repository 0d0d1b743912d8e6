package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasmflow"
	"github.com/wippyai/wasmflow/analysis"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand.
type app struct {
	log     *zap.Logger
	color   string
	workers int
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "wasmflow",
		Short:         "Recover and browse control flow in WebAssembly modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch a.color {
			case "auto", "always", "never":
			default:
				return fmt.Errorf("invalid --color %q: want auto, always or never", a.color)
			}
			if a.verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("create logger: %w", err)
				}
				a.log = l
			} else {
				a.log = zap.NewNop()
			}
			analysis.SetLogger(a.log)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log load progress to stderr")
	flags.IntVarP(&a.workers, "workers", "w", runtime.NumCPU(), "function bodies resolved concurrently")
	flags.StringVar(&a.color, "color", "auto", "colorize output: auto, always or never")

	root.AddCommand(
		a.sectionsCmd(),
		a.funcsCmd(),
		a.flowCmd(),
		a.diagCmd(),
		a.browseCmd(),
	)
	return root
}

func (a *app) load(path string) (*analysis.Analysis, error) {
	opts := analysis.DefaultOptions()
	opts.Logger = a.log
	opts.Workers = a.workers
	return wasmflow.LoadFile(path, opts)
}

// useColor resolves --color against the output stream.
func (a *app) useColor(cmd *cobra.Command) bool {
	switch a.color {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *app) printer(cmd *cobra.Command, an *analysis.Analysis) printer {
	return printer{a: an, st: newStyles(a.useColor(cmd))}
}
