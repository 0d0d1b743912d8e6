package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasmflow/analysis"
	"github.com/wippyai/wasmflow/errors"
	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

func (a *app) sectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections <module.wasm>",
		Short: "List sections with their byte offsets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.load(args[0])
			if err != nil {
				return err
			}
			p := a.printer(cmd, an)
			w := cmd.OutOrStdout()
			for i, sec := range an.Module().Sections {
				name := sec.ID.String()
				if sec.ID == wasm.SectionHeader {
					name = "header"
				}
				if sec.Name != "" {
					name += " " + strconv.Quote(sec.Name)
				}
				fmt.Fprintf(w, "%3d  %s  %s  size=%d  %s\n",
					i, p.st.addr.Render(hex(sec.Offset)), p.st.addr.Render(hex(sec.PayloadOffset)),
					len(sec.Payload), p.st.mnemonic.Render(name))
			}
			return nil
		},
	}
}

func (a *app) funcsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "funcs <module.wasm>",
		Short: "List functions in the combined index space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.load(args[0])
			if err != nil {
				return err
			}
			p := a.printer(cmd, an)
			w := cmd.OutOrStdout()

			start := map[uint32]bool{}
			for _, e := range an.Entries() {
				start[e.Index] = e.Start
			}
			for i := range an.Module().Functions {
				fn := &an.Module().Functions[i]
				fmt.Fprintf(w, "%4d  %s\n", fn.Index, funcSummary(p, an, fn, start[fn.Index]))
			}
			return nil
		},
	}
}

func funcSummary(p printer, an *analysis.Analysis, fn *wasm.Function, isStart bool) string {
	var tags []string
	if fn.Imported {
		tags = append(tags, "import")
	}
	if fn.Exported {
		tags = append(tags, "export")
	}
	if isStart {
		tags = append(tags, "start")
	}

	var b strings.Builder
	if !fn.Imported {
		fmt.Fprintf(&b, "%s  size=%-5d ", p.st.addr.Render(hex(fn.Offset)), fn.Size)
	} else {
		b.WriteString(strings.Repeat(" ", 8) + "  " + strings.Repeat(" ", 11))
	}
	b.WriteString(p.signature(fn))
	if len(tags) > 0 {
		b.WriteString("  [" + strings.Join(tags, ",") + "]")
	}
	if !fn.Imported {
		if ff, err := an.Flow(fn.Index); err == nil {
			fmt.Fprintf(&b, "  blocks=%d edges=%d", len(ff.Resolution.Blocks)-1, ff.Graph.Len())
		} else {
			b.WriteString("  " + p.st.err.Render("unresolved"))
		}
	}
	return b.String()
}

func (a *app) flowCmd() *cobra.Command {
	var edgesOnly bool
	cmd := &cobra.Command{
		Use:   "flow <module.wasm> <func>",
		Short: "Print a function listing annotated with control-flow edges",
		Long: `Print a function listing annotated with control-flow edges.

<func> is a combined function index, a function name, or a hex address
(0x...) inside the function's code.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.load(args[0])
			if err != nil {
				return err
			}
			fn, err := findFunction(an, args[1])
			if err != nil {
				return err
			}
			ff, err := an.Flow(fn.Index)
			if err != nil {
				return err
			}
			p := a.printer(cmd, an)
			w := cmd.OutOrStdout()
			if edgesOnly {
				writeEdges(w, ff.Graph.Edges())
				return nil
			}
			fmt.Fprintf(w, "%s %s\n", p.st.title.Render(fmt.Sprintf("func %d", fn.Index)), p.signature(fn))
			for i := range fn.Type.Params {
				fmt.Fprintf(w, "  param %s %s\n", fn.LocalName(uint32(i)), fn.Type.Params[i])
			}
			for i, t := range fn.Locals {
				fmt.Fprintf(w, "  local %s %s\n", fn.LocalName(uint32(len(fn.Type.Params)+i)), t)
			}
			for _, line := range p.listing(ff) {
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&edgesOnly, "edges", false, "print the edge list only")
	return cmd
}

func writeEdges(w io.Writer, edges []flow.Edge) {
	for _, e := range edges {
		if e.Kind == flow.TableJump {
			fmt.Fprintf(w, "%s -> %s  %s[%d]\n", hex(e.From), hex(e.To), e.Kind, e.Case)
			continue
		}
		fmt.Fprintf(w, "%s -> %s  %s\n", hex(e.From), hex(e.To), e.Kind)
	}
}

// findFunction accepts an index, an export or placeholder name, or a hex
// code address.
func findFunction(an *analysis.Analysis, ref string) (*wasm.Function, error) {
	if strings.HasPrefix(ref, "0x") {
		addr, err := strconv.ParseUint(ref[2:], 16, 32)
		if err != nil {
			return nil, errors.InvalidInput(errors.PhaseQuery, fmt.Sprintf("bad address %q", ref))
		}
		return an.FunctionContaining(uint32(addr))
	}
	if idx, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return an.Function(uint32(idx))
	}
	for i := range an.Module().Functions {
		if fn := &an.Module().Functions[i]; fn.Name == ref && !fn.Imported {
			return fn, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseQuery, "function", ref)
}

func (a *app) diagCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "diag <module.wasm>",
		Short: "Report sections and functions that failed to load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			an, err := a.load(args[0])
			if err != nil {
				return err
			}
			p := a.printer(cmd, an)
			w := cmd.OutOrStdout()
			diags := an.Diagnostics()
			for _, d := range diags {
				fmt.Fprintln(w, p.st.err.Render(d.String()))
			}
			fmt.Fprintf(w, "%d diagnostics\n", len(diags))
			if strict && len(diags) > 0 {
				return fmt.Errorf("%d diagnostics", len(diags))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when anything failed to load")
	return cmd
}
