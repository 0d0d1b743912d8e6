package analysis

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasmflow/flow"
	"github.com/wippyai/wasmflow/wasm"
)

// FunctionFlow is the recovered control flow of one defined function.
type FunctionFlow struct {
	Function   *wasm.Function
	Resolution *flow.Resolution
	Graph      *flow.Graph
}

// Analysis holds every table built by one Load. It is read-only and safe for
// concurrent queries.
type Analysis struct {
	module *wasm.Module
	raw    []byte
	table  wasm.OpcodeTable
	log    *zap.Logger

	// flows is indexed by combined function index; nil for imports and
	// functions whose body failed.
	flows []*FunctionFlow
	funcs funcIndex
	segs  dataIndex
	refs  map[uint32][]Ref
	diags []Diagnostic
}

// Load parses data and recovers the control flow of every defined function.
//
// Only a bad module header fails the load. Section failures and per-function
// decode or resolve failures are isolated and reported through Diagnostics;
// the remaining tables stay queryable.
func Load(data []byte, opts Options) (*Analysis, error) {
	log := opts.logger()
	table := opts.opcodes()

	log.Info("parsing module", zap.Int("size", len(data)))
	m, err := wasm.ParseWith(data, table)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		module: m,
		raw:    data,
		table:  table,
		log:    log,
		flows:  make([]*FunctionFlow, len(m.Functions)),
		refs:   make(map[uint32][]Ref),
	}

	failed := make(map[int64]bool)
	for _, err := range m.Errors {
		d := diagnose(err, m.NumImportedFuncs())
		if d.Function != NoFunction {
			failed[d.Function] = true
		}
		a.report(d)
	}

	a.funcs = buildFuncIndex(m.Functions)
	a.segs = buildDataIndex(m.Data)

	log.Info("resolving functions",
		zap.Int("defined", len(m.Functions)-int(m.NumImportedFuncs())),
		zap.Int("workers", opts.workers()))
	a.resolveAll(opts.workers(), failed)

	a.collectRefs()
	return a, nil
}

type job struct {
	fn   *wasm.Function
	flow *FunctionFlow
	err  error
}

// resolveAll runs every defined body through decode, resolve and synthesize.
// Each job owns its own slot, so results land in index order regardless of
// scheduling.
func (a *Analysis) resolveAll(workers int, failed map[int64]bool) {
	var jobs []*job
	for i := range a.module.Functions {
		fn := &a.module.Functions[i]
		if fn.Imported {
			continue
		}
		if failed[int64(fn.Index)] {
			a.log.Debug("skipping function with failed body", zap.Uint32("func", fn.Index))
			continue
		}
		jobs = append(jobs, &job{fn: fn})
	}

	queue := make(chan *job)
	var wg sync.WaitGroup
	for w := 0; w < workers && w < len(jobs); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				j.flow, j.err = a.resolve(j.fn)
			}
		}()
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()

	for _, j := range jobs {
		if j.err != nil {
			a.report(functionDiagnostic(j.err, j.fn.Index))
			continue
		}
		a.flows[j.fn.Index] = j.flow
		a.log.Debug("resolved function",
			zap.Uint32("func", j.fn.Index),
			zap.String("name", j.fn.Name),
			zap.Int("blocks", len(j.flow.Resolution.Blocks)),
			zap.Int("edges", j.flow.Graph.Len()))
	}
}

func (a *Analysis) resolve(fn *wasm.Function) (*FunctionFlow, error) {
	instrs, err := wasm.DecodeBody(a.table, fn.Code, fn.Offset)
	if err != nil {
		return nil, err
	}
	res, err := flow.Resolve(fn.Offset, instrs)
	if err != nil {
		return nil, err
	}
	return &FunctionFlow{
		Function:   fn,
		Resolution: res,
		Graph:      flow.Synthesize(a.table, res),
	}, nil
}

func (a *Analysis) report(d Diagnostic) {
	a.diags = append(a.diags, d)
	a.log.Warn("isolated failure",
		zap.String("kind", string(d.Kind)),
		zap.String("section", d.Section),
		zap.Int64("func", d.Function),
		zap.Int64("offset", d.Offset),
		zap.Error(d.Err))
}

// Module returns the parsed module tables.
func (a *Analysis) Module() *wasm.Module {
	return a.module
}

// Opcodes returns the decoder table the analysis was built with.
func (a *Analysis) Opcodes() wasm.OpcodeTable {
	return a.table
}

// Diagnostics returns every isolated failure in discovery order: section
// failures first, then function failures by index.
func (a *Analysis) Diagnostics() []Diagnostic {
	return a.diags
}
