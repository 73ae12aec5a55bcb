// Package switching implements the adaptive kernel switching engine.
//
// An Engine holds every kernel of a registry and, between algorithm steps,
// asks a prediction module which implementation should run next. The module
// reads live statistics through property slots: graph properties (vertex and
// edge counts plus seven degree statistics for each of the abs, in and out
// degree distributions) computed once per loaded graph, and algorithm
// properties published by the running algorithm every step.
//
// During PrepareRun every slot the module declares is aliased to the
// module's own storage, so writing a slot is all it takes for the predictor
// to see the new value. CleanupRun releases the module and unbinds every
// slot, so no slot refers to module memory once the module is gone.
//
// Without a model the engine runs the kernel registered as "edge-list" and
// never switches.
package switching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
	"github.com/orneryd/kernelswitch/pkg/harness"
	"github.com/orneryd/kernelswitch/pkg/kernel"
	"github.com/orneryd/kernelswitch/pkg/predictor"
	"github.com/orneryd/kernelswitch/pkg/props"
	"github.com/orneryd/kernelswitch/pkg/statcache"
)

var tracer = otel.Tracer("github.com/orneryd/kernelswitch/pkg/switching")

// Names of the graph properties besides the degree statistics.
const (
	PropVertexCount = "vertex count"
	PropEdgeCount   = "edge count"
)

// StatNames lists the degree statistics in Summary field order.
var StatNames = []string{"min", "lower quantile", "mean", "median", "upper quantile", "max", "stddev"}

// DegreePropName returns the graph property name of a degree statistic,
// e.g. "median in degree".
func DegreePropName(stat string, kind graph.DegreeKind) string {
	return stat + " " + kind.String() + " degree"
}

// SummaryValues returns the statistics of s in StatNames order.
func SummaryValues(s graph.Summary) []float64 {
	return []float64{s.Min, s.LowerQuantile, s.Mean, s.Median, s.UpperQuantile, s.Max, s.StdDev}
}

// Options configures an Engine.
type Options struct {
	// ModelPath is the prediction module. Empty runs the default kernel.
	ModelPath string
	// LogPath receives the property log. Empty disables logging.
	LogPath string
	// Open opens ModelPath. Nil means predictor.Open.
	Open predictor.Opener
	// StatCache caches degree statistics by graph file. Optional.
	StatCache *statcache.Cache
}

// Implementation is a runnable kernel configuration.
type Implementation struct {
	// KernelID is the kernel's arena index in the registry.
	KernelID  int
	Name      string
	Kernel    kernel.Kernel
	WarpSize  int
	ChunkSize int
}

// Engine is a harness that switches kernels between steps. It is not safe
// for concurrent use.
type Engine struct {
	*harness.Harness

	registry *kernel.Registry
	opts     Options

	graphProps *props.Registry
	algoProps  *props.Registry
	vertices   *props.Slot
	edges      *props.Slot
	degrees    [][]*props.Slot // [kind][stat]
	stats      *statcache.Stats

	runID        string
	prepared     bool
	module       predictor.Module
	lookup       func() int32
	plog         *propLog
	impls        []Implementation
	active       int32
	defaultIndex int32
	step         int

	// Warp kernels referenced by a model read their sizes from here.
	warpSize  int
	chunkSize int
}

// New creates an engine over registry.
func New(backend accel.Backend, loader *graph.Loader, registry *kernel.Registry, opts Options) *Engine {
	if opts.Open == nil {
		opts.Open = predictor.Open
	}
	e := &Engine{
		Harness:      harness.New(backend, loader, nil),
		registry:     registry,
		opts:         opts,
		graphProps:   props.NewRegistry(),
		algoProps:    props.NewRegistry(),
		active:       -1,
		defaultIndex: -1,
		warpSize:     32,
		chunkSize:    32,
	}

	e.vertices = e.mustGraphProp(PropVertexCount)
	e.edges = e.mustGraphProp(PropEdgeCount)
	for _, kind := range graph.DegreeKinds {
		row := make([]*props.Slot, len(StatNames))
		for i, stat := range StatNames {
			row[i] = e.mustGraphProp(DegreePropName(stat, kind))
		}
		e.degrees = append(e.degrees, row)
	}

	e.SetRepresentationSource(e.representations)
	e.SetGraphHook(e.computeStatistics)
	return e
}

func (e *Engine) mustGraphProp(name string) *props.Slot {
	s, err := e.graphProps.Register(name)
	if err != nil {
		panic(err)
	}
	return s
}

// GraphProperties returns the graph property registry.
func (e *Engine) GraphProperties() *props.Registry { return e.graphProps }

// AlgorithmProperties returns the algorithm property registry.
func (e *Engine) AlgorithmProperties() *props.Registry { return e.algoProps }

// AlgorithmProperty registers an algorithm property. Names must be unique.
func (e *Engine) AlgorithmProperty(name string) (*props.Slot, error) {
	return e.algoProps.Register(name)
}

// representations returns what LoadGraph transfers: the representations of
// the run's implementations, or of every registered kernel before a run is
// prepared.
func (e *Engine) representations() []graph.Representation {
	var kernels []kernel.Kernel
	if len(e.impls) > 0 {
		for _, impl := range e.impls {
			if impl.Kernel != nil {
				kernels = append(kernels, impl.Kernel)
			}
		}
	} else {
		kernels = e.registry.Kernels()
	}

	var reps []graph.Representation
	for _, k := range kernels {
		if rep := k.Representation(); !slices.Contains(reps, rep) {
			reps = append(reps, rep)
		}
	}
	sort.Slice(reps, func(i, j int) bool {
		if reps[i].Format != reps[j].Format {
			return reps[i].Format < reps[j].Format
		}
		return reps[i].Direction < reps[j].Direction
	})
	return reps
}

// computeStatistics derives the graph properties of g, through the
// statistics cache when one is configured.
func (e *Engine) computeStatistics(g *graph.Graph) error {
	if e.opts.StatCache != nil && g.Path != "" {
		s, hit, err := e.opts.StatCache.Lookup(g.Path, g)
		if err != nil {
			return fmt.Errorf("statistics cache: %w", err)
		}
		if hit {
			log.Printf("[switching] degree statistics for %s loaded from cache", g.Path)
		}
		e.stats = s
	} else {
		e.stats = statcache.Compute(g)
	}
	e.writeGraphProperties()
	return nil
}

// writeGraphProperties copies the host-side statistics into the slots.
func (e *Engine) writeGraphProperties() {
	if e.stats == nil {
		return
	}
	e.vertices.Set(float64(e.stats.VertexCount))
	e.edges.Set(float64(e.stats.EdgeCount))
	for i, kind := range graph.DegreeKinds {
		for j, v := range SummaryValues(e.stats.Degrees[kind.String()]) {
			e.degrees[i][j].Set(v)
		}
	}
}

// PrepareRun loads the prediction module, binds properties and
// implementations, and opens the property log.
func (e *Engine) PrepareRun() error {
	if e.prepared {
		return ErrAlreadyPrepared
	}
	e.runID = uuid.New().String()
	_, span := tracer.Start(context.Background(), "switching.PrepareRun",
		trace.WithAttributes(
			attribute.String("run_id", e.runID),
			attribute.String("model", e.opts.ModelPath),
		))
	defer span.End()

	e.prepared = true
	e.impls = nil
	e.defaultIndex = -1
	e.active = -1

	unaliasedGraph := e.graphProps.Names()
	unaliasedAlgo := e.algoProps.Names()

	if e.opts.ModelPath != "" {
		var err error
		unaliasedGraph, unaliasedAlgo, err = e.setupPredictor(unaliasedGraph, unaliasedAlgo)
		if err != nil {
			span.RecordError(err)
			return err
		}
	} else {
		e.lookup = func() int32 { return predictor.NoChange }
		if id, ok := e.registry.ID(kernel.DefaultName); ok {
			e.impls = []Implementation{{KernelID: id, Name: kernel.DefaultName, Kernel: e.registry.At(id)}}
			e.defaultIndex = 0
		}
	}

	if e.opts.LogPath != "" {
		if err := e.setupLogging(unaliasedGraph, unaliasedAlgo); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if e.defaultIndex < 0 {
		span.RecordError(ErrMissingDefaultKernel)
		return ErrMissingDefaultKernel
	}

	e.writeGraphProperties()
	span.SetAttributes(attribute.Int("implementations", len(e.impls)))
	log.Printf("[switching] run %s prepared: %d implementations, model %q", e.runID, len(e.impls), e.opts.ModelPath)
	return nil
}

// setupPredictor opens the module and binds it. It returns the property
// names left unaliased.
func (e *Engine) setupPredictor(graphNames, algoNames []string) ([]string, []string, error) {
	m, err := e.opts.Open(e.opts.ModelPath)
	if err != nil {
		return nil, nil, err
	}
	e.module = m
	e.lookup = m.Predict

	missing := &BindingError{}
	aliased := make(map[string]bool)
	for name, storage := range m.Properties() {
		if s, ok := e.graphProps.Lookup(name); ok {
			s.Alias(storage)
		} else if s, ok := e.algoProps.Lookup(name); ok {
			s.Alias(storage)
		} else {
			missing.Properties = append(missing.Properties, name)
			continue
		}
		aliased[name] = true
	}

	descs := m.Implementations()
	if err := predictor.ValidateDescriptors(descs); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", predictor.ErrModuleLoad, e.opts.ModelPath, err)
	}
	e.impls = make([]Implementation, len(descs))
	for _, d := range descs {
		id, ok := e.registry.ID(d.Name)
		if !ok {
			missing.Implementations = append(missing.Implementations, d.Name)
			continue
		}
		k := e.registry.At(id)
		if wk, ok := k.(*kernel.Warp); ok {
			if d.WarpSize <= 0 {
				missing.WarpSizes = append(missing.WarpSizes, fmt.Sprintf("%s (index %d)", d.Name, d.Index))
			}
			wk.Bind(&e.warpSize, &e.chunkSize)
		}
		e.impls[d.Index] = Implementation{
			KernelID:  id,
			Name:      d.Name,
			Kernel:    k,
			WarpSize:  d.WarpSize,
			ChunkSize: d.ChunkSize,
		}
		if d.Name == kernel.DefaultName {
			e.defaultIndex = int32(d.Index)
		}
	}

	if len(missing.Properties) > 0 || len(missing.Implementations) > 0 || len(missing.WarpSizes) > 0 {
		sort.Strings(missing.Properties)
		sort.Strings(missing.Implementations)
		sort.Strings(missing.WarpSizes)
		for _, name := range missing.Properties {
			log.Printf("[switching] missing property: %s", name)
		}
		for _, name := range missing.Implementations {
			log.Printf("[switching] missing implementation: %s", name)
		}
		for _, name := range missing.WarpSizes {
			log.Printf("[switching] warp implementation without warp size: %s", name)
		}
		return nil, nil, missing
	}

	unaliased := func(names []string) []string {
		return slices.DeleteFunc(names, func(n string) bool { return aliased[n] })
	}
	return unaliased(graphNames), unaliased(algoNames), nil
}

// setupLogging opens the property log, wraps the predictor to record its
// results, and gives every unaliased property local storage so it can be
// logged.
func (e *Engine) setupLogging(graphNames, algoNames []string) error {
	plog, err := createPropLog(e.opts.LogPath)
	if err != nil {
		return err
	}
	e.plog = plog

	inner := e.lookup
	e.lookup = func() int32 {
		result := inner()
		e.plog.prediction(e.step, result)
		return result
	}

	for _, name := range graphNames {
		s, _ := e.graphProps.Lookup(name)
		s.Alias(new(float64))
	}
	for _, name := range algoNames {
		s, _ := e.algoProps.Lookup(name)
		s.Alias(new(float64))
	}
	return nil
}

// PredictInitial starts a run: it resets the step counter, logs all
// properties, and activates the predicted implementation, or the default
// one when the predictor returns NoChange.
func (e *Engine) PredictInitial() error {
	if !e.prepared {
		return ErrNotPrepared
	}
	e.step = 0
	if e.plog != nil {
		e.plog.graph(e.graphProps)
		e.plog.step(e.step, e.algoProps)
	}

	result := e.lookup()
	predictionsTotal.WithLabelValues("initial").Inc()
	if result == predictor.NoChange {
		result = e.defaultIndex
	}
	return e.activate(result)
}

// Predict advances one step and switches implementation if the predictor
// names a different one.
func (e *Engine) Predict() error {
	if !e.prepared {
		return ErrNotPrepared
	}
	e.step++
	if e.plog != nil {
		e.plog.step(e.step, e.algoProps)
	}

	result := e.lookup()
	if result == predictor.NoChange || result == e.active {
		predictionsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}
	predictionsTotal.WithLabelValues("switched").Inc()
	return e.activate(result)
}

func (e *Engine) activate(index int32) error {
	if index < 0 || int(index) >= len(e.impls) {
		return &PredictionRangeError{Index: index, Len: len(e.impls)}
	}
	impl := e.impls[index]
	prevKernel, prevWarp, prevChunk := e.Kernel(), e.warpSize, e.chunkSize
	e.SetKernel(impl.Kernel)
	e.warpSize = impl.WarpSize
	e.chunkSize = impl.ChunkSize
	if err := e.SetKernelConfig(impl.Kernel); err != nil {
		// Keep the previous implementation running as it was.
		e.SetKernel(prevKernel)
		e.warpSize, e.chunkSize = prevWarp, prevChunk
		return fmt.Errorf("configuring %s: %w", impl.Name, err)
	}
	e.active = index
	switchesTotal.WithLabelValues(impl.Name).Inc()
	return nil
}

// CleanupRun ends the run: it drops the implementations, releases the
// module, closes the log, and unbinds every property slot. It runs its
// whole teardown even after a failed PrepareRun.
func (e *Engine) CleanupRun() error {
	_, span := tracer.Start(context.Background(), "switching.CleanupRun",
		trace.WithAttributes(attribute.String("run_id", e.runID)))
	defer span.End()

	var errs []error
	e.impls = nil
	e.SetKernel(nil)

	if e.module != nil {
		if err := e.module.Close(); err != nil {
			if !errors.Is(err, predictor.ErrModuleUnload) {
				err = fmt.Errorf("%w: %s: %w", predictor.ErrModuleUnload, e.opts.ModelPath, err)
			}
			errs = append(errs, err)
		}
		e.module = nil
	}
	e.lookup = nil

	if e.plog != nil {
		if err := e.plog.Close(); err != nil {
			errs = append(errs, err)
		}
		e.plog = nil
	}

	e.graphProps.ResetAll()
	e.algoProps.ResetAll()
	e.prepared = false

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Active returns the active implementation index and the implementation.
func (e *Engine) Active() (int32, Implementation) {
	if e.active < 0 || int(e.active) >= len(e.impls) {
		return e.active, Implementation{}
	}
	return e.active, e.impls[e.active]
}

// Step returns the current step number.
func (e *Engine) Step() int { return e.step }

// Implementations returns the run's implementation list.
func (e *Engine) Implementations() []Implementation {
	return slices.Clone(e.impls)
}

// Sizes returns the warp and chunk sizes warp kernels currently read.
func (e *Engine) Sizes() (warp, chunk int) {
	return e.warpSize, e.chunkSize
}

var _ harness.Config = (*Engine)(nil)
