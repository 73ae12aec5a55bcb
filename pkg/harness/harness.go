// Package harness binds kernels to launch geometry and drives graph runs.
//
// A Harness owns the graph loader and everything it transfers to the
// device. Loading a graph computes the vertex and edge launch partitions
// once; SetKernelConfig then programs the backend with the partition that
// matches a kernel's work division and the shared memory the kernel asks
// for.
//
// Algorithms drive a harness through Config:
//
//	cfg := harness.ForKernel(backend, loader, k)
//	if err := cfg.LoadGraph(ctx, path); err != nil { ... }
//	defer cfg.FreeGraph()
//	err := harness.WithRun(cfg, func() error {
//		if err := cfg.PredictInitial(); err != nil {
//			return err
//		}
//		for !done {
//			if err := cfg.RunKernel(args...); err != nil {
//				return err
//			}
//			if err := cfg.Predict(); err != nil {
//				return err
//			}
//		}
//		return nil
//	})
//
// The plain harness runs one kernel throughout: PredictInitial programs its
// geometry and Predict does nothing. The switching engine implements the
// same interface with per-step reselection.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
	"github.com/orneryd/kernelswitch/pkg/kernel"
	"github.com/orneryd/kernelswitch/pkg/props"
)

// Errors returned by the harness.
var (
	ErrInvalidWorkDivision = errors.New("harness: invalid work division")
	ErrNoKernel            = errors.New("harness: no kernel selected")
	ErrNoGraph             = errors.New("harness: no graph loaded")
)

// Config is the run lifecycle an algorithm drives.
type Config interface {
	// LoadGraph reads a graph file and transfers it to the device.
	LoadGraph(ctx context.Context, path string) error
	// LoadGraphFrom transfers an already-built graph.
	LoadGraphFrom(ctx context.Context, g *graph.Graph) error
	// FreeGraph releases the transferred graph.
	FreeGraph()

	// PrepareRun and CleanupRun bracket one run. See WithRun.
	PrepareRun() error
	CleanupRun() error

	// PredictInitial selects and configures the first kernel of a run.
	PredictInitial() error
	// Predict reselects the kernel between algorithm steps.
	Predict() error
	// RunKernel launches the selected kernel.
	RunKernel(args ...any) error

	// AlgorithmProperty returns the slot the algorithm publishes the named
	// per-step statistic through.
	AlgorithmProperty(name string) (*props.Slot, error)

	VertexCount() int
	EdgeCount() int
}

var tracer = otel.Tracer("github.com/orneryd/kernelswitch/pkg/harness")

// Harness runs a single kernel.
type Harness struct {
	backend accel.Backend
	loader  *graph.Loader
	kernel  kernel.Kernel

	vertexCount, edgeCount       int
	vertexDivision, edgeDivision accel.Division
	loaded                       bool
	transferTime                 time.Duration

	reps      func() []graph.Representation
	graphHook func(g *graph.Graph) error
}

// New creates a harness for k. The harness takes ownership of loader.
func New(backend accel.Backend, loader *graph.Loader, k kernel.Kernel) *Harness {
	return &Harness{backend: backend, loader: loader, kernel: k}
}

// Backend returns the accelerator backend.
func (h *Harness) Backend() accel.Backend { return h.backend }

// Loader returns the graph loader.
func (h *Harness) Loader() *graph.Loader { return h.loader }

// Kernel returns the selected kernel.
func (h *Harness) Kernel() kernel.Kernel { return h.kernel }

// SetKernel selects k for subsequent launches.
func (h *Harness) SetKernel(k kernel.Kernel) { h.kernel = k }

// SetRepresentationSource overrides which representations LoadGraph loads
// and transfers. By default only the selected kernel's.
func (h *Harness) SetRepresentationSource(fn func() []graph.Representation) {
	h.reps = fn
}

// SetGraphHook installs fn to run on every graph after its representations
// are loaded and before they are transferred.
func (h *Harness) SetGraphHook(fn func(g *graph.Graph) error) {
	h.graphHook = fn
}

func (h *Harness) representations() []graph.Representation {
	if h.reps != nil {
		return h.reps()
	}
	if h.kernel == nil {
		return nil
	}
	return []graph.Representation{h.kernel.Representation()}
}

// LoadGraph implements Config.
func (h *Harness) LoadGraph(ctx context.Context, path string) error {
	g, err := graph.LoadFile(path)
	if err != nil {
		return err
	}
	return h.LoadGraphFrom(ctx, g)
}

// LoadGraphFrom implements Config. The launch partitions are computed once
// here and reused by every SetKernelConfig until the next load.
func (h *Harness) LoadGraphFrom(ctx context.Context, g *graph.Graph) error {
	_, span := tracer.Start(ctx, "harness.LoadGraph",
		trace.WithAttributes(
			attribute.String("load_id", uuid.New().String()),
			attribute.String("graph", g.Path),
			attribute.Int("vertices", g.VertexCount),
			attribute.Int("edges", g.EdgeCount),
		))
	defer span.End()

	reps := h.representations()
	if err := h.loader.Load(g, reps...); err != nil {
		span.RecordError(err)
		return err
	}
	if h.graphHook != nil {
		if err := h.graphHook(g); err != nil {
			span.RecordError(err)
			return err
		}
	}

	h.vertexCount = g.VertexCount
	h.edgeCount = g.EdgeCount
	h.vertexDivision = h.backend.ComputeDivision(h.vertexCount)
	h.edgeDivision = h.backend.ComputeDivision(h.edgeCount)
	h.loaded = true

	start := time.Now()
	for _, rep := range reps {
		if err := h.loader.Transfer(rep); err != nil {
			span.RecordError(err)
			return err
		}
	}
	h.transferTime = time.Since(start)
	graphTransferSeconds.WithLabelValues(h.backend.Name()).Observe(h.transferTime.Seconds())
	span.SetAttributes(attribute.Int64("transfer_ns", h.transferTime.Nanoseconds()))

	log.Printf("[harness] graph %q: %d vertices, %d edges, %d representations transferred in %v",
		g.Path, h.vertexCount, h.edgeCount, len(reps), h.transferTime)
	return nil
}

// FreeGraph implements Config.
func (h *Harness) FreeGraph() {
	h.loader.Free()
	h.loaded = false
}

// VertexCount returns the loaded graph's vertex count.
func (h *Harness) VertexCount() int { return h.vertexCount }

// EdgeCount returns the loaded graph's edge count.
func (h *Harness) EdgeCount() int { return h.edgeCount }

// TransferTime returns how long the last graph transfer took.
func (h *Harness) TransferTime() time.Duration { return h.transferTime }

// WorkDivision returns the launch partition for w.
func (h *Harness) WorkDivision(w kernel.WorkDivision) (accel.Division, error) {
	if !h.loaded {
		return accel.Division{}, ErrNoGraph
	}
	switch w {
	case kernel.Vertex:
		return h.vertexDivision, nil
	case kernel.Edge:
		return h.edgeDivision, nil
	default:
		return accel.Division{}, fmt.Errorf("%w: %s", ErrInvalidWorkDivision, w)
	}
}

// SetKernelConfig programs the backend for k: the partition of its work
// division and the shared memory it needs for that partition's block size.
func (h *Harness) SetKernelConfig(k kernel.Kernel) error {
	div, err := h.WorkDivision(k.WorkDivision())
	if err != nil {
		return err
	}
	sharedMem, err := k.SharedMemSize(div.ThreadsPerBlock)
	if err != nil {
		return err
	}
	return h.backend.SetWorkSizes(1, []int{div.Blocks}, []int{div.ThreadsPerBlock}, sharedMem)
}

// SetDivisionConfig programs the backend for w with an explicit shared
// memory size.
func (h *Harness) SetDivisionConfig(w kernel.WorkDivision, sharedMem int) error {
	div, err := h.WorkDivision(w)
	if err != nil {
		return err
	}
	return h.backend.SetWorkSizes(1, []int{div.Blocks}, []int{div.ThreadsPerBlock}, sharedMem)
}

// PrepareRun implements Config.
func (h *Harness) PrepareRun() error { return nil }

// CleanupRun implements Config.
func (h *Harness) CleanupRun() error { return nil }

// PredictInitial implements Config by configuring the single kernel.
func (h *Harness) PredictInitial() error {
	if h.kernel == nil {
		return ErrNoKernel
	}
	return h.SetKernelConfig(h.kernel)
}

// Predict implements Config. A single-kernel harness never switches.
func (h *Harness) Predict() error { return nil }

// RunKernel implements Config.
func (h *Harness) RunKernel(args ...any) error {
	if h.kernel == nil {
		return ErrNoKernel
	}
	return h.kernel.Run(h.loader, args...)
}

// AlgorithmProperty implements Config. Without a prediction model nothing
// reads algorithm properties, so the slot is standalone and unbound.
func (h *Harness) AlgorithmProperty(name string) (*props.Slot, error) {
	return props.NewSlot(name), nil
}

// WarpHarness runs a single warp kernel with configurable sizes.
type WarpHarness struct {
	*Harness
	warp      *kernel.Warp
	warpSize  int
	chunkSize int
}

// NewWarp creates a harness for the warp kernel k with warp and chunk
// sizes of 32.
func NewWarp(backend accel.Backend, loader *graph.Loader, k *kernel.Warp) *WarpHarness {
	return &WarpHarness{
		Harness:   New(backend, loader, k),
		warp:      k,
		warpSize:  32,
		chunkSize: 32,
	}
}

// WarpSize returns the configured warp size.
func (w *WarpHarness) WarpSize() int { return w.warpSize }

// ChunkSize returns the configured chunk size.
func (w *WarpHarness) ChunkSize() int { return w.chunkSize }

// SetWarpSize sets the warp size. Kernels bound by PrepareRun see the change.
func (w *WarpHarness) SetWarpSize(n int) { w.warpSize = n }

// SetChunkSize sets the chunk size. Kernels bound by PrepareRun see the change.
func (w *WarpHarness) SetChunkSize(n int) { w.chunkSize = n }

// PrepareRun binds the kernel's sizes to the harness options.
func (w *WarpHarness) PrepareRun() error {
	w.warp.Bind(&w.warpSize, &w.chunkSize)
	return nil
}

// ForKernel returns a WarpHarness for warp kernels and a Harness otherwise.
func ForKernel(backend accel.Backend, loader *graph.Loader, k kernel.Kernel) Config {
	if wk, ok := k.(*kernel.Warp); ok {
		return NewWarp(backend, loader, wk)
	}
	return New(backend, loader, k)
}

// WithRun runs fn between PrepareRun and CleanupRun. CleanupRun always
// runs, also when PrepareRun or fn fail; all errors are returned joined.
func WithRun(cfg Config, fn func() error) error {
	if err := cfg.PrepareRun(); err != nil {
		return errors.Join(err, cfg.CleanupRun())
	}
	err := fn()
	return errors.Join(err, cfg.CleanupRun())
}

var (
	_ Config = (*Harness)(nil)
	_ Config = (*WarpHarness)(nil)
)
