package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
	"github.com/orneryd/kernelswitch/pkg/kernel"
)

// recordingBackend counts partition requests and remembers the last
// programmed geometry.
type recordingBackend struct {
	*accel.HostBackend
	divisions []int
	blocks    []int
	threads   []int
	sharedMem int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{HostBackend: accel.NewHostBackend(accel.HostOptions{Workers: 2, MaxThreadsPerBlock: 4})}
}

func (r *recordingBackend) ComputeDivision(count int) accel.Division {
	r.divisions = append(r.divisions, count)
	return r.HostBackend.ComputeDivision(count)
}

func (r *recordingBackend) SetWorkSizes(dims int, blocks, threads []int, sharedMem int) error {
	r.blocks, r.threads, r.sharedMem = blocks, threads, sharedMem
	return r.HostBackend.SetWorkSizes(dims, blocks, threads, sharedMem)
}

var (
	edgeList = graph.Representation{Format: graph.EdgeList, Direction: graph.Forward}
	csr      = graph.Representation{Format: graph.CSR, Direction: graph.Forward}
)

// pathGraph has 10 vertices and 9 edges.
func pathGraph(t *testing.T) *graph.Graph {
	t.Helper()
	var edges []graph.Edge
	for i := 0; i < 9; i++ {
		edges = append(edges, graph.Edge{Src: uint32(i), Dst: uint32(i + 1)})
	}
	g, err := graph.New(10, edges)
	require.NoError(t, err)
	return g
}

// ============================================================================
// Work division
// ============================================================================

func TestHarness_WorkDivision(t *testing.T) {
	b := newRecordingBackend()
	k, err := kernel.NewBuilder(b).Make(nil, edgeList, kernel.Edge)
	require.NoError(t, err)
	h := New(b, graph.NewLoader(b), k)

	_, err = h.WorkDivision(kernel.Vertex)
	assert.ErrorIs(t, err, ErrNoGraph)

	require.NoError(t, h.LoadGraphFrom(context.Background(), pathGraph(t)))
	assert.Equal(t, []int{10, 9}, b.divisions, "computed once per load")

	vertex, err := h.WorkDivision(kernel.Vertex)
	require.NoError(t, err)
	assert.Equal(t, b.HostBackend.ComputeDivision(10), vertex)

	edge, err := h.WorkDivision(kernel.Edge)
	require.NoError(t, err)
	assert.Equal(t, b.HostBackend.ComputeDivision(9), edge)

	for i := 0; i < 3; i++ {
		_, err := h.WorkDivision(kernel.Vertex)
		require.NoError(t, err)
	}
	assert.Len(t, b.divisions, 2, "lookups do not recompute")

	_, err = h.WorkDivision(kernel.WorkDivision(5))
	assert.ErrorIs(t, err, ErrInvalidWorkDivision)

	assert.Equal(t, 10, h.VertexCount())
	assert.Equal(t, 9, h.EdgeCount())
	assert.Positive(t, h.TransferTime())
}

func TestHarness_SetKernelConfig(t *testing.T) {
	b := newRecordingBackend()
	builder := kernel.NewBuilder(b)
	k, err := builder.Make(nil, edgeList, kernel.Vertex, kernel.WithSharedMem(func(block int) int { return 10 * block }))
	require.NoError(t, err)

	h := New(b, graph.NewLoader(b), k)
	require.NoError(t, h.LoadGraphFrom(context.Background(), pathGraph(t)))

	require.NoError(t, h.SetKernelConfig(k))
	assert.Equal(t, []int{3}, b.blocks)
	assert.Equal(t, []int{4}, b.threads)
	assert.Equal(t, 40, b.sharedMem)

	require.NoError(t, h.SetDivisionConfig(kernel.Edge, 7))
	assert.Equal(t, []int{3}, b.blocks)
	assert.Equal(t, 7, b.sharedMem)

	assert.ErrorIs(t, h.SetDivisionConfig(kernel.WorkDivision(-1), 0), ErrInvalidWorkDivision)
}

func TestHarness_RunLifecycle(t *testing.T) {
	b := newRecordingBackend()
	builder := kernel.NewBuilder(b)

	k, err := builder.Make(func(th accel.Thread, g graph.CSRView, out *accel.Buffer[uint32]) {
		if v := th.Global(); v < g.VertexCount {
			out.Data()[v] = uint32(len(g.Neighbours(v)))
		}
	}, csr, kernel.Vertex)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n0 2\n1 2\n"), 0644))

	cfg := ForKernel(b, graph.NewLoader(b), k)
	require.IsType(t, &Harness{}, cfg)
	require.NoError(t, cfg.LoadGraph(context.Background(), path))
	defer cfg.FreeGraph()

	out, err := accel.NewBuffer[uint32](b, 3)
	require.NoError(t, err)
	defer out.Free()

	err = WithRun(cfg, func() error {
		if err := cfg.PredictInitial(); err != nil {
			return err
		}
		if err := cfg.RunKernel(out); err != nil {
			return err
		}
		return cfg.Predict()
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 1, 0}, out.Data())

	slot, err := cfg.AlgorithmProperty("frontier")
	require.NoError(t, err)
	slot.Set(3)
	assert.False(t, slot.Bound())
	assert.Equal(t, 0.0, slot.Value())
}

func TestHarness_NoKernel(t *testing.T) {
	b := newRecordingBackend()
	h := New(b, graph.NewLoader(b), nil)
	require.NoError(t, h.LoadGraphFrom(context.Background(), pathGraph(t)))
	assert.ErrorIs(t, h.PredictInitial(), ErrNoKernel)
	assert.ErrorIs(t, h.RunKernel(), ErrNoKernel)
}

func TestHarness_FreeGraph(t *testing.T) {
	b := newRecordingBackend()
	k, err := kernel.NewBuilder(b).Make(nil, csr, kernel.Vertex)
	require.NoError(t, err)
	h := New(b, graph.NewLoader(b), k)

	require.NoError(t, h.LoadGraphFrom(context.Background(), pathGraph(t)))
	assert.Positive(t, b.Allocated())

	h.FreeGraph()
	assert.Equal(t, int64(0), b.Allocated())
	_, err = h.WorkDivision(kernel.Vertex)
	assert.ErrorIs(t, err, ErrNoGraph)
}

func TestHarness_GraphHookAndRepresentations(t *testing.T) {
	b := newRecordingBackend()
	h := New(b, graph.NewLoader(b), nil)

	var hooked *graph.Graph
	h.SetRepresentationSource(func() []graph.Representation { return []graph.Representation{edgeList, csr} })
	h.SetGraphHook(func(g *graph.Graph) error {
		hooked = g
		assert.Empty(t, b.divisions, "hook runs before partitioning")
		return nil
	})

	g := pathGraph(t)
	require.NoError(t, h.LoadGraphFrom(context.Background(), g))
	assert.Same(t, g, hooked)

	for _, rep := range []graph.Representation{edgeList, csr} {
		_, err := h.Loader().View(rep)
		assert.NoError(t, err, rep.String())
	}

	boom := errors.New("boom")
	h.SetGraphHook(func(*graph.Graph) error { return boom })
	assert.ErrorIs(t, h.LoadGraphFrom(context.Background(), g), boom)
}

// ============================================================================
// Warp harness
// ============================================================================

func TestWarpHarness(t *testing.T) {
	b := newRecordingBackend()
	var seen [2]int
	wk, err := kernel.NewBuilder(b).MakeWarp(func(warp, chunk int, g graph.CSRView) {
		seen = [2]int{warp, chunk}
	}, csr, kernel.Vertex, func(chunk int) int { return chunk })
	require.NoError(t, err)

	cfg := ForKernel(b, graph.NewLoader(b), wk)
	w, ok := cfg.(*WarpHarness)
	require.True(t, ok, "warp kernels get a warp harness")
	assert.Equal(t, 32, w.WarpSize())
	assert.Equal(t, 32, w.ChunkSize())

	require.NoError(t, w.LoadGraphFrom(context.Background(), pathGraph(t)))
	assert.ErrorIs(t, w.PredictInitial(), kernel.ErrUnbound, "unbound before PrepareRun")

	require.NoError(t, w.PrepareRun())
	w.SetWarpSize(2)
	w.SetChunkSize(5)

	require.NoError(t, w.PredictInitial())
	assert.Equal(t, (4/2)*5, b.sharedMem, "rebinding reflects later option changes")

	require.NoError(t, w.RunKernel())
	assert.Equal(t, [2]int{2, 5}, seen)

	w.SetWarpSize(4)
	require.NoError(t, w.RunKernel())
	assert.Equal(t, [2]int{4, 5}, seen)
}

// ============================================================================
// WithRun
// ============================================================================

type lifecycle struct {
	*Harness
	prepareErr, cleanupErr error
	cleanups               int
}

func (l *lifecycle) PrepareRun() error { return l.prepareErr }

func (l *lifecycle) CleanupRun() error {
	l.cleanups++
	return l.cleanupErr
}

func TestWithRun(t *testing.T) {
	prepare := errors.New("prepare")
	run := errors.New("run")
	cleanup := errors.New("cleanup")

	t.Run("cleanup after prepare failure", func(t *testing.T) {
		l := &lifecycle{Harness: &Harness{}, prepareErr: prepare}
		called := false
		err := WithRun(l, func() error { called = true; return nil })
		assert.ErrorIs(t, err, prepare)
		assert.False(t, called)
		assert.Equal(t, 1, l.cleanups)
	})

	t.Run("cleanup after run failure", func(t *testing.T) {
		l := &lifecycle{Harness: &Harness{}, cleanupErr: cleanup}
		err := WithRun(l, func() error { return run })
		assert.ErrorIs(t, err, run)
		assert.ErrorIs(t, err, cleanup)
		assert.Equal(t, 1, l.cleanups)
	})

	t.Run("success", func(t *testing.T) {
		l := &lifecycle{Harness: &Harness{}}
		assert.NoError(t, WithRun(l, func() error { return nil }))
		assert.Equal(t, 1, l.cleanups)
	})
}
