package bfs

import (
	"sync/atomic"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
	"github.com/orneryd/kernelswitch/pkg/kernel"
)

// Kernel names, as prediction modules refer to them.
const (
	EdgeList = kernel.DefaultName
	CSR      = "csr"
	RevCSR   = "rev-csr"
	WarpCSR  = "warp-csr"
)

// Unvisited is the level of a vertex not reached yet.
const Unvisited int32 = -1

var (
	edgeListRep = graph.Representation{Format: graph.EdgeList, Direction: graph.Forward}
	csrRep      = graph.Representation{Format: graph.CSR, Direction: graph.Forward}
	revCSRRep   = graph.Representation{Format: graph.CSR, Direction: graph.Reverse}
)

// visit claims v for level and counts it in next.
func visit(levels []int32, v uint32, level int32, next []uint64) bool {
	if atomic.CompareAndSwapInt32(&levels[v], Unvisited, level) {
		atomic.AddUint64(&next[0], 1)
		return true
	}
	return false
}

// edgeListStep scans every edge and pushes from frontier sources.
func edgeListStep(th accel.Thread, g graph.EdgeListView, levels *accel.Buffer[int32], depth int32, next *accel.Buffer[uint64]) {
	lv, src, dst, n := levels.Data(), g.Src.Data(), g.Dst.Data(), next.Data()
	for i := th.Global(); i < g.EdgeCount; i += th.Stride() {
		if atomic.LoadInt32(&lv[src[i]]) == depth {
			visit(lv, dst[i], depth+1, n)
		}
	}
}

// csrPushStep expands the frontier one vertex per thread.
func csrPushStep(th accel.Thread, g graph.CSRView, levels *accel.Buffer[int32], depth int32, next *accel.Buffer[uint64]) {
	lv, n := levels.Data(), next.Data()
	for v := th.Global(); v < g.VertexCount; v += th.Stride() {
		if atomic.LoadInt32(&lv[v]) != depth {
			continue
		}
		for _, w := range g.Neighbours(v) {
			visit(lv, w, depth+1, n)
		}
	}
}

// csrPullStep lets every unvisited vertex look for a parent in the frontier.
// It reads the reverse graph, so neighbours are in-neighbours.
func csrPullStep(th accel.Thread, g graph.CSRView, levels *accel.Buffer[int32], depth int32, next *accel.Buffer[uint64]) {
	lv, n := levels.Data(), next.Data()
	for v := th.Global(); v < g.VertexCount; v += th.Stride() {
		if atomic.LoadInt32(&lv[v]) != Unvisited {
			continue
		}
		for _, u := range g.Neighbours(v) {
			if atomic.LoadInt32(&lv[u]) == depth {
				visit(lv, uint32(v), depth+1, n)
				break
			}
		}
	}
}

// warpCSRStep splits the grid into virtual warps of warp threads. Each warp
// takes chunk consecutive vertices at a time and its lanes share the
// neighbour list of every frontier vertex in the chunk.
func warpCSRStep(th accel.Thread, warp, chunk int, g graph.CSRView, levels *accel.Buffer[int32], depth int32, next *accel.Buffer[uint64]) {
	if warp <= 0 || chunk <= 0 {
		return
	}
	width := min(warp, th.Stride())
	warps := th.Stride() / width
	id, lane := th.Global()/width, th.Global()%width
	if id >= warps {
		return
	}

	lv, n := levels.Data(), next.Data()
	offsets, targets := g.Offsets.Data(), g.Targets.Data()
	for base := id * chunk; base < g.VertexCount; base += warps * chunk {
		end := min(base+chunk, g.VertexCount)
		for v := base; v < end; v++ {
			if atomic.LoadInt32(&lv[v]) != depth {
				continue
			}
			for j := int(offsets[v]) + lane; j < int(offsets[v+1]); j += width {
				visit(lv, targets[j], depth+1, n)
			}
		}
	}
}

// chunkMemory is one warp's share of block memory: a chunk of CSR offsets
// plus the end offset.
func chunkMemory(chunk int) int {
	return (chunk + 1) * 8
}

// Kernels returns a registry with the four BFS step kernels launched on b.
func Kernels(b accel.Backend) (*kernel.Registry, error) {
	builder := kernel.NewBuilder(b)

	edgeList, err := builder.Make(edgeListStep, edgeListRep, kernel.Edge)
	if err != nil {
		return nil, err
	}
	push, err := builder.Make(csrPushStep, csrRep, kernel.Vertex)
	if err != nil {
		return nil, err
	}
	pull, err := builder.Make(csrPullStep, revCSRRep, kernel.Vertex)
	if err != nil {
		return nil, err
	}
	warp, err := builder.MakeWarp(warpCSRStep, csrRep, kernel.Vertex, chunkMemory)
	if err != nil {
		return nil, err
	}

	return kernel.NewRegistry(
		kernel.Entry{Name: EdgeList, Kernel: edgeList},
		kernel.Entry{Name: CSR, Kernel: push},
		kernel.Entry{Name: RevCSR, Kernel: pull},
		kernel.Entry{Name: WarpCSR, Kernel: warp},
	)
}
