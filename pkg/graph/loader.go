package graph

import (
	"errors"
	"fmt"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/pool"
)

// Loader errors.
var (
	ErrNotLoaded      = errors.New("graph: representation not loaded")
	ErrNotTransferred = errors.New("graph: representation not transferred")
)

// hostRep holds the host-side arrays of one representation.
type hostRep struct {
	a []uint32 // edge list: src; csr: unused
	b []uint32 // edge list: dst; csr: targets
	o []uint64 // csr: offsets
}

// Loader builds representations of a graph and transfers them to a backend.
//
// Lifecycle: Load builds host arrays for the requested representations,
// Transfer uploads one of them, View hands the uploaded view to a kernel,
// and Free releases everything. A Loader holds one graph at a time.
type Loader struct {
	backend accel.Backend
	graph   *Graph
	host    map[Representation]*hostRep
	device  map[Representation]any
	release map[Representation]func()
}

// NewLoader creates a loader that uploads to b.
func NewLoader(b accel.Backend) *Loader {
	return &Loader{
		backend: b,
		host:    make(map[Representation]*hostRep),
		device:  make(map[Representation]any),
		release: make(map[Representation]func()),
	}
}

// Graph returns the loaded graph, or nil.
func (l *Loader) Graph() *Graph {
	return l.graph
}

// Load builds the host arrays of reps for g, replacing any previous graph.
func (l *Loader) Load(g *Graph, reps ...Representation) error {
	if l.graph != g {
		l.Free()
		l.graph = g
	}

	for _, rep := range reps {
		if !rep.Valid() {
			return fmt.Errorf("graph: invalid representation %s", rep)
		}
		if _, ok := l.host[rep]; ok {
			continue
		}
		switch rep.Format {
		case EdgeList:
			l.host[rep] = buildEdgeList(g, rep.Direction)
		case CSR:
			l.host[rep] = buildCSR(g, rep.Direction)
		}
	}
	return nil
}

// Loaded returns the representations with host arrays.
func (l *Loader) Loaded() []Representation {
	reps := make([]Representation, 0, len(l.host))
	for rep := range l.host {
		reps = append(reps, rep)
	}
	return reps
}

// Transfer uploads rep to the backend. Transferring twice is a no-op.
func (l *Loader) Transfer(rep Representation) error {
	if _, ok := l.device[rep]; ok {
		return nil
	}
	h, ok := l.host[rep]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, rep)
	}

	switch rep.Format {
	case EdgeList:
		src, err := accel.Upload(l.backend, h.a)
		if err != nil {
			return fmt.Errorf("transferring %s: %w", rep, err)
		}
		dst, err := accel.Upload(l.backend, h.b)
		if err != nil {
			src.Free()
			return fmt.Errorf("transferring %s: %w", rep, err)
		}
		l.device[rep] = EdgeListView{
			VertexCount: l.graph.VertexCount,
			EdgeCount:   l.graph.EdgeCount,
			Src:         src,
			Dst:         dst,
		}
		l.release[rep] = func() { src.Free(); dst.Free() }

	case CSR:
		offsets, err := accel.Upload(l.backend, h.o)
		if err != nil {
			return fmt.Errorf("transferring %s: %w", rep, err)
		}
		targets, err := accel.Upload(l.backend, h.b)
		if err != nil {
			offsets.Free()
			return fmt.Errorf("transferring %s: %w", rep, err)
		}
		l.device[rep] = CSRView{
			VertexCount: l.graph.VertexCount,
			EdgeCount:   l.graph.EdgeCount,
			Offsets:     offsets,
			Targets:     targets,
		}
		l.release[rep] = func() { offsets.Free(); targets.Free() }
	}
	return nil
}

// View returns the device view of rep: an EdgeListView or a CSRView.
func (l *Loader) View(rep Representation) (any, error) {
	v, ok := l.device[rep]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotTransferred, rep)
	}
	return v, nil
}

// Free releases device buffers and host arrays.
func (l *Loader) Free() {
	for rep, release := range l.release {
		release()
		delete(l.release, rep)
	}
	clear(l.device)
	clear(l.host)
	l.graph = nil
}

func buildEdgeList(g *Graph, dir Direction) *hostRep {
	src := make([]uint32, g.EdgeCount)
	dst := make([]uint32, g.EdgeCount)
	for i, e := range g.Edges {
		if dir == Reverse {
			src[i], dst[i] = e.Dst, e.Src
		} else {
			src[i], dst[i] = e.Src, e.Dst
		}
	}
	return &hostRep{a: src, b: dst}
}

func buildCSR(g *Graph, dir Direction) *hostRep {
	from := func(e Edge) (uint32, uint32) {
		if dir == Reverse {
			return e.Dst, e.Src
		}
		return e.Src, e.Dst
	}

	offsets := make([]uint64, g.VertexCount+1)
	for _, e := range g.Edges {
		u, _ := from(e)
		offsets[u+1]++
	}
	for v := 0; v < g.VertexCount; v++ {
		offsets[v+1] += offsets[v]
	}

	next := pool.GetCountSlice(g.VertexCount)
	defer pool.PutCountSlice(next)
	copy(next, offsets[:g.VertexCount])

	targets := make([]uint32, g.EdgeCount)
	for _, e := range g.Edges {
		u, w := from(e)
		targets[next[u]] = w
		next[u]++
	}
	return &hostRep{b: targets, o: offsets}
}
