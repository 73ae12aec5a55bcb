package graph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/kernelswitch/pkg/accel"
)

// cycle returns the directed cycle 0 -> 1 -> ... -> n-1 -> 0.
func cycle(t *testing.T, n int) *Graph {
	t.Helper()
	edges := make([]Edge, n)
	for i := range edges {
		edges[i] = Edge{Src: uint32(i), Dst: uint32((i + 1) % n)}
	}
	g, err := New(n, edges)
	require.NoError(t, err)
	return g
}

// star returns edges 0 -> i for i in 1..n-1.
func star(t *testing.T, n int) *Graph {
	t.Helper()
	var edges []Edge
	for i := 1; i < n; i++ {
		edges = append(edges, Edge{Src: 0, Dst: uint32(i)})
	}
	g, err := New(n, edges)
	require.NoError(t, err)
	return g
}

// ============================================================================
// Construction and parsing
// ============================================================================

func TestNew(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		g, err := New(3, []Edge{{0, 1}, {1, 2}})
		require.NoError(t, err)
		assert.Equal(t, 3, g.VertexCount)
		assert.Equal(t, 2, g.EdgeCount)
	})

	t.Run("endpoint out of range", func(t *testing.T) {
		_, err := New(2, []Edge{{0, 2}})
		assert.ErrorIs(t, err, ErrVertexRange)
	})

	t.Run("negative vertex count", func(t *testing.T) {
		_, err := New(-1, nil)
		assert.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Run("edges and comments", func(t *testing.T) {
		input := "# a comment\n% another\n0 1\n\n1 2 17\n  2 0  \n"
		g, err := Parse(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, 3, g.VertexCount)
		assert.Equal(t, []Edge{{0, 1}, {1, 2}, {2, 0}}, g.Edges)
	})

	t.Run("vertex hint adds isolated vertices", func(t *testing.T) {
		g, err := Parse(strings.NewReader("# vertices 10\n0 1\n"))
		require.NoError(t, err)
		assert.Equal(t, 10, g.VertexCount)
		assert.Equal(t, 1, g.EdgeCount)
	})

	t.Run("empty input", func(t *testing.T) {
		g, err := Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, 0, g.VertexCount)
		assert.Equal(t, 0, g.EdgeCount)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, input := range []string{"0\n", "a b\n", "0 -1\n", "0 99999999999\n"} {
			_, err := Parse(strings.NewReader(input))
			assert.ErrorIs(t, err, ErrParse, "input %q", input)
		}
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n1 0\n"), 0644))

	g, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, g.Path)
	assert.Equal(t, 2, g.EdgeCount)

	_, err = LoadFile(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

// ============================================================================
// Degree statistics
// ============================================================================

func TestDegreeStatistics_RegularGraph(t *testing.T) {
	g := cycle(t, 8)

	for _, kind := range DegreeKinds {
		want := 1.0
		if kind == Abs {
			want = 2.0
		}
		s := g.DegreeStatistics(kind)
		assert.Equal(t, Summary{
			Min: want, LowerQuantile: want, Mean: want, Median: want,
			UpperQuantile: want, Max: want, StdDev: 0,
		}, s, kind.String())
	}
}

func TestDegreeStatistics_Star(t *testing.T) {
	g := star(t, 5)

	out := g.DegreeStatistics(Out)
	assert.Equal(t, 0.0, out.Min)
	assert.Equal(t, 4.0, out.Max)
	assert.InDelta(t, 0.8, out.Mean, 1e-12)
	assert.InDelta(t, 1.6, out.StdDev, 1e-12)

	in := g.DegreeStatistics(In)
	assert.Equal(t, 0.0, in.Min)
	assert.Equal(t, 1.0, in.Max)
	assert.Equal(t, 1.0, in.Median)

	abs := g.DegreeStatistics(Abs)
	assert.Equal(t, 1.0, abs.Min)
	assert.Equal(t, 4.0, abs.Max)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]float64{3, 1, 2})
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.GreaterOrEqual(t, s.Median, s.LowerQuantile)
	assert.LessOrEqual(t, s.Median, s.UpperQuantile)
	assert.Equal(t, 2.0, s.Mean)
}

func TestDegreeKind_String(t *testing.T) {
	assert.Equal(t, "abs", Abs.String())
	assert.Equal(t, "in", In.String())
	assert.Equal(t, "out", Out.String())
}

// ============================================================================
// Representations and loader
// ============================================================================

func TestViewType(t *testing.T) {
	typ, err := ViewType(Representation{EdgeList, Reverse})
	require.NoError(t, err)
	assert.Equal(t, "EdgeListView", typ.Name())

	typ, err = ViewType(Representation{CSR, Forward})
	require.NoError(t, err)
	assert.Equal(t, "CSRView", typ.Name())

	_, err = ViewType(Representation{Format(9), Forward})
	assert.Error(t, err)
}

func TestRepresentation_String(t *testing.T) {
	assert.Equal(t, "csr/reverse", Representation{CSR, Reverse}.String())
	assert.Equal(t, "edge-list/forward", Representation{}.String())
}

func TestLoader(t *testing.T) {
	b := accel.NewHostBackend(accel.HostOptions{})
	g := star(t, 4)
	l := NewLoader(b)

	reps := []Representation{
		{EdgeList, Forward}, {EdgeList, Reverse}, {CSR, Forward}, {CSR, Reverse},
	}
	require.NoError(t, l.Load(g, reps...))
	assert.Same(t, g, l.Graph())
	assert.Len(t, l.Loaded(), 4)

	t.Run("view before transfer", func(t *testing.T) {
		_, err := l.View(Representation{CSR, Forward})
		assert.ErrorIs(t, err, ErrNotTransferred)
	})

	t.Run("edge list reverse swaps endpoints", func(t *testing.T) {
		rep := Representation{EdgeList, Reverse}
		require.NoError(t, l.Transfer(rep))
		v, err := l.View(rep)
		require.NoError(t, err)
		ev := v.(EdgeListView)
		assert.Equal(t, 4, ev.VertexCount)
		assert.Equal(t, 3, ev.EdgeCount)
		assert.Equal(t, []uint32{1, 2, 3}, ev.Src.Data())
		assert.Equal(t, []uint32{0, 0, 0}, ev.Dst.Data())
	})

	t.Run("csr forward", func(t *testing.T) {
		rep := Representation{CSR, Forward}
		require.NoError(t, l.Transfer(rep))
		require.NoError(t, l.Transfer(rep))
		v, err := l.View(rep)
		require.NoError(t, err)
		cv := v.(CSRView)
		assert.Equal(t, []uint64{0, 3, 3, 3, 3}, cv.Offsets.Data())
		assert.ElementsMatch(t, []uint32{1, 2, 3}, cv.Neighbours(0))
		assert.Empty(t, cv.Neighbours(2))
	})

	t.Run("csr reverse holds in-edges", func(t *testing.T) {
		rep := Representation{CSR, Reverse}
		require.NoError(t, l.Transfer(rep))
		v, err := l.View(rep)
		require.NoError(t, err)
		cv := v.(CSRView)
		assert.Empty(t, cv.Neighbours(0))
		for u := 1; u < 4; u++ {
			assert.Equal(t, []uint32{0}, cv.Neighbours(u))
		}
	})

	t.Run("free releases device memory", func(t *testing.T) {
		assert.Positive(t, b.Allocated())
		l.Free()
		assert.Equal(t, int64(0), b.Allocated())
		assert.Nil(t, l.Graph())

		err := l.Transfer(Representation{CSR, Forward})
		assert.ErrorIs(t, err, ErrNotLoaded)
	})
}

func TestLoader_OutOfMemory(t *testing.T) {
	b := accel.NewHostBackend(accel.HostOptions{MaxDeviceMemory: 8})
	l := NewLoader(b)
	rep := Representation{EdgeList, Forward}
	require.NoError(t, l.Load(cycle(t, 4), rep))

	err := l.Transfer(rep)
	assert.ErrorIs(t, err, accel.ErrOutOfMemory)
	assert.Equal(t, int64(0), b.Allocated())
}
