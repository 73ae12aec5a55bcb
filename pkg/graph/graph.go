// Package graph provides the in-memory graph and its device representations.
//
// A Graph is a plain edge array plus a vertex count. Kernels never see it:
// the Loader turns it into the device-resident views kernels declare as
// their graph parameter, one view per Representation (storage format and
// traversal direction).
//
// Graph files are whitespace-separated edge lists, one "src dst" pair per
// line. Lines starting with '#' or '%' are comments. The vertex count is one
// more than the largest vertex id, unless a "# vertices N" comment raises it.
package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Errors for graph construction and loading.
var (
	ErrVertexRange = errors.New("graph: vertex id out of range")
	ErrParse       = errors.New("graph: malformed edge list")
)

// Edge is a directed edge.
type Edge struct {
	Src uint32
	Dst uint32
}

// Graph is an immutable directed graph.
type Graph struct {
	// VertexCount is the number of vertices; ids are 0..VertexCount-1.
	VertexCount int
	// EdgeCount is len(Edges).
	EdgeCount int
	// Edges in file order.
	Edges []Edge
	// Path is the file the graph was read from, if any.
	Path string
}

// New builds a graph, validating every endpoint against vertexCount.
func New(vertexCount int, edges []Edge) (*Graph, error) {
	if vertexCount < 0 {
		return nil, fmt.Errorf("graph: negative vertex count %d", vertexCount)
	}
	for i, e := range edges {
		if int(e.Src) >= vertexCount || int(e.Dst) >= vertexCount {
			return nil, fmt.Errorf("%w: edge %d (%d -> %d) with %d vertices",
				ErrVertexRange, i, e.Src, e.Dst, vertexCount)
		}
	}
	return &Graph{VertexCount: vertexCount, EdgeCount: len(edges), Edges: edges}, nil
}

// LoadFile reads an edge-list file.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	defer f.Close()

	g, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	g.Path = path
	return g, nil
}

// Parse reads an edge list from r.
func Parse(r io.Reader) (*Graph, error) {
	var (
		edges    []Edge
		vertices int
		lineNo   int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] == '#' || line[0] == '%' {
			if n, ok := vertexHint(line); ok {
				vertices = max(vertices, n)
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: want 2 fields, got %d", ErrParse, lineNo, len(fields))
		}
		src, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
		}

		edges = append(edges, Edge{Src: uint32(src), Dst: uint32(dst)})
		vertices = max(vertices, int(src)+1, int(dst)+1)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return New(vertices, edges)
}

// vertexHint parses a "# vertices N" comment.
func vertexHint(line string) (int, bool) {
	fields := strings.Fields(strings.TrimLeft(line, "#% "))
	if len(fields) != 2 || fields[0] != "vertices" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
