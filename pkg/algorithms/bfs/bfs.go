// Package bfs is a level-synchronous breadth-first search built on the
// kernel harness.
//
// Each level is one kernel launch. Four interchangeable step kernels are
// provided: an edge-list scan, a CSR push, a reverse-CSR pull and a
// warp-cooperative CSR push. Under a switching engine the search publishes
// two algorithm properties before every prediction: "frontier", the number
// of vertices discovered by the last step, and "visited", the fraction of
// vertices reached so far.
package bfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/harness"
	"github.com/orneryd/kernelswitch/pkg/props"
)

// Algorithm property names.
const (
	PropFrontier = "frontier"
	PropVisited  = "visited"
)

// ErrRootRange is returned for a root outside the loaded graph.
var ErrRootRange = errors.New("bfs: root outside graph")

// Result is the outcome of a search.
type Result struct {
	// Levels holds each vertex's distance from the root, or Unvisited.
	Levels []int32
	// Depth is the number of levels expanded.
	Depth int
	// Visited is the number of vertices reached, the root included.
	Visited int
}

// Run searches from root over the graph loaded into cfg. Buffers are
// allocated on backend, which must be the one cfg launches on.
func Run(ctx context.Context, cfg harness.Config, backend accel.Backend, root uint32) (*Result, error) {
	n := cfg.VertexCount()
	if int(root) >= n {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrRootRange, root, n)
	}

	frontier, err := property(cfg, PropFrontier)
	if err != nil {
		return nil, err
	}
	visitedProp, err := property(cfg, PropVisited)
	if err != nil {
		return nil, err
	}

	start := slices.Repeat([]int32{Unvisited}, n)
	start[root] = 0
	levels, err := accel.Upload(backend, start)
	if err != nil {
		return nil, err
	}
	defer levels.Free()
	next, err := accel.NewBuffer[uint64](backend, 1)
	if err != nil {
		return nil, err
	}
	defer next.Free()

	res := &Result{Visited: 1}
	err = harness.WithRun(cfg, func() error {
		frontier.Set(1)
		visitedProp.Set(1 / float64(n))
		if err := cfg.PredictInitial(); err != nil {
			return err
		}

		for depth := int32(0); ; depth++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			next.Fill(0)
			if err := cfg.RunKernel(levels, depth, next); err != nil {
				return fmt.Errorf("level %d: %w", depth, err)
			}

			found := int(next.Data()[0])
			if found == 0 {
				return nil
			}
			res.Depth++
			res.Visited += found
			frontier.Set(float64(found))
			visitedProp.Set(float64(res.Visited) / float64(n))

			if err := cfg.Predict(); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return nil, err
	}

	res.Levels = levels.Download()
	log.Printf("[bfs] root %d: %d of %d vertices reached in %d levels", root, res.Visited, n, res.Depth)
	return res, nil
}

// property registers name, or returns the slot registered by an earlier
// search on the same configuration.
func property(cfg harness.Config, name string) (*props.Slot, error) {
	s, err := cfg.AlgorithmProperty(name)
	if errors.Is(err, props.ErrDuplicate) {
		if r, ok := cfg.(interface{ AlgorithmProperties() *props.Registry }); ok {
			if s, ok := r.AlgorithmProperties().Lookup(name); ok {
				return s, nil
			}
		}
	}
	return s, err
}
