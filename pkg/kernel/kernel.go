// Package kernel wraps device entry points into dispatchable kernels.
//
// A kernel couples an entry point with the graph Representation it reads and
// the WorkDivision its launch geometry is taken from. Two variants exist:
// Plain kernels, whose shared memory is a fixed function of the block size,
// and Warp kernels, which are tuned by a warp size and a chunk size bound at
// run time.
//
// Entry points are ordinary Go functions. Their parameter list is read once
// by the Builder:
//
//	func([accel.Thread,] [warp, chunk int,] view V, args...)
//
// where V is the view type of the kernel's Representation (see
// graph.ViewType) and args are the algorithm arguments. Run marshals the
// caller's arguments against those declared types, so callers never restate
// them.
package kernel

import (
	"errors"
	"fmt"

	"github.com/orneryd/kernelswitch/pkg/graph"
)

// DefaultName is the registry key of the fallback kernel used when no
// prediction model is configured.
const DefaultName = "edge-list"

// Errors returned by builders and kernels.
var (
	ErrBadSignature = errors.New("kernel: entry point signature mismatch")
	ErrArgument     = errors.New("kernel: cannot marshal argument")
	ErrUnbound      = errors.New("kernel: warp and chunk sizes not bound")
	ErrZeroWarp     = errors.New("kernel: warp size is zero")
)

// WorkDivision selects which launch partition a kernel uses.
type WorkDivision int

const (
	// Vertex launches one work item per vertex.
	Vertex WorkDivision = iota
	// Edge launches one work item per edge.
	Edge
)

func (w WorkDivision) String() string {
	switch w {
	case Vertex:
		return "vertex"
	case Edge:
		return "edge"
	default:
		return fmt.Sprintf("division(%d)", int(w))
	}
}

// ViewSource resolves the device view of a representation. *graph.Loader
// implements it.
type ViewSource interface {
	View(rep graph.Representation) (any, error)
}

// Kernel is a dispatchable unit of device computation.
type Kernel interface {
	// Representation is the graph structure the kernel reads.
	Representation() graph.Representation

	// WorkDivision is the partition the kernel's launch geometry uses.
	WorkDivision() WorkDivision

	// SharedMemSize returns the shared memory bytes per block for a block
	// of the given number of threads.
	SharedMemSize(block int) (int, error)

	// Run dispatches the entry point with the view of Representation and
	// the algorithm arguments. A kernel without an entry point does nothing.
	Run(views ViewSource, args ...any) error
}

// Plain is a kernel whose shared memory is a fixed function of block size.
type Plain struct {
	entry     *entryPoint
	rep       graph.Representation
	div       WorkDivision
	sharedMem func(block int) int
}

// Representation implements Kernel.
func (k *Plain) Representation() graph.Representation { return k.rep }

// WorkDivision implements Kernel.
func (k *Plain) WorkDivision() WorkDivision { return k.div }

// SharedMemSize implements Kernel.
func (k *Plain) SharedMemSize(block int) (int, error) {
	return k.sharedMem(block), nil
}

// Run implements Kernel.
func (k *Plain) Run(views ViewSource, args ...any) error {
	if k.entry.absent() {
		return nil
	}
	view, err := views.View(k.rep)
	if err != nil {
		return err
	}
	return k.entry.call(nil, view, args)
}

// Warp is a kernel tuned by a warp size and a chunk size.
//
// The sizes are references: Bind stores the pointers, and every later read
// sees the current value of the referenced integers. A Warp kernel cannot
// be launched or sized until it is bound.
type Warp struct {
	entry       *entryPoint
	rep         graph.Representation
	div         WorkDivision
	chunkMemory func(chunk int) int

	warp  *int
	chunk *int
}

// Representation implements Kernel.
func (k *Warp) Representation() graph.Representation { return k.rep }

// WorkDivision implements Kernel.
func (k *Warp) WorkDivision() WorkDivision { return k.div }

// Bind makes the kernel read its warp and chunk sizes through warp and chunk.
func (k *Warp) Bind(warp, chunk *int) {
	k.warp, k.chunk = warp, chunk
}

// Bound reports whether both sizes are bound.
func (k *Warp) Bound() bool {
	return k.warp != nil && k.chunk != nil
}

// Sizes returns the currently referenced warp and chunk sizes.
func (k *Warp) Sizes() (warp, chunk int, err error) {
	if !k.Bound() {
		return 0, 0, ErrUnbound
	}
	return *k.warp, *k.chunk, nil
}

// SharedMemSize implements Kernel: one chunk of memory per warp in the block.
func (k *Warp) SharedMemSize(block int) (int, error) {
	warp, chunk, err := k.Sizes()
	if err != nil {
		return 0, err
	}
	if warp == 0 {
		return 0, ErrZeroWarp
	}
	return (block / warp) * k.chunkMemory(chunk), nil
}

// Run implements Kernel. The bound sizes are passed ahead of the view.
func (k *Warp) Run(views ViewSource, args ...any) error {
	if k.entry.absent() {
		return nil
	}
	warp, chunk, err := k.Sizes()
	if err != nil {
		return err
	}
	view, err := views.View(k.rep)
	if err != nil {
		return err
	}
	return k.entry.call([]int{warp, chunk}, view, args)
}

var (
	_ Kernel = (*Plain)(nil)
	_ Kernel = (*Warp)(nil)
)
