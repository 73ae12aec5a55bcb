// Package accel defines the accelerator backend that kernels are launched on.
//
// The harness never talks to a device directly. It asks a Backend to
// partition work (ComputeDivision), to program launch geometry
// (SetWorkSizes), to account for device memory (Allocate/Release), and to
// dispatch a kernel entry point (Launch). Any device-side queuing is the
// backend's business: from the harness's point of view Launch is synchronous.
//
// Entry points are ordinary Go functions. If the first parameter is a
// Thread, the backend invokes the function once per thread of the
// configured grid, the way a CUDA kernel sees blockIdx/threadIdx.
// Otherwise it is invoked once per launch.
//
// HostBackend is the in-process implementation: blocks are spread over a
// fixed number of worker goroutines and threads run in order inside a block.
package accel

import (
	"errors"
	"reflect"
)

// Errors returned by backends.
var (
	ErrNotConfigured   = errors.New("accel: work sizes not configured")
	ErrInvalidGeometry = errors.New("accel: invalid launch geometry")
	ErrOutOfMemory     = errors.New("accel: device memory exhausted")
	ErrNotFunction     = errors.New("accel: entry point is not a function")
	ErrKernelPanic     = errors.New("accel: kernel panicked")
)

// Division is the launch partition for a one-dimensional work set.
type Division struct {
	Blocks          int
	ThreadsPerBlock int
}

// Threads returns the total number of threads the division launches.
func (d Division) Threads() int {
	return d.Blocks * d.ThreadsPerBlock
}

// Backend is the accelerator collaborator consumed by the harness.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// ComputeDivision partitions count work items into blocks of threads.
	ComputeDivision(count int) Division

	// SetWorkSizes programs the geometry used by subsequent launches.
	// blocks and threads hold one entry per dimension.
	SetWorkSizes(dims int, blocks, threads []int, sharedMem int) error

	// Launch dispatches entry with the given arguments and waits for it.
	Launch(entry reflect.Value, args []reflect.Value) error

	// Allocate reserves device memory; Release gives it back.
	Allocate(bytes int64) error
	Release(bytes int64)
}

// Thread identifies one thread of a launch.
type Thread struct {
	// Block is the linear block index within the grid.
	Block int
	// Index is the linear thread index within the block.
	Index int
	// BlockDim is the number of threads per block.
	BlockDim int
	// GridDim is the number of blocks in the grid.
	GridDim int
	// Shared is the block's shared memory. All threads of a block see the
	// same slice.
	Shared []byte
}

// Global returns the thread's index across the whole grid.
func (t Thread) Global() int {
	return t.Block*t.BlockDim + t.Index
}

// Stride returns the total number of threads in the grid, for grid-stride
// loops.
func (t Thread) Stride() int {
	return t.BlockDim * t.GridDim
}

// ThreadType is the reflected type of Thread. Entry points whose first
// parameter has this type are launched per thread.
var ThreadType = reflect.TypeOf(Thread{})

// PerThread reports whether fn is an entry point that takes a leading Thread.
func PerThread(fn reflect.Type) bool {
	return fn.Kind() == reflect.Func && fn.NumIn() > 0 && fn.In(0) == ThreadType
}
