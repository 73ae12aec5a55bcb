package accel

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/kernelswitch/pkg/pool"
)

// HostOptions configures a HostBackend.
type HostOptions struct {
	// Workers is the number of goroutines blocks are spread over.
	// Zero means runtime.NumCPU().
	Workers int

	// MaxThreadsPerBlock caps the block size ComputeDivision hands out and
	// SetWorkSizes accepts. Zero means 256.
	MaxThreadsPerBlock int

	// MaxDeviceMemory limits Allocate in bytes. Zero means unlimited.
	MaxDeviceMemory int64
}

// DefaultHostOptions returns sensible defaults.
func DefaultHostOptions() HostOptions {
	return HostOptions{
		Workers:            runtime.NumCPU(),
		MaxThreadsPerBlock: 256,
	}
}

// HostBackend runs kernels on the host CPU.
//
// A launch converts the configured grid into linear block ids, splits them
// into contiguous ranges, one per worker goroutine, and runs every thread of
// a block in order. Launch returns after all workers finish.
type HostBackend struct {
	opts HostOptions

	mu        sync.Mutex
	grid      int
	block     int
	sharedMem int
	ready     bool

	allocated atomic.Int64
	launches  atomic.Uint64
}

// NewHostBackend creates a host backend, filling zero options with defaults.
func NewHostBackend(opts HostOptions) *HostBackend {
	def := DefaultHostOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxThreadsPerBlock <= 0 {
		opts.MaxThreadsPerBlock = def.MaxThreadsPerBlock
	}
	return &HostBackend{opts: opts}
}

// Name implements Backend.
func (h *HostBackend) Name() string { return "host" }

// ComputeDivision implements Backend. Small work sets get a single block
// sized to the work; larger ones get full blocks. There is always at least
// one block of one thread so empty graphs still launch.
func (h *HostBackend) ComputeDivision(count int) Division {
	threads := h.opts.MaxThreadsPerBlock
	if count < threads {
		threads = max(count, 1)
	}
	blocks := (count + threads - 1) / threads
	return Division{Blocks: max(blocks, 1), ThreadsPerBlock: threads}
}

// SetWorkSizes implements Backend.
func (h *HostBackend) SetWorkSizes(dims int, blocks, threads []int, sharedMem int) error {
	if dims < 1 || dims > 3 || len(blocks) != dims || len(threads) != dims {
		return fmt.Errorf("%w: %d dimensions with %d block and %d thread sizes",
			ErrInvalidGeometry, dims, len(blocks), len(threads))
	}
	if sharedMem < 0 {
		return fmt.Errorf("%w: negative shared memory %d", ErrInvalidGeometry, sharedMem)
	}

	grid, block := 1, 1
	for i := 0; i < dims; i++ {
		if blocks[i] <= 0 || threads[i] <= 0 {
			return fmt.Errorf("%w: dimension %d is %dx%d", ErrInvalidGeometry, i, blocks[i], threads[i])
		}
		grid *= blocks[i]
		block *= threads[i]
	}
	if block > h.opts.MaxThreadsPerBlock {
		return fmt.Errorf("%w: %d threads per block exceeds %d",
			ErrInvalidGeometry, block, h.opts.MaxThreadsPerBlock)
	}

	h.mu.Lock()
	h.grid, h.block, h.sharedMem, h.ready = grid, block, sharedMem, true
	h.mu.Unlock()
	return nil
}

// WorkSizes returns the currently programmed grid size, block size and
// shared memory bytes.
func (h *HostBackend) WorkSizes() (grid, block, sharedMem int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grid, h.block, h.sharedMem
}

// Launch implements Backend.
func (h *HostBackend) Launch(entry reflect.Value, args []reflect.Value) error {
	if entry.Kind() != reflect.Func {
		return ErrNotFunction
	}

	h.mu.Lock()
	grid, block, sharedMem, ready := h.grid, h.block, h.sharedMem, h.ready
	h.mu.Unlock()
	if !ready {
		return ErrNotConfigured
	}

	h.launches.Add(1)
	kernelLaunches.WithLabelValues(h.Name()).Inc()

	if !PerThread(entry.Type()) {
		return callOnce(entry, args)
	}
	return h.launchGrid(entry, args, grid, block, sharedMem)
}

func callOnce(entry reflect.Value, args []reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrKernelPanic, r)
		}
	}()
	entry.Call(args)
	return nil
}

func (h *HostBackend) launchGrid(entry reflect.Value, args []reflect.Value, grid, block, sharedMem int) error {
	numWorkers := min(h.opts.Workers, grid)
	blocksPerWorker := (grid + numWorkers - 1) / numWorkers

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startBlock := w * blocksPerWorker
		endBlock := min(startBlock+blocksPerWorker, grid)

		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("%w: %v", ErrKernelPanic, r) })
				}
			}()

			callArgs := make([]reflect.Value, len(args)+1)
			copy(callArgs[1:], args)

			for b := startBlock; b < endBlock; b++ {
				shared := pool.GetSharedBuffer(sharedMem)
				for i := 0; i < block; i++ {
					callArgs[0] = reflect.ValueOf(Thread{
						Block:    b,
						Index:    i,
						BlockDim: block,
						GridDim:  grid,
						Shared:   shared,
					})
					entry.Call(callArgs)
				}
				pool.PutSharedBuffer(shared)
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Launches returns the number of launches dispatched so far.
func (h *HostBackend) Launches() uint64 {
	return h.launches.Load()
}

// Allocate implements Backend.
func (h *HostBackend) Allocate(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("accel: negative allocation %d", bytes)
	}
	for {
		cur := h.allocated.Load()
		next := cur + bytes
		if h.opts.MaxDeviceMemory > 0 && next > h.opts.MaxDeviceMemory {
			return fmt.Errorf("%w: %d + %d bytes exceeds %d",
				ErrOutOfMemory, cur, bytes, h.opts.MaxDeviceMemory)
		}
		if h.allocated.CompareAndSwap(cur, next) {
			deviceMemory.WithLabelValues(h.Name()).Set(float64(next))
			return nil
		}
	}
}

// Release implements Backend.
func (h *HostBackend) Release(bytes int64) {
	next := h.allocated.Add(-bytes)
	deviceMemory.WithLabelValues(h.Name()).Set(float64(next))
}

// Allocated returns the bytes currently allocated.
func (h *HostBackend) Allocated() int64 {
	return h.allocated.Load()
}
