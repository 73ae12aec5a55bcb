// Package pool provides object pooling for kernelswitch to reduce allocations.
//
// Kernel launches on the host backend hand every block a fresh shared-memory
// scratch area, and graph loading builds several temporary count arrays per
// representation. Pooling reuses those allocations between launches and
// loads instead of creating new ones, which keeps GC pressure flat across
// the many short steps of an iterative algorithm.
//
// Pooled objects:
// - Shared-memory scratch buffers (per block, per launch)
// - Degree/offset count slices (per graph load)
//
// Usage:
//
//	shared := pool.GetSharedBuffer(4096)
//	defer pool.PutSharedBuffer(shared)
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity (in elements) of objects kept in each pool
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 1 << 20,
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	globalConfig = config

	// Reinitialize pools to ensure New functions are set correctly
	initPools()
}

// initPools reinitializes all pools with their New functions.
func initPools() {
	sharedBufferPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}
	countSlicePool = sync.Pool{
		New: func() any {
			s := make([]uint64, 0, 1024)
			return &s
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

// =============================================================================
// Shared Memory Pool (per-block kernel scratch)
// =============================================================================

var sharedBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// GetSharedBuffer returns a zeroed byte slice of length size.
// Kernels see it as the block's shared memory. Call PutSharedBuffer when the
// block has finished.
func GetSharedBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	if !globalConfig.Enabled {
		return make([]byte, size)
	}
	bp := sharedBufferPool.Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		b = make([]byte, size)
	} else {
		b = b[:size]
		clear(b)
	}
	return b
}

// PutSharedBuffer returns a shared-memory buffer to the pool.
func PutSharedBuffer(b []byte) {
	if !globalConfig.Enabled || b == nil {
		return
	}
	// Don't pool very large buffers (memory leak prevention)
	if cap(b) > globalConfig.MaxSize {
		return
	}
	b = b[:0]
	sharedBufferPool.Put(&b)
}

// =============================================================================
// Count Slice Pool (graph loading)
// =============================================================================

var countSlicePool = sync.Pool{
	New: func() any {
		s := make([]uint64, 0, 1024)
		return &s
	},
}

// GetCountSlice returns a zeroed uint64 slice of length n.
func GetCountSlice(n int) []uint64 {
	if !globalConfig.Enabled {
		return make([]uint64, n)
	}
	sp := countSlicePool.Get().(*[]uint64)
	s := *sp
	if cap(s) < n {
		s = make([]uint64, n)
	} else {
		s = s[:n]
		clear(s)
	}
	return s
}

// PutCountSlice returns a count slice to the pool.
func PutCountSlice(s []uint64) {
	if !globalConfig.Enabled || s == nil {
		return
	}
	if cap(s) > globalConfig.MaxSize {
		return
	}
	s = s[:0]
	countSlicePool.Put(&s)
}
