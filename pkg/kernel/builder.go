package kernel

import (
	"fmt"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
)

// Builder turns entry points into kernels launched on one backend.
type Builder struct {
	backend accel.Backend
}

// NewBuilder creates a builder for kernels launched on b.
func NewBuilder(b accel.Backend) *Builder {
	return &Builder{backend: b}
}

// PlainOption configures a Plain kernel.
type PlainOption func(*Plain)

// WithSharedMem sets the shared memory function. The default is zero bytes.
func WithSharedMem(fn func(block int) int) PlainOption {
	return func(k *Plain) {
		if fn != nil {
			k.sharedMem = fn
		}
	}
}

func noSharedMem(int) int { return 0 }

// Make builds a plain kernel. entry may be nil, in which case Run is a no-op.
func (b *Builder) Make(entry any, rep graph.Representation, div WorkDivision, opts ...PlainOption) (*Plain, error) {
	ep, err := inspect(b.backend, entry, rep, false)
	if err != nil {
		return nil, err
	}
	k := &Plain{entry: ep, rep: rep, div: div, sharedMem: noSharedMem}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// MakeWarp builds a warp kernel. chunkMemory maps a chunk size to the shared
// memory bytes one warp needs for it.
func (b *Builder) MakeWarp(entry any, rep graph.Representation, div WorkDivision, chunkMemory func(chunk int) int) (*Warp, error) {
	if chunkMemory == nil {
		return nil, fmt.Errorf("kernel: nil chunk memory function")
	}
	ep, err := inspect(b.backend, entry, rep, true)
	if err != nil {
		return nil, err
	}
	return &Warp{entry: ep, rep: rep, div: div, chunkMemory: chunkMemory}, nil
}

// MustMake is like Make but panics on error. It is meant for package-level
// kernel tables whose entry points are fixed at compile time.
func (b *Builder) MustMake(entry any, rep graph.Representation, div WorkDivision, opts ...PlainOption) *Plain {
	k, err := b.Make(entry, rep, div, opts...)
	if err != nil {
		panic(err)
	}
	return k
}

// MustMakeWarp is like MakeWarp but panics on error.
func (b *Builder) MustMakeWarp(entry any, rep graph.Representation, div WorkDivision, chunkMemory func(chunk int) int) *Warp {
	k, err := b.MakeWarp(entry, rep, div, chunkMemory)
	if err != nil {
		panic(err)
	}
	return k
}
