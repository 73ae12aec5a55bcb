package accel

import (
	"fmt"
	"unsafe"
)

// Buffer is a typed allocation in device memory.
//
// On the host backend device memory is ordinary Go memory, so kernels read
// and write Data() directly. Every Buffer is accounted against the backend's
// memory limit until Free is called.
type Buffer[T any] struct {
	data    []T
	backend Backend
	bytes   int64
}

// NewBuffer allocates a zeroed buffer of n elements on b.
func NewBuffer[T any](b Backend, n int) (*Buffer[T], error) {
	if n < 0 {
		return nil, fmt.Errorf("accel: negative buffer length %d", n)
	}
	var zero T
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	if err := b.Allocate(bytes); err != nil {
		return nil, err
	}
	return &Buffer[T]{data: make([]T, n), backend: b, bytes: bytes}, nil
}

// Upload allocates a buffer on b and copies host into it.
func Upload[T any](b Backend, host []T) (*Buffer[T], error) {
	buf, err := NewBuffer[T](b, len(host))
	if err != nil {
		return nil, err
	}
	copy(buf.data, host)
	return buf, nil
}

// Len returns the number of elements.
func (buf *Buffer[T]) Len() int {
	if buf == nil {
		return 0
	}
	return len(buf.data)
}

// Bytes returns the allocation size in bytes.
func (buf *Buffer[T]) Bytes() int64 {
	if buf == nil {
		return 0
	}
	return buf.bytes
}

// Data exposes device memory. Only kernels should write through it.
func (buf *Buffer[T]) Data() []T {
	if buf == nil {
		return nil
	}
	return buf.data
}

// Fill sets every element to v.
func (buf *Buffer[T]) Fill(v T) {
	for i := range buf.data {
		buf.data[i] = v
	}
}

// Download copies device memory into a new host slice.
func (buf *Buffer[T]) Download() []T {
	out := make([]T, len(buf.data))
	copy(out, buf.data)
	return out
}

// Free releases the allocation. Freeing twice is a no-op.
func (buf *Buffer[T]) Free() {
	if buf == nil || buf.backend == nil {
		return
	}
	buf.backend.Release(buf.bytes)
	buf.backend = nil
	buf.data = nil
}

// Marshaler converts a host-level kernel argument into the value the device
// entry point declares. Kernels call DeviceValue only when the host value is
// not already assignable to the declared parameter type.
type Marshaler interface {
	DeviceValue() (any, error)
}

// Array is a host slice mirrored on the device on first use.
//
// Passing an *Array where an entry point declares *Buffer[T] uploads the
// host contents once; Sync copies device results back.
type Array[T any] struct {
	Host    []T
	backend Backend
	dev     *Buffer[T]
}

// NewArray wraps host for lazy upload to b.
func NewArray[T any](b Backend, host []T) *Array[T] {
	return &Array[T]{Host: host, backend: b}
}

// DeviceValue implements Marshaler.
func (a *Array[T]) DeviceValue() (any, error) {
	if a.dev == nil {
		dev, err := Upload(a.backend, a.Host)
		if err != nil {
			return nil, err
		}
		a.dev = dev
	}
	return a.dev, nil
}

// Sync copies the device copy back into Host. It is a no-op before the
// first upload.
func (a *Array[T]) Sync() {
	if a.dev != nil {
		copy(a.Host, a.dev.data)
	}
}

// Free releases the device copy.
func (a *Array[T]) Free() {
	a.dev.Free()
	a.dev = nil
}
