package accel

import (
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostBackend_ComputeDivision(t *testing.T) {
	h := NewHostBackend(HostOptions{Workers: 2, MaxThreadsPerBlock: 64})

	tests := []struct {
		name  string
		count int
		want  Division
	}{
		{"empty", 0, Division{Blocks: 1, ThreadsPerBlock: 1}},
		{"single", 1, Division{Blocks: 1, ThreadsPerBlock: 1}},
		{"below block size", 10, Division{Blocks: 1, ThreadsPerBlock: 10}},
		{"exact block", 64, Division{Blocks: 1, ThreadsPerBlock: 64}},
		{"one over", 65, Division{Blocks: 2, ThreadsPerBlock: 64}},
		{"many blocks", 1000, Division{Blocks: 16, ThreadsPerBlock: 64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.ComputeDivision(tt.count)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got.Threads(), tt.count)
		})
	}
}

func TestHostBackend_SetWorkSizes(t *testing.T) {
	h := NewHostBackend(HostOptions{Workers: 2, MaxThreadsPerBlock: 64})

	t.Run("valid one dimension", func(t *testing.T) {
		require.NoError(t, h.SetWorkSizes(1, []int{4}, []int{32}, 128))
		grid, block, shared := h.WorkSizes()
		assert.Equal(t, 4, grid)
		assert.Equal(t, 32, block)
		assert.Equal(t, 128, shared)
	})

	t.Run("valid two dimensions", func(t *testing.T) {
		require.NoError(t, h.SetWorkSizes(2, []int{2, 3}, []int{4, 8}, 0))
		grid, block, _ := h.WorkSizes()
		assert.Equal(t, 6, grid)
		assert.Equal(t, 32, block)
	})

	invalid := []struct {
		name    string
		dims    int
		blocks  []int
		threads []int
		shared  int
	}{
		{"zero dims", 0, nil, nil, 0},
		{"four dims", 4, []int{1, 1, 1, 1}, []int{1, 1, 1, 1}, 0},
		{"length mismatch", 1, []int{1, 2}, []int{1}, 0},
		{"zero blocks", 1, []int{0}, []int{1}, 0},
		{"block too large", 1, []int{1}, []int{65}, 0},
		{"negative shared", 1, []int{1}, []int{1}, -1},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			err := h.SetWorkSizes(tt.dims, tt.blocks, tt.threads, tt.shared)
			assert.ErrorIs(t, err, ErrInvalidGeometry)
		})
	}
}

func TestHostBackend_Launch(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := NewHostBackend(HostOptions{})
		err := h.Launch(reflect.ValueOf(func() {}), nil)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("not a function", func(t *testing.T) {
		h := NewHostBackend(HostOptions{})
		err := h.Launch(reflect.ValueOf(42), nil)
		assert.ErrorIs(t, err, ErrNotFunction)
	})

	t.Run("per thread covers every global index once", func(t *testing.T) {
		h := NewHostBackend(HostOptions{Workers: 3, MaxThreadsPerBlock: 16})
		div := h.ComputeDivision(100)
		require.NoError(t, h.SetWorkSizes(1, []int{div.Blocks}, []int{div.ThreadsPerBlock}, 0))

		hits := make([]int32, div.Threads())
		entry := func(th Thread, out []int32) {
			atomic.AddInt32(&out[th.Global()], 1)
		}
		require.NoError(t, h.Launch(reflect.ValueOf(entry), []reflect.Value{reflect.ValueOf(hits)}))

		for i, n := range hits {
			assert.Equal(t, int32(1), n, "thread %d", i)
		}
		assert.Equal(t, uint64(1), h.Launches())
	})

	t.Run("shared memory is per block", func(t *testing.T) {
		h := NewHostBackend(HostOptions{Workers: 2, MaxThreadsPerBlock: 8})
		require.NoError(t, h.SetWorkSizes(1, []int{4}, []int{8}, 8))

		sums := make([]int32, 4)
		entry := func(th Thread, out []int32) {
			if len(th.Shared) != 8 {
				panic("unexpected shared memory size")
			}
			th.Shared[th.Index]++
			if th.Index == th.BlockDim-1 {
				var s int32
				for _, b := range th.Shared {
					s += int32(b)
				}
				out[th.Block] = s
			}
		}
		require.NoError(t, h.Launch(reflect.ValueOf(entry), []reflect.Value{reflect.ValueOf(sums)}))
		assert.Equal(t, []int32{8, 8, 8, 8}, sums)
	})

	t.Run("without thread parameter runs once", func(t *testing.T) {
		h := NewHostBackend(HostOptions{})
		require.NoError(t, h.SetWorkSizes(1, []int{4}, []int{4}, 0))

		calls := 0
		entry := func(n int) { calls += n }
		require.NoError(t, h.Launch(reflect.ValueOf(entry), []reflect.Value{reflect.ValueOf(2)}))
		assert.Equal(t, 2, calls)
	})

	t.Run("panic becomes error", func(t *testing.T) {
		h := NewHostBackend(HostOptions{Workers: 2})
		require.NoError(t, h.SetWorkSizes(1, []int{2}, []int{2}, 0))

		entry := func(th Thread) {
			if th.Global() == 3 {
				panic("boom")
			}
		}
		err := h.Launch(reflect.ValueOf(entry), nil)
		assert.ErrorIs(t, err, ErrKernelPanic)
	})
}

func TestHostBackend_Memory(t *testing.T) {
	h := NewHostBackend(HostOptions{MaxDeviceMemory: 64})

	buf, err := NewBuffer[uint32](h, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(32), h.Allocated())
	assert.Equal(t, int64(32), buf.Bytes())

	_, err = NewBuffer[uint64](h, 8)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, int64(32), h.Allocated())

	buf.Free()
	buf.Free()
	assert.Equal(t, int64(0), h.Allocated())
}

func TestBuffer(t *testing.T) {
	h := NewHostBackend(HostOptions{})

	buf, err := Upload(h, []int32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, buf.Len())

	buf.Data()[1] = 20
	assert.Equal(t, []int32{1, 20, 3}, buf.Download())

	buf.Fill(7)
	assert.Equal(t, []int32{7, 7, 7}, buf.Download())

	var nilBuf *Buffer[int32]
	assert.Equal(t, 0, nilBuf.Len())
	assert.Nil(t, nilBuf.Data())
	nilBuf.Free()
}

func TestArray(t *testing.T) {
	h := NewHostBackend(HostOptions{})
	arr := NewArray(h, []float64{1, 2})

	v, err := arr.DeviceValue()
	require.NoError(t, err)
	dev, ok := v.(*Buffer[float64])
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, dev.Download())

	again, err := arr.DeviceValue()
	require.NoError(t, err)
	assert.Same(t, dev, again, "upload happens once")

	dev.Data()[0] = 5
	arr.Sync()
	assert.Equal(t, []float64{5, 2}, arr.Host)

	arr.Free()
	assert.Equal(t, int64(0), h.Allocated())
}
