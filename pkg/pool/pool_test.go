package pool

import (
	"sync"
	"testing"
)

// =============================================================================
// Configuration Tests
// =============================================================================

func TestConfigure(t *testing.T) {
	// Save original config
	origConfig := globalConfig
	defer func() {
		Configure(origConfig)
	}()

	t.Run("enable pooling", func(t *testing.T) {
		Configure(PoolConfig{Enabled: true, MaxSize: 500})

		if !IsEnabled() {
			t.Error("IsEnabled() = false, want true")
		}
		if globalConfig.MaxSize != 500 {
			t.Errorf("MaxSize = %d, want 500", globalConfig.MaxSize)
		}
	})

	t.Run("disable pooling", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false, MaxSize: 1000})

		if IsEnabled() {
			t.Error("IsEnabled() = true, want false")
		}
	})
}

// =============================================================================
// Shared Memory Pool Tests
// =============================================================================

func TestSharedBufferPool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

	t.Run("zero size returns nil", func(t *testing.T) {
		if b := GetSharedBuffer(0); b != nil {
			t.Errorf("GetSharedBuffer(0) = %v, want nil", b)
		}
	})

	t.Run("returned buffer has requested length", func(t *testing.T) {
		b := GetSharedBuffer(128)
		if len(b) != 128 {
			t.Errorf("len = %d, want 128", len(b))
		}
		PutSharedBuffer(b)
	})

	t.Run("reused buffer is zeroed", func(t *testing.T) {
		b := GetSharedBuffer(64)
		for i := range b {
			b[i] = 0xFF
		}
		PutSharedBuffer(b)

		b2 := GetSharedBuffer(64)
		for i, v := range b2 {
			if v != 0 {
				t.Fatalf("b2[%d] = %d, want 0", i, v)
			}
		}
		PutSharedBuffer(b2)
	})

	t.Run("grows beyond pooled capacity", func(t *testing.T) {
		b := GetSharedBuffer(10000)
		if len(b) != 10000 {
			t.Errorf("len = %d, want 10000", len(b))
		}
		PutSharedBuffer(b)
	})

	t.Run("oversized buffers not pooled", func(t *testing.T) {
		Configure(PoolConfig{Enabled: true, MaxSize: 10})
		defer Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

		PutSharedBuffer(make([]byte, 100)) // Should not panic, just not pool it
	})

	t.Run("disabled pooling allocates", func(t *testing.T) {
		Configure(PoolConfig{Enabled: false, MaxSize: 1000})
		defer Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

		b := GetSharedBuffer(32)
		if len(b) != 32 {
			t.Errorf("len = %d, want 32", len(b))
		}
		PutSharedBuffer(b)
	})
}

// =============================================================================
// Count Slice Pool Tests
// =============================================================================

func TestCountSlicePool(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

	t.Run("returned slice is zeroed", func(t *testing.T) {
		s := GetCountSlice(16)
		for i := range s {
			s[i] = uint64(i + 1)
		}
		PutCountSlice(s)

		s2 := GetCountSlice(16)
		for i, v := range s2 {
			if v != 0 {
				t.Fatalf("s2[%d] = %d, want 0", i, v)
			}
		}
		PutCountSlice(s2)
	})

	t.Run("zero length", func(t *testing.T) {
		s := GetCountSlice(0)
		if len(s) != 0 {
			t.Errorf("len = %d, want 0", len(s))
		}
		PutCountSlice(s)
	})
}

func TestConcurrentAccess(t *testing.T) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := GetSharedBuffer(64 + n)
				b[0] = byte(n)
				PutSharedBuffer(b)

				s := GetCountSlice(32 + n)
				s[0] = uint64(n)
				PutCountSlice(s)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkSharedBufferPool(b *testing.B) {
	Configure(PoolConfig{Enabled: true, MaxSize: 1 << 16})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := GetSharedBuffer(4096)
		buf[0] = 1
		PutSharedBuffer(buf)
	}
}
