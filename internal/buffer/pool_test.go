package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetZeroReturnsEmptySentinel(t *testing.T) {
	p := NewPool()

	b := p.Get(0)
	assert.Same(t, Empty, b)
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Bytes())
	assert.Equal(t, Stats{}, p.Stats(), "empty buffer must not touch the pool")

	// Releasing the sentinel any number of times is allowed.
	b.Release()
	b.Release()
}

func TestGetSizes(t *testing.T) {
	p := NewPool()

	tests := []struct {
		name     string
		size     int
		wantTier int
	}{
		{"smallest", 1, 0},
		{"tier boundary", 64, 0},
		{"just over boundary", 65, 1},
		{"memory page", 256, 1},
		{"full address space", 65536, 5},
		{"display frame", 384 * 272, 6},
		{"largest tier", 1 << 20, 7},
		{"unpooled", 1<<20 + 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := p.Get(tt.size)
			defer b.Release()

			assert.Equal(t, tt.size, b.Len())
			assert.Len(t, b.Bytes(), tt.size)
			assert.Equal(t, tt.wantTier, b.tier)
		})
	}
}

func TestReleaseReturnsCapacityToPool(t *testing.T) {
	p := NewPool()

	b := p.Get(100)
	copy(b.Bytes(), []byte{1, 2, 3})
	b.Release()

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Gets)
	assert.Equal(t, uint64(1), stats.Puts)

	again := p.Get(10)
	defer again.Release()
	assert.Equal(t, []byte{0, 0, 0}, again.Bytes()[:3], "reused buffers are zeroed")
}

func TestDoubleReleasePanics(t *testing.T) {
	p := NewPool()
	b := p.Get(16)
	b.Release()

	assert.PanicsWithValue(t, ErrDoubleRelease, func() { b.Release() })
}

func TestUseAfterReleasePanics(t *testing.T) {
	b := Get(16)
	b.Release()

	assert.PanicsWithValue(t, ErrReleased, func() { _ = b.Bytes() })
}

func TestUnpooledRelease(t *testing.T) {
	p := NewPool()
	b := p.Get(2 << 20)
	require.Equal(t, 2<<20, b.Len())
	b.Release()

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Unpooled)
	assert.Equal(t, uint64(0), stats.Puts)
	assert.PanicsWithValue(t, ErrDoubleRelease, func() { b.Release() })
}

func TestNilRelease(t *testing.T) {
	var b *Buffer
	assert.NotPanics(t, func() { b.Release() })
}
