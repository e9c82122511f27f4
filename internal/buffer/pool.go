// Package buffer provides a size-tiered pool of exclusively owned byte buffers
// used for monitor payloads (memory dumps, display frames, encoded frames).
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrDoubleRelease is the panic value raised when a buffer is released twice.
	ErrDoubleRelease = errors.New("buffer: released twice")
	// ErrReleased is the panic value raised when a released buffer is accessed.
	ErrReleased = errors.New("buffer: used after release")
)

// tierSizes are the pooled capacities; anything larger is allocated unpooled.
var tierSizes = []int{
	64,
	256,
	1 << 10,
	4 << 10,
	16 << 10,
	64 << 10,
	256 << 10,
	1 << 20,
}

// Empty is the shared zero-length buffer. It is never pooled and releasing it
// is a no-op.
var Empty = &Buffer{empty: true}

// Default is the process-wide pool used by Get.
var Default = NewPool()

// Get returns a buffer of exactly size bytes from the default pool.
func Get(size int) *Buffer {
	return Default.Get(size)
}

// Buffer is a byte region owned by exactly one holder until Release.
type Buffer struct {
	data     []byte
	backing  *[]byte
	pool     *Pool
	tier     int
	empty    bool
	released atomic.Bool
}

// Bytes returns the usable region. It panics if the buffer has been released.
func (b *Buffer) Bytes() []byte {
	if b.empty {
		return nil
	}
	if b.released.Load() {
		panic(ErrReleased)
	}
	return b.data
}

// Len returns the usable length.
func (b *Buffer) Len() int {
	if b.empty {
		return 0
	}
	return len(b.data)
}

// Release returns the backing storage to its pool. Calling it twice panics.
func (b *Buffer) Release() {
	if b == nil || b.empty {
		return
	}
	if !b.released.CompareAndSwap(false, true) {
		panic(ErrDoubleRelease)
	}
	data := b.data
	b.data = nil
	if b.pool != nil && b.tier >= 0 {
		b.pool.put(b.tier, b.backing, data)
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Gets     uint64 `json:"gets"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Puts     uint64 `json:"puts"`
	Unpooled uint64 `json:"unpooled"`
}

// Pool hands out buffers from power-of-four capacity tiers.
type Pool struct {
	tiers []sync.Pool

	gets     atomic.Uint64
	misses   atomic.Uint64
	puts     atomic.Uint64
	unpooled atomic.Uint64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{tiers: make([]sync.Pool, len(tierSizes))}
	for i := range p.tiers {
		capacity := tierSizes[i]
		p.tiers[i].New = func() any {
			p.misses.Add(1)
			b := make([]byte, capacity)
			return &b
		}
	}
	return p
}

// Get returns a buffer whose Bytes() has length size. A zero size returns
// Empty without touching the pool.
func (p *Pool) Get(size int) *Buffer {
	if size <= 0 {
		return Empty
	}
	p.gets.Add(1)

	tier := tierFor(size)
	if tier < 0 {
		p.unpooled.Add(1)
		return &Buffer{data: make([]byte, size), tier: -1}
	}

	backing := p.tiers[tier].Get().(*[]byte)
	data := (*backing)[:size]
	clear(data)
	return &Buffer{data: data, backing: backing, pool: p, tier: tier}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	gets := p.gets.Load()
	misses := p.misses.Load()
	unpooled := p.unpooled.Load()
	hits := uint64(0)
	if pooled := gets - unpooled; pooled > misses {
		hits = pooled - misses
	}
	return Stats{
		Gets:     gets,
		Hits:     hits,
		Misses:   misses,
		Puts:     p.puts.Load(),
		Unpooled: unpooled,
	}
}

func (p *Pool) put(tier int, backing *[]byte, data []byte) {
	if backing == nil {
		return
	}
	*backing = data[:cap(data)]
	p.puts.Add(1)
	p.tiers[tier].Put(backing)
}

func tierFor(size int) int {
	for i, capacity := range tierSizes {
		if size <= capacity {
			return i
		}
	}
	return -1
}
