package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAllocation is matched by every AllocationError.
var ErrAllocation = errors.New("tensor allocation failed")

// AllocationError is returned when a tensor buffer cannot be obtained.
type AllocationError struct {
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("allocate tensor of %d elements: %v", e.Size, e.Err)
	}
	return fmt.Sprintf("allocate tensor of %d elements", e.Size)
}

// Unwrap returns the underlying cause.
func (e *AllocationError) Unwrap() error { return e.Err }

// Is reports ErrAllocation as a match.
func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// Allocator hands out tensor buffers.
type Allocator interface {
	// Alloc returns a zeroed buffer of n elements.
	Alloc(n int) ([]float32, error)
	// Free returns a buffer previously obtained from Alloc.
	Free(buf []float32)
}

// heapAllocator allocates a fresh buffer per tensor and lets the GC reclaim it.
type heapAllocator struct{}

// HeapAllocator returns the default allocator.
func HeapAllocator() Allocator { return heapAllocator{} }

func (heapAllocator) Alloc(n int) ([]float32, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid size %d", n)
	}
	return make([]float32, n), nil
}

func (heapAllocator) Free([]float32) {}

// PoolAllocator reuses tensor buffers across frames and bounds how many may
// be outstanding at once.
type PoolAllocator struct {
	max         int64
	outstanding atomic.Int64
	pool        sync.Pool
}

// NewPoolAllocator creates a PoolAllocator that fails once max buffers are
// in use. max <= 0 means unbounded.
func NewPoolAllocator(max int) *PoolAllocator {
	return &PoolAllocator{
		max: int64(max),
		pool: sync.Pool{
			New: func() interface{} { return make([]float32, 0, Size) },
		},
	}
}

// Alloc returns a zeroed buffer of n elements.
func (p *PoolAllocator) Alloc(n int) ([]float32, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid size %d", n)
	}
	if p.max > 0 && p.outstanding.Add(1) > p.max {
		p.outstanding.Add(-1)
		return nil, fmt.Errorf("%d buffers already in use", p.max)
	} else if p.max <= 0 {
		p.outstanding.Add(1)
	}

	buf := p.pool.Get().([]float32)
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf, nil
}

// Free returns buf to the pool.
func (p *PoolAllocator) Free(buf []float32) {
	if buf == nil {
		return
	}
	p.outstanding.Add(-1)
	p.pool.Put(buf[:0])
}

// Outstanding returns the number of buffers currently in use.
func (p *PoolAllocator) Outstanding() int {
	return int(p.outstanding.Load())
}
