package encoder

import (
	"github.com/ayusman/janken/internal/pose"
)

// Encoder turns a hand-pose observation into a classifier input tensor.
// It is safe for concurrent use if its Allocator is.
type Encoder struct {
	alloc Allocator
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithAllocator sets the allocator used for tensor buffers.
func WithAllocator(a Allocator) Option {
	return func(e *Encoder) {
		if a != nil {
			e.alloc = a
		}
	}
}

// New creates an Encoder. By default buffers come from the heap.
func New(opts ...Option) *Encoder {
	e := &Encoder{alloc: HeapAllocator()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode writes obs into a new [1,3,21] tensor in pose.JointOrder.
//
// For each joint index i the tensor holds x at [0,0,i], y at [0,1,i] and
// confidence at [0,2,i]. Joints missing from obs are written as zeros in
// all three channels. Values are copied as given, without rescaling.
// The only possible error is an *AllocationError.
func (e *Encoder) Encode(obs pose.Observation) (*Tensor, error) {
	buf, err := e.alloc.Alloc(Size)
	if err != nil {
		return nil, &AllocationError{Size: Size, Err: err}
	}
	if len(buf) != Size {
		e.alloc.Free(buf)
		return nil, &AllocationError{Size: Size}
	}

	t := &Tensor{data: buf, owner: e.alloc}

	for idx, joint := range pose.JointOrder {
		kp, ok := obs.Lookup(joint)
		if !ok {
			t.set(0, ChannelX, idx, 0)
			t.set(0, ChannelY, idx, 0)
			t.set(0, ChannelConfidence, idx, 0)
			continue
		}

		t.set(0, ChannelX, idx, float32(kp.Location.X))
		t.set(0, ChannelY, idx, float32(kp.Location.Y))
		t.set(0, ChannelConfidence, idx, float32(kp.Confidence))
	}

	return t, nil
}
