// Package encoder converts hand-pose observations into the fixed-shape
// tensor consumed by the gesture classifier.
package encoder

import (
	"fmt"

	"github.com/ayusman/janken/internal/pose"
)

// Tensor dimensions.
const (
	Batch    = 1
	Channels = 3 // x, y, confidence
	Length   = pose.NumJoints
	Size     = Batch * Channels * Length
)

// Channel indices.
const (
	ChannelX          = 0
	ChannelY          = 1
	ChannelConfidence = 2
)

// Tensor is a [1,3,21] float32 array stored row-major: element [b,c,i]
// lives at offset b*Channels*Length + c*Length + i.
type Tensor struct {
	data  []float32
	owner Allocator
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() []int64 {
	return []int64{Batch, Channels, Length}
}

// Data returns the backing storage. It is only valid until Release.
func (t *Tensor) Data() []float32 {
	return t.data
}

// At returns element [b,c,i]. It panics if an index is out of range.
func (t *Tensor) At(b, c, i int) float32 {
	return t.data[offset(b, c, i)]
}

func (t *Tensor) set(b, c, i int, v float32) {
	t.data[offset(b, c, i)] = v
}

// Release hands the backing buffer back to the allocator that produced it.
// The tensor must not be used afterwards.
func (t *Tensor) Release() {
	if t == nil || t.data == nil {
		return
	}
	if t.owner != nil {
		t.owner.Free(t.data)
	}
	t.data = nil
}

// String formats the tensor one channel per line.
func (t *Tensor) String() string {
	if t.data == nil {
		return "Tensor[released]"
	}
	return fmt.Sprintf("Tensor[1,3,21]{x: %v, y: %v, c: %v}",
		t.data[0:Length], t.data[Length:2*Length], t.data[2*Length:3*Length])
}

func offset(b, c, i int) int {
	if b < 0 || b >= Batch || c < 0 || c >= Channels || i < 0 || i >= Length {
		panic(fmt.Sprintf("encoder: index [%d,%d,%d] out of range for shape [1,3,21]", b, c, i))
	}
	return b*Channels*Length + c*Length + i
}
