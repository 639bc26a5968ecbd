package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"gocv.io/x/gocv"
)

// Preview holds the most recent frame as JPEG for display surfaces.
type Preview struct {
	mu      sync.Mutex
	jpeg    []byte
	version uint64
	changed chan struct{}
}

// NewPreview creates an empty Preview.
func NewPreview() *Preview {
	return &Preview{changed: make(chan struct{})}
}

// Update encodes mat and makes it the latest frame. It is suitable as a
// StreamOptions.Tap.
func (p *Preview) Update(mat *gocv.Mat) {
	if mat == nil || mat.Empty() {
		return
	}
	buf, err := gocv.IMEncode(".jpg", *mat)
	if err != nil {
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	p.Set(data)
}

// Set stores an already encoded JPEG.
func (p *Preview) Set(data []byte) {
	p.mu.Lock()
	p.jpeg = data
	p.version++
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

// Latest returns the newest JPEG and its version. Version 0 means no frame
// has been captured yet.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jpeg, p.version
}

// Next blocks until a frame newer than version is available.
func (p *Preview) Next(ctx context.Context, version uint64) ([]byte, uint64, error) {
	for {
		p.mu.Lock()
		if p.version > version {
			data, v := p.jpeg, p.version
			p.mu.Unlock()
			return data, v, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, version, ctx.Err()
		case <-changed:
		}
	}
}

// Image decodes the newest frame.
func (p *Preview) Image() (image.Image, error) {
	data, version := p.Latest()
	if version == 0 {
		return nil, fmt.Errorf("no preview frame yet")
	}
	return jpeg.Decode(bytes.NewReader(data))
}
