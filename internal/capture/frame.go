package capture

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image with its position in the capture sequence.
type Frame struct {
	Mat        *gocv.Mat
	Seq        uint64
	CapturedAt time.Time
}

// Close releases the frame's image. It is safe on a nil frame and may be
// called more than once.
func (f *Frame) Close() {
	if f == nil || f.Mat == nil {
		return
	}
	f.Mat.Close()
	f.Mat = nil
}

// StreamStats counts what a Stream did with the frames it captured.
type StreamStats struct {
	captured  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Captured returns the number of frames read from the camera.
func (s *StreamStats) Captured() uint64 { return s.captured.Load() }

// Delivered returns the number of frames handed to the consumer.
func (s *StreamStats) Delivered() uint64 { return s.delivered.Load() }

// Dropped returns the number of frames discarded because the consumer was busy.
func (s *StreamStats) Dropped() uint64 { return s.dropped.Load() }

// Errors returns the number of failed reads.
func (s *StreamStats) Errors() uint64 { return s.errors.Load() }

// StreamOptions configures Stream.
type StreamOptions struct {
	// DropLateFrames discards a frame when the consumer is not waiting for
	// it. When false the capture loop blocks until the frame is taken.
	DropLateFrames bool
	// Tap sees every captured frame before delivery, dropped or not. It
	// must not retain the Mat.
	Tap func(mat *gocv.Mat)
	// Stats, if set, is updated as frames flow.
	Stats *StreamStats
}

// maxConsecutiveErrors ends a stream whose camera keeps failing.
const maxConsecutiveErrors = 30

// Stream reads frames from an open camera at its FPS on a background
// goroutine and pushes them on the returned channel. FPS changes made while
// it runs take effect on the next tick. The channel is closed when ctx is
// cancelled or the camera fails repeatedly. Consumers own the frames they
// receive and must Close them.
func Stream(ctx context.Context, cam Camera, opts StreamOptions) <-chan *Frame {
	out := make(chan *Frame)
	stats := opts.Stats
	if stats == nil {
		stats = &StreamStats{}
	}

	go func() {
		defer close(out)

		fps := cam.FPS()
		if fps <= 0 {
			fps = DefaultFPS
		}
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		var seq uint64
		failures := 0

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if current := cam.FPS(); current > 0 && current != fps {
				fps = current
				ticker.Reset(time.Second / time.Duration(fps))
			}

			mat, err := cam.ReadFrame()
			if err != nil {
				stats.errors.Add(1)
				failures++
				if failures >= maxConsecutiveErrors {
					log.Printf("Camera stream stopped after %d failed reads: %v", failures, err)
					return
				}
				continue
			}
			failures = 0

			seq++
			stats.captured.Add(1)
			if opts.Tap != nil {
				opts.Tap(mat)
			}

			frame := &Frame{Mat: mat, Seq: seq, CapturedAt: time.Now()}

			if opts.DropLateFrames {
				select {
				case out <- frame:
					stats.delivered.Add(1)
				case <-ctx.Done():
					frame.Close()
					return
				default:
					stats.dropped.Add(1)
					frame.Close()
				}
				continue
			}

			select {
			case out <- frame:
				stats.delivered.Add(1)
			case <-ctx.Done():
				frame.Close()
				return
			}
		}
	}()

	return out
}
