package capture

import (
	"image"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Activity thresholds.
const (
	// IdleFPS is the capture rate while the scene is still.
	IdleFPS = 5
	// blurKernel smooths sensor noise before differencing.
	blurKernel = 21
	// pixelDelta is the grey-level change that counts a pixel as moved.
	pixelDelta = 25
	// DefaultIdleAfter is how long a still scene lasts before slowing down.
	DefaultIdleAfter = 2 * time.Second
	// DefaultMotionPercent is the share of changed pixels treated as movement.
	DefaultMotionPercent = 1.0
)

// ActivityMonitor lowers a camera's frame rate while nothing moves in front
// of it and restores it on movement. Use Observe as a StreamOptions.Tap.
type ActivityMonitor struct {
	cam           Camera
	activeFPS     int
	motionPercent float64
	idleAfter     time.Duration
	now           func() time.Time

	mu         sync.Mutex
	prev       gocv.Mat
	hasPrev    bool
	lastMotion time.Time
	idle       bool
}

// NewActivityMonitor creates a monitor for cam. The camera's current FPS is
// the active rate.
func NewActivityMonitor(cam Camera, motionPercent float64, idleAfter time.Duration) *ActivityMonitor {
	if motionPercent <= 0 {
		motionPercent = DefaultMotionPercent
	}
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &ActivityMonitor{
		cam:           cam,
		activeFPS:     cam.FPS(),
		motionPercent: motionPercent,
		idleAfter:     idleAfter,
		now:           time.Now,
		prev:          gocv.NewMat(),
		lastMotion:    time.Now(),
	}
}

// Observe compares mat with the previous frame and switches the camera rate
// when the scene goes still or starts moving.
func (m *ActivityMonitor) Observe(mat *gocv.Mat) {
	moved, _ := m.changed(mat)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	switch {
	case moved:
		m.lastMotion = now
		if m.idle {
			m.idle = false
			m.cam.SetFPS(m.activeFPS)
			log.Println("Motion detected, capture back to full rate")
		}
	case !m.idle && now.Sub(m.lastMotion) > m.idleAfter:
		m.idle = true
		m.cam.SetFPS(IdleFPS)
		log.Println("Scene idle, capture slowed down")
	}
}

// Idle reports whether the monitor has slowed the camera down.
func (m *ActivityMonitor) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// changed returns whether the frame differs from the previous one and the
// percentage of pixels that changed.
func (m *ActivityMonitor) changed(frame *gocv.Mat) (bool, float64) {
	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	switch frame.Channels() {
	case 4:
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRAToGray)
	case 3:
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	default:
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: blurKernel, Y: blurKernel}, 0, 0, gocv.BorderDefault)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasPrev || m.prev.Rows() != blurred.Rows() || m.prev.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prev)
		m.hasPrev = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prev, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, pixelDelta, 255, gocv.ThresholdBinary)

	percent := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0
	blurred.CopyTo(&m.prev)

	return percent > m.motionPercent, percent
}

// Close releases the stored reference frame.
func (m *ActivityMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev.Close()
	m.prev = gocv.NewMat()
	m.hasPrev = false
}
