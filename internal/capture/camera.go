// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultPreset = PresetHigh
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrDeviceUnavailable is returned when no capture device can be found.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrInputCreation is returned when the device exists but cannot be opened for input.
	ErrInputCreation = errors.New("camera input creation failed")
)

// Preset names a capture resolution.
type Preset string

// Supported presets.
const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// Size returns the frame width and height for the preset.
func (p Preset) Size() (width, height int, err error) {
	switch p {
	case PresetLow:
		return 640, 480, nil
	case PresetMedium:
		return 960, 540, nil
	case PresetHigh:
		return 1280, 720, nil
	}
	return 0, 0, fmt.Errorf("unknown capture preset %q", string(p))
}

// ParsePreset parses a preset name, case-insensitively.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	if _, _, err := p.Size(); err != nil {
		return "", err
	}
	return p, nil
}

// Config describes how a camera is opened.
type Config struct {
	DeviceID int
	Preset   Preset
	FPS      int
	// DropLateFrames discards frames the consumer is not ready for.
	DropLateFrames bool
}

// DefaultConfig returns the capture settings used by the live pipeline:
// high preset, 32-bit BGRA frames, late frames dropped.
func DefaultConfig() Config {
	return Config{
		DeviceID:       0,
		Preset:         DefaultPreset,
		FPS:            DefaultFPS,
		DropLateFrames: true,
	}
}

// Camera defines the interface for camera capture implementations.
// Frames returned by ReadFrame are 4-channel BGRA.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	config  Config
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a Camera for the given configuration. Zero fields take
// their DefaultConfig values.
func NewCamera(config Config) Camera {
	if config.Preset == "" {
		config.Preset = DefaultPreset
	}
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	return &cameraImpl{
		config: config,
		fps:    config.FPS,
	}
}

// Open opens the camera for capturing frames at the configured preset.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	width, height, err := c.config.Preset.Size()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputCreation, err)
	}

	capture, err := gocv.OpenVideoCapture(c.config.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: device %d: %w", ErrDeviceUnavailable, c.config.DeviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: device %d did not open", ErrInputCreation, c.config.DeviceID)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera and converts it to BGRA.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	return toBGRA(&mat), nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// toBGRA converts a 1- or 3-channel Mat to BGRA in place of src. src is
// closed when a conversion happens.
func toBGRA(src *gocv.Mat) *gocv.Mat {
	var code gocv.ColorConversionCode
	switch src.Channels() {
	case 4:
		return src
	case 1:
		code = gocv.ColorGrayToBGRA
	default:
		code = gocv.ColorBGRToBGRA
	}

	dst := gocv.NewMat()
	gocv.CvtColor(*src, &dst, code)
	src.Close()
	return &dst
}
