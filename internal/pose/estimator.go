package pose

import (
	"errors"

	"gocv.io/x/gocv"
)

// ErrPoseDetection wraps every failure reported by a pose estimator.
var ErrPoseDetection = errors.New("pose detection failed")

// Estimator defines the interface for hand-pose estimation implementations.
type Estimator interface {
	// Estimate analyzes a video frame and returns at most maxHands
	// observations, best first. Returns an empty slice if no hand is seen.
	Estimate(frame *gocv.Mat, maxHands int) ([]Observation, error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Config holds configuration options for hand-pose estimation.
type Config struct {
	// MinConfidence drops keypoints whose confidence is below it (0.0-1.0).
	// Dropped keypoints are absent from the observation.
	MinConfidence float64

	// FlipY converts estimator output from a top-left to a bottom-left
	// image origin.
	FlipY bool

	// Script is the path to the MediaPipe worker script. Empty means search
	// the usual locations.
	Script string

	// Python is the interpreter used to run Script. Empty means search for a
	// virtual environment, then fall back to python3.
	Python string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.0,
		FlipY:         true,
	}
}
