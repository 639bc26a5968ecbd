package pose

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockEstimator is a test implementation of the Estimator interface.
// It allows tests to control the estimation results.
type MockEstimator struct {
	mu           sync.Mutex
	observations []Observation
	err          error
	calls        int
	lastMaxHands int
	gate         chan struct{}
}

// NewMockEstimator creates a new MockEstimator instance.
func NewMockEstimator() *MockEstimator {
	return &MockEstimator{}
}

// SetObservations sets the observations that will be returned by Estimate.
func (m *MockEstimator) SetObservations(obs ...Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = obs
}

// SetError sets the error that will be returned by Estimate.
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Hold makes subsequent Estimate calls block until Release is called.
func (m *MockEstimator) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Release unblocks calls waiting on a previous Hold.
func (m *MockEstimator) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Calls returns how many times Estimate has been invoked.
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMaxHands returns the hand limit passed to the most recent call.
func (m *MockEstimator) LastMaxHands() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMaxHands
}

// Estimate returns the pre-configured observations or error. Unlike a real
// estimator it does not apply maxHands, so tests can return extra hands.
func (m *MockEstimator) Estimate(frame *gocv.Mat, maxHands int) ([]Observation, error) {
	m.mu.Lock()
	m.calls++
	m.lastMaxHands = maxHands
	gate := m.gate
	obs, err := m.observations, m.err
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	if err != nil {
		return nil, err
	}
	return obs, nil
}

// Close is a no-op for the mock estimator.
func (m *MockEstimator) Close() error {
	return nil
}

func fixture(points [NumJoints]Point) Observation {
	obs := NewObservation()
	obs.Handedness = "Right"
	obs.Score = 0.95
	for i, p := range points {
		obs.Set(JointOrder[i], Keypoint{Location: p, Confidence: 0.9})
	}
	return obs
}

// RockObservation returns a closed fist: every finger curled into the palm.
func RockObservation() Observation {
	return fixture([NumJoints]Point{
		{X: 0.50, Y: 0.20},
		// Thumb folded across the fingers
		{X: 0.55, Y: 0.25}, {X: 0.58, Y: 0.32}, {X: 0.55, Y: 0.36}, {X: 0.50, Y: 0.36},
		// Index
		{X: 0.55, Y: 0.40}, {X: 0.56, Y: 0.44}, {X: 0.54, Y: 0.40}, {X: 0.53, Y: 0.37},
		// Middle
		{X: 0.50, Y: 0.41}, {X: 0.51, Y: 0.45}, {X: 0.49, Y: 0.41}, {X: 0.48, Y: 0.38},
		// Ring
		{X: 0.45, Y: 0.40}, {X: 0.46, Y: 0.44}, {X: 0.44, Y: 0.40}, {X: 0.43, Y: 0.37},
		// Little
		{X: 0.41, Y: 0.38}, {X: 0.42, Y: 0.41}, {X: 0.40, Y: 0.38}, {X: 0.39, Y: 0.36},
	})
}

// PaperObservation returns an open palm: every finger extended.
func PaperObservation() Observation {
	return fixture([NumJoints]Point{
		{X: 0.50, Y: 0.20},
		// Thumb extended to the side
		{X: 0.55, Y: 0.25}, {X: 0.62, Y: 0.30}, {X: 0.68, Y: 0.35}, {X: 0.73, Y: 0.40},
		// Index
		{X: 0.55, Y: 0.32}, {X: 0.57, Y: 0.45}, {X: 0.58, Y: 0.55}, {X: 0.58, Y: 0.65},
		// Middle
		{X: 0.50, Y: 0.34}, {X: 0.50, Y: 0.48}, {X: 0.50, Y: 0.60}, {X: 0.50, Y: 0.72},
		// Ring
		{X: 0.45, Y: 0.32}, {X: 0.43, Y: 0.45}, {X: 0.42, Y: 0.55}, {X: 0.42, Y: 0.65},
		// Little
		{X: 0.40, Y: 0.30}, {X: 0.37, Y: 0.40}, {X: 0.35, Y: 0.50}, {X: 0.34, Y: 0.58},
	})
}

// ScissorsObservation returns index and middle fingers extended in a V with
// the other fingers curled.
func ScissorsObservation() Observation {
	return fixture([NumJoints]Point{
		{X: 0.50, Y: 0.20},
		// Thumb folded
		{X: 0.55, Y: 0.25}, {X: 0.58, Y: 0.32}, {X: 0.55, Y: 0.36}, {X: 0.50, Y: 0.36},
		// Index extended, leaning right
		{X: 0.55, Y: 0.32}, {X: 0.60, Y: 0.45}, {X: 0.63, Y: 0.55}, {X: 0.66, Y: 0.65},
		// Middle extended, leaning left
		{X: 0.50, Y: 0.34}, {X: 0.47, Y: 0.48}, {X: 0.45, Y: 0.59}, {X: 0.43, Y: 0.70},
		// Ring curled
		{X: 0.45, Y: 0.40}, {X: 0.46, Y: 0.44}, {X: 0.44, Y: 0.40}, {X: 0.43, Y: 0.37},
		// Little curled
		{X: 0.41, Y: 0.38}, {X: 0.42, Y: 0.41}, {X: 0.40, Y: 0.38}, {X: 0.39, Y: 0.36},
	})
}
