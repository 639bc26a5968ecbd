package pose

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// workerIdleTimeout is how long the worker process may sit unused before it
// is shut down. It is restarted on the next call.
const workerIdleTimeout = 30 * time.Second

// MediaPipeEstimator implements Estimator using a Python MediaPipe subprocess.
//
// Wire protocol, per call: the estimator writes a 4-byte big-endian length,
// a 1-byte hand limit and a JPEG frame; the worker answers with one JSON
// line of the form {"hands":[{"points":[{"x":..,"y":..,"confidence":..}],
// "handedness":"Right","score":0.98}]} with points in JointOrder.
type MediaPipeEstimator struct {
	config    Config
	script    string
	python    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewMediaPipeEstimator creates a new MediaPipe estimator.
// The Python process is started lazily on first estimation.
func NewMediaPipeEstimator(config Config) (*MediaPipeEstimator, error) {
	script := config.Script
	if script == "" {
		script = findWorkerScript()
	}
	if script == "" {
		return nil, fmt.Errorf("hand_pose_worker.py not found")
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("worker script: %w", err)
	}

	python := config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeEstimator{
		config: config,
		script: script,
		python: python,
	}, nil
}

// Estimate sends the frame to the worker and returns the observed hands.
func (e *MediaPipeEstimator) Estimate(frame *gocv.Mat, maxHands int) ([]Observation, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrPoseDetection)
	}
	if maxHands < 1 {
		maxHands = 1
	}
	if maxHands > 255 {
		maxHands = 255
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoseDetection, err)
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrPoseDetection, err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	header[4] = byte(maxHands)

	if _, err := e.stdin.Write(header); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("%w: write header: %v", ErrPoseDetection, err)
	}
	if _, err := e.stdin.Write(data); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("%w: write frame: %v", ErrPoseDetection, err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("%w: read response: %v", ErrPoseDetection, err)
	}

	observations, err := decodeResponse(line, e.config, maxHands)
	if err != nil {
		return nil, err
	}

	e.resetIdleTimer()
	return observations, nil
}

// Close shuts down the Python process.
func (e *MediaPipeEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *MediaPipeEstimator) ensureStarted() error {
	if e.started {
		return nil
	}

	e.cmd = exec.Command(e.python, e.script)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start pose worker: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReader(stdout)
	e.started = true

	return nil
}

func (e *MediaPipeEstimator) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	return err
}

func (e *MediaPipeEstimator) resetIdleTimer() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(workerIdleTimeout, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.stopIfIdle(t)
	})
	e.idleTimer = t
}

// stopIfIdle shuts the worker down when t is still the current idle timer.
// A timer that fired while Estimate held the lock has since been replaced.
// Callers hold e.mu.
func (e *MediaPipeEstimator) stopIfIdle(t *time.Timer) {
	if t == nil || e.idleTimer != t {
		return
	}
	e.shutdown()
}

// wireHand is the JSON structure produced by the worker.
type wireHand struct {
	Points     []wirePoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type wirePoint struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Confidence *float64 `json:"confidence"`
}

type wireResponse struct {
	Hands []wireHand `json:"hands"`
	Error string     `json:"error,omitempty"`
}

// decodeResponse converts one worker response line into observations.
func decodeResponse(line []byte, config Config, maxHands int) ([]Observation, error) {
	var resp wireResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrPoseDetection, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: worker: %s", ErrPoseDetection, resp.Error)
	}

	hands := resp.Hands
	if len(hands) > maxHands {
		hands = hands[:maxHands]
	}

	result := make([]Observation, 0, len(hands))
	for _, h := range hands {
		result = append(result, h.toObservation(config))
	}
	return result, nil
}

func (h wireHand) toObservation(config Config) Observation {
	obs := NewObservation()
	obs.Handedness = h.Handedness
	obs.Score = h.Score

	for i := 0; i < NumJoints && i < len(h.Points); i++ {
		p := h.Points[i]

		// Points without their own confidence inherit the hand score.
		conf := h.Score
		if p.Confidence != nil {
			conf = *p.Confidence
		}
		if conf < config.MinConfidence {
			continue
		}

		y := p.Y
		if config.FlipY {
			y = 1 - y
		}
		obs.Set(JointOrder[i], Keypoint{
			Location:   Point{X: p.X, Y: y},
			Confidence: conf,
		})
	}

	return obs
}

func findWorkerScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/hand_pose_worker.py",
		"../scripts/hand_pose_worker.py",
		filepath.Join(execDir, "scripts/hand_pose_worker.py"),
		filepath.Join(os.Getenv("HOME"), ".janken/scripts/hand_pose_worker.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".janken/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
