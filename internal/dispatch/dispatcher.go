// Package dispatch runs captured frames through pose estimation, encoding
// and classification on a single processing lane.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/classifier"
	"github.com/ayusman/janken/internal/encoder"
	"github.com/ayusman/janken/internal/pose"
	"github.com/ayusman/janken/internal/present"
)

// MaxHands is the hand limit requested from the estimator.
const MaxHands = 1

var (
	// ErrClassifierUnavailable is the classifying failure when no model is loaded.
	ErrClassifierUnavailable = fmt.Errorf("%w: no classifier loaded", classifier.ErrModelLoad)
	// ErrAlreadyStarted is returned by Start on a running dispatcher.
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Estimator finds hands in a frame.
type Estimator interface {
	Estimate(frame *gocv.Mat, maxHands int) ([]pose.Observation, error)
}

// Encoder turns one observation into a tensor.
type Encoder interface {
	Encode(obs pose.Observation) (*encoder.Tensor, error)
}

// Classifier labels a tensor.
type Classifier interface {
	Classify(t *encoder.Tensor) (*classifier.Result, error)
}

// Config wires a Dispatcher.
type Config struct {
	Estimator Estimator
	Encoder   Encoder
	// Classifier may be nil, in which case frames with a hand fail at
	// the classifying stage.
	Classifier Classifier
	Presenter  present.Presenter
	// UI is where Presenter runs. Nil presents on the lane goroutine.
	UI present.Context
	// MaxHands defaults to MaxHands.
	MaxHands int
	// DropFailures keeps failed frames off the presenter. They are still
	// logged and passed to OnOutcome.
	DropFailures bool
	// OnOutcome observes every presented outcome on the lane goroutine.
	OnOutcome func(Outcome)
}

// Stats counts frames by what happened to them.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
}

// Dispatcher owns the processing lane. Frames are accepted only while the
// lane is idle; a frame arriving while another is in flight is dropped, so
// results always describe a recent frame and come out in capture order.
type Dispatcher struct {
	config Config

	mu      sync.RWMutex
	lane    chan *capture.Frame
	started bool
	stopped bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	discarded atomic.Uint64
}

// New creates a Dispatcher. The estimator and encoder are required.
func New(config Config) (*Dispatcher, error) {
	if config.Estimator == nil {
		return nil, errors.New("dispatch: estimator is required")
	}
	if config.Encoder == nil {
		return nil, errors.New("dispatch: encoder is required")
	}
	if config.MaxHands <= 0 {
		config.MaxHands = MaxHands
	}
	if config.UI == nil {
		config.UI = present.Inline
	}
	return &Dispatcher{
		config: config,
		lane:   make(chan *capture.Frame),
	}, nil
}

// Process runs one frame through the state machine and returns its
// outcome. It neither presents the outcome nor closes the frame.
func (d *Dispatcher) Process(frame *capture.Frame) Outcome {
	start := time.Now()
	out := Outcome{State: Idle, Trace: []State{Idle}}
	var mat *gocv.Mat
	if frame != nil {
		out.Seq = frame.Seq
		out.CapturedAt = frame.CapturedAt
		mat = frame.Mat
	}

	step := func(s State) {
		out.State = s
		out.Trace = append(out.Trace, s)
	}
	fail := func(stage State, err error) Outcome {
		out.Err = &StageError{Stage: stage, Err: err}
		step(Failed)
		out.Duration = time.Since(start)
		return out
	}

	step(PoseDetecting)
	observations, err := d.config.Estimator.Estimate(mat, d.config.MaxHands)
	if err != nil {
		return fail(PoseDetecting, err)
	}
	if len(observations) == 0 {
		step(NoHandReported)
		out.Duration = time.Since(start)
		return out
	}

	step(Encoding)
	tensor, err := d.config.Encoder.Encode(observations[0])
	if err != nil {
		return fail(Encoding, err)
	}
	defer tensor.Release()

	step(Classifying)
	if d.config.Classifier == nil {
		return fail(Classifying, ErrClassifierUnavailable)
	}
	result, err := d.config.Classifier.Classify(tensor)
	if err != nil {
		return fail(Classifying, err)
	}
	if result == nil {
		return fail(Classifying, fmt.Errorf("%w: empty result", classifier.ErrClassification))
	}

	out.Label = result.Label
	out.Confidence = classifier.Confidence(result)
	out.Probabilities = result.Probabilities
	step(Reported)
	out.Duration = time.Since(start)
	return out
}

// Start launches the processing lane. It stops when ctx is cancelled or
// Stop is called. Outcomes completed after ctx is cancelled are discarded.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	d.wg.Add(1)
	go d.runLane(ctx)
	return nil
}

func (d *Dispatcher) runLane(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-d.lane:
			if !ok {
				return
			}
			out := d.Process(frame)
			frame.Close()
			d.finish(ctx, out)
		}
	}
}

// finish reports an outcome unless the session ended while it was computed.
func (d *Dispatcher) finish(ctx context.Context, out Outcome) {
	if ctx.Err() != nil {
		d.discarded.Add(1)
		return
	}
	d.processed.Add(1)

	if out.State == Failed {
		d.failed.Add(1)
		log.Printf("Frame %d failed: %v", out.Seq, out.Err)
		if d.config.DropFailures {
			d.observe(out)
			return
		}
	}

	update := out.Update()
	present.Deliver(d.config.UI, d.config.Presenter, update)
	d.observe(out)
}

func (d *Dispatcher) observe(out Outcome) {
	if d.config.OnOutcome != nil {
		d.config.OnOutcome(out)
	}
}

// Submit offers a frame to the lane. It returns false, and closes the
// frame, if the lane is busy or not running.
func (d *Dispatcher) Submit(frame *capture.Frame) bool {
	if frame == nil {
		return false
	}
	d.submitted.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.started && !d.stopped {
		select {
		case d.lane <- frame:
			return true
		default:
		}
	}
	d.dropped.Add(1)
	frame.Close()
	return false
}

// Stop closes the lane and waits for an in-flight frame to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.stopped = true
	close(d.lane)
	d.mu.Unlock()

	d.wg.Wait()
}

// Run starts the lane, submits every frame from frames and stops when
// frames is closed or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan *capture.Frame) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			d.Submit(frame)
		}
	}
}

// Stats returns the frame counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Discarded: d.discarded.Load(),
	}
}
