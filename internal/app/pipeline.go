package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gocv.io/x/gocv"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/dispatch"
	"github.com/ayusman/janken/internal/pose"
	"github.com/ayusman/janken/internal/store"
)

// runPipeline streams camera frames into the dispatcher until ctx ends.
//
// The camera produces frames at its own rate on the stream goroutine and
// drops them when the dispatcher is not ready for more. The dispatcher in
// turn drops frames that arrive while one is still being processed, so at
// most one frame is ever in flight.
func (a *App) runPipeline(ctx context.Context, d *dispatch.Dispatcher, done chan struct{}) {
	defer close(done)

	frames := capture.Stream(ctx, a.camera, capture.StreamOptions{
		DropLateFrames: true,
		Tap:            a.tap(a.activity),
		Stats:          &a.stream,
	})

	if err := d.Run(ctx, frames); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Pipeline stopped: %v", err)
	}

	// Wait for the capture goroutine so the camera can be closed safely.
	for f := range frames {
		f.Close()
	}
}

// startSession opens a history session when history is enabled.
func (a *App) startSession() {
	a.session = nil
	if !a.config.Settings.History || a.config.Store == nil {
		return
	}

	model := a.config.Settings.Model.Path
	if model == "" || a.classifier == nil {
		model = TemplateModel
	}
	sess, err := a.config.Store.Sessions().Start(model)
	if err != nil {
		log.Printf("Failed to start history session: %v", err)
		return
	}
	a.session = sess
}

func (a *App) endSession() {
	if a.session == nil {
		return
	}
	if err := a.config.Store.Sessions().End(a.session.ID); err != nil {
		log.Printf("Failed to end history session: %v", err)
	}
}

// record stores an outcome in the active history session. It runs on the
// dispatcher lane.
func (a *App) record(out dispatch.Outcome) {
	sess := a.session
	if sess == nil {
		return
	}

	p := &store.Prediction{
		SessionID:     sess.ID,
		Seq:           out.Seq,
		State:         out.State.String(),
		Label:         out.Label,
		Confidence:    out.Confidence,
		Probabilities: out.Probabilities,
	}
	if out.Err != nil {
		p.Error = out.Err.Error()
	}
	if !out.CapturedAt.IsZero() {
		p.CreatedAt = out.CapturedAt
	}

	if err := a.config.Store.Predictions().Create(p); err != nil {
		log.Printf("Failed to record frame %d: %v", out.Seq, err)
	}
}

// unavailableEstimator stands in when no estimator could be built, so every
// frame reports the detecting stage as unavailable.
type unavailableEstimator struct {
	err error
}

func (e unavailableEstimator) Estimate(*gocv.Mat, int) ([]pose.Observation, error) {
	return nil, fmt.Errorf("%w: %v", pose.ErrPoseDetection, e.err)
}

func (e unavailableEstimator) Close() error { return nil }
