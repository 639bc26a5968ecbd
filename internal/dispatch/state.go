package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/janken/internal/present"
)

// State is a step in the per-frame state machine.
type State int

const (
	Idle State = iota
	PoseDetecting
	NoHandReported
	Encoding
	Classifying
	Reported
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	PoseDetecting:  "detecting",
	NoHandReported: "no_hand",
	Encoding:       "encoding",
	Classifying:    "classifying",
	Reported:       "reported",
	Failed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether a frame's processing ends in s.
func (s State) Terminal() bool {
	return s == NoHandReported || s == Reported || s == Failed
}

// StageError records which step of a frame failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the terminal result of one frame.
type Outcome struct {
	Seq   uint64
	State State
	// Trace lists every state the frame passed through, starting at Idle.
	Trace         []State
	Label         string
	Confidence    int
	Probabilities map[string]float32
	// Err is a *StageError when State is Failed.
	Err        error
	CapturedAt time.Time
	Duration   time.Duration
}

// Update converts the outcome to what the presenter shows.
func (o Outcome) Update() present.Update {
	var u present.Update
	switch o.State {
	case Reported:
		u = present.NewResult(o.Label, o.Confidence)
	case NoHandReported:
		u = present.NewNoHand()
	default:
		stage := ""
		var stageErr *StageError
		if errors.As(o.Err, &stageErr) {
			stage = stageErr.Stage.String()
		}
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		}
		u = present.NewUnavailable(stage, detail)
	}
	u.Seq = o.Seq
	return u
}
