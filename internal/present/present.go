// Package present delivers classification outcomes to user-visible
// surfaces on the context that owns them.
package present

import (
	"fmt"
	"time"
)

// Kind identifies what an Update reports.
type Kind int

const (
	// Idle is shown before the first frame is processed.
	Idle Kind = iota
	// Result carries a label and confidence.
	Result
	// NoHand reports a frame without a detected hand.
	NoHand
	// Unavailable reports a failed stage.
	Unavailable
	// PermissionRequired reports that camera access was denied.
	PermissionRequired
)

var kindNames = map[Kind]string{
	Idle:               "idle",
	Result:             "result",
	NoHand:             "no_hand",
	Unavailable:        "unavailable",
	PermissionRequired: "permission_required",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Update is one change to the displayed outcome.
type Update struct {
	Kind Kind `json:"kind"`
	// Label and Confidence are set for Result.
	Label      string `json:"label,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
	// Stage names the failing step for Unavailable.
	Stage string `json:"stage,omitempty"`
	// Detail is extra text for Unavailable and PermissionRequired.
	Detail string    `json:"detail,omitempty"`
	Seq    uint64    `json:"seq,omitempty"`
	At     time.Time `json:"at"`
}

// NewResult reports a classification.
func NewResult(label string, confidence int) Update {
	return Update{Kind: Result, Label: label, Confidence: confidence, At: time.Now()}
}

// NewNoHand reports a frame without a hand.
func NewNoHand() Update {
	return Update{Kind: NoHand, At: time.Now()}
}

// NewUnavailable reports that stage failed.
func NewUnavailable(stage, detail string) Update {
	return Update{Kind: Unavailable, Stage: stage, Detail: detail, At: time.Now()}
}

// NewPermissionRequired reports denied camera access with the action that
// grants it.
func NewPermissionRequired(directive string) Update {
	return Update{Kind: PermissionRequired, Detail: directive, At: time.Now()}
}

// Text renders the update as the result label shows it.
func (u Update) Text() string {
	switch u.Kind {
	case Result:
		return fmt.Sprintf("Result: %s (%d%%)", u.Label, u.Confidence)
	case NoHand:
		return "Result: no hand detected"
	case Unavailable:
		if u.Stage == "" {
			return "Result: unavailable"
		}
		return fmt.Sprintf("Result: unavailable (%s)", u.Stage)
	case PermissionRequired:
		if u.Detail == "" {
			return "Camera access denied"
		}
		return "Camera access denied: " + u.Detail
	default:
		return "Result: -"
	}
}

// Presenter shows updates to the user. Present must only be called on the
// context that owns the presenter; see Context.
type Presenter interface {
	Present(u Update)
}

// Func adapts a function to Presenter.
type Func func(u Update)

// Present calls f(u).
func (f Func) Present(u Update) { f(u) }

// Context runs work on the goroutine or thread that owns UI state.
type Context interface {
	Post(fn func())
}

// ContextFunc adapts a function to Context.
type ContextFunc func(fn func())

// Post calls f(fn).
func (f ContextFunc) Post(fn func()) { f(fn) }

// Inline runs posted work immediately on the caller's goroutine. It suits
// presenters that synchronize internally.
var Inline Context = ContextFunc(func(fn func()) { fn() })

// On returns a presenter that delivers to p on ctx. Combined with Multi it
// lets each presenter run on its own context, so a slow network presenter
// does not hold up the UI thread.
func On(ctx Context, p Presenter) Presenter {
	return Func(func(u Update) { Deliver(ctx, p, u) })
}

// Deliver hands u to p on ctx.
func Deliver(ctx Context, p Presenter, u Update) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = Inline
	}
	ctx.Post(func() { p.Present(u) })
}
