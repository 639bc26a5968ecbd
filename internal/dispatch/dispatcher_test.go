package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/classifier"
	"github.com/ayusman/janken/internal/encoder"
	"github.com/ayusman/janken/internal/pose"
	"github.com/ayusman/janken/internal/present"
)

// countingEncoder records the observations it encodes.
type countingEncoder struct {
	mu    sync.Mutex
	inner *encoder.Encoder
	seen  []pose.Observation
}

func newCountingEncoder(opts ...encoder.Option) *countingEncoder {
	return &countingEncoder{inner: encoder.New(opts...)}
}

func (e *countingEncoder) Encode(obs pose.Observation) (*encoder.Tensor, error) {
	e.mu.Lock()
	e.seen = append(e.seen, obs)
	e.mu.Unlock()
	return e.inner.Encode(obs)
}

func (e *countingEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

// stubClassifier returns a fixed result.
type stubClassifier struct {
	mu     sync.Mutex
	result *classifier.Result
	err    error
	calls  int
}

func (c *stubClassifier) Classify(t *encoder.Tensor) (*classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *stubClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingAllocator struct{}

func (failingAllocator) Alloc(int) ([]float32, error) { return nil, errors.New("exhausted") }
func (failingAllocator) Free([]float32)               {}

// recorder collects presented updates.
type recorder struct {
	mu      sync.Mutex
	updates []present.Update
}

func (r *recorder) Present(u present.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) All() []present.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]present.Update(nil), r.updates...)
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func frame(seq uint64) *capture.Frame {
	return &capture.Frame{Seq: seq, CapturedAt: time.Now()}
}

func traceString(trace []State) string {
	return fmt.Sprint(trace)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{PoseDetecting, "detecting"},
		{NoHandReported, "no_hand"},
		{Encoding, "encoding"},
		{Classifying, "classifying"},
		{Reported, "reported"},
		{Failed, "failed"},
		{State(99), "state(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}

	for _, s := range []State{NoHandReported, Reported, Failed} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	if Encoding.Terminal() {
		t.Error("encoding is not terminal")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Encoder: encoder.New()}); err == nil {
		t.Error("expected error without estimator")
	}
	if _, err := New(Config{Estimator: pose.NewMockEstimator()}); err == nil {
		t.Error("expected error without encoder")
	}
}

func TestProcess(t *testing.T) {
	rock := &classifier.Result{Label: "rock", Probabilities: map[string]float32{"rock": 0.976, "paper": 0.014, "scissors": 0.01}}

	tests := []struct {
		name           string
		observations   []pose.Observation
		estimatorErr   error
		encoderOpts    []encoder.Option
		classifier     *stubClassifier
		nilClassifier  bool
		wantState      State
		wantTrace      []State
		wantLabel      string
		wantConfidence int
		wantEncodes    int
		wantClassifies int
		wantErr        error
	}{
		{
			name:           "hand is classified",
			observations:   []pose.Observation{pose.RockObservation()},
			classifier:     &stubClassifier{result: rock},
			wantState:      Reported,
			wantTrace:      []State{Idle, PoseDetecting, Encoding, Classifying, Reported},
			wantLabel:      "rock",
			wantConfidence: 97,
			wantEncodes:    1,
			wantClassifies: 1,
		},
		{
			name:           "no hand skips encoder and classifier",
			classifier:     &stubClassifier{result: rock},
			wantState:      NoHandReported,
			wantTrace:      []State{Idle, PoseDetecting, NoHandReported},
			wantEncodes:    0,
			wantClassifies: 0,
		},
		{
			name:           "pose failure",
			estimatorErr:   fmt.Errorf("%w: worker exited", pose.ErrPoseDetection),
			classifier:     &stubClassifier{result: rock},
			wantState:      Failed,
			wantTrace:      []State{Idle, PoseDetecting, Failed},
			wantErr:        pose.ErrPoseDetection,
			wantEncodes:    0,
			wantClassifies: 0,
		},
		{
			name:           "encoding failure",
			observations:   []pose.Observation{pose.RockObservation()},
			encoderOpts:    []encoder.Option{encoder.WithAllocator(failingAllocator{})},
			classifier:     &stubClassifier{result: rock},
			wantState:      Failed,
			wantTrace:      []State{Idle, PoseDetecting, Encoding, Failed},
			wantErr:        encoder.ErrAllocation,
			wantEncodes:    1,
			wantClassifies: 0,
		},
		{
			name:           "classification failure",
			observations:   []pose.Observation{pose.RockObservation()},
			classifier:     &stubClassifier{err: fmt.Errorf("%w: bad output", classifier.ErrClassification)},
			wantState:      Failed,
			wantTrace:      []State{Idle, PoseDetecting, Encoding, Classifying, Failed},
			wantErr:        classifier.ErrClassification,
			wantEncodes:    1,
			wantClassifies: 1,
		},
		{
			name:           "classifier returns no result",
			observations:   []pose.Observation{pose.RockObservation()},
			classifier:     &stubClassifier{},
			wantState:      Failed,
			wantTrace:      []State{Idle, PoseDetecting, Encoding, Classifying, Failed},
			wantErr:        classifier.ErrClassification,
			wantEncodes:    1,
			wantClassifies: 1,
		},
		{
			name:          "no classifier loaded",
			observations:  []pose.Observation{pose.RockObservation()},
			nilClassifier: true,
			wantState:     Failed,
			wantTrace:     []State{Idle, PoseDetecting, Encoding, Classifying, Failed},
			wantErr:       classifier.ErrModelLoad,
			wantEncodes:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := pose.NewMockEstimator()
			est.SetObservations(tt.observations...)
			est.SetError(tt.estimatorErr)
			enc := newCountingEncoder(tt.encoderOpts...)

			cfg := Config{Estimator: est, Encoder: enc}
			if !tt.nilClassifier {
				cfg.Classifier = tt.classifier
			}
			d, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			out := d.Process(frame(7))

			if out.State != tt.wantState {
				t.Errorf("State = %v, want %v", out.State, tt.wantState)
			}
			if traceString(out.Trace) != traceString(tt.wantTrace) {
				t.Errorf("Trace = %v, want %v", out.Trace, tt.wantTrace)
			}
			if out.Label != tt.wantLabel || out.Confidence != tt.wantConfidence {
				t.Errorf("result = %s (%d), want %s (%d)", out.Label, out.Confidence, tt.wantLabel, tt.wantConfidence)
			}
			if out.Seq != 7 {
				t.Errorf("Seq = %d, want 7", out.Seq)
			}
			if enc.Calls() != tt.wantEncodes {
				t.Errorf("encoder calls = %d, want %d", enc.Calls(), tt.wantEncodes)
			}
			if tt.classifier != nil && tt.classifier.Calls() != tt.wantClassifies {
				t.Errorf("classifier calls = %d, want %d", tt.classifier.Calls(), tt.wantClassifies)
			}
			if est.LastMaxHands() != 1 {
				t.Errorf("maxHands = %d, want 1", est.LastMaxHands())
			}

			if tt.wantErr == nil {
				if out.Err != nil {
					t.Errorf("Err = %v, want nil", out.Err)
				}
				return
			}
			if !errors.Is(out.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", out.Err, tt.wantErr)
			}
			var stageErr *StageError
			if !errors.As(out.Err, &stageErr) {
				t.Fatalf("Err = %T, want *StageError", out.Err)
			}
			if stageErr.Stage != tt.wantTrace[len(tt.wantTrace)-2] {
				t.Errorf("Stage = %v, want %v", stageErr.Stage, tt.wantTrace[len(tt.wantTrace)-2])
			}
		})
	}
}

func TestProcess_MultipleHandsEncodesFirstOnly(t *testing.T) {
	first := pose.ScissorsObservation()
	first.Handedness = "Left"
	second := pose.PaperObservation()
	second.Handedness = "Right"

	est := pose.NewMockEstimator()
	est.SetObservations(first, second, pose.RockObservation())
	enc := newCountingEncoder()

	d, _ := New(Config{Estimator: est, Encoder: enc, Classifier: classifier.NewTemplateClassifier()})
	out := d.Process(frame(1))

	if enc.Calls() != 1 {
		t.Fatalf("encoder calls = %d, want 1", enc.Calls())
	}
	if enc.seen[0].Handedness != "Left" {
		t.Errorf("encoded hand = %s, want the first (Left)", enc.seen[0].Handedness)
	}
	if out.Label != "scissors" {
		t.Errorf("Label = %s, want scissors", out.Label)
	}
}

func TestProcess_ConfidenceIsFloored(t *testing.T) {
	tests := []struct {
		p    float32
		want int
	}{
		{0.999, 99},
		{0.5, 50},
		{0.0049, 0},
		{1, 100},
	}
	for _, tt := range tests {
		est := pose.NewMockEstimator()
		est.SetObservations(pose.PaperObservation())
		d, _ := New(Config{
			Estimator:  est,
			Encoder:    encoder.New(),
			Classifier: &stubClassifier{result: &classifier.Result{Label: "paper", Probabilities: map[string]float32{"paper": tt.p}}},
		})
		if got := d.Process(frame(1)).Confidence; got != tt.want {
			t.Errorf("p = %v: Confidence = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestProcess_ReleasesTensor(t *testing.T) {
	pool := encoder.NewPoolAllocator(1)
	est := pose.NewMockEstimator()
	est.SetObservations(pose.RockObservation())

	d, _ := New(Config{
		Estimator:  est,
		Encoder:    encoder.New(encoder.WithAllocator(pool)),
		Classifier: classifier.NewTemplateClassifier(),
	})

	for i := 0; i < 3; i++ {
		if out := d.Process(frame(uint64(i))); out.State != Reported {
			t.Fatalf("frame %d: State = %v, err = %v", i, out.State, out.Err)
		}
	}
	if pool.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", pool.Outstanding())
	}
}

func TestDispatcher_SingleConsumer(t *testing.T) {
	est := pose.NewMockEstimator()
	est.SetObservations(pose.RockObservation())
	enc := newCountingEncoder()
	rec := &recorder{}

	d, _ := New(Config{
		Estimator:  est,
		Encoder:    enc,
		Classifier: classifier.NewTemplateClassifier(),
		Presenter:  rec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer d.Stop()

	est.Hold()

	// The lane may not be receiving yet right after Start.
	waitFor(t, "lane to accept first frame", func() bool { return d.Submit(frame(1)) })
	waitFor(t, "estimator call", func() bool { return est.Calls() == 1 })

	if d.Submit(frame(2)) {
		t.Fatal("second frame accepted while the first is processing")
	}

	est.Release()
	waitFor(t, "first result", func() bool { return rec.Len() == 1 })

	if est.Calls() != 1 {
		t.Errorf("estimator calls = %d, want 1", est.Calls())
	}
	if enc.Calls() != 1 {
		t.Errorf("encoder calls = %d, want 1", enc.Calls())
	}
	got := rec.All()[0]
	if got.Seq != 1 || got.Kind != present.Result || got.Label != "rock" {
		t.Errorf("presented %q for seq %d", got.Text(), got.Seq)
	}

	waitFor(t, "lane to accept third frame", func() bool { return d.Submit(frame(3)) })
	waitFor(t, "second result", func() bool { return rec.Len() == 2 })

	stats := d.Stats()
	if stats.Processed != 2 {
		t.Errorf("Processed = %d, want 2", stats.Processed)
	}
	if stats.Dropped < 1 {
		t.Errorf("Dropped = %d, want at least 1", stats.Dropped)
	}
}

func TestDispatcher_PresentsInCaptureOrder(t *testing.T) {
	est := pose.NewMockEstimator()
	est.SetObservations(pose.PaperObservation())
	rec := &recorder{}

	d, _ := New(Config{
		Estimator:  est,
		Encoder:    encoder.New(),
		Classifier: classifier.NewTemplateClassifier(),
		Presenter:  rec,
	})

	frames := make(chan *capture.Frame)
	done := make(chan error)
	go func() { done <- d.Run(context.Background(), frames) }()

	for seq := uint64(1); seq <= 50; seq++ {
		frames <- frame(seq)
	}
	close(frames)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	updates := rec.All()
	if len(updates) == 0 {
		t.Fatal("no updates presented")
	}
	var last uint64
	for _, u := range updates {
		if u.Seq <= last {
			t.Fatalf("seq %d presented after %d", u.Seq, last)
		}
		last = u.Seq
	}

	stats := d.Stats()
	if stats.Submitted != 50 {
		t.Errorf("Submitted = %d, want 50", stats.Submitted)
	}
	if stats.Processed+stats.Dropped != 50 {
		t.Errorf("Processed %d + Dropped %d != 50", stats.Processed, stats.Dropped)
	}
}

func TestDispatcher_FailuresArePresented(t *testing.T) {
	est := pose.NewMockEstimator()
	est.SetObservations(pose.RockObservation())
	label := present.NewLabel(nil)

	var outcomes []Outcome
	d, _ := New(Config{
		Estimator: est,
		Encoder:   encoder.New(),
		Presenter: label,
		OnOutcome: func(o Outcome) { outcomes = append(outcomes, o) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	waitFor(t, "lane to accept frame", func() bool { return d.Submit(frame(1)) })
	d.Stop()

	if label.Text() != "Result: unavailable (classifying)" {
		t.Errorf("Text() = %q", label.Text())
	}
	if len(outcomes) != 1 || outcomes[0].State != Failed {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if d.Stats().Failed != 1 {
		t.Errorf("Failed = %d, want 1", d.Stats().Failed)
	}
}

func TestDispatcher_DropFailures(t *testing.T) {
	est := pose.NewMockEstimator()
	est.SetError(pose.ErrPoseDetection)
	label := present.NewLabel(nil)

	observed := 0
	d, _ := New(Config{
		Estimator:    est,
		Encoder:      encoder.New(),
		Presenter:    label,
		DropFailures: true,
		OnOutcome:    func(Outcome) { observed++ },
	})

	d.Start(context.Background())
	waitFor(t, "lane to accept frame", func() bool { return d.Submit(frame(1)) })
	d.Stop()

	if label.Count() != 0 {
		t.Errorf("failure presented as %q", label.Text())
	}
	if observed != 1 {
		t.Errorf("OnOutcome calls = %d, want 1", observed)
	}
}

func TestDispatcher_DiscardsAfterCancel(t *testing.T) {
	est := pose.NewMockEstimator()
	est.SetObservations(pose.RockObservation())
	rec := &recorder{}

	d, _ := New(Config{
		Estimator:  est,
		Encoder:    encoder.New(),
		Classifier: classifier.NewTemplateClassifier(),
		Presenter:  rec,
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	est.Hold()

	waitFor(t, "lane to accept frame", func() bool { return d.Submit(frame(1)) })
	waitFor(t, "estimator call", func() bool { return est.Calls() == 1 })

	cancel()
	est.Release()
	d.Stop()

	if rec.Len() != 0 {
		t.Errorf("presented %d updates after cancel", rec.Len())
	}
	if d.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", d.Stats().Discarded)
	}
	if d.Submit(frame(2)) {
		t.Error("Submit after Stop should be rejected")
	}
}

func TestDispatcher_PresentsOnUIContext(t *testing.T) {
	est := pose.NewMockEstimator()
	rec := &recorder{}

	loop := present.NewLoop(4)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)

	var posts int
	var mu sync.Mutex
	ui := present.ContextFunc(func(fn func()) {
		mu.Lock()
		posts++
		mu.Unlock()
		loop.Post(fn)
	})

	d, _ := New(Config{Estimator: est, Encoder: encoder.New(), Presenter: rec, UI: ui})
	d.Start(context.Background())
	waitFor(t, "lane to accept frame", func() bool { return d.Submit(frame(1)) })
	d.Stop()

	waitFor(t, "update on loop", func() bool { return rec.Len() == 1 })
	stopLoop()

	mu.Lock()
	defer mu.Unlock()
	if posts != 1 {
		t.Errorf("posts = %d, want 1", posts)
	}
	if rec.All()[0].Kind != present.NoHand {
		t.Errorf("Kind = %v, want no hand", rec.All()[0].Kind)
	}
}

func TestDispatcher_StartTwice(t *testing.T) {
	d, _ := New(Config{Estimator: pose.NewMockEstimator(), Encoder: encoder.New()})
	d.Start(context.Background())
	defer d.Stop()

	if err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestDispatcher_SubmitNil(t *testing.T) {
	d, _ := New(Config{Estimator: pose.NewMockEstimator(), Encoder: encoder.New()})
	if d.Submit(nil) {
		t.Error("nil frame should be rejected")
	}
}

func TestOutcome_Update(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{name: "reported", out: Outcome{State: Reported, Label: "paper", Confidence: 83}, want: "Result: paper (83%)"},
		{name: "no hand", out: Outcome{State: NoHandReported}, want: "Result: no hand detected"},
		{
			name: "failed stage",
			out:  Outcome{State: Failed, Err: &StageError{Stage: Encoding, Err: errors.New("out of memory")}},
			want: "Result: unavailable (encoding)",
		},
		{name: "failed without stage", out: Outcome{State: Failed}, want: "Result: unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.out.Seq = 7
			u := tt.out.Update()
			if got := u.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
			if u.Seq != 7 {
				t.Errorf("Seq = %d, want 7", u.Seq)
			}
		})
	}
}
