// Package app wires camera capture, hand-pose estimation and gesture
// classification into the running janken pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/classifier"
	"github.com/ayusman/janken/internal/config"
	"github.com/ayusman/janken/internal/dispatch"
	"github.com/ayusman/janken/internal/encoder"
	"github.com/ayusman/janken/internal/permission"
	"github.com/ayusman/janken/internal/pose"
	"github.com/ayusman/janken/internal/present"
	"github.com/ayusman/janken/internal/store"
)

// ErrRunning is returned when a pipeline is started twice.
var ErrRunning = errors.New("pipeline already running")

// TemplateModel names the built-in classifier in stored sessions.
const TemplateModel = "templates"

// Config holds configuration options for the application. Nil services are
// built from Settings when the pipeline first starts.
type Config struct {
	Settings config.Config

	Camera     capture.Camera
	Estimator  pose.Estimator
	Classifier classifier.Classifier
	// Store receives sessions and predictions when Settings.History is set.
	Store *store.Store
	// Gate checks camera access before the camera is opened. Nil skips the
	// check.
	Gate *permission.Gate

	Presenter present.Presenter
	// UI is the context Presenter runs on.
	UI present.Context
	// Preview, if set, receives every captured frame.
	Preview *capture.Preview
}

// App is the main application that runs the capture session.
type App struct {
	config Config

	// startMu serializes Start so the permission prompt runs without mu.
	startMu sync.Mutex

	mu         sync.RWMutex
	camera     capture.Camera
	estimator  pose.Estimator
	classifier classifier.Classifier
	encoder    *encoder.Encoder
	loaded     bool

	cancel     context.CancelFunc
	done       chan struct{}
	dispatcher *dispatch.Dispatcher
	activity   *capture.ActivityMonitor
	session    *store.Session
	stream     capture.StreamStats
}

// New creates a new App instance with the given configuration.
func New(cfg Config) *App {
	a := &App{
		config:     cfg,
		camera:     cfg.Camera,
		estimator:  cfg.Estimator,
		classifier: cfg.Classifier,
		loaded:     cfg.Classifier != nil,
	}

	if a.camera == nil {
		preset, err := capture.ParsePreset(cfg.Settings.Camera.Preset)
		if err != nil {
			preset = capture.DefaultPreset
		}
		a.camera = capture.NewCamera(capture.Config{
			DeviceID:       cfg.Settings.Camera.Device,
			Preset:         preset,
			FPS:            cfg.Settings.Camera.FPS,
			DropLateFrames: true,
		})
	}

	if a.estimator == nil {
		est, err := pose.NewMediaPipeEstimator(pose.Config{
			MinConfidence: cfg.Settings.Pose.MinConfidence,
			FlipY:         cfg.Settings.Pose.FlipY,
			Script:        cfg.Settings.Pose.Script,
			Python:        cfg.Settings.Pose.Python,
		})
		if err != nil {
			log.Printf("MediaPipe not available (%v), hand detection disabled", err)
			a.estimator = unavailableEstimator{err: err}
		} else {
			a.estimator = est
			log.Println("Using MediaPipe hand-pose estimation")
		}
	}

	var opts []encoder.Option
	if n := cfg.Settings.TensorBuffers; n > 0 {
		opts = append(opts, encoder.WithAllocator(encoder.NewPoolAllocator(n)))
	}
	a.encoder = encoder.New(opts...)

	return a
}

// Start opens the camera and begins processing frames. It returns once the
// pipeline is running; processing stops when ctx is cancelled or Stop is
// called.
func (a *App) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	if a.Running() {
		return ErrRunning
	}

	if g := a.config.Gate; g != nil {
		if _, err := g.Ensure(ctx); err != nil {
			if errors.Is(err, permission.ErrDenied) {
				a.present(present.NewPermissionRequired(permission.Directive(err)))
			}
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		a.loadClassifier(ctx)
	}

	if err := a.camera.Open(); err != nil {
		a.present(present.NewUnavailable("camera", err.Error()))
		return fmt.Errorf("open camera: %w", err)
	}

	a.startSession()

	var cls dispatch.Classifier
	if a.classifier != nil {
		cls = a.classifier
	}
	d, err := dispatch.New(dispatch.Config{
		Estimator:    a.estimator,
		Encoder:      a.encoder,
		Classifier:   cls,
		Presenter:    a.config.Presenter,
		UI:           a.config.UI,
		DropFailures: a.config.Settings.DropFailures,
		OnOutcome:    a.record,
	})
	if err != nil {
		a.camera.Close()
		return err
	}
	a.dispatcher = d

	if a.config.Settings.IdleSlowdown {
		a.activity = capture.NewActivityMonitor(a.camera, capture.DefaultMotionPercent, capture.DefaultIdleAfter)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.runPipeline(runCtx, d, a.done)

	log.Println("Capture session started")
	return nil
}

// loadClassifier loads the configured model once. A failure leaves the
// classifier nil so hand frames report the classifying stage as
// unavailable.
func (a *App) loadClassifier(ctx context.Context) {
	a.loaded = true
	m := a.config.Settings.Model
	c, err := classifier.LoadWithRetry(ctx, classifier.Options{
		ModelPath:         m.Path,
		MetadataPath:      m.Metadata,
		SharedLibraryPath: m.SharedLibraryPath,
	}, time.Duration(m.RetryDelay))
	if err != nil {
		log.Printf("Model unavailable: %v", err)
		a.present(present.NewUnavailable("classifying", "model unavailable"))
		return
	}
	a.classifier = c
	if m.Path == "" {
		log.Println("No model configured, using built-in templates")
	} else {
		log.Printf("Loaded model %s", m.Path)
	}
}

// Stop ends the capture session and waits for the in-flight frame. Results
// that finish after Stop are not presented.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
	if a.activity != nil {
		a.activity.Close()
		a.activity = nil
	}
	a.endSession()

	log.Println("Capture session stopped")
}

// Close stops the session and releases the estimator and classifier.
func (a *App) Close() error {
	a.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.estimator != nil {
		errs = append(errs, a.estimator.Close())
	}
	if a.classifier != nil {
		errs = append(errs, a.classifier.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether a capture session is active.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cancel != nil
}

// Toggle starts a stopped session or stops a running one and reports
// whether it is now running.
func (a *App) Toggle(ctx context.Context) (bool, error) {
	if a.Running() {
		a.Stop()
		return false, nil
	}
	if err := a.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns the dispatcher counters of the current or last session.
func (a *App) Stats() dispatch.Stats {
	a.mu.RLock()
	d := a.dispatcher
	a.mu.RUnlock()
	if d == nil {
		return dispatch.Stats{}
	}
	return d.Stats()
}

// StreamStats returns the capture counters.
func (a *App) StreamStats() *capture.StreamStats {
	return &a.stream
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Session returns the history session being recorded, if any.
func (a *App) Session() *store.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *App) present(u present.Update) {
	present.Deliver(a.config.UI, a.config.Presenter, u)
}

// tap feeds every captured frame to the preview and the activity monitor.
func (a *App) tap(activity *capture.ActivityMonitor) func(*gocv.Mat) {
	preview := a.config.Preview
	if preview == nil && activity == nil {
		return nil
	}
	return func(mat *gocv.Mat) {
		if preview != nil {
			preview.Update(mat)
		}
		if activity != nil {
			activity.Observe(mat)
		}
	}
}
