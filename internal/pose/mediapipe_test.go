package pose

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// startTestWorker runs a shell worker that consumes stdin until closed.
func startTestWorker(t *testing.T) *MediaPipeEstimator {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(script, []byte("cat > /dev/null\n"), 0755); err != nil {
		t.Fatal(err)
	}

	e, err := NewMediaPipeEstimator(Config{Script: script, Python: sh})
	if err != nil {
		t.Fatalf("NewMediaPipeEstimator() error = %v", err)
	}
	e.mu.Lock()
	err = e.ensureStarted()
	e.mu.Unlock()
	if err != nil {
		t.Fatalf("ensureStarted() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestMediaPipeEstimator_IdleTimer(t *testing.T) {
	t.Run("replaced timer does not stop the worker", func(t *testing.T) {
		e := startTestWorker(t)

		e.mu.Lock()
		defer e.mu.Unlock()

		e.resetIdleTimer()
		stale := e.idleTimer
		e.resetIdleTimer()

		e.stopIfIdle(stale)
		if !e.started {
			t.Error("worker stopped by a replaced idle timer")
		}
	})

	t.Run("current timer stops the worker", func(t *testing.T) {
		e := startTestWorker(t)

		e.mu.Lock()
		defer e.mu.Unlock()

		e.resetIdleTimer()
		e.stopIfIdle(e.idleTimer)
		if e.started {
			t.Error("worker still running after its idle timer expired")
		}
		if e.idleTimer != nil {
			t.Error("idle timer not cleared on shutdown")
		}
	})

	t.Run("no timer", func(t *testing.T) {
		e := startTestWorker(t)

		e.mu.Lock()
		defer e.mu.Unlock()

		e.stopIfIdle(nil)
		if !e.started {
			t.Error("worker stopped without an idle timer")
		}
	})
}
