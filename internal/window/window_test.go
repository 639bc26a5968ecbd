package window

import (
	"errors"
	"image"
	"testing"

	"fyne.io/fyne/v2/test"

	"github.com/ayusman/janken/internal/present"
)

func newTestWindow(t *testing.T, toggle ToggleFunc) *Window {
	t.Helper()
	w := New(test.NewTempApp(t), nil, toggle)
	w.ui = present.Inline
	return w
}

func TestWindow_Present(t *testing.T) {
	w := newTestWindow(t, nil)

	if got := w.Result(); got != "Result: -" {
		t.Errorf("initial text = %q", got)
	}

	tests := []struct {
		update present.Update
		want   string
	}{
		{present.NewResult("rock", 97), "Result: rock (97%)"},
		{present.NewNoHand(), "Result: no hand detected"},
		{present.NewUnavailable("classifying", "model unavailable"), "Result: unavailable (classifying)"},
	}
	for _, tt := range tests {
		present.Deliver(w.Context(), w, tt.update)
		if got := w.Result(); got != tt.want {
			t.Errorf("Result() = %q, want %q", got, tt.want)
		}
	}
}

func TestWindow_Toggle(t *testing.T) {
	running := false
	w := newTestWindow(t, func() (bool, error) {
		running = !running
		return running, nil
	})

	w.toggle()
	if !w.Running() || w.startButton.Text != "Stop" {
		t.Errorf("after start: Running() = %v, button = %q", w.Running(), w.startButton.Text)
	}

	w.toggle()
	if w.Running() || w.startButton.Text != "Start" {
		t.Errorf("after stop: Running() = %v, button = %q", w.Running(), w.startButton.Text)
	}
}

func TestWindow_ToggleError(t *testing.T) {
	w := newTestWindow(t, func() (bool, error) {
		return false, errors.New("camera access denied")
	})

	w.toggle()

	if w.Running() || w.startButton.Text != "Start" {
		t.Errorf("failed start should leave the button unchanged, got %q", w.startButton.Text)
	}
}

func TestWindow_SetFrame(t *testing.T) {
	w := newTestWindow(t, nil)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	w.setFrame(img)

	if w.videoCanvas.Image != img {
		t.Error("video canvas not updated")
	}
}
