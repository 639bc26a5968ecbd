// Package window is the desktop surface: one screen with a start button,
// the camera preview and the result label.
package window

import (
	"context"
	"image"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/present"
)

// PreviewFPS is how often the preview image is refreshed.
const PreviewFPS = 15

// ToggleFunc starts or stops capture and reports whether it is now running.
type ToggleFunc func() (bool, error)

// Window shows results on a fyne window. Present must run on the fyne
// thread; deliver through Context.
type Window struct {
	fyneApp fyne.App
	mainWin fyne.Window

	preview  *capture.Preview
	onToggle ToggleFunc
	ui       present.Context

	mu      sync.Mutex
	running bool

	videoCanvas *canvas.Image
	resultLabel *widget.Label
	startButton *widget.Button
}

// New builds the window on a. preview may be nil.
func New(a fyne.App, preview *capture.Preview, onToggle ToggleFunc) *Window {
	w := &Window{
		fyneApp:  a,
		mainWin:  a.NewWindow("janken"),
		preview:  preview,
		onToggle: onToggle,
		ui:       present.ContextFunc(fyne.Do),
	}

	w.videoCanvas = canvas.NewImageFromImage(nil)
	w.videoCanvas.FillMode = canvas.ImageFillContain
	w.videoCanvas.SetMinSize(fyne.NewSize(640, 360))

	w.resultLabel = widget.NewLabelWithStyle(present.Update{}.Text(), fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	w.startButton = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), func() {
		go w.toggle()
	})

	w.mainWin.SetContent(container.NewBorder(
		nil,
		container.NewVBox(widget.NewSeparator(), w.resultLabel, w.startButton),
		nil, nil,
		w.videoCanvas,
	))
	w.mainWin.Resize(fyne.NewSize(800, 560))
	return w
}

// Context returns the fyne thread as a present.Context.
func (w *Window) Context() present.Context {
	return w.ui
}

// Present shows u on the result label.
func (w *Window) Present(u present.Update) {
	w.resultLabel.SetText(u.Text())
}

// Result returns the label text.
func (w *Window) Result() string {
	return w.resultLabel.Text
}

// Running reports the state shown by the start button.
func (w *Window) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// toggle runs the toggle callback off the fyne thread and reflects the
// result on the button.
func (w *Window) toggle() {
	if w.onToggle == nil {
		return
	}
	running, err := w.onToggle()

	w.mu.Lock()
	if err == nil {
		w.running = running
	}
	running = w.running
	w.mu.Unlock()

	w.ui.Post(func() {
		if running {
			w.startButton.SetText("Stop")
			w.startButton.SetIcon(theme.MediaStopIcon())
		} else {
			w.startButton.SetText("Start")
			w.startButton.SetIcon(theme.MediaPlayIcon())
		}
		if err != nil {
			dialog.ShowError(err, w.mainWin)
		}
	})
}

// ShowAndRun displays the window and blocks until it is closed or ctx is
// cancelled.
func (w *Window) ShowAndRun(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.runPreviewLoop(ctx)
	go func() {
		<-ctx.Done()
		fyne.Do(w.fyneApp.Quit)
	}()

	w.mainWin.CenterOnScreen()
	w.mainWin.ShowAndRun()
}

// runPreviewLoop pushes new preview frames to the video canvas.
func (w *Window) runPreviewLoop(ctx context.Context) {
	if w.preview == nil {
		return
	}

	ticker := time.NewTicker(time.Second / PreviewFPS)
	defer ticker.Stop()

	var version uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, v := w.preview.Latest()
		if v == version {
			continue
		}
		version = v

		img, err := w.preview.Image()
		if err != nil {
			continue
		}
		w.ui.Post(func() { w.setFrame(img) })
	}
}

func (w *Window) setFrame(img image.Image) {
	w.videoCanvas.Image = img
	w.videoCanvas.Refresh()
}
