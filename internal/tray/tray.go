// Package tray provides a system tray surface for janken: a start/stop
// toggle and the current result in the menu.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/janken/internal/present"
)

// Tray represents the system tray application. It is a present.Presenter;
// systray menu updates are safe from any goroutine.
type Tray struct {
	onToggle func(running bool) error
	onOpen   func()
	onQuit   func()
	running  bool
	last     present.Update
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuResult *systray.MenuItem
}

// New creates a new Tray instance with capture stopped.
func New() *Tray {
	return &Tray{last: present.Update{Kind: present.Idle}}
}

// OnToggle sets the callback run when capture is started or stopped from
// the menu. A non-nil error leaves the toggle unchanged.
func (t *Tray) OnToggle(fn func(running bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback for the "Open in Browser" menu item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("janken")
	systray.SetTooltip("janken hand gesture classifier")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Start or stop the camera")
	systray.AddSeparator()

	t.menuResult = systray.AddMenuItem(t.last.Text(), "Latest classification")
	t.menuResult.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Show the live view in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit janken")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func toggleTitle(running bool) string {
	if running {
		return "■ Stop Camera"
	}
	return "▶ Start Camera"
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	next := !t.running
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(next); err != nil {
			return
		}
	}
	t.SetRunning(next)
}

// handleOpen handles the open menu item click.
func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetRunning updates the toggle to reflect the capture state.
func (t *Tray) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
}

// Present shows u in the menu.
func (t *Tray) Present(u present.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = u
	if t.menuResult != nil {
		t.menuResult.SetTitle(u.Text())
	}
}

// Last returns the most recently presented update.
func (t *Tray) Last() present.Update {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// IsRunning returns the current capture state.
func (t *Tray) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}
