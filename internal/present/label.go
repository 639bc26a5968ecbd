package present

import (
	"log"
	"sync"
)

// Label holds the currently displayed update. It is safe to read from any
// goroutine, which lets HTTP handlers and tests inspect what the user sees.
type Label struct {
	mu      sync.RWMutex
	current Update
	count   uint64
	onSet   func(Update)
}

// NewLabel creates a Label showing the idle text. onSet, if not nil, runs
// after every change.
func NewLabel(onSet func(Update)) *Label {
	return &Label{current: Update{Kind: Idle}, onSet: onSet}
}

// Present stores u as the current update.
func (l *Label) Present(u Update) {
	l.mu.Lock()
	l.current = u
	l.count++
	onSet := l.onSet
	l.mu.Unlock()

	if onSet != nil {
		onSet(u)
	}
}

// Current returns the displayed update.
func (l *Label) Current() Update {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Text returns the displayed text.
func (l *Label) Text() string {
	return l.Current().Text()
}

// Count returns how many updates have been presented.
func (l *Label) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Multi fans an update out to several presenters in order.
type Multi []Presenter

// Present forwards u to every non-nil presenter.
func (m Multi) Present(u Update) {
	for _, p := range m {
		if p != nil {
			p.Present(u)
		}
	}
}

// LogPresenter writes every update to the standard logger. Repeated
// identical texts are logged once.
type LogPresenter struct {
	mu   sync.Mutex
	last string
}

// Present logs u if its text changed.
func (p *LogPresenter) Present(u Update) {
	text := u.Text()

	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.last {
		return
	}
	p.last = text
	log.Println(text)
}
