package present

import (
	"context"
	"sync"
)

// Loop is a Context backed by a single goroutine. Work posted to it runs in
// the order it was posted.
type Loop struct {
	work chan func()
	done chan struct{}
	once sync.Once
}

// NewLoop creates a Loop that buffers up to size posts before Post blocks.
func NewLoop(size int) *Loop {
	if size < 1 {
		size = 1
	}
	return &Loop{
		work: make(chan func(), size),
		done: make(chan struct{}),
	}
}

// Run executes posted work until ctx is cancelled. Pending work is drained
// before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case fn := <-l.work:
			fn()
		case <-ctx.Done():
			for {
				select {
				case fn := <-l.work:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post queues fn. Posts after the loop has stopped are discarded.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.work <- fn:
	case <-l.done:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
