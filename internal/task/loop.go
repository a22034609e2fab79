package task

import (
	"context"
	"fmt"
	"sync"

	"xslttester/internal/logging"
)

// Dispatcher runs callbacks on a UI context. Post reports false when the
// callback will never run.
type Dispatcher interface {
	Post(fn func()) bool
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func()) bool

func (f DispatcherFunc) Post(fn func()) bool { return f(fn) }

// Loop is a single-threaded UI loop: callbacks posted from any goroutine
// run one at a time, in order, on the goroutine that called Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func NewLoop() *Loop { return &Loop{wake: make(chan struct{}, 1)} }

func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting callbacks. Run returns once the queue is drained.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

// Run drains the queue until Close or ctx is done. It returns ctx.Err() in
// the latter case; callbacks still queued then are dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("ui callback panicked", "err", fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

// Sync runs fn on the loop and waits for it to return.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
