// Package task runs a unit of work off the UI loop and hands its result
// back on it.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"xslttester/internal/logging"
	"xslttester/internal/telemetry"
)

var ErrClosed = errors.New("task: dispatcher closed")

type State int32

const (
	Created State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Task wraps one unit of work. It is safe to Start, Interrupt and Get from
// any goroutine; finished always runs on the dispatcher.
type Task[T any] struct {
	id       uuid.UUID
	d        Dispatcher
	work     func(ctx context.Context) (T, error)
	finished func(*Task[T])

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	cleared chan struct{}
	value   T
	ok      bool
	err     error
}

// New captures work without starting it. finished may be nil.
func New[T any](d Dispatcher, work func(ctx context.Context) (T, error), finished func(*Task[T])) *Task[T] {
	return &Task[T]{
		id:       uuid.New(),
		d:        d,
		work:     work,
		finished: finished,
		cleared:  make(chan struct{}),
	}
}

func (t *Task[T]) ID() uuid.UUID { return t.id }

func (t *Task[T]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err is the error the work returned, or the recovered panic.
func (t *Task[T]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start runs the work on its own goroutine. It does nothing unless the task
// is still Created.
func (t *Task[T]) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Created {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.state = Running
	telemetry.TaskStarted()
	go t.run(ctx, cancel)
}

func (t *Task[T]) run(ctx context.Context, cancel context.CancelFunc) {
	log := logging.L().With("task", t.id.String())
	v, err := t.call(ctx)

	t.mu.Lock()
	if t.state == Running {
		t.err = err
		if err == nil {
			t.value, t.ok = v, true
		}
		t.clear(Completed)
	}
	t.mu.Unlock()
	cancel()
	telemetry.TaskFinished()

	if err != nil {
		log.Warn("task failed", "err", err)
	}
	if !t.d.Post(t.complete) {
		log.Warn("finished callback dropped", "err", ErrClosed)
	}
}

func (t *Task[T]) call(ctx context.Context) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.work(ctx)
}

func (t *Task[T]) complete() {
	if t.finished != nil {
		t.finished(t)
	}
}

// clear forgets the running goroutine. Callers hold t.mu.
func (t *Task[T]) clear(s State) {
	t.state = s
	t.cancel = nil
	close(t.cleared)
}

// Interrupt cancels the work's context and forgets it; any value it still
// produces is discarded. Before Start it only prevents a later Start; after
// completion it does nothing.
func (t *Task[T]) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Created:
		t.clear(Cancelled)
	case Running:
		t.cancel()
		t.clear(Cancelled)
	}
}

// Get waits until the task is cleared and returns its value. ok is false
// when ctx ends first, when the work failed and when it was interrupted.
func (t *Task[T]) Get(ctx context.Context) (v T, ok bool) {
	select {
	case <-t.cleared:
	case <-ctx.Done():
		return v, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.ok
}
