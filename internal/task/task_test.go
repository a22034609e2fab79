package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder is a dispatcher that records how often it was posted to and
// signals each callback on a channel.
type recorder struct {
	posts atomic.Int32
	ran   chan struct{}
}

func newRecorder() *recorder { return &recorder{ran: make(chan struct{}, 8)} }

func (r *recorder) Post(fn func()) bool {
	r.posts.Add(1)
	fn()
	r.ran <- struct{}{}
	return true
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatalf("finished callback never ran")
	}
}

func TestTask_Value(t *testing.T) {
	d := newRecorder()
	var seen string
	tk := New(d, func(context.Context) (string, error) { return "done", nil }, func(tk *Task[string]) {
		seen, _ = tk.Get(context.Background())
	})
	require.Equal(t, Created, tk.State())
	tk.Start()
	tk.Start()
	d.wait(t)

	require.Equal(t, "done", seen)
	require.Equal(t, int32(1), d.posts.Load())
	require.Equal(t, Completed, tk.State())
	v, ok := tk.Get(context.Background())
	require.True(t, ok)
	require.Equal(t, "done", v)
}

func TestTask_Panic(t *testing.T) {
	d := newRecorder()
	tk := New(d, func(context.Context) (int, error) { panic("boom") }, nil)
	tk.Start()
	d.wait(t)

	v, ok := tk.Get(context.Background())
	require.False(t, ok)
	require.Zero(t, v)
	require.ErrorContains(t, tk.Err(), "boom")
	require.Equal(t, int32(1), d.posts.Load())
}

func TestTask_Error(t *testing.T) {
	d := newRecorder()
	want := errors.New("bad input")
	tk := New(d, func(context.Context) (int, error) { return 7, want }, nil)
	tk.Start()
	d.wait(t)

	_, ok := tk.Get(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, tk.Err(), want)
}

func TestTask_InterruptBeforeStart(t *testing.T) {
	d := newRecorder()
	called := false
	tk := New(d, func(context.Context) (int, error) {
		called = true
		return 1, nil
	}, nil)
	tk.Interrupt()
	tk.Start()

	_, ok := tk.Get(context.Background())
	require.False(t, ok)
	require.False(t, called)
	require.Equal(t, Cancelled, tk.State())
	require.Zero(t, d.posts.Load())
}

func TestTask_InterruptAfterCompletion(t *testing.T) {
	d := newRecorder()
	tk := New(d, func(context.Context) (int, error) { return 42, nil }, nil)
	tk.Start()
	d.wait(t)
	tk.Interrupt()

	v, ok := tk.Get(context.Background())
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.Equal(t, Completed, tk.State())
}

func TestTask_InterruptWhileRunning(t *testing.T) {
	d := newRecorder()
	started := make(chan struct{})
	tk := New(d, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 1, nil
	}, nil)
	tk.Start()
	<-started
	tk.Interrupt()

	_, ok := tk.Get(context.Background())
	require.False(t, ok)
	require.Equal(t, Cancelled, tk.State())
	d.wait(t)
	require.Equal(t, int32(1), d.posts.Load())
}

func TestTask_GetCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tk := New(DispatcherFunc(func(fn func()) bool { return true }), func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, nil)
	tk.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := tk.Get(ctx)
	require.False(t, ok)
}

func TestTask_IDs(t *testing.T) {
	d := newRecorder()
	a := New(d, func(context.Context) (int, error) { return 0, nil }, nil)
	b := New(d, func(context.Context) (int, error) { return 0, nil }, nil)
	require.NotEqual(t, a.ID(), b.ID())
}

func TestLoop_Order(t *testing.T) {
	l := NewLoop()
	var got []int
	for i := 0; i < 5; i++ {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Close()
	require.False(t, l.Post(func() {}))
	require.NoError(t, l.Run(context.Background()))
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_RunsTaskCallback(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result string
	tk := New(l, func(context.Context) (string, error) { return "ok", nil }, func(tk *Task[string]) {
		result, _ = tk.Get(ctx)
		l.Close()
	})
	tk.Start()
	require.NoError(t, l.Run(ctx))
	require.Equal(t, "ok", result)
}

func TestLoop_PanicAndCancel(t *testing.T) {
	l := NewLoop()
	ran := false
	l.Post(func() { panic("callback") })
	l.Post(func() { ran = true })
	l.Close()
	require.NoError(t, l.Run(context.Background()))
	require.True(t, ran)

	l = NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Run(ctx), context.Canceled)
}

func TestLoop_Sync(t *testing.T) {
	l := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	x := 0
	require.NoError(t, l.Sync(ctx, func() { x = 1 }))
	require.Equal(t, 1, x)

	l.Close()
	require.ErrorIs(t, l.Sync(ctx, func() {}), ErrClosed)
}
