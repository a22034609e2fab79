// Package workbench is the headless stand-in for the tester window: three
// panels whose buttons run prettify and transform off the UI loop.
package workbench

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"xslttester/internal/logging"
	"xslttester/internal/samples"
	"xslttester/internal/task"
	"xslttester/internal/transform"
	"xslttester/sink"
)

type Workbench struct {
	XML    *Panel
	XSLT   *Panel
	Result *Panel

	loop     *task.Loop
	client   transform.Client
	sinks    []sink.Adapter
	params   map[string]any
	log      *slog.Logger
	onResult func(sink.Result)
	inflight map[uuid.UUID]func()
}

type Option func(*Workbench)

func WithSinks(s ...sink.Adapter) Option {
	return func(w *Workbench) { w.sinks = append(w.sinks, s...) }
}

// WithParams sets the stylesheet parameters every transform is run with.
func WithParams(p map[string]any) Option {
	return func(w *Workbench) { w.params = maps.Clone(p) }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Workbench) { w.log = l }
}

// OnResult registers a hook that runs on the loop after a panel has been
// updated and the result pushed to the sinks.
func OnResult(fn func(sink.Result)) Option {
	return func(w *Workbench) { w.onResult = fn }
}

// New builds a workbench with the XML and XSLT panels holding the bundled
// samples.
func New(loop *task.Loop, client transform.Client, opts ...Option) *Workbench {
	w := &Workbench{
		XML:      newPanel("Your XML", "Prettify"),
		XSLT:     newPanel("Your XSLT", "Prettify"),
		Result:   newPanel("Result", "Transform"),
		loop:     loop,
		client:   client,
		log:      logging.L(),
		inflight: map[uuid.UUID]func(){},
	}
	for _, o := range opts {
		o(w)
	}
	w.XML.SetText(samples.XML())
	w.XSLT.SetText(samples.XSLT())
	return w
}

// Press clicks the button of p. Disabled buttons ignore the click.
func (w *Workbench) Press(p *Panel) {
	if p == w.Result {
		w.Transform()
		return
	}
	w.Prettify(p)
}

// Prettify reformats the text of p in the background and writes it back.
func (w *Workbench) Prettify(p *Panel) {
	if !p.enabled {
		return
	}
	p.setAvailable(false)
	text := p.text
	t := task.New(w.loop, func(ctx context.Context) (string, error) {
		return w.client.Prettify(ctx, text)
	}, func(t *task.Task[string]) {
		delete(w.inflight, t.ID())
		res := sink.Result{ID: t.ID().String(), Kind: sink.KindPrettify, At: time.Now()}
		if v, ok := t.Get(context.Background()); ok {
			p.SetText(v)
			res.Text = v
		} else {
			res.Text, res.Failed = failureText(t.Err()), true
			w.log.Warn("prettify failed", "panel", p.title, "err", t.Err())
		}
		p.setAvailable(true)
		w.publish(res)
	})
	w.track(t.ID(), t.Interrupt)
	t.Start()
}

// Transform runs the XSLT panel against the XML panel and shows the output,
// or the diagnostics, in the result panel.
func (w *Workbench) Transform() {
	if !w.Result.enabled {
		return
	}
	w.Result.setAvailable(false)
	req := transform.NewRequest(w.XML.text, w.XSLT.text, w.params)
	t := task.New(w.loop, func(ctx context.Context) (transform.Outcome, error) {
		return w.client.Transform(ctx, req)
	}, func(t *task.Task[transform.Outcome]) {
		delete(w.inflight, t.ID())
		res := sink.Result{ID: t.ID().String(), Kind: sink.KindTransform, At: time.Now()}
		if o, ok := t.Get(context.Background()); ok {
			res.Text, res.Failed = o.Text(), o.Failed()
		} else {
			res.Text, res.Failed = failureText(t.Err()), true
			w.log.Warn("transform failed", "err", t.Err())
		}
		w.Result.SetText(res.Text)
		w.Result.setAvailable(true)
		w.publish(res)
	})
	w.track(t.ID(), t.Interrupt)
	t.Start()
}

// Interrupt cancels every action still running. Their panels are re-enabled
// when the cancelled tasks report back.
func (w *Workbench) Interrupt() {
	for _, stop := range w.inflight {
		stop()
	}
}

// Busy reports whether any action is still running.
func (w *Workbench) Busy() bool { return len(w.inflight) > 0 }

// Close releases the sinks and the client.
func (w *Workbench) Close() error {
	for _, s := range w.sinks {
		if err := s.Close(); err != nil {
			w.log.Warn("close sink", "err", err)
		}
	}
	return w.client.Close()
}

func (w *Workbench) track(id uuid.UUID, stop func()) { w.inflight[id] = stop }

func (w *Workbench) publish(r sink.Result) {
	for _, s := range w.sinks {
		if err := s.Push(r); err != nil {
			w.log.Warn("sink push failed", "kind", r.Kind, "err", err)
		}
	}
	if w.onResult != nil {
		w.onResult(r)
	}
}

func failureText(err error) string {
	if err == nil {
		return "cancelled"
	}
	return err.Error()
}
