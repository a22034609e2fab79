package sink

import (
	"fmt"
	"sort"
	"time"
)

// Kind names the workbench action that produced a Result.
type Kind string

const (
	KindPrettify  Kind = "prettify"
	KindTransform Kind = "transform"
)

// Result is one piece of text the workbench wrote back to a panel.
type Result struct {
	ID     string // task id
	Kind   Kind
	Text   string
	Failed bool // Text holds diagnostics rather than output
	At     time.Time
}

// EmitFn is what a sink calls once a result has been delivered, or has
// definitively failed to be.
type EmitFn func(Result, error)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Push(Result) error
	Close() error // idempotent
}

// AckAware is optional; sinks that confirm delivery implement it and the
// workbench binds the callback.
type AckAware interface {
	BindAck(EmitFn)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

// Names lists the registered drivers.
func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
