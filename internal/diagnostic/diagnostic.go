// Package diagnostic carries leveled messages raised while compiling and
// running a stylesheet.
package diagnostic

import (
	"strconv"
	"strings"
	"sync"
)

type Level int

const (
	LevelWarning Level = iota
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// Location points into the stylesheet or the source document. Zero values
// mean unknown.
type Location struct {
	SystemID string
	Line     int
	Column   int
}

func (l Location) IsZero() bool { return l == Location{} }

func (l Location) String() string {
	var parts []string
	if l.SystemID != "" {
		parts = append(parts, "SystemID: "+l.SystemID)
	}
	if l.Line > 0 {
		parts = append(parts, "Line#: "+strconv.Itoa(l.Line))
	}
	if l.Column > 0 {
		parts = append(parts, "Column#: "+strconv.Itoa(l.Column))
	}
	return strings.Join(parts, "; ")
}

type Diagnostic struct {
	Level    Level
	Message  string
	Location Location
}

// MessageAndLocation renders "message; SystemID: x; Line#: n; Column#: m",
// dropping the parts that are unknown.
func (d Diagnostic) MessageAndLocation() string {
	loc := d.Location.String()
	if loc == "" {
		return d.Message
	}
	return d.Message + "; " + loc
}

// Listener receives diagnostics in the order they are raised.
type Listener interface {
	Warning(d Diagnostic)
	Error(d Diagnostic)
	Fatal(d Diagnostic)
}

// Report dispatches d to the method of l matching its level. A nil l is
// ignored.
func Report(l Listener, d Diagnostic) {
	if l == nil {
		return
	}
	switch d.Level {
	case LevelWarning:
		l.Warning(d)
	case LevelError:
		l.Error(d)
	default:
		l.Fatal(d)
	}
}

// Collector accumulates one line per diagnostic. Safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	b     strings.Builder
	diags []Diagnostic
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Warning(d Diagnostic) { c.add(d) }
func (c *Collector) Error(d Diagnostic)   { c.add(d) }
func (c *Collector) Fatal(d Diagnostic)   { c.add(d) }

func (c *Collector) add(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
	c.b.WriteString(d.MessageAndLocation())
	c.b.WriteByte('\n')
}

// String returns the collected text, one line per diagnostic.
func (c *Collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.String()
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diags)
}

// Diagnostics returns a copy of what was collected, in arrival order.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.diags...)
}

// Error is an unrecoverable transform failure.
type Error struct {
	Message  string
	Location Location
	Err      error
}

func (e *Error) Error() string {
	return Diagnostic{Message: e.Message, Location: e.Location}.MessageAndLocation()
}

func (e *Error) Unwrap() error { return e.Err }

// Diagnostic returns e as a fatal diagnostic.
func (e *Error) Diagnostic() Diagnostic {
	return Diagnostic{Level: LevelFatal, Message: e.Message, Location: e.Location}
}

// ListenerFuncs adapts plain functions to a Listener; nil fields drop the
// event.
type ListenerFuncs struct {
	OnWarning func(Diagnostic)
	OnError   func(Diagnostic)
	OnFatal   func(Diagnostic)
}

func (f ListenerFuncs) Warning(d Diagnostic) {
	if f.OnWarning != nil {
		f.OnWarning(d)
	}
}

func (f ListenerFuncs) Error(d Diagnostic) {
	if f.OnError != nil {
		f.OnError(d)
	}
}

func (f ListenerFuncs) Fatal(d Diagnostic) {
	if f.OnFatal != nil {
		f.OnFatal(d)
	}
}

// Each returns a ListenerFuncs calling fn for every level.
func Each(fn func(Diagnostic)) ListenerFuncs {
	return ListenerFuncs{OnWarning: fn, OnError: fn, OnFatal: fn}
}

type tee []Listener

// Tee fans every diagnostic out to each non-nil listener in turn.
func Tee(ls ...Listener) Listener {
	var out tee
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (t tee) Warning(d Diagnostic) {
	for _, l := range t {
		l.Warning(d)
	}
}

func (t tee) Error(d Diagnostic) {
	for _, l := range t {
		l.Error(d)
	}
}

func (t tee) Fatal(d Diagnostic) {
	for _, l := range t {
		l.Fatal(d)
	}
}
