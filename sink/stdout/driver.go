package stdout

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"xslttester/sink"
)

/* ────────── public config ────────── */
type Config struct {
	PrintCounter bool      `koanf:"print_counter" yaml:"print_counter"` // prepend seq#
	PrintHeader  bool      `koanf:"print_header" yaml:"print_header"`   // kind and task id line
	MaxBytes     int       `koanf:"max_bytes" yaml:"max_bytes"`         // 0 = whole text
	Out          io.Writer `koanf:"-" yaml:"-"`                         // nil = os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	ack sink.EmitFn
	seq atomic.Uint64

	mu     sync.Mutex // serialises writes
	closed bool
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(r sink.Result) error {
	var b strings.Builder
	if d.cfg.PrintCounter {
		fmt.Fprintf(&b, "[sink %06d] ", d.seq.Add(1))
	}
	if d.cfg.PrintHeader {
		status := "ok"
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(&b, "%s %s %s\n", r.Kind, r.ID, status)
	}
	text := r.Text
	if n := d.cfg.MaxBytes; n > 0 && len(text) > n {
		text = text[:n] + "…\n"
	}
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("stdout-sink: closed")
	}
	_, err := io.WriteString(d.cfg.Out, b.String())
	d.mu.Unlock()

	if d.ack != nil {
		d.ack(r, err)
	}
	return err
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

/* ────────── sink.AckAware ────────── */
func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
