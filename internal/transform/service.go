package transform

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"xslttester/internal/diagnostic"
	"xslttester/internal/logging"
	"xslttester/internal/telemetry"
	"xslttester/internal/xmltree"
	"xslttester/internal/xslt"
)

// Service runs prettify and transform requests. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	log     *slog.Logger
	timeout time.Duration
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithTimeout bounds every transform; zero means no bound.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func New(opts ...Option) *Service {
	s := &Service{log: logging.L()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Prettify returns xmlText re-serialized with two-space indentation and
// trimmed text. Text that does not parse is returned unchanged.
func (s *Service) Prettify(xmlText string) string {
	doc, err := xmltree.ParseString(xmlText)
	if err != nil {
		s.log.Debug("prettify passthrough", "err", err)
		telemetry.ObservePrettify("passthrough")
		return xmlText
	}
	telemetry.ObservePrettify("formatted")
	return xmltree.Serialize(doc, xmltree.PrettyOptions())
}

// Transform compiles the stylesheet of req, runs it over the source and
// returns the serialized result. Every warning, error and fatal condition
// is reported to l in order. Unrecoverable failures return a
// *diagnostic.Error; a cancelled ctx returns the context error.
func (s *Service) Transform(ctx context.Context, req Request, l diagnostic.Listener) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := s.transform(ctx, req, diagnostic.Tee(l, telemetry.Diagnostics()))
	elapsed := time.Since(start)
	switch {
	case err == nil:
		telemetry.ObserveTransform(elapsed, "ok")
		s.log.Debug("transform done", "elapsed", elapsed, "bytes", len(out))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		telemetry.ObserveTransform(elapsed, "cancelled")
		s.log.Info("transform cancelled", "elapsed", elapsed, "err", err)
	default:
		telemetry.ObserveTransform(elapsed, "failed")
		s.log.Debug("transform failed", "elapsed", elapsed, "err", err)
	}
	return out, err
}

func (s *Service) transform(ctx context.Context, req Request, l diagnostic.Listener) (string, error) {
	xsl, err := parse(req.XSLT(), xslt.SystemStylesheet, l)
	if err != nil {
		return "", err
	}
	ss, err := xslt.Compile(xsl, l)
	if err != nil {
		return "", err
	}
	src, err := parse(req.XML(), xslt.SystemSource, l)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := ss.Transform(ctx, src, req.Params(), &b, l); err != nil {
		return "", err
	}
	return b.String(), nil
}

// parse reads one input document, reporting a syntax error as fatal.
func parse(text, systemID string, l diagnostic.Listener) (*xmltree.Node, error) {
	doc, err := xmltree.ParseString(text)
	if err == nil {
		return doc, nil
	}
	de := &diagnostic.Error{Message: err.Error(), Location: diagnostic.Location{SystemID: systemID}, Err: err}
	var se *xmltree.SyntaxError
	if errors.As(err, &se) {
		de.Message = se.Msg
		de.Location.Line, de.Location.Column = se.Line, se.Column
	}
	diagnostic.Report(l, de.Diagnostic())
	return nil, de
}

// Run transforms req and collects its diagnostics. A failed outcome
// carries the collected text, or the error message when nothing was
// collected.
func (s *Service) Run(ctx context.Context, req Request) Outcome {
	c := diagnostic.NewCollector()
	out, err := s.Transform(ctx, req, c)
	if err != nil {
		text := c.String()
		if text == "" {
			text = err.Error()
		}
		return Outcome{Diagnostics: text, Err: err}
	}
	return Outcome{Output: out}
}
