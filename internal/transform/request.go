package transform

import "maps"

// Request is one transform: source text, stylesheet text and optional
// parameters. It is immutable once built.
type Request struct {
	xml    string
	xslt   string
	params map[string]any
}

// NewRequest copies params, so later changes by the caller are not seen.
func NewRequest(xml, xslt string, params map[string]any) Request {
	return Request{xml: xml, xslt: xslt, params: maps.Clone(params)}
}

func (r Request) XML() string  { return r.xml }
func (r Request) XSLT() string { return r.xslt }

// Params returns a copy of the parameters, nil when there are none.
func (r Request) Params() map[string]any { return maps.Clone(r.params) }

// Outcome holds what a transform produced: the output text, or the
// diagnostic text when it failed.
type Outcome struct {
	Output      string
	Diagnostics string
	Err         error
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Text is what a result panel shows for the outcome.
func (o Outcome) Text() string {
	if o.Failed() {
		return o.Diagnostics
	}
	return o.Output
}
