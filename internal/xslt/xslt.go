// Package xslt compiles and runs XSLT 1.0 stylesheets over xmltree
// documents.
package xslt

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"xslttester/internal/diagnostic"
	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

// Namespace is the XSLT namespace URI.
const Namespace = "http://www.w3.org/1999/XSL/Transform"

// Vendor is reported by system-property('xsl:vendor').
const Vendor = "xslttester"

const (
	// SystemStylesheet and SystemSource are the system ids diagnostics
	// carry for the two inputs.
	SystemStylesheet = "stylesheet"
	SystemSource     = "source"

	maxDepth = 3000
)

// Stylesheet is a compiled stylesheet. It is read-only after Compile and
// may run several transforms concurrently.
type Stylesheet struct {
	doc       *xmltree.Node
	version   string
	templates []*template
	named     map[string]*template
	rules     map[string][]*rule
	globals   []*instr
	global    map[string]*instr
	keys      map[string][]*keyDef
	attrSets  map[string][]*attrSet
	formats   map[string]*decimalFormat
	output    outputSpec
	space     []spaceRule
}

type template struct {
	node   *xmltree.Node
	ns     xpath.Namespaces
	name   string
	mode   string
	match  *xpath.Pattern
	params []*instr
	body   []*instr
}

// rule is one alternative of a template's match pattern.
type rule struct {
	pattern  *xpath.Pattern
	priority float64
	order    int
	tmpl     *template
}

type keyDef struct {
	node  *xmltree.Node
	ns    xpath.Namespaces
	match *xpath.Pattern
	use   *xpath.Expr
}

type attrSet struct {
	node    *xmltree.Node
	useSets []string
	attrs   []*instr
}

// Params converts caller values to XPath values: strings, booleans and
// numbers keep their type, fmt.Stringer values use String, anything else
// goes through fmt.Sprint.
func Params(in map[string]any) map[string]xpath.Value {
	out := make(map[string]xpath.Value, len(in))
	for k, v := range in {
		out[k] = paramValue(v)
	}
	return out
}

func paramValue(v any) xpath.Value {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return t
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Transform runs the stylesheet against src and writes the serialized
// result to w. Whitespace stripping declared by the stylesheet is applied
// to src in place. Parameter names are local names or {uri}local.
//
// Recoverable problems are reported to l and the run continues; a failure
// is reported as fatal and returned as a *diagnostic.Error. A cancelled ctx
// stops the run at the next template application and returns ctx.Err().
func (s *Stylesheet) Transform(ctx context.Context, src *xmltree.Node, params map[string]any, w io.Writer, l diagnostic.Listener) error {
	if src.Type != xmltree.DocumentNode {
		return fmt.Errorf("xslt: source must be a document node, got %s", src.Type)
	}
	s.stripSpace(src)
	r := newRuntime(ctx, s, src, Params(params), l)
	doc, err := r.run()
	if err != nil {
		return err
	}
	opts := r.serializeOptions(doc)
	return xmltree.Write(w, doc, opts)
}

// Output returns the effective xsl:output method, or "" when it depends on
// the result tree.
func (s *Stylesheet) Output() string { return string(s.output.method) }

func location(n *xmltree.Node) diagnostic.Location {
	if n == nil {
		return diagnostic.Location{SystemID: SystemStylesheet}
	}
	return diagnostic.Location{SystemID: SystemStylesheet, Line: n.Line, Column: n.Column}
}

func formatVersion(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
