// Package xpath evaluates XPath 1.0 expressions and XSLT match patterns
// over xmltree documents.
package xpath

import (
	"errors"
	"fmt"

	"xslttester/internal/xmltree"
)

// Namespaces maps prefixes to namespace URIs for name resolution at
// compile time.
type Namespaces map[string]string

func (ns Namespaces) resolve(prefix string) (string, bool) {
	if prefix == "xml" {
		return xmltree.XMLNamespace, true
	}
	uri, ok := ns[prefix]
	return uri, ok
}

// Error is a syntax or static error in an expression.
type Error struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("xpath %q: %s at offset %d", e.Expr, e.Msg, e.Pos)
}

var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrUnknownFunction = errors.New("unknown function")
)

// Function is an extension function. Arguments are evaluated eagerly.
type Function func(c *Context, args []Value) (Value, error)

// Environment supplies variable bindings and extension functions. Names
// are expanded ({uri}local, or local without a namespace).
type Environment interface {
	Variable(name string) (Value, error)
	Function(name string) (Function, bool)
}

// Context is the dynamic evaluation context.
type Context struct {
	Node     *xmltree.Node
	Position int
	Size     int
	Env      Environment
}

func (c *Context) at(n *xmltree.Node, pos, size int) *Context {
	cc := *c
	cc.Node, cc.Position, cc.Size = n, pos, size
	return &cc
}

// NewContext returns a context positioned on n.
func NewContext(n *xmltree.Node, env Environment) *Context {
	return &Context{Node: n, Position: 1, Size: 1, Env: env}
}

// Expr is a compiled expression, safe for concurrent use.
type Expr struct {
	src  string
	root expr
}

func Compile(src string) (*Expr, error) { return CompileNS(src, nil) }

// CompileNS compiles src resolving QName prefixes through ns.
func CompileNS(src string, ns Namespaces) (*Expr, error) {
	root, err := parse(src, ns)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root}, nil
}

func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

func (e *Expr) Evaluate(c *Context) (Value, error) { return e.root.eval(c) }

// Select evaluates an expression that must yield a node-set.
func (e *Expr) Select(c *Context) (NodeSet, error) {
	v, err := e.root.eval(c)
	if err != nil {
		return nil, err
	}
	ns, ok := v.(NodeSet)
	if !ok {
		return nil, fmt.Errorf("xpath %q: expected a node-set, got a %s", e.src, typeName(v))
	}
	return ns, nil
}

func (e *Expr) EvaluateString(c *Context) (string, error) {
	v, err := e.root.eval(c)
	if err != nil {
		return "", err
	}
	return String(v), nil
}

func (e *Expr) EvaluateBool(c *Context) (bool, error) {
	v, err := e.root.eval(c)
	if err != nil {
		return false, err
	}
	return Boolean(v), nil
}

func (e *Expr) EvaluateNumber(c *Context) (float64, error) {
	v, err := e.root.eval(c)
	if err != nil {
		return 0, err
	}
	return Number(v), nil
}
