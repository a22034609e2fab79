package xpath

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"xslttester/internal/xmltree"
)

type coreFunc func(c *Context, args []Value) (Value, error)

type funcDef struct {
	min, max int // max < 0 means variadic
	fn       coreFunc
}

var coreFunctions map[string]funcDef

func init() {
	coreFunctions = map[string]funcDef{
		"last":             {0, 0, fnLast},
		"position":         {0, 0, fnPosition},
		"count":            {1, 1, fnCount},
		"id":               {1, 1, fnID},
		"local-name":       {0, 1, fnLocalName},
		"namespace-uri":    {0, 1, fnNamespaceURI},
		"name":             {0, 1, fnName},
		"string":           {0, 1, fnString},
		"concat":           {2, -1, fnConcat},
		"starts-with":      {2, 2, fnStartsWith},
		"contains":         {2, 2, fnContains},
		"substring-before": {2, 2, fnSubstringBefore},
		"substring-after":  {2, 2, fnSubstringAfter},
		"substring":        {2, 3, fnSubstring},
		"string-length":    {0, 1, fnStringLength},
		"normalize-space":  {0, 1, fnNormalizeSpace},
		"translate":        {3, 3, fnTranslate},
		"boolean":          {1, 1, fnBoolean},
		"not":              {1, 1, fnNot},
		"true":             {0, 0, func(*Context, []Value) (Value, error) { return true, nil }},
		"false":            {0, 0, func(*Context, []Value) (Value, error) { return false, nil }},
		"lang":             {1, 1, fnLang},
		"number":           {0, 1, fnNumber},
		"sum":              {1, 1, fnSum},
		"floor":            {1, 1, func(_ *Context, a []Value) (Value, error) { return math.Floor(Number(a[0])), nil }},
		"ceiling":          {1, 1, func(_ *Context, a []Value) (Value, error) { return math.Ceil(Number(a[0])), nil }},
		"round":            {1, 1, func(_ *Context, a []Value) (Value, error) { return Round(Number(a[0])), nil }},
	}
}

// IsCoreFunction reports whether name is in the XPath core library.
func IsCoreFunction(name string) bool {
	_, ok := coreFunctions[name]
	return ok
}

func nodeSetArg(name string, v Value) (NodeSet, error) {
	ns, ok := v.(NodeSet)
	if !ok {
		return nil, fmt.Errorf("%s() expects a node-set, got a %s", name, typeName(v))
	}
	return ns, nil
}

// optNode returns the first node of an optional node-set argument, or the
// context node when the argument is absent.
func optNode(c *Context, name string, args []Value) (*xmltree.Node, error) {
	if len(args) == 0 {
		return c.Node, nil
	}
	ns, err := nodeSetArg(name, args[0])
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, nil
	}
	return ns[0], nil
}

func optString(c *Context, args []Value) string {
	if len(args) == 0 {
		if c.Node == nil {
			return ""
		}
		return c.Node.StringValue()
	}
	return String(args[0])
}

func fnLast(c *Context, _ []Value) (Value, error)     { return float64(c.Size), nil }
func fnPosition(c *Context, _ []Value) (Value, error) { return float64(c.Position), nil }

func fnCount(_ *Context, args []Value) (Value, error) {
	ns, err := nodeSetArg("count", args[0])
	if err != nil {
		return nil, err
	}
	return float64(len(ns)), nil
}

// fnID looks elements up by their xml:id attribute.
func fnID(c *Context, args []Value) (Value, error) {
	var tokens []string
	if ns, ok := args[0].(NodeSet); ok {
		for _, n := range ns {
			tokens = append(tokens, strings.Fields(n.StringValue())...)
		}
	} else {
		tokens = strings.Fields(String(args[0]))
	}
	out := NodeSet{}
	if c.Node == nil || len(tokens) == 0 {
		return out, nil
	}
	want := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		want[t] = true
	}
	descendants(c.Node.Root(), func(n *xmltree.Node) {
		if n.Type != xmltree.ElementNode {
			return
		}
		if v, ok := n.Attr(xmltree.XMLNamespace, "id"); ok && want[v] {
			out = append(out, n)
		}
	})
	return out, nil
}

func fnLocalName(c *Context, args []Value) (Value, error) {
	n, err := optNode(c, "local-name", args)
	if err != nil || n == nil {
		return "", err
	}
	return n.Name.Local, nil
}

func fnNamespaceURI(c *Context, args []Value) (Value, error) {
	n, err := optNode(c, "namespace-uri", args)
	if err != nil || n == nil {
		return "", err
	}
	return n.Name.Space, nil
}

func fnName(c *Context, args []Value) (Value, error) {
	n, err := optNode(c, "name", args)
	if err != nil || n == nil {
		return "", err
	}
	return n.Name.String(), nil
}

func fnString(c *Context, args []Value) (Value, error) { return optString(c, args), nil }

func fnConcat(_ *Context, args []Value) (Value, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(String(a))
	}
	return b.String(), nil
}

func fnStartsWith(_ *Context, args []Value) (Value, error) {
	return strings.HasPrefix(String(args[0]), String(args[1])), nil
}

func fnContains(_ *Context, args []Value) (Value, error) {
	return strings.Contains(String(args[0]), String(args[1])), nil
}

func fnSubstringBefore(_ *Context, args []Value) (Value, error) {
	s, sep := String(args[0]), String(args[1])
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], nil
	}
	return "", nil
}

func fnSubstringAfter(_ *Context, args []Value) (Value, error) {
	s, sep := String(args[0]), String(args[1])
	if i := strings.Index(s, sep); i >= 0 {
		return s[i+len(sep):], nil
	}
	return "", nil
}

// fnSubstring counts characters from 1 and keeps those at positions p
// with round(start) <= p < round(start)+round(length).
func fnSubstring(_ *Context, args []Value) (Value, error) {
	runes := []rune(String(args[0]))
	start := Round(Number(args[1]))
	end := math.Inf(1)
	if len(args) == 3 {
		end = start + Round(Number(args[2]))
	}
	if math.IsNaN(start) || math.IsNaN(end) {
		return "", nil
	}
	var b strings.Builder
	for i, r := range runes {
		p := float64(i + 1)
		if p >= start && p < end {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func fnStringLength(c *Context, args []Value) (Value, error) {
	return float64(utf8.RuneCountInString(optString(c, args))), nil
}

func fnNormalizeSpace(c *Context, args []Value) (Value, error) {
	return NormalizeSpace(optString(c, args)), nil
}

// NormalizeSpace strips leading and trailing XML whitespace and collapses
// internal runs to a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	}), " ")
}

func fnTranslate(_ *Context, args []Value) (Value, error) {
	from, to := []rune(String(args[1])), []rune(String(args[2]))
	m := make(map[rune]int, len(from))
	for i, r := range from {
		if _, seen := m[r]; !seen {
			m[r] = i
		}
	}
	var b strings.Builder
	for _, r := range String(args[0]) {
		i, ok := m[r]
		switch {
		case !ok:
			b.WriteRune(r)
		case i < len(to):
			b.WriteRune(to[i])
		}
	}
	return b.String(), nil
}

func fnBoolean(_ *Context, args []Value) (Value, error) { return Boolean(args[0]), nil }
func fnNot(_ *Context, args []Value) (Value, error)     { return !Boolean(args[0]), nil }

func fnLang(c *Context, args []Value) (Value, error) {
	want := strings.ToLower(String(args[0]))
	for n := c.Node; n != nil; n = n.Parent {
		if n.Type != xmltree.ElementNode {
			continue
		}
		v, ok := n.Attr(xmltree.XMLNamespace, "lang")
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		return v == want || strings.HasPrefix(v, want+"-"), nil
	}
	return false, nil
}

func fnNumber(c *Context, args []Value) (Value, error) {
	if len(args) == 0 {
		return ParseNumber(optString(c, nil)), nil
	}
	return Number(args[0]), nil
}

func fnSum(_ *Context, args []Value) (Value, error) {
	ns, err := nodeSetArg("sum", args[0])
	if err != nil {
		return nil, err
	}
	var total float64
	for _, n := range ns {
		total += ParseNumber(n.StringValue())
	}
	return total, nil
}

// Round rounds half towards positive infinity, preserving NaN, infinities
// and negative zero.
func Round(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return f
	}
	if f < 0 && f >= -0.5 {
		return math.Copysign(0, -1)
	}
	return math.Floor(f + 0.5)
}
