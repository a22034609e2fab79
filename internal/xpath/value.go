package xpath

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"xslttester/internal/xmltree"
)

// Value is one of NodeSet, string, float64 or bool.
type Value any

// NodeSet is a duplicate-free list of nodes in document order.
type NodeSet []*xmltree.Node

// Sort puts ns into document order and drops duplicates in place.
func (ns NodeSet) Sort() NodeSet {
	if len(ns) < 2 {
		return ns
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].Order() < ns[j].Order() })
	out := ns[:1]
	for _, n := range ns[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

// String converts any value with the XPath string() rules.
func String(v Value) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return FormatNumber(t)
	case NodeSet:
		if len(t) == 0 {
			return ""
		}
		return t[0].StringValue()
	}
	return ""
}

// Number converts any value with the XPath number() rules.
func Number(v Value) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		return ParseNumber(t)
	case NodeSet:
		return ParseNumber(String(t))
	}
	return math.NaN()
}

// Boolean converts any value with the XPath boolean() rules.
func Boolean(v Value) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	case NodeSet:
		return len(t) > 0
	}
	return false
}

// ParseNumber accepts only the XPath Number production with an optional
// leading minus and surrounding whitespace; anything else is NaN.
func ParseNumber(s string) float64 {
	s = strings.Trim(s, " \t\r\n")
	body := strings.TrimPrefix(s, "-")
	if body == "" {
		return math.NaN()
	}
	digits, dot := 0, false
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return math.NaN()
		}
	}
	if digits == 0 {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// FormatNumber renders a number the way XPath string() does: integers
// without a fraction, no exponent, NaN and Infinity spelled out.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func typeName(v Value) string {
	switch v.(type) {
	case NodeSet:
		return "node-set"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return "unknown"
}
