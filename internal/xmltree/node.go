// Package xmltree is the in-memory XML document model shared by the XPath
// evaluator, the XSLT processor and the pretty-printer.
package xmltree

import (
	"strings"
	"sync/atomic"
)

// XMLNamespace is bound to the reserved "xml" prefix.
const XMLNamespace = "http://www.w3.org/XML/1998/namespace"

type NodeType uint8

const (
	DocumentNode NodeType = iota
	ElementNode
	AttributeNode
	TextNode
	CommentNode
	ProcInstNode
)

func (t NodeType) String() string {
	switch t {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case AttributeNode:
		return "attribute"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case ProcInstNode:
		return "processing-instruction"
	}
	return "unknown"
}

// Name is a namespace-resolved name. Prefix is kept for serialization only;
// two names are equal when Space and Local are.
type Name struct {
	Space  string
	Prefix string
	Local  string
}

// String returns the lexical QName (prefix:local).
func (n Name) String() string {
	if n.Prefix == "" {
		return n.Local
	}
	return n.Prefix + ":" + n.Local
}

// Expanded returns the Clark notation {uri}local, or local when the name
// has no namespace.
func (n Name) Expanded() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

func (n Name) Equal(o Name) bool { return n.Space == o.Space && n.Local == o.Local }

// Namespace is one xmlns declaration.
type Namespace struct {
	Prefix string
	URI    string
}

// Node is any node of a tree. Attributes hang off their element in Attrs
// and are not part of the child list.
type Node struct {
	Type NodeType
	// Name of an element or attribute; Name.Local is the target of a PI.
	Name Name
	// Data holds text, comment and PI content and attribute values.
	Data string

	Attrs      []*Node
	Namespaces []Namespace

	Parent      *Node
	FirstChild  *Node
	LastChild   *Node
	PrevSibling *Node
	NextSibling *Node

	Line   int
	Column int

	order int64
}

var orderSeq atomic.Int64

func NewDocument() *Node { return &Node{Type: DocumentNode} }

func NewElement(name Name) *Node { return &Node{Type: ElementNode, Name: name} }

func NewText(s string) *Node { return &Node{Type: TextNode, Data: s} }

func NewComment(s string) *Node { return &Node{Type: CommentNode, Data: s} }

func NewProcInst(target, data string) *Node {
	return &Node{Type: ProcInstNode, Name: Name{Local: target}, Data: data}
}

// Order is the node's position in document order. Nodes of different
// trees never share a range, so the value also orders nodes across trees.
func (n *Node) Order() int64 { return n.order }

// AppendChild links c as the last child of n, detaching it first.
func (n *Node) AppendChild(c *Node) {
	if c.Parent != nil {
		c.Parent.RemoveChild(c)
	}
	c.Parent = n
	c.PrevSibling = n.LastChild
	c.NextSibling = nil
	if n.LastChild != nil {
		n.LastChild.NextSibling = c
	} else {
		n.FirstChild = c
	}
	n.LastChild = c
}

func (n *Node) RemoveChild(c *Node) {
	if c.Parent != n {
		return
	}
	if c.PrevSibling != nil {
		c.PrevSibling.NextSibling = c.NextSibling
	} else {
		n.FirstChild = c.NextSibling
	}
	if c.NextSibling != nil {
		c.NextSibling.PrevSibling = c.PrevSibling
	} else {
		n.LastChild = c.PrevSibling
	}
	c.Parent, c.PrevSibling, c.NextSibling = nil, nil, nil
}

// Children returns the child list as a slice.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// SetAttr adds an attribute or replaces the value of an existing one with
// the same expanded name.
func (n *Node) SetAttr(name Name, value string) *Node {
	for _, a := range n.Attrs {
		if a.Name.Equal(name) {
			a.Data = value
			if name.Prefix != "" {
				a.Name.Prefix = name.Prefix
			}
			return a
		}
	}
	a := &Node{Type: AttributeNode, Name: name, Data: value, Parent: n}
	n.Attrs = append(n.Attrs, a)
	return a
}

// Attr looks an attribute up by namespace URI and local name.
func (n *Node) Attr(space, local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Data, true
		}
	}
	return "", false
}

// Root returns the topmost ancestor.
func (n *Node) Root() *Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// DocumentElement returns the first element child of a document node.
func (n *Node) DocumentElement() *Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == ElementNode {
			return c
		}
	}
	return nil
}

// LookupNamespace resolves a prefix against the declarations in scope at n.
// The empty prefix resolves the default namespace.
func (n *Node) LookupNamespace(prefix string) (string, bool) {
	if prefix == "xml" {
		return XMLNamespace, true
	}
	for e := n; e != nil; e = e.Parent {
		for _, ns := range e.Namespaces {
			if ns.Prefix == prefix {
				return ns.URI, true
			}
		}
	}
	return "", prefix == ""
}

// InScopeNamespaces returns every prefix binding visible at n. Undeclaring
// the default namespace (xmlns="") removes the "" key.
func (n *Node) InScopeNamespaces() map[string]string {
	out := map[string]string{"xml": XMLNamespace}
	var chain []*Node
	for e := n; e != nil; e = e.Parent {
		chain = append(chain, e)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, ns := range chain[i].Namespaces {
			if ns.URI == "" && ns.Prefix == "" {
				delete(out, "")
				continue
			}
			out[ns.Prefix] = ns.URI
		}
	}
	return out
}

// StringValue is the XPath string-value of the node.
func (n *Node) StringValue() string {
	switch n.Type {
	case DocumentNode, ElementNode:
		var b strings.Builder
		collectText(&b, n)
		return b.String()
	default:
		return n.Data
	}
}

func collectText(b *strings.Builder, n *Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case TextNode:
			b.WriteString(c.Data)
		case ElementNode:
			collectText(b, c)
		}
	}
}

// Clone returns a deep copy of n detached from any parent. The copy is not
// numbered; call Renumber on the tree it ends up in.
func (n *Node) Clone() *Node {
	c := &Node{
		Type:   n.Type,
		Name:   n.Name,
		Data:   n.Data,
		Line:   n.Line,
		Column: n.Column,
	}
	if len(n.Namespaces) > 0 {
		c.Namespaces = append([]Namespace(nil), n.Namespaces...)
	}
	for _, a := range n.Attrs {
		ca := a.Clone()
		ca.Parent = c
		c.Attrs = append(c.Attrs, ca)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(ch.Clone())
	}
	return c
}

// Renumber assigns document order to the whole tree rooted at root:
// element, then its attributes, then its children.
func Renumber(root *Node) {
	total := int64(count(root))
	next := orderSeq.Add(total) - total
	var walk func(*Node)
	walk = func(n *Node) {
		n.order = next
		next++
		for _, a := range n.Attrs {
			a.order = next
			next++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func count(n *Node) int {
	total := 1 + len(n.Attrs)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += count(c)
	}
	return total
}

// IsWhitespace reports whether s consists only of XML whitespace.
func IsWhitespace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
