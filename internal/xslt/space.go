package xslt

import (
	"strings"

	"xslttester/internal/xmltree"
)

// spaceRule is one name test of xsl:strip-space or xsl:preserve-space.
type spaceRule struct {
	space    string
	local    string // "*" matches any local name
	anyNS    bool
	strip    bool
	priority float64
}

func (c *compiler) spaceDecl(n *xmltree.Node, strip bool) {
	for _, test := range strings.Fields(c.required(n, "elements")) {
		r := spaceRule{strip: strip}
		switch {
		case test == "*":
			r.local, r.anyNS, r.priority = "*", true, -0.5
		case strings.HasSuffix(test, ":*"):
			prefix := strings.TrimSuffix(test, ":*")
			uri, ok := n.LookupNamespace(prefix)
			if !ok {
				c.errorf(n, "undeclared namespace prefix %q in %q", prefix, test)
				continue
			}
			r.space, r.local, r.priority = uri, "*", -0.25
		default:
			if !isQName(test) {
				c.errorf(n, "%q is not a valid name test", test)
				continue
			}
			r.local = test
			if prefix, local, ok := strings.Cut(test, ":"); ok {
				uri, found := n.LookupNamespace(prefix)
				if !found {
					c.errorf(n, "undeclared namespace prefix %q in %q", prefix, test)
					continue
				}
				r.space, r.local = uri, local
			}
		}
		c.ss.space = append(c.ss.space, r)
	}
}

func (r spaceRule) matches(name xmltree.Name) bool {
	if !r.anyNS && r.space != name.Space {
		return false
	}
	return r.local == "*" || r.local == name.Local
}

// stripping reports whether whitespace-only text children of an element
// named name are removed. The last of the highest priority rules wins.
func (s *Stylesheet) stripping(name xmltree.Name) bool {
	var best *spaceRule
	for i := range s.space {
		r := &s.space[i]
		if r.matches(name) && (best == nil || r.priority >= best.priority) {
			best = r
		}
	}
	return best != nil && best.strip
}

// stripSpace removes whitespace-only text nodes from src as declared by
// xsl:strip-space, honoring xml:space="preserve".
func (s *Stylesheet) stripSpace(src *xmltree.Node) {
	if len(s.space) == 0 {
		return
	}
	var visit func(n *xmltree.Node, preserve bool)
	visit = func(n *xmltree.Node, preserve bool) {
		if v, ok := n.Attr(xmltree.XMLNamespace, "space"); ok {
			preserve = v == "preserve"
		}
		strip := n.Type == xmltree.ElementNode && !preserve && s.stripping(n.Name)
		for ch := n.FirstChild; ch != nil; {
			next := ch.NextSibling
			switch {
			case ch.Type == xmltree.TextNode && strip && xmltree.IsWhitespace(ch.Data):
				n.RemoveChild(ch)
			case ch.Type == xmltree.ElementNode:
				visit(ch, preserve)
			}
			ch = next
		}
	}
	visit(src, false)
}
