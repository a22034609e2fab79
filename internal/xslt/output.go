package xslt

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"xslttester/internal/xmltree"
)

// outputSpec is the merge of every xsl:output element; later declarations
// win attribute by attribute.
type outputSpec struct {
	method        xmltree.Method
	version       string
	encoding      string
	charset       encoding.Encoding
	omitDecl      *bool
	standalone    string
	doctypePublic string
	doctypeSystem string
	cdata         map[string]bool
	indent        *bool
	mediaType     string
}

func (c *compiler) outputDecl(n *xmltree.Node) {
	o := &c.ss.output
	if v, ok := attr(n, "method"); ok {
		v = strings.TrimSpace(v)
		switch m := xmltree.Method(v); m {
		case xmltree.MethodXML, xmltree.MethodHTML, xmltree.MethodText:
			o.method = m
		default:
			if strings.Contains(v, ":") && isQName(v) {
				c.warnf(n, "output method %q is not supported; using xml", v)
				o.method = xmltree.MethodXML
			} else {
				c.errorf(n, "unknown output method %q", v)
			}
		}
	}
	if v, ok := attr(n, "encoding"); ok {
		c.outputEncoding(n, o, strings.TrimSpace(v))
	}
	if v, ok := c.yesNo(n, "omit-xml-declaration"); ok {
		o.omitDecl = &v
	}
	if v, ok := c.yesNo(n, "indent"); ok {
		o.indent = &v
	}
	if _, ok := c.yesNo(n, "standalone"); ok {
		o.standalone, _ = attr(n, "standalone")
	}
	for _, a := range []struct {
		name string
		dst  *string
	}{
		{"version", &o.version},
		{"doctype-public", &o.doctypePublic},
		{"doctype-system", &o.doctypeSystem},
		{"media-type", &o.mediaType},
	} {
		if v, ok := attr(n, a.name); ok {
			*a.dst = v
		}
	}
	for _, name := range c.qnames(n, "cdata-section-elements", true) {
		if o.cdata == nil {
			o.cdata = map[string]bool{}
		}
		o.cdata[name] = true
	}
}

// outputEncoding resolves an IANA encoding name. Unknown names fall back
// to UTF-8 with a warning.
func (c *compiler) outputEncoding(n *xmltree.Node, o *outputSpec, name string) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		c.warnf(n, "encoding %q is not supported; using UTF-8", name)
		o.encoding, o.charset = "UTF-8", nil
		return
	}
	o.encoding, o.charset = name, nil
	// Unicode encodings represent every character.
	if canonical, _ := ianaindex.IANA.Name(enc); !strings.HasPrefix(strings.ToUpper(canonical), "UTF-") {
		o.charset = enc
	}
}

// serializeOptions derives serializer options for a result tree. Without a
// declared method, a result whose document element is an unqualified html
// element is written as HTML.
func (r *runtime) serializeOptions(doc *xmltree.Node) xmltree.Options {
	o := r.ss.output
	opts := xmltree.Options{
		Method:        o.method,
		Version:       o.version,
		Encoding:      o.encoding,
		Standalone:    o.standalone,
		DoctypePublic: o.doctypePublic,
		DoctypeSystem: o.doctypeSystem,
		CDataElements: o.cdata,
	}
	if opts.Method == "" {
		opts.Method = xmltree.MethodXML
		if isHTMLResult(doc) {
			opts.Method = xmltree.MethodHTML
		}
	}
	if o.omitDecl != nil {
		opts.OmitDeclaration = *o.omitDecl
	}
	if o.indent != nil && *o.indent {
		opts.Indent = "  "
	}
	if o.charset != nil {
		opts.Representable = representable(o.charset.NewEncoder())
	}
	return opts
}

func isHTMLResult(doc *xmltree.Node) bool {
	for ch := doc.FirstChild; ch != nil; ch = ch.NextSibling {
		switch ch.Type {
		case xmltree.TextNode:
			if !xmltree.IsWhitespace(ch.Data) {
				return false
			}
		case xmltree.ElementNode:
			return ch.Name.Space == "" && strings.EqualFold(ch.Name.Local, "html")
		}
	}
	return false
}

// representable reports the runes e can write. Encoders keep state, so
// each transform builds its own.
func representable(e *encoding.Encoder) func(rune) bool {
	return func(r rune) bool {
		_, err := e.String(string(r))
		return err == nil
	}
}
