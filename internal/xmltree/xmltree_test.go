package xmltree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Tree(t *testing.T) {
	doc, err := ParseString(`<?xml version="1.0"?>
<!-- head -->
<r xmlns="urn:d" xmlns:p="urn:p" p:a="1" b="2"><p:c>x<![CDATA[<y>]]>z</p:c><?pi data?></r>`)
	require.NoError(t, err)
	require.Equal(t, CommentNode, doc.FirstChild.Type)

	root := doc.DocumentElement()
	require.Equal(t, Name{Space: "urn:d", Local: "r"}, root.Name)
	v, ok := root.Attr("urn:p", "a")
	require.True(t, ok)
	require.Equal(t, "1", v)
	_, ok = root.Attr("urn:d", "b")
	require.False(t, ok, "unprefixed attributes are in no namespace")

	c := root.FirstChild
	require.Equal(t, "urn:p", c.Name.Space)
	require.Equal(t, "p", c.Name.Prefix)
	require.Equal(t, "x<y>z", c.StringValue())
	require.Equal(t, 1, len(c.Children()), "adjacent text is merged")

	pi := c.NextSibling
	require.Equal(t, ProcInstNode, pi.Type)
	require.Equal(t, "pi", pi.Name.Local)
	require.Equal(t, "data", pi.Data)

	require.Less(t, root.Order(), root.Attrs[0].Order())
	require.Less(t, root.Attrs[1].Order(), c.Order())
	require.Equal(t, 3, c.Line)
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"   ",
		"<a>",
		"<a></b>",
		"<a/><b/>",
		"text<a/>",
		"<a x='1' x='2'/>",
		"<p:a/>",
		"<a p:x='1'/>",
		"<a>&bogus;</a>",
	} {
		_, err := ParseString(src)
		require.Error(t, err, "%q", src)
		var se *SyntaxError
		require.True(t, errors.As(err, &se), "%q yields %T", src, err)
	}
}

func TestSerialize_Pretty(t *testing.T) {
	doc, err := ParseString("<a>\n\n<b>  hello\n  world </b><c/><!--n--></a>")
	require.NoError(t, err)
	got := Serialize(doc, PrettyOptions())
	want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
		"<a>\n" +
		"  <b>hello world</b>\n" +
		"  <c/>\n" +
		"  <!--n-->\n" +
		"</a>\n"
	require.Equal(t, want, got)

	again, err := ParseString(got)
	require.NoError(t, err)
	require.Equal(t, got, Serialize(again, PrettyOptions()))
}

func TestSerialize_Compact(t *testing.T) {
	doc, err := ParseString(`<a xmlns:u="urn:u" q='say "hi" &amp; &lt;go&gt;'>1 &lt; 2<u:b/></a>`)
	require.NoError(t, err)
	got := Serialize(doc, Options{OmitDeclaration: true})
	require.Equal(t, `<a xmlns:u="urn:u" q="say &quot;hi&quot; &amp; &lt;go>">1 &lt; 2<u:b/></a>`, got)
}

func TestSerialize_NamespaceFixup(t *testing.T) {
	doc := NewDocument()
	root := NewElement(Name{Space: "urn:x", Prefix: "x", Local: "root"})
	doc.AppendChild(root)
	child := NewElement(Name{Space: "urn:x", Prefix: "x", Local: "child"})
	root.AppendChild(child)
	child.SetAttr(Name{Space: "urn:y", Local: "flag"}, "on")
	plain := NewElement(Name{Local: "plain"})
	root.AppendChild(plain)

	got := Serialize(doc, Options{OmitDeclaration: true})
	require.Equal(t, `<x:root xmlns:x="urn:x"><x:child xmlns:ns0="urn:y" ns0:flag="on"/><plain/></x:root>`, got)

	def := NewDocument()
	outer := NewElement(Name{Space: "urn:d", Local: "outer"})
	def.AppendChild(outer)
	outer.AppendChild(NewElement(Name{Local: "inner"}))
	require.Equal(t, `<outer xmlns="urn:d"><inner xmlns=""/></outer>`, Serialize(def, Options{OmitDeclaration: true}))
}

func TestSerialize_HTML(t *testing.T) {
	doc, err := ParseString(`<html><head><script>if (a &lt; b) {}</script></head><body><br/><p title="a&lt;b"></p></body></html>`)
	require.NoError(t, err)
	got := Serialize(doc, Options{Method: MethodHTML})
	require.Equal(t, `<html><head><script>if (a < b) {}</script></head><body><br><p title="a<b"></p></body></html>`, got)
}

func TestSerialize_TextAndEncoding(t *testing.T) {
	doc, err := ParseString(`<a>caf&#233; <b>&amp;</b></a>`)
	require.NoError(t, err)
	require.Equal(t, "café &", Serialize(doc, Options{Method: MethodText}))

	ascii := Options{OmitDeclaration: true, Representable: func(r rune) bool { return r < 0x80 }}
	require.Equal(t, "<a>caf&#233; <b>&amp;</b></a>", Serialize(doc, ascii))

	cd := Options{OmitDeclaration: true, CDataElements: map[string]bool{"b": true}}
	require.Equal(t, "<a>café <b><![CDATA[&]]></b></a>", Serialize(doc, cd))
}

func TestNode_Mutation(t *testing.T) {
	doc, err := ParseString(`<a><b/><c/><d/></a>`)
	require.NoError(t, err)
	a := doc.DocumentElement()
	c := a.FirstChild.NextSibling
	a.RemoveChild(c)
	require.Len(t, a.Children(), 2)
	require.Nil(t, c.Parent)
	require.Equal(t, "d", a.FirstChild.NextSibling.Name.Local)

	cp := a.Clone()
	require.Nil(t, cp.Parent)
	require.Len(t, cp.Children(), 2)
	require.NotSame(t, a.FirstChild, cp.FirstChild)

	uri, ok := a.LookupNamespace("xml")
	require.True(t, ok)
	require.Equal(t, XMLNamespace, uri)
	_, ok = a.LookupNamespace("nope")
	require.False(t, ok)
}
