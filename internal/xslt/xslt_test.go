package xslt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"xslttester/internal/diagnostic"
	"xslttester/internal/xmltree"
)

const items = `<items><item n="2">b</item><item n="10">a</item><item n="1">c</item></items>`

func stylesheet(body string) string {
	return `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
<xsl:output omit-xml-declaration="yes"/>
` + body + `
</xsl:stylesheet>`
}

func compile(t *testing.T, xsl string) (*Stylesheet, *diagnostic.Collector) {
	t.Helper()
	doc, err := xmltree.ParseString(xsl)
	require.NoError(t, err)
	c := diagnostic.NewCollector()
	ss, err := Compile(doc, c)
	require.NoError(t, err, c.String())
	return ss, c
}

func transform(t *testing.T, xsl, src string, params map[string]any) (string, *diagnostic.Collector, error) {
	t.Helper()
	ss, c := compile(t, xsl)
	doc, err := xmltree.ParseString(src)
	require.NoError(t, err)
	var b strings.Builder
	err = ss.Transform(context.Background(), doc, params, &b, c)
	return b.String(), c, err
}

func mustTransform(t *testing.T, xsl, src string) string {
	t.Helper()
	out, c, err := transform(t, xsl, src, nil)
	require.NoError(t, err, c.String())
	return out
}

func TestTransform_Params(t *testing.T) {
	xsl := stylesheet(`<xsl:param name="greeting" select="'hi'"/>
<xsl:template match="/"><out><xsl:value-of select="$greeting"/>, <xsl:value-of select="count(//item)"/></out></xsl:template>`)

	out, _, err := transform(t, xsl, items, nil)
	require.NoError(t, err)
	require.Equal(t, "<out>hi, 3</out>", out)

	out, _, err = transform(t, xsl, items, map[string]any{"greeting": "hello"})
	require.NoError(t, err)
	require.Equal(t, "<out>hello, 3</out>", out)
}

func TestTransform_IdentityCopy(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="@*|node()"><xsl:copy><xsl:apply-templates select="@*|node()"/></xsl:copy></xsl:template>`)
	require.Equal(t, items, mustTransform(t, xsl, items))
}

func TestTransform_Simplified(t *testing.T) {
	xsl := `<out xsl:version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform"><xsl:value-of select="count(//item)"/></out>`
	require.Equal(t, `<?xml version="1.0" encoding="UTF-8"?><out>3</out>`, mustTransform(t, xsl, items))
}

func TestTransform_Sort(t *testing.T) {
	numeric := stylesheet(`<xsl:template match="/"><xsl:for-each select="//item"><xsl:sort select="@n" data-type="number" order="descending"/><xsl:value-of select="."/></xsl:for-each></xsl:template>`)
	require.Equal(t, "abc", mustTransform(t, numeric, items))

	text := stylesheet(`<xsl:template match="/"><xsl:for-each select="//item"><xsl:sort select="@n"/><xsl:value-of select="."/></xsl:for-each></xsl:template>`)
	require.Equal(t, "cab", mustTransform(t, text, items))
}

func TestTransform_Number(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="/"><xsl:for-each select="//item"><xsl:number format="(a) "/></xsl:for-each>|<xsl:number value="1234567" grouping-separator="," grouping-size="3"/>|<xsl:number value="1999" format="I"/></xsl:template>`)
	require.Equal(t, "(a) (b) (c) |1,234,567|MCMXCIX", mustTransform(t, xsl, items))

	multi := stylesheet(`<xsl:template match="/"><xsl:for-each select="//sec/sec"><xsl:number level="multiple" format="1.1 "/></xsl:for-each></xsl:template>`)
	require.Equal(t, "1.1 1.2 2.1 ", mustTransform(t, multi, `<doc><sec><sec/><sec/></sec><sec><sec/></sec></doc>`))

	anyLevel := stylesheet(`<xsl:template match="/"><xsl:for-each select="//sec"><xsl:number level="any"/></xsl:for-each></xsl:template>`)
	require.Equal(t, "12345", mustTransform(t, anyLevel, `<doc><sec><sec/><sec/></sec><sec><sec/></sec></doc>`))
}

func TestTransform_FormatNumber(t *testing.T) {
	xsl := stylesheet(`<xsl:decimal-format name="eu" decimal-separator="," grouping-separator="."/>
<xsl:template match="/">
<xsl:value-of select="format-number(1234.5, '#,##0.00')"/>|<xsl:value-of select="format-number(0.25, '#%')"/>|<xsl:value-of select="format-number(-3, '0;(0)')"/>|<xsl:value-of select="format-number('x', '0')"/>|<xsl:value-of select="format-number(1234.5, '#.##0,00', 'eu')"/>
</xsl:template>`)
	require.Equal(t, "1,234.50|25%|(3)|NaN|1.234,50", mustTransform(t, xsl, items))
}

func TestTransform_KeysAndModes(t *testing.T) {
	xsl := stylesheet(`<xsl:key name="byN" match="item" use="@n"/>
<xsl:template match="/"><xsl:value-of select="key('byN', '10')"/>:<xsl:apply-templates select="//item" mode="m"/></xsl:template>
<xsl:template match="item" mode="m">[<xsl:value-of select="."/>]</xsl:template>
<xsl:template match="item[@n='1']" mode="m">!</xsl:template>`)
	require.Equal(t, "a:[b][a]!", mustTransform(t, xsl, items))
}

func TestTransform_VariablesAndCallTemplate(t *testing.T) {
	xsl := stylesheet(`<xsl:variable name="total" select="sum(//item/@n)"/>
<xsl:template match="/"><xsl:call-template name="show"><xsl:with-param name="label">sum</xsl:with-param></xsl:call-template></xsl:template>
<xsl:template name="show"><xsl:param name="label" select="'none'"/><xsl:variable name="twice" select="$total * 2"/><xsl:value-of select="concat($label, '=', $total, '/', $twice)"/></xsl:template>`)
	require.Equal(t, "sum=13/26", mustTransform(t, xsl, items))
}

func TestTransform_ChooseAndIf(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="/"><xsl:for-each select="//item"><xsl:choose><xsl:when test="@n &gt; 5">big</xsl:when><xsl:when test="@n = 2">two</xsl:when><xsl:otherwise>small</xsl:otherwise></xsl:choose><xsl:if test="position() != last()">,</xsl:if></xsl:for-each></xsl:template>`)
	require.Equal(t, "two,big,small", mustTransform(t, xsl, items))
}

func TestTransform_ComputedNodes(t *testing.T) {
	xsl := stylesheet(`<xsl:attribute-set name="base"><xsl:attribute name="kind">item</xsl:attribute></xsl:attribute-set>
<xsl:template match="/"><xsl:element name="{name(*)}" use-attribute-sets="base"><xsl:attribute name="count"><xsl:value-of select="count(//item)"/></xsl:attribute><xsl:comment>c</xsl:comment><xsl:processing-instruction name="pi">x</xsl:processing-instruction></xsl:element></xsl:template>`)
	require.Equal(t, `<items kind="item" count="3"><!--c--><?pi x?></items>`, mustTransform(t, xsl, items))
}

func TestTransform_Output(t *testing.T) {
	html := `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform"><xsl:template match="/"><html><body><br/></body></html></xsl:template></xsl:stylesheet>`
	require.Equal(t, "<html><body><br></body></html>", mustTransform(t, html, items))

	text := `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform"><xsl:output method="text"/><xsl:template match="/"><out><xsl:value-of select="//item[1]"/> &amp; more</out></xsl:template></xsl:stylesheet>`
	require.Equal(t, "b & more", mustTransform(t, text, items))

	latin := `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform"><xsl:output encoding="ISO-8859-1"/><xsl:template match="/"><out>café €</out></xsl:template></xsl:stylesheet>`
	require.Equal(t, `<?xml version="1.0" encoding="ISO-8859-1"?><out>café &#8364;</out>`, mustTransform(t, latin, items))
}

func TestTransform_StripSpace(t *testing.T) {
	xsl := stylesheet(`<xsl:strip-space elements="*"/><xsl:template match="/"><xsl:copy-of select="."/></xsl:template>`)
	src := "<items>\n  <item n=\"1\">x</item>\n  <keep xml:space=\"preserve\"> </keep>\n</items>"
	require.Equal(t, `<items><item n="1">x</item><keep xml:space="preserve"> </keep></items>`, mustTransform(t, xsl, src))
}

func TestTransform_MessageTerminate(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="/"><xsl:message>note</xsl:message><xsl:message terminate="yes">stop</xsl:message></xsl:template>`)
	_, c, err := transform(t, xsl, items, nil)
	var de *diagnostic.Error
	require.True(t, errors.As(err, &de))
	require.Equal(t, "stop", de.Message)

	ds := c.Diagnostics()
	require.Len(t, ds, 2)
	require.Equal(t, diagnostic.LevelWarning, ds[0].Level)
	require.Equal(t, "note", ds[0].Message)
	require.Equal(t, diagnostic.LevelFatal, ds[1].Level)
}

func TestTransform_RecoverableAttribute(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="/"><out><child/><xsl:attribute name="late">x</xsl:attribute></out></xsl:template>`)
	out, c, err := transform(t, xsl, items, nil)
	require.NoError(t, err)
	require.Equal(t, "<out><child/></out>", out)
	require.Equal(t, 1, c.Len())
	require.Equal(t, diagnostic.LevelError, c.Diagnostics()[0].Level)
}

func TestTransform_Recursion(t *testing.T) {
	xsl := stylesheet(`<xsl:template match="/"><xsl:call-template name="loop"/></xsl:template><xsl:template name="loop"><xsl:call-template name="loop"/></xsl:template>`)
	_, c, err := transform(t, xsl, items, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "recursion")
	require.Equal(t, diagnostic.LevelFatal, c.Diagnostics()[c.Len()-1].Level)
}

func TestTransform_Cancelled(t *testing.T) {
	ss, _ := compile(t, stylesheet(`<xsl:template match="/"><out/></xsl:template>`))
	doc, err := xmltree.ParseString(items)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var b strings.Builder
	err = ss.Transform(ctx, doc, nil, &b, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, b.String())
}

func TestCompile_Errors(t *testing.T) {
	cases := map[string]struct {
		xsl  string
		want string
	}{
		"missing version": {
			xsl:  `<xsl:stylesheet xmlns:xsl="http://www.w3.org/1999/XSL/Transform"/>`,
			want: "version",
		},
		"unknown instruction": {
			xsl:  stylesheet(`<xsl:template match="/"><xsl:bogus/></xsl:template>`),
			want: "unknown XSLT instruction xsl:bogus",
		},
		"bad expression": {
			xsl:  stylesheet(`<xsl:template match="/"><xsl:value-of select="1 +"/></xsl:template>`),
			want: "1 +",
		},
		"missing template": {
			xsl:  stylesheet(`<xsl:template match="/"><xsl:call-template name="nope"/></xsl:template>`),
			want: `no template named "nope"`,
		},
		"not a stylesheet": {
			xsl:  `<out/>`,
			want: "neither xsl:stylesheet",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := xmltree.ParseString(tc.xsl)
			require.NoError(t, err)
			c := diagnostic.NewCollector()
			_, err = Compile(doc, c)
			var de *diagnostic.Error
			require.True(t, errors.As(err, &de))
			require.Contains(t, de.Message, tc.want)

			ds := c.Diagnostics()
			require.GreaterOrEqual(t, len(ds), 2)
			require.Equal(t, diagnostic.LevelError, ds[0].Level)
			require.Equal(t, diagnostic.LevelFatal, ds[len(ds)-1].Level)
			require.Equal(t, SystemStylesheet, ds[0].Location.SystemID)
		})
	}
}

func TestCompile_ErrorLocation(t *testing.T) {
	xsl := "<xsl:stylesheet version=\"1.0\" xmlns:xsl=\"http://www.w3.org/1999/XSL/Transform\">\n<xsl:template match=\"/\">\n  <xsl:bogus/>\n</xsl:template>\n</xsl:stylesheet>"
	doc, err := xmltree.ParseString(xsl)
	require.NoError(t, err)
	c := diagnostic.NewCollector()
	_, err = Compile(doc, c)
	require.Error(t, err)
	require.Equal(t, 3, c.Diagnostics()[0].Location.Line)
}

func TestParams(t *testing.T) {
	got := Params(map[string]any{"s": "x", "i": 3, "b": true, "n": nil})
	require.Equal(t, "x", got["s"])
	require.Equal(t, 3.0, got["i"])
	require.Equal(t, true, got["b"])
	require.Equal(t, "", got["n"])
}
