package xpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	doc := mustDoc(t, library)
	ns := Namespaces{"b": "urn:books"}
	pick := func(src string) NodeSet {
		t.Helper()
		e, err := CompileNS(src, ns)
		require.NoError(t, err)
		set, err := e.Select(NewContext(doc, nil))
		require.NoError(t, err)
		return set
	}
	cases := []struct {
		pattern string
		node    string
		want    bool
	}{
		{"book", "//book[1]", true},
		{"shelf/book", "//book[1]", true},
		{"library//title", "//title[1]", true},
		{"/library/shelf", "//shelf[1]", true},
		{"/shelf", "//shelf[1]", false},
		{"//price", "//price[1]", true},
		{"b:book", "//b:book", true},
		{"b:*", "//b:book", true},
		{"b:*", "//book[1]", false},
		{"book[2]", "//book[2]", true},
		{"book[2]", "//book[1]", false},
		{"book[@year = 1999]", "//book[1]", true},
		{"@year", "//book[1]/@year", true},
		{"book/@*", "//book[2]/@year", true},
		{"@year", "//book[1]", false},
		{"*", "//book[1]/@year", false},
		{"node()", "//comment()", true},
		{"text()", "//title[1]/text()", true},
		{"processing-instruction('render')", "//processing-instruction()", true},
		{"/", "/", true},
		{"/", "/library", false},
		{"title | price", "//price[1]", true},
		{"shelf[@id='s2']/*/title", "(//title)[3]", true},
		{"shelf[@id='s2']/*/title", "//title[1]", false},
	}
	for _, tc := range cases {
		p, err := CompilePattern(tc.pattern, ns)
		require.NoError(t, err, tc.pattern)
		nodes := pick(tc.node)
		require.NotEmpty(t, nodes, tc.node)
		got, err := p.Match(NewContext(doc, nil), nodes[0])
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%s against %s", tc.pattern, tc.node)
	}
}

func TestPattern_IDLead(t *testing.T) {
	doc := mustDoc(t, `<r><s xml:id="a"><t/></s><s xml:id="b"><t/></s></r>`)
	p, err := CompilePattern("id('b')/t", nil)
	require.NoError(t, err)
	ts, err := MustCompile("//t").Select(NewContext(doc, nil))
	require.NoError(t, err)

	first, err := p.Match(NewContext(doc, nil), ts[0])
	require.NoError(t, err)
	second, err := p.Match(NewContext(doc, nil), ts[1])
	require.NoError(t, err)
	require.False(t, first)
	require.True(t, second)
}

func TestPattern_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"..",
		"ancestor::a",
		"a/following-sibling::b",
		"id($x)",
		"key('k')",
		"a |",
	} {
		_, err := CompilePattern(src, nil)
		require.Error(t, err, src)
	}
}

func TestPattern_DefaultPriority(t *testing.T) {
	cases := map[string]float64{
		"para":                        0,
		"@lang":                       0,
		"processing-instruction('x')": 0,
		"b:*":                         -0.25,
		"*":                           -0.5,
		"node()":                      -0.5,
		"text()":                      -0.5,
		"a/b":                         0.5,
		"a[1]":                        0.5,
		"/":                           0.5,
		"id('x')":                     0.5,
	}
	for src, want := range cases {
		p, err := CompilePattern(src, Namespaces{"b": "urn:b"})
		require.NoError(t, err, src)
		require.Equal(t, want, p.DefaultPriority(), src)
	}
}

func TestPattern_Split(t *testing.T) {
	p, err := CompilePattern("a | b/c | *", nil)
	require.NoError(t, err)
	parts := p.Split()
	require.Len(t, parts, 3)
	require.Equal(t, "a", parts[0].String())
	require.Equal(t, "b/c", parts[1].String())
	require.Equal(t, 0.5, parts[1].DefaultPriority())
	require.Equal(t, -0.5, parts[2].DefaultPriority())
}
