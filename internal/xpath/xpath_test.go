package xpath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"xslttester/internal/xmltree"
)

const library = `<library xmlns:b="urn:books">
  <shelf id="s1">
    <book year="1999" xml:lang="en"><title>Alpha</title><price>10</price></book>
    <book year="2005"><title>Beta</title><price>25.5</price></book>
  </shelf>
  <shelf id="s2">
    <b:book year="2010"><title>Gamma</title><price>7</price></b:book>
    <!-- note -->
    <?render fast?>
  </shelf>
</library>`

type mapEnv map[string]Value

func (m mapEnv) Variable(name string) (Value, error) {
	v, ok := m[name]
	if !ok {
		return nil, ErrUnknownVariable
	}
	return v, nil
}

func (m mapEnv) Function(name string) (Function, bool) {
	if name == "{urn:ext}twice" {
		return func(_ *Context, args []Value) (Value, error) { return Number(args[0]) * 2, nil }, true
	}
	return nil, false
}

func mustDoc(t *testing.T, s string) *xmltree.Node {
	t.Helper()
	doc, err := xmltree.ParseString(s)
	require.NoError(t, err)
	return doc
}

func eval(t *testing.T, doc *xmltree.Node, src string) Value {
	t.Helper()
	e, err := CompileNS(src, Namespaces{"b": "urn:books", "ext": "urn:ext"})
	require.NoError(t, err, src)
	v, err := e.Evaluate(NewContext(doc, mapEnv{"n": 3.0, "s": "Beta"}))
	require.NoError(t, err, src)
	return v
}

func TestEvaluate_Strings(t *testing.T) {
	doc := mustDoc(t, library)
	cases := map[string]string{
		"string(/library/shelf[1]/book[2]/title)":         "Beta",
		"string(//book[@year > 2000]/title)":              "Beta",
		"string(//b:book/title)":                          "Gamma",
		"name(//shelf[2]/*)":                              "b:book",
		"local-name(//shelf[2]/*)":                        "book",
		"namespace-uri(//shelf[2]/*)":                     "urn:books",
		"concat('a', 1, true())":                          "a1true",
		"substring('12345', 1.5, 2.6)":                    "234",
		"substring('12345', 0, 3)":                        "12",
		"substring('12345', 0 div 0, 3)":                  "",
		"substring-before('1999/04/01', '/')":             "1999",
		"substring-after('1999/04/01', '/')":              "04/01",
		"normalize-space('  a \n  b ')":                   "a b",
		"translate('bar', 'abc', 'AB')":                   "BAr",
		"string(//comment())":                             " note ",
		"string(//processing-instruction('render'))":      "fast",
		"string(//book[title = $s]/@year)":                "2005",
		"string(//shelf[@id='s1']/book[last()]/title)":    "Beta",
		"string((//title)[3])":                            "Gamma",
		"string(//title[. = 'Gamma']/../@year)":           "2010",
		"string(//book[1]/following-sibling::book/title)": "Beta",
		"string(//book[2]/preceding::title[1])":           "Alpha",
		"string(//price[. = 7]/ancestor::shelf/@id)":      "s2",
	}
	for src, want := range cases {
		require.Equal(t, want, String(eval(t, doc, src)), src)
	}
}

func TestEvaluate_Numbers(t *testing.T) {
	doc := mustDoc(t, library)
	cases := map[string]float64{
		"count(//book | //b:book)":                   3,
		"count(//*[starts-with(local-name(), 'b')])": 3,
		"sum(//price)":                               42.5,
		"7 mod 3":                                    1,
		"-7 mod 3":                                   -1,
		"10 div 4":                                   2.5,
		"$n * 2 - 1":                                 5,
		"round(2.5)":                                 3,
		"round(-2.5)":                                -2,
		"floor(-1.5)":                                -2,
		"ceiling(1.1)":                               2,
		"string-length('héllo')":                     5,
		"ext:twice(21)":                              42,
		"count(//shelf[1]/book/@*)":                  3,
		"count(//book[lang('EN')])":                  1,
		"number(' 12 ')":                             12,
	}
	for src, want := range cases {
		require.Equal(t, want, Number(eval(t, doc, src)), src)
	}
	require.True(t, math.IsNaN(Number(eval(t, doc, "number('1e3')"))))
	require.Equal(t, "-Infinity", String(eval(t, doc, "-1 div 0")))
}

func TestEvaluate_Comparisons(t *testing.T) {
	doc := mustDoc(t, library)
	truths := []string{
		"//price = 7",
		"//price != 7",
		"//price > 20",
		"not(//price > 30)",
		"//title = //b:book/title",
		"//missing = false()",
		"'1' = 1.0",
		"true() = 'x'",
		"1 < 2 and 2 <= 2 or false()",
		"boolean(//shelf[2]/processing-instruction())",
	}
	for _, src := range truths {
		require.True(t, Boolean(eval(t, doc, src)), src)
	}
	require.False(t, Boolean(eval(t, doc, "//missing = ''")))
}

func TestCompile_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"//book[",
		"count()",
		"concat('a')",
		"foo::bar",
		"u:name",
		"'unterminated",
		"1 +",
		"a ! b",
	} {
		_, err := Compile(src)
		require.Error(t, err, src)
	}
}

func TestEvaluate_UnknownNames(t *testing.T) {
	doc := mustDoc(t, library)
	_, err := MustCompile("$nope").Evaluate(NewContext(doc, mapEnv{}))
	require.ErrorIs(t, err, ErrUnknownVariable)
	_, err = MustCompile("nope()").Evaluate(NewContext(doc, mapEnv{}))
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestSelect_DocumentOrder(t *testing.T) {
	doc := mustDoc(t, library)
	ns, err := MustCompile("//price | //title").Select(NewContext(doc, nil))
	require.NoError(t, err)
	require.Len(t, ns, 6)
	for i := 1; i < len(ns); i++ {
		require.Less(t, ns[i-1].Order(), ns[i].Order())
	}
	require.Equal(t, "title", ns[0].Name.Local)

	_, err = MustCompile("1 + 1").Select(NewContext(doc, nil))
	require.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	require.Equal(t, "NaN", FormatNumber(math.NaN()))
	require.Equal(t, "0", FormatNumber(math.Copysign(0, -1)))
	require.Equal(t, "1.5", FormatNumber(1.5))
	require.Equal(t, "1000000", FormatNumber(1e6))
	require.Equal(t, "Infinity", FormatNumber(math.Inf(1)))
}
