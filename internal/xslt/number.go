package xslt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"xslttester/internal/xmltree"
	"xslttester/internal/xpath"
)

type numberLevel int

const (
	levelSingle numberLevel = iota
	levelMultiple
	levelAny
)

type numberSpec struct {
	level        numberLevel
	count        *xpath.Pattern
	from         *xpath.Pattern
	value        *xpath.Expr
	format       avt
	groupingSep  avt
	groupingSize avt
	lang         avt
	letterValue  avt
}

func compileNumber(c *compiler, n *xmltree.Node, in *instr) {
	spec := &numberSpec{
		count:        c.pattern(n, "count"),
		from:         c.pattern(n, "from"),
		value:        c.expr(n, "value"),
		format:       c.optAVT(n, "format"),
		groupingSep:  c.optAVT(n, "grouping-separator"),
		groupingSize: c.optAVT(n, "grouping-size"),
		lang:         c.optAVT(n, "lang"),
		letterValue:  c.optAVT(n, "letter-value"),
	}
	if spec.format == nil {
		spec.format = avt{{lit: "1"}}
	}
	switch v, _ := attr(n, "level"); v {
	case "", "single":
	case "multiple":
		spec.level = levelMultiple
	case "any":
		spec.level = levelAny
	default:
		c.errorf(n, "level must be single, multiple or any, got %q", v)
	}
	in.num = spec
}

func execNumber(r *runtime, in *instr, f *frame) error {
	spec := in.num
	var nums []int
	if spec.value != nil {
		v, err := r.eval(in, spec.value, f)
		if err != nil {
			return err
		}
		x := xpath.Round(xpath.Number(v))
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 1 {
			r.out.text(xpath.FormatNumber(x))
			return nil
		}
		nums = []int{int(x)}
	} else {
		var err error
		if nums, err = r.countNodes(in, f); err != nil {
			return err
		}
	}
	format, err := r.evalAVT(in, spec.format, f)
	if err != nil {
		return err
	}
	sep, err := r.evalAVT(in, spec.groupingSep, f)
	if err != nil {
		return err
	}
	sizeStr, err := r.evalAVT(in, spec.groupingSize, f)
	if err != nil {
		return err
	}
	size := 0
	if sep != "" && sizeStr != "" {
		if size, err = strconv.Atoi(strings.TrimSpace(sizeStr)); err != nil || size < 0 {
			r.recoverable(in.node, "grouping-size %q is not a number; grouping is ignored", sizeStr)
			size = 0
		}
	}
	for _, a := range []avt{spec.lang, spec.letterValue} {
		if _, err := r.evalAVT(in, a, f); err != nil {
			return err
		}
	}
	r.out.text(formatList(nums, format, sep, size))
	return nil
}

// countNodes computes the numbers xsl:number shows when it has no value
// attribute.
func (r *runtime) countNodes(in *instr, f *frame) ([]int, error) {
	spec := in.num
	cur := f.node
	var matchErr error
	matches := func(p *xpath.Pattern, n *xmltree.Node) bool {
		if matchErr != nil {
			return false
		}
		nf := frame{node: n, pos: 1, size: 1, vars: f.vars}
		ok, err := p.Match(&xpath.Context{Node: n, Position: 1, Size: 1, Env: &env{r: r, f: &nf, ns: in.ns}}, n)
		if err != nil {
			matchErr = r.fail(in.node, err)
		}
		return ok
	}
	counted := func(n *xmltree.Node) bool {
		if spec.count != nil {
			return matches(spec.count, n)
		}
		if n.Type != cur.Type {
			return false
		}
		switch n.Type {
		case xmltree.ElementNode, xmltree.AttributeNode, xmltree.ProcInstNode:
			return n.Name.Equal(cur.Name)
		}
		return true
	}
	isFrom := func(n *xmltree.Node) bool { return spec.from != nil && matches(spec.from, n) }

	var out []int
	switch spec.level {
	case levelAny:
		total := 0
		walkUntil(cur.Root(), cur, func(n *xmltree.Node) {
			switch {
			case isFrom(n):
				total = 0
			case counted(n):
				total++
			}
		})
		if total > 0 {
			out = []int{total}
		}
	default:
		var chain []*xmltree.Node
		for n := cur; n != nil && !isFrom(n); n = n.Parent {
			if counted(n) {
				chain = append(chain, n)
				if spec.level == levelSingle {
					break
				}
			}
		}
		for i := len(chain) - 1; i >= 0; i-- {
			out = append(out, siblingNumber(chain[i], counted))
		}
	}
	return out, matchErr
}

func siblingNumber(n *xmltree.Node, counted func(*xmltree.Node) bool) int {
	num := 1
	if n.Type == xmltree.AttributeNode {
		return num
	}
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if counted(s) {
			num++
		}
	}
	return num
}

// walkUntil visits, in document order, every node up to and including
// stop. Attributes are visited only when stop is one.
func walkUntil(root, stop *xmltree.Node, fn func(*xmltree.Node)) {
	var visit func(n *xmltree.Node) bool
	visit = func(n *xmltree.Node) bool {
		fn(n)
		if n == stop {
			return true
		}
		for _, a := range n.Attrs {
			if a == stop {
				fn(a)
				return true
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			if visit(ch) {
				return true
			}
		}
		return false
	}
	visit(root)
}

// formatList renders numbers with an xsl:number format string: a prefix,
// alphanumeric tokens with separators between them, and a suffix.
func formatList(nums []int, format, sep string, size int) string {
	prefix, tokens, seps, suffix := splitFormat(format)
	var b strings.Builder
	b.WriteString(prefix)
	for i, n := range nums {
		if i > 0 {
			switch {
			case i-1 < len(seps):
				b.WriteString(seps[i-1])
			case len(seps) > 0:
				b.WriteString(seps[len(seps)-1])
			default:
				b.WriteString(".")
			}
		}
		tok := tokens[min(i, len(tokens)-1)]
		b.WriteString(formatToken(n, tok, sep, size))
	}
	b.WriteString(suffix)
	return b.String()
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func splitFormat(format string) (prefix string, tokens, seps []string, suffix string) {
	var runs []string
	var alnum []bool
	for _, r := range format {
		a := isAlnum(r)
		if len(runs) > 0 && alnum[len(alnum)-1] == a {
			runs[len(runs)-1] += string(r)
			continue
		}
		runs = append(runs, string(r))
		alnum = append(alnum, a)
	}
	i := 0
	if len(runs) > 0 && !alnum[0] {
		prefix = runs[0]
		i = 1
	}
	for ; i < len(runs); i++ {
		if alnum[i] {
			tokens = append(tokens, runs[i])
			continue
		}
		if i == len(runs)-1 {
			suffix = runs[i]
		} else {
			seps = append(seps, runs[i])
		}
	}
	if len(tokens) == 0 {
		tokens = []string{"1"}
	}
	return prefix, tokens, seps, suffix
}

func formatToken(n int, tok, sep string, size int) string {
	switch tok {
	case "a":
		return alphabetic(n, 'a')
	case "A":
		return alphabetic(n, 'A')
	case "i":
		return strings.ToLower(roman(n))
	case "I":
		return roman(n)
	}
	width := 1
	if strings.Trim(tok, "0") == "1" && strings.HasSuffix(tok, "1") {
		width = utf8.RuneCountInString(tok)
	}
	s := strconv.Itoa(n)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return group(s, sep, size)
}

func group(digits, sep string, size int) string {
	if sep == "" || size <= 0 || len(digits) <= size {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % size
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += size {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+size])
	}
	return b.String()
}

func alphabetic(n int, base rune) string {
	if n < 1 {
		return strconv.Itoa(n)
	}
	var out []rune
	for n > 0 {
		n--
		out = append([]rune{base + rune(n%26)}, out...)
		n /= 26
	}
	return string(out)
}

var romanTable = []struct {
	v int
	s string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"}, {100, "C"}, {90, "XC"},
	{50, "L"}, {40, "XL"}, {10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

func roman(n int) string {
	if n < 1 {
		return strconv.Itoa(n)
	}
	var b strings.Builder
	for _, e := range romanTable {
		for n >= e.v {
			b.WriteString(e.s)
			n -= e.v
		}
	}
	return b.String()
}

// decimalFormat holds the symbols of an xsl:decimal-format.
type decimalFormat struct {
	declared          bool
	decimalSeparator  rune
	groupingSeparator rune
	infinity          string
	minusSign         rune
	nan               string
	percent           rune
	perMille          rune
	zeroDigit         rune
	digit             rune
	patternSeparator  rune
}

func defaultDecimalFormat() *decimalFormat {
	return &decimalFormat{
		decimalSeparator:  '.',
		groupingSeparator: ',',
		infinity:          "Infinity",
		minusSign:         '-',
		nan:               "NaN",
		percent:           '%',
		perMille:          '‰',
		zeroDigit:         '0',
		digit:             '#',
		patternSeparator:  ';',
	}
}

func (c *compiler) decimalFormat(n *xmltree.Node) {
	name := ""
	if v, ok := attr(n, "name"); ok {
		name = c.qname(n, v, false)
	}
	if prev, ok := c.ss.formats[name]; ok && prev.declared {
		c.errorf(n, "decimal format %q is declared more than once", name)
		return
	}
	df := defaultDecimalFormat()
	df.declared = true
	chars := []struct {
		attr string
		dst  *rune
	}{
		{"decimal-separator", &df.decimalSeparator},
		{"grouping-separator", &df.groupingSeparator},
		{"minus-sign", &df.minusSign},
		{"percent", &df.percent},
		{"per-mille", &df.perMille},
		{"zero-digit", &df.zeroDigit},
		{"digit", &df.digit},
		{"pattern-separator", &df.patternSeparator},
	}
	for _, ch := range chars {
		v, ok := attr(n, ch.attr)
		if !ok {
			continue
		}
		if utf8.RuneCountInString(v) != 1 {
			c.errorf(n, "%s must be a single character, got %q", ch.attr, v)
			continue
		}
		*ch.dst, _ = utf8.DecodeRuneInString(v)
	}
	if v, ok := attr(n, "infinity"); ok {
		df.infinity = v
	}
	if v, ok := attr(n, "NaN"); ok {
		df.nan = v
	}
	c.ss.formats[name] = df
}

func (e *env) formatNumber(_ *xpath.Context, args []xpath.Value) (xpath.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, errors.New("format-number() takes two or three arguments")
	}
	name := ""
	if len(args) == 3 {
		var err error
		if name, err = e.expand(xpath.String(args[2])); err != nil {
			return nil, err
		}
	}
	df, ok := e.r.ss.formats[name]
	if !ok {
		return nil, fmt.Errorf("format-number(): no decimal format named %q", xpath.String(args[2]))
	}
	return df.format(xpath.Number(args[0]), xpath.String(args[1]))
}

type numberPattern struct {
	prefix, suffix   string
	minInt           int
	minFrac, maxFrac int
	groupSize        int
	multiplier       float64
}

func (df *decimalFormat) isPatternChar(r rune) bool {
	return r == df.digit || r == df.zeroDigit || r == df.groupingSeparator || r == df.decimalSeparator
}

func (df *decimalFormat) parsePattern(s string) (numberPattern, error) {
	p := numberPattern{multiplier: 1}
	runes := []rune(s)
	start, end := -1, -1
	for i, r := range runes {
		if df.isPatternChar(r) {
			if start < 0 {
				start = i
			}
			end = i + 1
		}
	}
	if start < 0 {
		return p, fmt.Errorf("format pattern %q has no digits", s)
	}
	p.prefix, p.suffix = string(runes[:start]), string(runes[end:])
	for _, r := range p.prefix + p.suffix {
		switch r {
		case df.percent:
			p.multiplier = 100
		case df.perMille:
			p.multiplier = 1000
		}
	}
	inFrac := false
	lastGroup := -1
	intDigits := 0
	for _, r := range runes[start:end] {
		switch r {
		case df.decimalSeparator:
			if inFrac {
				return p, fmt.Errorf("format pattern %q has two decimal separators", s)
			}
			inFrac = true
		case df.groupingSeparator:
			if inFrac {
				return p, fmt.Errorf("format pattern %q has a grouping separator in the fraction", s)
			}
			lastGroup = intDigits
		case df.zeroDigit:
			if inFrac {
				if p.maxFrac > p.minFrac {
					return p, fmt.Errorf("format pattern %q has a zero digit after an optional digit", s)
				}
				p.minFrac++
				p.maxFrac++
			} else {
				p.minInt++
				intDigits++
			}
		case df.digit:
			if inFrac {
				p.maxFrac++
			} else {
				if p.minInt > 0 {
					return p, fmt.Errorf("format pattern %q has an optional digit after a zero digit", s)
				}
				intDigits++
			}
		}
	}
	if lastGroup >= 0 {
		p.groupSize = intDigits - lastGroup
	}
	return p, nil
}

// format implements format-number() for one decimal format.
func (df *decimalFormat) format(x float64, pattern string) (string, error) {
	pos, neg, hasNeg := strings.Cut(pattern, string(df.patternSeparator))
	pp, err := df.parsePattern(pos)
	if err != nil {
		return "", err
	}
	if math.IsNaN(x) {
		return df.nan, nil
	}
	np := pp
	if hasNeg {
		if np, err = df.parsePattern(neg); err != nil {
			return "", err
		}
		// The negative subpattern only contributes its prefix and suffix.
		np.minInt, np.minFrac, np.maxFrac, np.groupSize = pp.minInt, pp.minFrac, pp.maxFrac, pp.groupSize
	} else {
		np.prefix = string(df.minusSign) + pp.prefix
	}
	p := pp
	if x < 0 {
		p, x = np, -x
	}
	if math.IsInf(x, 0) {
		return p.prefix + df.infinity + p.suffix, nil
	}
	x *= p.multiplier
	digits := strconv.FormatFloat(x, 'f', p.maxFrac, 64)
	intPart, frac, _ := strings.Cut(digits, ".")
	for len(frac) > p.minFrac && strings.HasSuffix(frac, "0") {
		frac = frac[:len(frac)-1]
	}
	intPart = strings.TrimLeft(intPart, "0")
	if len(intPart) < p.minInt {
		intPart = strings.Repeat("0", p.minInt-len(intPart)) + intPart
	}
	if intPart == "" && frac == "" {
		intPart = "0"
	}
	intPart = group(intPart, string(df.groupingSeparator), p.groupSize)

	var b strings.Builder
	b.WriteString(p.prefix)
	b.WriteString(df.localize(intPart))
	if frac != "" {
		b.WriteRune(df.decimalSeparator)
		b.WriteString(df.localize(frac))
	}
	b.WriteString(p.suffix)
	return b.String(), nil
}

// localize shifts ASCII digits onto the zero-digit of the format.
func (df *decimalFormat) localize(s string) string {
	if df.zeroDigit == '0' {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return df.zeroDigit + (r - '0')
		}
		return r
	}, s)
}
