package samples

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"xslttester/internal/transform"
)

func TestSamples_Load(t *testing.T) {
	require.True(t, strings.HasPrefix(XML(), "<?xml"))
	require.Contains(t, XSLT(), "xsl:stylesheet")
	require.True(t, strings.HasSuffix(XML(), "</catalog>\n"))
}

func TestSamples_Transform(t *testing.T) {
	svc := transform.New()
	out := svc.Run(context.Background(), transform.NewRequest(XML(), XSLT(), nil))
	require.False(t, out.Failed(), out.Diagnostics)
	require.Contains(t, out.Output, `<books count="4">`)
	require.Contains(t, out.Output, "Midnight Rain by Ralls, Kim (5.95)")
	require.Contains(t, out.Output, `<genre name="Fantasy" books="2"/>`)

	out = svc.Run(context.Background(), transform.NewRequest(XML(), XSLT(), map[string]any{"genre": "Computer"}))
	require.False(t, out.Failed(), out.Diagnostics)
	require.NotContains(t, out.Output, "Midnight Rain")
	require.Contains(t, out.Output, "XML Developer's Guide")
}
