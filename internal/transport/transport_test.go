package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"xslttester/internal/transform"
)

const greetXSL = `<xsl:stylesheet version="1.0" xmlns:xsl="http://www.w3.org/1999/XSL/Transform">
  <xsl:output omit-xml-declaration="yes"/>
  <xsl:param name="who" select="'world'"/>
  <xsl:param name="n" select="0"/>
  <xsl:template match="/">hello <xsl:value-of select="$who"/>/<xsl:value-of select="$n * 2"/></xsl:template>
</xsl:stylesheet>`

func startBufconn(t *testing.T) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(lis, transform.New())
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPC_MatchesInProcess(t *testing.T) {
	ctx := context.Background()
	remote := startBufconn(t)
	local := transform.NewInProcessClient(transform.New())

	for _, xml := range []string{"<a><b>x</b></a>", "<a><b></a>"} {
		want, err := local.Prettify(ctx, xml)
		require.NoError(t, err)
		got, err := remote.Prettify(ctx, xml)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	req := transform.NewRequest("<x/>", greetXSL, map[string]any{"who": "grpc", "n": 21})
	want, err := local.Transform(ctx, req)
	require.NoError(t, err)
	got, err := remote.Transform(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "hello grpc/42", got.Output)
	require.Equal(t, want.Output, got.Output)
	require.False(t, got.Failed())
}

func TestGRPC_FailedTransform(t *testing.T) {
	remote := startBufconn(t)
	out, err := remote.Transform(context.Background(), transform.NewRequest("<x/>", "<xsl:stylesheet", nil))
	require.NoError(t, err)
	require.True(t, out.Failed())
	require.Empty(t, out.Output)
	require.Contains(t, out.Diagnostics, "SystemID: stylesheet")
	require.NotEmpty(t, out.Err.Error())
}

func TestGRPC_InvalidArgument(t *testing.T) {
	c := startBufconn(t)
	in, _ := structpb.NewStruct(map[string]any{"xml": 12})
	err := c.conn.Invoke(context.Background(), prettifyMethod, in, new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	in, _ = structpb.NewStruct(map[string]any{"xml": "<a/>"})
	err = c.conn.Invoke(context.Background(), transformMethod, in, new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	c := startBufconn(t)
	resp, err := healthpb.NewHealthClient(c.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
