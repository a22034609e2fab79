package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"xslttester/internal/transform"
)

// GRPCClient reaches a Tester served by another process. It implements
// transform.Client.
type GRPCClient struct {
	conn *grpc.ClientConn
}

var _ transform.Client = (*GRPCClient)(nil)

func Dial(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Prettify(ctx context.Context, xmlText string) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"xml": xmlText})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, prettifyMethod, in, out); err != nil {
		return "", err
	}
	return out.GetFields()["xml"].GetStringValue(), nil
}

func (c *GRPCClient) Transform(ctx context.Context, req transform.Request) (transform.Outcome, error) {
	fields := map[string]any{"xml": req.XML(), "xslt": req.XSLT()}
	if p := req.Params(); p != nil {
		fields["params"] = p
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return transform.Outcome{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, transformMethod, in, out); err != nil {
		return transform.Outcome{}, err
	}
	f := out.GetFields()
	o := transform.Outcome{
		Output:      f["output"].GetStringValue(),
		Diagnostics: f["diagnostics"].GetStringValue(),
	}
	if f["failed"].GetBoolValue() {
		o.Err = errors.New(firstLine(o.Diagnostics))
	}
	return o, nil
}

func (c *GRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func firstLine(s string) string {
	if s == "" {
		return "transform failed"
	}
	line, _, _ := strings.Cut(s, "\n")
	return line
}
