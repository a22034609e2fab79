package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"xslttester/internal/logging"
	"xslttester/internal/transform"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer listens on port; Serve must be called to accept requests.
func StartServer(port int, svc *transform.Service) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return NewServer(lis, svc), nil
}

func NewServer(lis net.Listener, svc *transform.Service) *Server {
	s := &Server{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary)),
		health: health.NewServer(),
		lis:    lis,
	}
	RegisterTesterServer(s.grpc, &tester{svc: svc})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logging.L().Debug("grpc call", "method", info.FullMethod,
		"code", status.Code(err).String(), "took", time.Since(start))
	return resp, err
}

// ----- Tester --------------------------------------------------------------

type tester struct {
	svc *transform.Service
}

func (t *tester) Prettify(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	xml, err := stringField(in, "xml")
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"xml": t.svc.Prettify(xml)})
}

func (t *tester) Transform(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	xml, err := stringField(in, "xml")
	if err != nil {
		return nil, err
	}
	xslt, err := stringField(in, "xslt")
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if v, ok := in.GetFields()["params"]; ok {
		st := v.GetStructValue()
		if st == nil {
			return nil, status.Error(codes.InvalidArgument, "params must be an object")
		}
		params = st.AsMap()
	}
	out := t.svc.Run(ctx, transform.NewRequest(xml, xslt, params))
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	return encodeOutcome(out)
}

func stringField(in *structpb.Struct, name string) (string, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "field %q must be a string", name)
	}
	return s.StringValue, nil
}

func encodeOutcome(o transform.Outcome) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"output":      o.Output,
		"diagnostics": o.Diagnostics,
		"failed":      o.Failed(),
	})
}
