package transform

import "context"

// Client is how a surface reaches a Transform Service. Implementations may
// run the service in-process or call a remote one; the error return is for
// the transport only, transform failures travel in the Outcome.
type Client interface {
	Prettify(ctx context.Context, xmlText string) (string, error)
	Transform(ctx context.Context, req Request) (Outcome, error)
	Close() error
}

// InProcessClient calls a Service compiled into the binary.
type InProcessClient struct {
	svc *Service
}

func NewInProcessClient(svc *Service) *InProcessClient { return &InProcessClient{svc: svc} }

func (c *InProcessClient) Prettify(ctx context.Context, xmlText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.svc.Prettify(xmlText), nil
}

func (c *InProcessClient) Transform(ctx context.Context, req Request) (Outcome, error) {
	return c.svc.Run(ctx, req), nil
}

func (c *InProcessClient) Close() error { return nil }
