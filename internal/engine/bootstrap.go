package engine

import (
	"context"
	"fmt"

	"xslttester/internal/config"
	"xslttester/internal/telemetry"
	"xslttester/internal/transform"
	"xslttester/internal/transport"
)

// Bootstrap starts listening for Tester calls and, when a metrics port is
// configured, serves /metrics.
func Bootstrap(_ context.Context, cfg config.Config) (*Engine, error) {
	// 1. transform service
	svc := transform.New(transform.WithTimeout(cfg.Transform.Timeout))

	// 2. transport server
	srv, err := transport.StartServer(cfg.Server.GRPCPort, svc)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 3. metrics
	e := &Engine{transport: srv}
	if cfg.Server.MetricsPort != 0 {
		e.metrics = telemetry.Expose(cfg.Server.MetricsPort)
	}
	return e, nil
}
