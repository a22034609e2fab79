package engine

import (
	"context"
	"net/http"
	"time"

	"xslttester/internal/logging"
	"xslttester/internal/transport"
)

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
}

// Run serves until ctx is done, then drains in-flight calls.
func (e *Engine) Run(ctx context.Context) error {
	logging.L().Info("serving", "addr", e.transport.Addr().String())

	go func() {
		<-ctx.Done()
		e.transport.Stop()
		if e.metrics != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = e.metrics.Shutdown(sctx)
		}
	}()

	return e.transport.Serve()
}
