package engine

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"xslttester/internal/config"
	"xslttester/internal/transport"
)

func TestEngine_ServesUntilCancelled(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Server.GRPCPort = 0 // any free port
	cfg.Server.MetricsPort = 0

	ctx, cancel := context.WithCancel(context.Background())
	e, err := Bootstrap(ctx, cfg)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	port := e.transport.Addr().(*net.TCPAddr).Port
	c, err := transport.Dial(fmt.Sprintf("localhost:%d", port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	got, err := c.Prettify(cctx, "<a/>")
	if err != nil {
		t.Fatalf("Prettify: %v", err)
	}
	if got != "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<a/>\n" {
		t.Fatalf("unexpected prettify result %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
