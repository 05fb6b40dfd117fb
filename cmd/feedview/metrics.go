package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chatfeed/internal/metrics"
)

// startMetrics serves the feed engine's collectors on addr. The listener is
// bound before returning so a taken port fails startup.
func startMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (*http.Server, net.Addr, error) {
	metrics.MustRegisterFeed(registry)
	registry.MustRegister(collectors.NewGoCollector())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "component", "metrics", "error", err)
		}
	}()
	logger.Info("serving metrics", "component", "metrics", "addr", ln.Addr().String())
	return srv, ln.Addr(), nil
}

func stopMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
