// Copyright 2024-2026 Aiku AI

// Package metrics exposes Prometheus counters for the relay and its pair
// stores, plus the HTTP server that serves them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Relay metrics
	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_events_relayed_total",
		Help: "Events successfully applied to the target platform",
	}, []string{"direction", "op"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_events_dropped_total",
		Help: "Inbound events dropped before reaching the sender",
	}, []string{"direction", "reason"})

	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_send_failures_total",
		Help: "Sender calls that failed or timed out",
	}, []string{"direction", "op"})

	SendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spacebar_bridge_send_duration_seconds",
		Help:    "Sender call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"direction", "op"})

	// Pair store metrics
	PairsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_pairs_swept_total",
		Help: "Message pairs removed by the cleanup sweeper",
	}, []string{"store"})

	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_sweep_errors_total",
		Help: "Cleanup sweeps that failed",
	}, []string{"store"})

	// Gateway metrics
	GatewayReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacebar_bridge_gateway_reconnects_total",
		Help: "Gateway reconnect attempts",
	}, []string{"link", "mode"})
)

// Config configures the metrics HTTP server.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// NewMux returns the handler serving metrics and health endpoints.
func NewMux(cfg Config, checker *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())
	if checker != nil {
		mux.HandleFunc("/healthz", checker.serveLiveness)
		mux.HandleFunc("/readyz", checker.serveReadiness)
	}
	return mux
}

// RunServer serves metrics until ctx is cancelled.
func RunServer(ctx context.Context, cfg Config, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewMux(cfg, checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
