// Package telemetry starts the Prometheus metrics endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowcraft/dataflow/internal/logger"
)

// Telemetry owns the metrics HTTP listener.
type Telemetry struct {
	log         *logger.Logger
	metricsAddr string
}

// New creates a telemetry instance bound to the given metrics port.
func New(metricsPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:         log,
		metricsAddr: fmt.Sprintf(":%d", metricsPort),
	}
}

// Start launches the /metrics endpoint in the background.
func (t *Telemetry) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: t.metricsAddr, Handler: mux}

	go func() {
		t.log.Info("metrics server starting", "addr", t.metricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return nil
}
