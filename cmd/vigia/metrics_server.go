package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const metricsDrainTimeout = 5 * time.Second

// startMetricsServer exposes the Prometheus registry on a side port,
// separate from the API listener so scrapes keep working while the main
// server drains. Stops when ctx is cancelled.
func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Prometheus exporter listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Prometheus exporter stopped unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), metricsDrainTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Prometheus exporter did not drain cleanly")
		}
	}()
}
