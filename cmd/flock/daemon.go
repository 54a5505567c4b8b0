package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flocksql/flock/internal/logging"
	"github.com/flocksql/flock/internal/metrics"
	"github.com/flocksql/flock/internal/observability"
)

// daemonCmd starts a standalone observability sidecar: the /metrics
// (Prometheus) and /metrics.json (dispatcher counters) endpoints over
// this process's own global metrics singleton (internal/metrics). It
// carries no dispatch logic of its own and has no endpoint through which
// other processes report, so it shows only what was recorded in this
// process.
func daemonCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the metrics and health sidecar for a local dispatch deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cfg.Daemon.HTTPAddr == "" {
				cfg.Daemon.HTTPAddr = ":9090"
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics.json", metrics.Global().JSONHandler())
			mux.Handle("/timeseries", metrics.Global().TimeSeriesHandler())
			mux.Handle("/metrics", metrics.PrometheusHandler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			})

			srv := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: observability.HTTPMiddleware(mux)}
			go func() {
				logging.Op().Info("daemon sidecar started", "addr", cfg.Daemon.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutdown signal received")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "address to serve /metrics, /metrics.json, and /healthz on")
	return cmd
}
