package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/bus"
)

func newWorkerCmd() *cobra.Command {
	var (
		queueGroup  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve synthesis requests from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("queue-group") {
				cfg.Bus.QueueGroup = queueGroup
			}

			rt, err := openRuntime(cfg, "supertonic-worker")
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := bus.Connect(cfg.Bus, slog.Default())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := bus.NewWorker(ctx, bus.WorkerConfig{
				Subject:      cfg.Bus.Subject,
				QueueGroup:   cfg.Bus.QueueGroup,
				Timeout:      time.Duration(cfg.Server.RequestTimeout) * time.Second,
				MaxTextBytes: cfg.Server.MaxTextBytes,
				Concurrency:  cfg.Server.Workers,
			}, client.Conn(), rt.svc, slog.Default())
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Close()

			if metricsAddr != "" {
				go serveMetrics(ctx, metricsAddr, rt.metrics.Handler())
			}

			go reloadOnHangup(ctx, rt.svc)

			<-ctx.Done()
			slog.Info("worker shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&queueGroup, "queue-group", "", "NATS queue group (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose /metrics on this address")

	return cmd
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "error", err)
	}
}
