package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/cache"
	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/server"
	"github.com/example/go-supertonic/internal/telemetry"
	"github.com/example/go-supertonic/internal/tts"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Supertonic HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			rt, err := openRuntime(cfg, "supertonic-server")
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := server.New(cfg, rt.svc, rt.svc,
				server.WithLogger(slog.Default()),
				server.WithMetricsHandler(rt.metrics.Handler()),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go reloadOnHangup(ctx, rt.svc)

			return srv.Start(ctx)
		},
	}

	return cmd
}

// serviceRuntime bundles the synthesis service with its optional collaborators.
type serviceRuntime struct {
	svc     *tts.Service
	metrics *telemetry.Metrics
	store   *cache.Store
}

// openRuntime builds the metrics recorder, the audio cache when enabled, and
// the synthesis service that reports to both.
func openRuntime(cfg config.Config, serviceName string) (*serviceRuntime, error) {
	metrics, err := telemetry.New(serviceName)
	if err != nil {
		return nil, err
	}

	rt := &serviceRuntime{metrics: metrics}
	opts := []tts.ServiceOption{tts.WithRecorder(metrics)}

	if cfg.Cache.Enabled {
		rt.store, err = cache.Open(cfg.Cache.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts = append(opts, tts.WithCache(rt.store))
	}

	rt.svc, err = tts.NewService(cfg, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	slog.Info("synthesis service ready",
		"voices", len(rt.svc.Voices()),
		"default_voice", rt.svc.DefaultVoice(),
		"sample_rate", rt.svc.SampleRate(),
		"cache", rt.store != nil,
	)

	return rt, nil
}

func (rt *serviceRuntime) Close() {
	if rt.svc != nil {
		rt.svc.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("close audio cache", "error", err)
		}
	}
	if rt.metrics != nil {
		if err := rt.metrics.Shutdown(context.Background()); err != nil {
			slog.Warn("shutdown metrics", "error", err)
		}
	}
}

// reloadOnHangup re-reads loaded voice styles on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, svc *tts.Service) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := svc.ReloadStyles(); err != nil {
				slog.Warn("voice style reload failed", "error", err)
				continue
			}
			slog.Info("voice styles reloaded")
		}
	}
}
