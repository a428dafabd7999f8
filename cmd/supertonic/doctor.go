package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/bus"
	"github.com/example/go-supertonic/internal/cache"
	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/doctor"
	"github.com/example/go-supertonic/internal/onnx"
	"github.com/example/go-supertonic/internal/tts"
)

func newDoctorCmd() *cobra.Command {
	var (
		checkBus   bool
		loadModels bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			dcfg := buildDoctorConfig(cfg)
			if checkBus {
				dcfg.BusProbe = func() error { return probeBus(cfg.Bus) }
			}

			result := doctor.Run(dcfg, out)

			if loadModels && !result.Failed() {
				engine, err := onnx.Open(cfg)
				if err != nil {
					result.AddFailure(fmt.Sprintf("model load: %v", err))
					_, _ = fmt.Fprintf(out, "%s model load: %v\n", doctor.FailMark, err)
				} else {
					engine.Close()
					_, _ = fmt.Fprintf(out, "%s model load: ok\n", doctor.PassMark)
				}
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&checkBus, "bus", false, "Also check the NATS server")
	cmd.Flags().BoolVar(&loadModels, "load-models", false, "Open an ONNX Runtime session for every graph")

	return cmd
}

func buildDoctorConfig(cfg config.Config) doctor.Config {
	dir := cfg.Paths.ONNXDir

	files := make([]string, 0, 6)
	for _, name := range onnx.GraphNames() {
		files = append(files, filepath.Join(dir, onnx.GraphFile(name)))
	}
	files = append(files,
		filepath.Join(dir, config.ModelConfigFile),
		filepath.Join(dir, config.UnicodeIndexerFile),
	)

	dcfg := doctor.Config{
		RuntimeVersion: func() (string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			return info.Version, nil
		},
		ModelFiles:      files,
		ModelConfigPath: filepath.Join(dir, config.ModelConfigFile),
		ValidateModelConfig: func(path string) error {
			_, err := config.LoadModelConfig(path)
			return err
		},
		VoiceFiles: collectVoiceFiles(cfg.Paths.VoiceDir),
		ValidateVoice: func(path string) error {
			_, err := tts.LoadStyle(path)
			return err
		},
	}

	if cfg.Cache.Enabled {
		dcfg.CacheProbe = func() error { return probeCache(cfg.Cache.Path) }
	}

	return dcfg
}

// collectVoiceFiles returns absolute style paths for every catalog entry.
// Unresolvable entries keep their raw path so the doctor check reports them.
func collectVoiceFiles(dir string) []string {
	catalog, err := tts.LoadVoiceCatalog(dir)
	if err != nil {
		slog.Debug("voice catalog unavailable", "dir", dir, "error", err)
		return nil
	}

	voices := catalog.ListVoices()

	paths := make([]string, 0, len(voices))
	for _, v := range voices {
		resolved, err := catalog.ResolvePath(v.ID)
		if err != nil {
			paths = append(paths, v.Path)
			continue
		}
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		}
		paths = append(paths, resolved)
	}

	return paths
}

func probeBus(cfg config.BusConfig) error {
	client, err := bus.Connect(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.Healthy() {
		return errors.New("connection not established")
	}
	return nil
}

func probeCache(path string) error {
	store, err := cache.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.Stats(context.Background())
	return err
}
