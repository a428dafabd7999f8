package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/bus"
	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/tts"
)

// synthFlags are the per-invocation overrides shared by synth and batch.
type synthFlags struct {
	voice       string
	steps       int
	speed       float64
	silence     float64
	maxChunkLen int
	seed        uint64
}

func (f *synthFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.voice, "voice", "", "Voice name or style JSON path (overrides config)")
	cmd.Flags().IntVar(&f.steps, "steps", 0, "Denoising steps (overrides config)")
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "Speech speed factor (overrides config)")
	cmd.Flags().Float64Var(&f.silence, "silence", 0, "Silence between chunks in seconds (overrides config)")
	cmd.Flags().IntVar(&f.maxChunkLen, "max-chunk-len", 0, "Max characters per chunk (overrides config)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Noise seed for reproducible output (random when unset)")
}

// apply folds the changed flags into the TTS defaults.
func (f *synthFlags) apply(cmd *cobra.Command, tc *config.TTSConfig) {
	if cmd.Flags().Changed("voice") {
		tc.Voice = f.voice
	}
	if cmd.Flags().Changed("steps") {
		tc.Steps = f.steps
	}
	if cmd.Flags().Changed("speed") {
		tc.Speed = f.speed
	}
	if cmd.Flags().Changed("silence") {
		tc.Silence = f.silence
	}
	if cmd.Flags().Changed("max-chunk-len") {
		tc.MaxChunkLen = f.maxChunkLen
	}
}

func (f *synthFlags) seedPtr(cmd *cobra.Command) *uint64 {
	if !cmd.Flags().Changed("seed") {
		return nil
	}
	s := f.seed
	return &s
}

type synthDSPOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

func (o *synthDSPOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&o.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&o.FadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&o.FadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")
}

func newSynthCmd() *cobra.Command {
	var (
		text   string
		out    string
		remote bool
		flags  synthFlags
		dsp    synthDSPOptions
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			flags.apply(cmd, &cfg.TTS)

			if remote {
				samples, sampleRate, err := synthesizeRemote(cmd, cfg, inputText, flags)
				if err != nil {
					return err
				}
				return writeSynthOutput(out, applyDSP(samples, sampleRate, dsp), sampleRate, os.Stdout)
			}

			svc, err := tts.NewService(cfg)
			if err != nil {
				return fmt.Errorf("initialize synthesis service: %w", err)
			}
			defer svc.Close()

			res, err := svc.Synthesize(cmd.Context(), tts.Request{
				Text:  inputText,
				Voice: cfg.TTS.Voice,
				Seed:  flags.seedPtr(cmd),
			})
			if err != nil {
				return err
			}

			slog.Info("synthesis complete", "chunks", res.Chunks, "duration_s", res.Duration)

			samples := applyDSP(res.Samples, res.SampleRate, dsp)
			return writeSynthOutput(out, samples, res.SampleRate, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Send the request to a NATS worker instead of running the models locally")
	flags.register(cmd)
	dsp.register(cmd)

	return cmd
}

// synthesizeRemote asks a bus worker for the audio and decodes its reply.
func synthesizeRemote(cmd *cobra.Command, cfg config.Config, text string, flags synthFlags) ([]float32, int, error) {
	client, err := bus.Connect(cfg.Bus, slog.Default())
	if err != nil {
		return nil, 0, err
	}
	defer client.Close()

	ctx := cmd.Context()
	if cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Server.RequestTimeout)*time.Second)
		defer cancel()
	}

	wav, err := client.Synthesize(ctx, cfg.Bus.Subject, bus.Request{
		Text:  text,
		Voice: cfg.TTS.Voice,
		Steps: cfg.TTS.Steps,
		Speed: cfg.TTS.Speed,
		Seed:  flags.seedPtr(cmd),
	})
	if err != nil {
		return nil, 0, err
	}

	decoded, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, 0, fmt.Errorf("decode worker reply: %w", err)
	}
	return decoded.Samples, decoded.Format.SampleRate, nil
}

func applyDSP(samples []float32, sampleRate int, opts synthDSPOptions) []float32 {
	var hooks []audio.Hook
	if opts.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}
	if opts.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}
	if opts.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, opts.FadeInMS) })
	}
	if opts.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, opts.FadeOutMS) })
	}
	return audio.ApplyHooks(samples, hooks...)
}

// writeSynthOutput writes samples as WAV to outPath, or to stdout when
// outPath is "-".
func writeSynthOutput(outPath string, samples []float32, sampleRate int, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		return audio.WriteWAV(stdout, samples, sampleRate)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := audio.WriteWAVFile(f, samples, sampleRate); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return f.Close()
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}
