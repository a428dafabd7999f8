package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	textpkg "github.com/example/go-supertonic/internal/text"
	"github.com/example/go-supertonic/internal/tts"
)

const batchNameLen = 20

func newBatchCmd() *cobra.Command {
	var (
		linesFile  string
		outDir     string
		batchInfer bool
		flags      synthFlags
		dsp        synthDSPOptions
	)

	cmd := &cobra.Command{
		Use:   "batch [text files...]",
		Short: "Synthesize many texts to numbered WAV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			texts, err := collectBatchInputs(args, linesFile)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			flags.apply(cmd, &cfg.TTS)

			svc, err := tts.NewService(cfg)
			if err != nil {
				return fmt.Errorf("initialize synthesis service: %w", err)
			}
			defer svc.Close()

			req := tts.Request{Voice: cfg.TTS.Voice, Seed: flags.seedPtr(cmd)}

			var results []tts.Result
			if batchInfer {
				results, err = svc.BatchSynthesize(cmd.Context(), texts, req)
				if err != nil {
					return err
				}
			} else {
				results = make([]tts.Result, 0, len(texts))
				for i, t := range texts {
					req.Text = t
					res, err := svc.Synthesize(cmd.Context(), req)
					if err != nil {
						return fmt.Errorf("text %d: %w", i+1, err)
					}
					results = append(results, res)
				}
			}

			for i, res := range results {
				path := filepath.Join(outDir, batchFileName(i, texts[i]))
				samples := applyDSP(res.Samples, res.SampleRate, dsp)
				if err := writeSynthOutput(path, samples, res.SampleRate, nil); err != nil {
					return err
				}
				slog.Info("wrote batch item", "path", path, "duration_s", res.Duration)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&linesFile, "lines", "", "Read one text per non-empty line from this file ('-' for stdin)")
	cmd.Flags().StringVar(&outDir, "out-dir", "out", "Directory for the generated WAV files")
	cmd.Flags().BoolVar(&batchInfer, "batch-infer", false, "Run all texts through one batched inference pass")
	flags.register(cmd)
	dsp.register(cmd)

	return cmd
}

// collectBatchInputs returns the texts named on the command line: the
// contents of each file argument followed by every non-empty line of
// linesFile.
func collectBatchInputs(files []string, linesFile string) ([]string, error) {
	var texts []string

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if t := strings.TrimSpace(string(data)); t != "" {
			texts = append(texts, t)
		}
	}

	if linesFile != "" {
		lines, err := readLines(linesFile)
		if err != nil {
			return nil, err
		}
		texts = append(texts, lines...)
	}

	if len(texts) == 0 {
		return nil, errors.New("no input texts: pass text files or --lines")
	}
	return texts, nil
}

func readLines(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
	}

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// batchFileName numbers items from 1 and appends a sanitized text prefix.
func batchFileName(i int, text string) string {
	return fmt.Sprintf("%03d_%s.wav", i+1, textpkg.SanitizeFilename(text, batchNameLen))
}
