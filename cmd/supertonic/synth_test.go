package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/config"
)

func TestReadSynthText(t *testing.T) {
	t.Run("uses flag text", func(t *testing.T) {
		got, err := readSynthText("hello", strings.NewReader("ignored"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "hello" {
			t.Fatalf("expected hello, got %q", got)
		}
	})

	t.Run("falls back to stdin", func(t *testing.T) {
		got, err := readSynthText("", strings.NewReader(" from stdin \n"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "from stdin" {
			t.Fatalf("expected trimmed stdin text, got %q", got)
		}
	})

	t.Run("fails when both empty", func(t *testing.T) {
		_, err := readSynthText("", strings.NewReader("   \n\t"))
		if err == nil {
			t.Fatal("expected error for empty input")
		}
	})
}

func TestWriteSynthOutput_Stdout(t *testing.T) {
	var buf bytes.Buffer
	samples := []float32{0, 0.5, -0.5, 1}

	if err := writeSynthOutput("-", samples, 44100, &buf); err != nil {
		t.Fatalf("writeSynthOutput: %v", err)
	}

	decoded, err := audio.DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if decoded.Format.SampleRate != 44100 {
		t.Errorf("sample rate = %d; want 44100", decoded.Format.SampleRate)
	}
	if len(decoded.Samples) != len(samples) {
		t.Errorf("want %d samples, got %d", len(samples), len(decoded.Samples))
	}
}

func TestWriteSynthOutput_NilStdout(t *testing.T) {
	if err := writeSynthOutput("-", []float32{0}, 44100, nil); err == nil {
		t.Fatal("expected error for nil stdout writer")
	}
}

func TestWriteSynthOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	if err := writeSynthOutput(path, make([]float32, 441), 44100, nil); err != nil {
		t.Fatalf("writeSynthOutput: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	decoded, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(decoded.Samples) != 441 {
		t.Errorf("want 441 samples, got %d", len(decoded.Samples))
	}
}

func TestWriteSynthOutput_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.wav")
	if err := writeSynthOutput(path, []float32{0}, 44100, nil); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestApplyDSP(t *testing.T) {
	in := []float32{0.1, -0.25, 0.2}

	t.Run("no options keeps samples", func(t *testing.T) {
		got := applyDSP(in, 44100, synthDSPOptions{})
		for i := range in {
			if got[i] != in[i] {
				t.Fatalf("sample %d = %v; want %v", i, got[i], in[i])
			}
		}
	})

	t.Run("normalize reaches unit peak", func(t *testing.T) {
		got := applyDSP(in, 44100, synthDSPOptions{Normalize: true})

		var peak float64
		for _, v := range got {
			peak = max(peak, math.Abs(float64(v)))
		}
		if math.Abs(peak-1) > 1e-6 {
			t.Errorf("peak = %v; want 1", peak)
		}
	})

	t.Run("fade in silences first sample", func(t *testing.T) {
		samples := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
		got := applyDSP(samples, 1000, synthDSPOptions{FadeInMS: 5})
		if got[0] != 0 {
			t.Errorf("first sample = %v; want 0", got[0])
		}
		if got[len(got)-1] != 1 {
			t.Errorf("last sample = %v; want 1", got[len(got)-1])
		}
	})
}

func newFlagTestCmd(f *synthFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	f.register(cmd)
	return cmd
}

func TestSynthFlags_ApplyOnlyChanged(t *testing.T) {
	var f synthFlags
	cmd := newFlagTestCmd(&f)

	if err := cmd.ParseFlags([]string{"--voice", "F2", "--steps", "8"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	tc := config.DefaultConfig().TTS
	f.apply(cmd, &tc)

	if tc.Voice != "F2" {
		t.Errorf("Voice = %q; want %q", tc.Voice, "F2")
	}
	if tc.Steps != 8 {
		t.Errorf("Steps = %d; want 8", tc.Steps)
	}
	if tc.Speed != 1.05 {
		t.Errorf("Speed = %v; want unchanged default 1.05", tc.Speed)
	}
	if tc.MaxChunkLen != 300 {
		t.Errorf("MaxChunkLen = %d; want unchanged default 300", tc.MaxChunkLen)
	}
}

func TestSynthFlags_SeedPtr(t *testing.T) {
	var f synthFlags
	cmd := newFlagTestCmd(&f)

	if got := f.seedPtr(cmd); got != nil {
		t.Fatalf("seedPtr without --seed = %v; want nil", *got)
	}

	if err := cmd.ParseFlags([]string{"--seed", "0"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	got := f.seedPtr(cmd)
	if got == nil || *got != 0 {
		t.Fatalf("seedPtr with --seed 0 = %v; want pointer to 0", got)
	}
}
