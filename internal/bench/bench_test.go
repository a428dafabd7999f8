package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/bench"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean {
		t.Errorf("single run: min/max/mean should all be equal, got min=%v max=%v mean=%v", s.Min, s.Max, s.Mean)
	}
}

// ---------------------------------------------------------------------------
// RTF calculation
// ---------------------------------------------------------------------------

func TestRTF_Calculation(t *testing.T) {
	// 1 second of audio synthesised in 500ms → RTF = 0.5
	synthDur := 500 * time.Millisecond
	audioDur := 1 * time.Second

	rtf := bench.CalcRTF(synthDur, audioDur)
	if rtf < 0.499 || rtf > 0.501 {
		t.Errorf("want RTF≈0.5, got %.4f", rtf)
	}
}

func TestRTF_ZeroAudioDuration(t *testing.T) {
	rtf := bench.CalcRTF(500*time.Millisecond, 0)
	if rtf != 0 {
		t.Errorf("want RTF=0 for zero audio duration, got %.4f", rtf)
	}
}

func TestAudioDurationFromWAV(t *testing.T) {
	// 44100 samples at 44.1 kHz = exactly 1 second
	samples := make([]float32, 44100)

	wav, err := audio.EncodeWAV(samples, 44100)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	dur, err := bench.WAVDuration(wav)
	if err != nil {
		t.Fatalf("WAVDuration: %v", err)
	}
	const want = time.Second

	diff := dur - want
	if diff < 0 {
		diff = -diff
	}

	if diff > time.Millisecond {
		t.Errorf("want 1s audio duration, got %v", dur)
	}
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

func TestRTFThreshold_ExceedsThreshold(t *testing.T) {
	// Mean RTF = 1.5, threshold = 1.0 → should fail
	err := bench.CheckRTFThreshold(1.5, 1.0)
	if err == nil {
		t.Error("want error when mean RTF exceeds threshold")
	}
}

func TestRTFThreshold_BelowThreshold(t *testing.T) {
	err := bench.CheckRTFThreshold(0.8, 1.0)
	if err != nil {
		t.Errorf("want no error when RTF below threshold, got: %v", err)
	}
}

func TestRTFThreshold_ExactlyAtThreshold(t *testing.T) {
	err := bench.CheckRTFThreshold(1.0, 1.0)
	if err != nil {
		t.Errorf("want no error at exact threshold, got: %v", err)
	}
}

func TestRTFThreshold_DisabledWhenZero(t *testing.T) {
	err := bench.CheckRTFThreshold(9999, 0)
	if err != nil {
		t.Errorf("threshold=0 should disable gate, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, RTF: 0.8, WAVDuration: time.Second},
		{Index: 1, Cold: false, Duration: 500 * time.Millisecond, RTF: 0.5, WAVDuration: time.Second},
	}
	stats := bench.ComputeStats([]time.Duration{800 * time.Millisecond, 500 * time.Millisecond})

	var buf strings.Builder
	bench.FormatTable(runs, stats, &buf)
	out := buf.String()

	for _, want := range []string{"run", "cold", "ms", "rtf"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, RTF: 0.8, WAVDuration: time.Second},
	}
	stats := bench.ComputeStats([]time.Duration{800 * time.Millisecond})

	var buf bytes.Buffer
	bench.FormatJSON(runs, stats, &buf)

	var out any

	err := json.Unmarshal(buf.Bytes(), &out)
	if err != nil {
		t.Errorf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}
}

func TestWAVDuration_RejectsGarbage(t *testing.T) {
	if _, err := bench.WAVDuration(make([]byte, 10)); err == nil {
		t.Fatal("expected error for truncated WAV")
	}
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

func TestRun_MarksFirstRunColdAndComputesRTF(t *testing.T) {
	wav, err := audio.EncodeWAV(make([]float32, 44100), 44100)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	calls := 0
	runs, err := bench.Run(context.Background(), 3, func(context.Context) ([]byte, error) {
		calls++
		return wav, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls != 3 || len(runs) != 3 {
		t.Fatalf("want 3 calls and 3 results, got %d / %d", calls, len(runs))
	}

	for i, r := range runs {
		if r.Cold != (i == 0) {
			t.Errorf("run %d: cold = %v", i, r.Cold)
		}
		if r.WAVDuration != time.Second {
			t.Errorf("run %d: audio duration = %v; want 1s", i, r.WAVDuration)
		}
		if r.RTF != bench.CalcRTF(r.Duration, r.WAVDuration) {
			t.Errorf("run %d: RTF = %v inconsistent with durations", i, r.RTF)
		}
	}

	if got := len(bench.Durations(runs)); got != 3 {
		t.Errorf("Durations len = %d; want 3", got)
	}
}

func TestRun_StopsOnError(t *testing.T) {
	errBoom := errors.New("boom")

	runs, err := bench.Run(context.Background(), 5, func(context.Context) ([]byte, error) {
		return nil, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("want errBoom, got %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("want no results, got %d", len(runs))
	}
}

func TestRun_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Run(context.Background(), 0, nil); err == nil {
		t.Fatal("want error for zero runs")
	}
}

func TestMeanRTF_IgnoresColdRun(t *testing.T) {
	runs := []bench.RunResult{
		{Cold: true, RTF: 5},
		{RTF: 0.4},
		{RTF: 0.6},
	}
	if got := bench.MeanRTF(runs); got < 0.499 || got > 0.501 {
		t.Errorf("want mean RTF 0.5, got %.4f", got)
	}

	if got := bench.MeanRTF(runs[:1]); got != 5 {
		t.Errorf("only cold run: want 5, got %.4f", got)
	}

	if got := bench.MeanRTF(nil); got != 0 {
		t.Errorf("no runs: want 0, got %.4f", got)
	}
}
