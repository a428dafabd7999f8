package doctor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-supertonic/internal/doctor"
)

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "1.22.0", nil },
		ModelFiles:     []string{"doctor_test.go"},
		VoiceFiles:     []string{},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "onnx runtime: 1.22.0") {
		t.Errorf("output should mention onnx runtime version; got:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// ONNX Runtime
// ---------------------------------------------------------------------------

func TestRun_RuntimeMissingFails(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "", errLibraryNotFound },
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when the ONNX Runtime library is not found")
	}

	if !hasFailureContaining(result.Failures(), "onnx runtime") {
		t.Errorf("expected failure mentioning onnx runtime, got: %v", result.Failures())
	}
}

func TestRun_RuntimeTooOldFails(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "1.15.1", nil },
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for ONNX Runtime 1.15")
	}
}

func TestRun_RuntimeVersionUnknownPasses(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "", nil },
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Fatalf("unknown version should pass; failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "version unknown") {
		t.Errorf("output should note unknown version; got:\n%s", out.String())
	}
}

func TestRun_RuntimeInRangePasses(t *testing.T) {
	for _, ver := range []string{"1.17.0", "1.20.1", "1.22.0"} {
		t.Run(ver, func(t *testing.T) {
			cfg := doctor.Config{
				RuntimeVersion: func() (string, error) { return ver, nil },
			}
			var out strings.Builder

			result := doctor.Run(cfg, &out)
			if result.Failed() {
				t.Errorf("ONNX Runtime %s should pass but got failures: %v", ver, result.Failures())
			}
		})
	}
}

func TestRun_SkipRuntimeCheck(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime:    true,
		RuntimeVersion: func() (string, error) { return "", errLibraryNotFound },
	}

	var out strings.Builder

	result := doctor.Run(cfg, &out)
	if result.Failed() {
		t.Fatalf("expected no failures when runtime check is skipped, got: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "onnx runtime: skipped") {
		t.Fatalf("expected onnx runtime skipped output, got:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// model assets
// ---------------------------------------------------------------------------

func TestRun_MissingModelFileFails(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime: true,
		ModelFiles:  []string{"/nonexistent/vocoder.onnx"},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for missing model file")
	}

	if !hasFailureContaining(result.Failures(), "vocoder.onnx") {
		t.Errorf("expected failure naming vocoder.onnx, got: %v", result.Failures())
	}
}

func TestRun_ValidateModelConfigCallback(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime:     true,
		ModelConfigPath: "tts.json",
		ValidateModelConfig: func(_ string) error {
			return sentinelError("missing ae.sample_rate")
		},
	}

	var out strings.Builder

	result := doctor.Run(cfg, &out)
	if !result.Failed() {
		t.Fatal("expected failure from validation callback")
	}

	if !hasFailureContaining(result.Failures(), "validation") {
		t.Errorf("expected failure mentioning validation, got: %v", result.Failures())
	}
}

func TestRun_ValidateModelConfigPassesOnSuccess(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime:         true,
		ModelConfigPath:     "tts.json",
		ValidateModelConfig: func(_ string) error { return nil },
	}

	var out strings.Builder

	result := doctor.Run(cfg, &out)
	if result.Failed() {
		t.Errorf("expected pass; failures: %v", result.Failures())
	}

	if !strings.Contains(out.String(), "model config validation: ok") {
		t.Errorf("output should contain 'model config validation: ok'; got:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// voice styles
// ---------------------------------------------------------------------------

func TestRun_MissingVoiceFileFails(t *testing.T) {
	cfg := doctor.Config{
		SkipRuntime: true,
		VoiceFiles:  []string{"/nonexistent/M1.json"},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for missing voice file")
	}

	if !hasFailureContaining(result.Failures(), "voice") {
		t.Errorf("expected failure mentioning voice, got: %v", result.Failures())
	}
}

func TestRun_ValidateVoiceCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "F1.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var validated []string
	cfg := doctor.Config{
		SkipRuntime: true,
		VoiceFiles:  []string{path},
		ValidateVoice: func(p string) error {
			validated = append(validated, p)
			return sentinelError("style_ttl missing")
		},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if len(validated) != 1 || validated[0] != path {
		t.Errorf("ValidateVoice called with %v; want [%s]", validated, path)
	}
	if !hasFailureContaining(result.Failures(), "style_ttl missing") {
		t.Errorf("expected validation failure, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// optional services
// ---------------------------------------------------------------------------

func TestRun_ServiceProbes(t *testing.T) {
	tests := []struct {
		name     string
		bus      doctor.ProbeFunc
		cache    doctor.ProbeFunc
		wantFail string
	}{
		{"both ok", func() error { return nil }, func() error { return nil }, ""},
		{"nats down", func() error { return sentinelError("no servers available") }, nil, "nats"},
		{"cache broken", nil, func() error { return sentinelError("read-only") }, "audio cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := doctor.Config{SkipRuntime: true, BusProbe: tt.bus, CacheProbe: tt.cache}

			var out strings.Builder
			result := doctor.Run(cfg, &out)

			if tt.wantFail == "" {
				if result.Failed() {
					t.Errorf("expected pass; failures: %v", result.Failures())
				}
				return
			}
			if !hasFailureContaining(result.Failures(), tt.wantFail) {
				t.Errorf("expected failure mentioning %q, got: %v", tt.wantFail, result.Failures())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// colour-coded output
// ---------------------------------------------------------------------------

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := doctor.Config{
		RuntimeVersion: func() (string, error) { return "", errLibraryNotFound },
		ModelFiles:     []string{"doctor_test.go"},
	}

	var out strings.Builder
	doctor.Run(cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}

	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errLibraryNotFound = sentinelError("library not found")

func hasFailureContaining(failures []string, substr string) bool {
	substr = strings.ToLower(substr)
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), substr) {
			return true
		}
	}

	return false
}
