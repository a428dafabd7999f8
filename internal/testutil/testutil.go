// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelDir(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/onnx"
	"github.com/example/go-supertonic/internal/tts"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// SUPERTONIC_ORT_LIB env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "SUPERTONIC_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or SUPERTONIC_ORT_LIB")
}

// RequireModelDir returns the ONNX asset directory named by
// SUPERTONIC_ONNX_DIR (default assets/onnx relative to the repository root)
// and skips the test unless it holds every pipeline graph plus tts.json and
// unicode_indexer.json.
func RequireModelDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("SUPERTONIC_ONNX_DIR")
	if dir == "" {
		dir = filepath.Join(repoRoot(), config.DefaultConfig().Paths.ONNXDir)
	}

	files := []string{config.ModelConfigFile, config.UnicodeIndexerFile}
	for _, name := range onnx.GraphNames() {
		files = append(files, onnx.GraphFile(name))
	}

	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			tb.Skipf("model asset %s not available in %q; set SUPERTONIC_ONNX_DIR", f, dir)
			return ""
		}
	}

	return dir
}

// RequireVoiceStyle skips the test unless voice id resolves to a style file
// in the voice directory named by SUPERTONIC_VOICE_DIR (default
// assets/voice_styles). It returns the resolved path.
func RequireVoiceStyle(tb testing.TB, id string) string {
	tb.Helper()

	dir := os.Getenv("SUPERTONIC_VOICE_DIR")
	if dir == "" {
		dir = filepath.Join(repoRoot(), config.DefaultConfig().Paths.VoiceDir)
	}

	catalog, err := tts.LoadVoiceCatalog(dir)
	if err != nil {
		tb.Skipf("voice directory not available at %q: %v", dir, err)
		return ""
	}

	path, err := catalog.ResolvePath(id)
	if err != nil {
		tb.Skipf("voice %q not available: %v", id, err)
		return ""
	}

	return path
}

// repoRoot walks up from the working directory to the directory holding
// go.mod. It falls back to the working directory.
func repoRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}

	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd
		}
		dir = parent
	}
}
