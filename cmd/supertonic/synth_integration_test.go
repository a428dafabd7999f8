//go:build integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-supertonic/internal/testutil"
)

func TestSynthIntegration(t *testing.T) {
	testutil.RequireONNXRuntime(t)
	onnxDir := testutil.RequireModelDir(t)
	stylePath := testutil.RequireVoiceStyle(t, "F1")

	out := filepath.Join(t.TempDir(), "out.wav")
	root := NewRootCmd()
	root.SetArgs([]string{
		"synth",
		"--paths-onnx-dir", onnxDir,
		"--paths-voice-dir", filepath.Dir(stylePath),
		"--text", "Hello.",
		"--voice", "F1",
		"--seed", "1",
		"--out", out,
	})

	if err := root.Execute(); err != nil {
		t.Fatalf("synth command failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	testutil.AssertValidWAV(t, data, 44100)
}
