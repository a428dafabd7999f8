// Package doctor provides environment preflight checks for supertonic.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Minimum ONNX Runtime release the pipeline graphs are exported for.
const (
	minORTMajor = 1
	minORTMinor = 17
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// CheckFunc validates one resource and returns nil when it is usable.
type CheckFunc func(path string) error

// ProbeFunc checks that a remote dependency is reachable.
type ProbeFunc func() error

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion returns the detected ONNX Runtime version. An empty
	// version with a nil error means the library was found but its version
	// could not be inferred.
	RuntimeVersion VersionFunc
	// SkipRuntime skips the ONNX Runtime check.
	SkipRuntime bool
	// ModelFiles lists the ONNX graphs and JSON documents that must exist.
	ModelFiles []string
	// ModelConfigPath is tts.json; ValidateModelConfig is run on it when set.
	ModelConfigPath     string
	ValidateModelConfig CheckFunc
	// VoiceFiles is the list of voice style paths to verify on disk.
	VoiceFiles []string
	// ValidateVoice parses a voice style file when set.
	ValidateVoice CheckFunc
	// BusProbe checks the NATS server when set.
	BusProbe ProbeFunc
	// CacheProbe opens the audio cache when set.
	CacheProbe ProbeFunc
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	switch {
	case cfg.SkipRuntime || cfg.RuntimeVersion == nil:
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	default:
		ver, err := cfg.RuntimeVersion()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		case ver == "":
			fmt.Fprintf(w, "%s onnx runtime: found (version unknown)\n", PassMark)
		default:
			if verErr := checkRuntimeVersion(ver); verErr != nil {
				res.fail(fmt.Sprintf("onnx runtime version: %v", verErr))
				fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
			}
		}
	}

	// ---- model assets -----------------------------------------------------
	for _, path := range cfg.ModelFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("model file %q: %v", path, err))
			fmt.Fprintf(w, "%s model file %s: not found\n", FailMark, path)
		} else {
			fmt.Fprintf(w, "%s model file: %s\n", PassMark, path)
		}
	}

	if cfg.ModelConfigPath != "" && cfg.ValidateModelConfig != nil {
		if err := cfg.ValidateModelConfig(cfg.ModelConfigPath); err != nil {
			res.fail(fmt.Sprintf("model config validation: %v", err))
			fmt.Fprintf(w, "%s model config validation: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s model config validation: ok\n", PassMark)
		}
	}

	// ---- voice styles -----------------------------------------------------
	for _, path := range cfg.VoiceFiles {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("voice file %q: %v", path, err))
			fmt.Fprintf(w, "%s voice file %s: not found\n", FailMark, path)
			continue
		}

		if cfg.ValidateVoice != nil {
			if err := cfg.ValidateVoice(path); err != nil {
				res.fail(fmt.Sprintf("voice file %q validation: %v", path, err))
				fmt.Fprintf(w, "%s voice file %s: %v\n", FailMark, path, err)
				continue
			}
		}
		fmt.Fprintf(w, "%s voice file: %s\n", PassMark, path)
	}

	// ---- optional services ------------------------------------------------
	if cfg.BusProbe != nil {
		if err := cfg.BusProbe(); err != nil {
			res.fail(fmt.Sprintf("nats: %v", err))
			fmt.Fprintf(w, "%s nats: unreachable (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s nats: connected\n", PassMark)
		}
	}

	if cfg.CacheProbe != nil {
		if err := cfg.CacheProbe(); err != nil {
			res.fail(fmt.Sprintf("audio cache: %v", err))
			fmt.Fprintf(w, "%s audio cache: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s audio cache: ok\n", PassMark)
		}
	}

	return res
}

// checkRuntimeVersion returns an error if ver is older than 1.17 or not a
// 1.x release. ver is expected to be a string like "1.22.0".
func checkRuntimeVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != minORTMajor {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < minORTMinor {
		return fmt.Errorf("requires ONNX Runtime >=%d.%d, got 1.%d", minORTMajor, minORTMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
