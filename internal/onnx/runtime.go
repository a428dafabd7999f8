package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-supertonic/internal/config"
)

// DefaultAPIVersion is the ORT C API version requested when none is configured.
const DefaultAPIVersion = 23

// ErrEnginesOpen is returned by Shutdown while an engine still holds the
// shared runtime.
var ErrEnginesOpen = errors.New("onnx engines still open")

type RuntimeInfo struct {
	LibraryPath string
	Version     string
	Initialized bool
}

// RunnerConfig selects the ORT library that backs an engine.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapInfo RuntimeInfo
	errBootstrap  error
)

// Bootstrap detects the ORT shared library once per process.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		info, err := DetectRuntime(cfg)
		if err != nil {
			errBootstrap = err
			return
		}

		bootstrapInfo = info
		bootstrapInfo.Initialized = true
	})

	if errBootstrap != nil {
		return RuntimeInfo{}, errBootstrap
	}

	return bootstrapInfo, nil
}

// host is the loaded ORT library plus the logging env every graph session
// is created in. One host serves all engines in the process.
type host struct {
	runtime *ort.Runtime
	env     *ort.Env
	libPath string
	refs    int
	release func() error
}

var (
	hostMu sync.Mutex
	shared *host
)

// acquireHost loads the ORT library on first use and counts the caller as
// a holder. The library cannot be swapped while it is loaded.
func acquireHost(cfg RunnerConfig) (*host, error) {
	hostMu.Lock()
	defer hostMu.Unlock()

	if shared != nil {
		if shared.libPath != cfg.LibraryPath {
			return nil, fmt.Errorf("onnx runtime already loaded from %s, cannot load %s", shared.libPath, cfg.LibraryPath)
		}
		shared.refs++
		return shared, nil
	}

	apiVersion := cfg.APIVersion
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}

	rt, err := ort.NewRuntime(cfg.LibraryPath, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("load onnx runtime %s: %w", cfg.LibraryPath, err)
	}

	env, err := rt.NewEnv("supertonic", ort.LoggingLevelWarning)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create onnx env: %w", err)
	}

	shared = &host{
		runtime: rt,
		env:     env,
		libPath: cfg.LibraryPath,
		refs:    1,
		release: func() error {
			env.Close()
			return rt.Close()
		},
	}

	return shared, nil
}

func releaseHost(h *host) {
	hostMu.Lock()
	defer hostMu.Unlock()

	if h != nil && h.refs > 0 {
		h.refs--
	}
}

// Shutdown unloads the shared ORT runtime. Every engine must be closed
// first; a later Open loads the library again.
func Shutdown() error {
	hostMu.Lock()
	defer hostMu.Unlock()

	if shared == nil {
		return nil
	}
	if shared.refs > 0 {
		return fmt.Errorf("%w: %d", ErrEnginesOpen, shared.refs)
	}

	h := shared
	shared = nil
	if err := h.release(); err != nil {
		return fmt.Errorf("close onnx runtime: %w", err)
	}

	return nil
}

// DetectRuntime locates the ORT shared library from config, environment or
// well-known install paths.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	path := cfg.ORTLibraryPath
	if path == "" {
		path = os.Getenv("SUPERTONIC_ORT_LIB")
	}
	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}
	if path == "" {
		path = firstExisting(
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"C:/onnxruntime/lib/onnxruntime.dll",
		)
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown"}, errors.New("unable to detect ONNX Runtime library path")
	}
	if _, err := os.Stat(path); err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown"}, fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}
	if version == "" {
		version = inferVersionFromPath(path)
	}
	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version}, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func inferVersionFromPath(path string) string {
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
		return m[1]
	}
	return ""
}

// Open detects ORT and loads the pipeline graphs from cfg.Paths.ONNXDir.
func Open(cfg config.Config) (*Engine, error) {
	info, err := Bootstrap(cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("bootstrap onnx runtime: %w", err)
	}

	return NewEngine(cfg.Paths.ONNXDir, RunnerConfig{
		LibraryPath: info.LibraryPath,
		APIVersion:  cfg.Runtime.ORTAPIVersion,
	})
}
