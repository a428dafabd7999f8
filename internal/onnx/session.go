package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Graph names used as runner keys.
const (
	GraphDuration    = "duration_predictor"
	GraphTextEncoder = "text_encoder"
	GraphVectorField = "vector_estimator"
	GraphVocoder     = "vocoder"
)

type NodeInfo struct {
	Name  string
	DType string
}

type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// graphSpecs lists the four pipeline graphs in execution order together with
// their tensor contracts.
var graphSpecs = []Session{
	{
		Name: GraphDuration,
		Inputs: []NodeInfo{
			{"text_ids", "int64"}, {"style_dp", "float32"}, {"text_mask", "float32"},
		},
		Outputs: []NodeInfo{{"duration", "float32"}},
	},
	{
		Name: GraphTextEncoder,
		Inputs: []NodeInfo{
			{"text_ids", "int64"}, {"style_ttl", "float32"}, {"text_mask", "float32"},
		},
		Outputs: []NodeInfo{{"text_emb", "float32"}},
	},
	{
		Name: GraphVectorField,
		Inputs: []NodeInfo{
			{"noisy_latent", "float32"}, {"text_emb", "float32"}, {"style_ttl", "float32"},
			{"latent_mask", "float32"}, {"text_mask", "float32"},
			{"current_step", "float32"}, {"total_step", "float32"},
		},
		Outputs: []NodeInfo{{"denoised_latent", "float32"}},
	},
	{
		Name:    GraphVocoder,
		Inputs:  []NodeInfo{{"latent", "float32"}},
		Outputs: []NodeInfo{{"wav_tts", "float32"}},
	},
}

// GraphNames returns the pipeline graph names in execution order.
func GraphNames() []string {
	names := make([]string, len(graphSpecs))
	for i, g := range graphSpecs {
		names[i] = g.Name
	}
	return names
}

// GraphFile returns the on-disk file name of a pipeline graph.
func GraphFile(name string) string {
	return name + ".onnx"
}

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

// NewSessionManager resolves every pipeline graph inside onnxDir and fails if
// any file is missing.
func NewSessionManager(onnxDir string) (*SessionManager, error) {
	if onnxDir == "" {
		return nil, errors.New("onnx directory is required")
	}

	sm := &SessionManager{
		sessions: make(map[string]Session, len(graphSpecs)),
		order:    make([]string, 0, len(graphSpecs)),
	}

	for _, g := range graphSpecs {
		sessionPath := filepath.Clean(filepath.Join(onnxDir, GraphFile(g.Name)))
		if _, err := os.Stat(sessionPath); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", g.Name, err)
		}

		session := Session{
			Name:    g.Name,
			Path:    sessionPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		}
		sm.sessions[g.Name] = session
		sm.order = append(sm.order, g.Name)

		slog.Debug(
			"resolved ONNX session",
			"name", g.Name,
			"path", sessionPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return sm, nil
}

func (m *SessionManager) Session(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[name]

	return s, ok
}

func (m *SessionManager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		s := m.sessions[name]
		s.Inputs = append([]NodeInfo(nil), s.Inputs...)
		s.Outputs = append([]NodeInfo(nil), s.Outputs...)
		out = append(out, s)
	}

	return out
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
