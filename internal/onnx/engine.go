package onnx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrOutputContract is returned when a graph output is missing or has an
// unexpected shape.
var ErrOutputContract = errors.New("graph output violates contract")

// GraphRunner runs a single graph. Runner implements it over ORT.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Engine owns one runner per pipeline graph. It is safe for concurrent use
// as long as the runners are.
type Engine struct {
	runners map[string]GraphRunner
	host    *host
}

// VectorFieldInput bundles the seven inputs of one denoising step.
type VectorFieldInput struct {
	NoisyLatent *Tensor // [B, C, T]
	TextEmb     *Tensor
	StyleTTL    *Tensor
	LatentMask  *Tensor // [B, 1, T]
	TextMask    *Tensor // [B, 1, L]
	CurrentStep *Tensor // [B]
	TotalStep   *Tensor // [B]
}

// NewEngine opens an ORT session for every pipeline graph in onnxDir.
func NewEngine(onnxDir string, cfg RunnerConfig) (*Engine, error) {
	sm, err := NewSessionManager(onnxDir)
	if err != nil {
		return nil, err
	}

	h, err := acquireHost(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{runners: make(map[string]GraphRunner, len(graphSpecs)), host: h}
	for _, s := range sm.Sessions() {
		r, err := newRunner(s, h)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.runners[s.Name] = r
	}

	return e, nil
}

// NewEngineWithRunners builds an Engine over caller-supplied runners. The
// engine takes ownership and closes them.
func NewEngineWithRunners(runners map[string]GraphRunner) *Engine {
	own := make(map[string]GraphRunner, len(runners))
	maps.Copy(own, runners)
	return &Engine{runners: own}
}

// Runner returns the runner for a graph.
func (e *Engine) Runner(name string) (GraphRunner, bool) {
	r, ok := e.runners[name]
	return r, ok
}

// Close releases every runner and drops the engine's hold on the shared
// runtime. Safe to call multiple times.
func (e *Engine) Close() {
	for name, r := range e.runners {
		if r != nil {
			r.Close()
		}
		delete(e.runners, name)
	}
	if e.host != nil {
		releaseHost(e.host)
		e.host = nil
	}
}

// PredictDuration returns one duration in seconds per batch row.
func (e *Engine) PredictDuration(ctx context.Context, textIDs, styleDP, textMask *Tensor) ([]float32, error) {
	out, err := e.run(ctx, GraphDuration, map[string]*Tensor{
		"text_ids":  textIDs,
		"style_dp":  styleDP,
		"text_mask": textMask,
	}, "duration")
	if err != nil {
		return nil, err
	}

	if out.Rank() != 1 || out.Dim(0) != textIDs.Dim(0) {
		return nil, fmt.Errorf("%w: %s: duration shape %v, want [%d]", ErrOutputContract, GraphDuration, out.Shape(), textIDs.Dim(0))
	}

	return ExtractFloat32(out)
}

// EncodeText returns the text embedding, a rank-3 tensor with batch B.
func (e *Engine) EncodeText(ctx context.Context, textIDs, styleTTL, textMask *Tensor) (*Tensor, error) {
	out, err := e.run(ctx, GraphTextEncoder, map[string]*Tensor{
		"text_ids":  textIDs,
		"style_ttl": styleTTL,
		"text_mask": textMask,
	}, "text_emb")
	if err != nil {
		return nil, err
	}

	if out.Rank() != 3 || out.Dim(0) != textIDs.Dim(0) || out.DType() != DTypeFloat32 {
		return nil, fmt.Errorf("%w: %s: text_emb shape %v, want rank 3 with batch %d", ErrOutputContract, GraphTextEncoder, out.Shape(), textIDs.Dim(0))
	}

	return out, nil
}

// EstimateVector runs one denoising step and returns the next latent, which
// has the same shape as in.NoisyLatent.
func (e *Engine) EstimateVector(ctx context.Context, in VectorFieldInput) (*Tensor, error) {
	out, err := e.run(ctx, GraphVectorField, map[string]*Tensor{
		"noisy_latent": in.NoisyLatent,
		"text_emb":     in.TextEmb,
		"style_ttl":    in.StyleTTL,
		"latent_mask":  in.LatentMask,
		"text_mask":    in.TextMask,
		"current_step": in.CurrentStep,
		"total_step":   in.TotalStep,
	}, "denoised_latent")
	if err != nil {
		return nil, err
	}

	if !slices.Equal(out.Shape(), in.NoisyLatent.Shape()) || out.DType() != DTypeFloat32 {
		return nil, fmt.Errorf("%w: %s: denoised_latent shape %v, want %v", ErrOutputContract, GraphVectorField, out.Shape(), in.NoisyLatent.Shape())
	}

	return out, nil
}

// Vocode converts the final latent to a [B, samples] waveform batch.
func (e *Engine) Vocode(ctx context.Context, latent *Tensor) (*Tensor, error) {
	out, err := e.run(ctx, GraphVocoder, map[string]*Tensor{
		"latent": latent,
	}, "wav_tts")
	if err != nil {
		return nil, err
	}

	if out.Rank() != 2 || out.Dim(0) != latent.Dim(0) || out.DType() != DTypeFloat32 {
		return nil, fmt.Errorf("%w: %s: wav_tts shape %v, want [%d, samples]", ErrOutputContract, GraphVocoder, out.Shape(), latent.Dim(0))
	}

	return out, nil
}

func (e *Engine) run(ctx context.Context, graph string, inputs map[string]*Tensor, outputName string) (*Tensor, error) {
	runner, ok := e.runners[graph]
	if !ok {
		return nil, fmt.Errorf("%s graph not loaded", graph)
	}

	for name, t := range inputs {
		if t == nil {
			return nil, fmt.Errorf("%s: input %q is nil", graph, name)
		}
	}

	outputs, err := runner.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", graph, err)
	}

	out, ok := outputs[outputName]
	if !ok || out == nil {
		return nil, fmt.Errorf("%w: %s: missing output %q", ErrOutputContract, graph, outputName)
	}

	return out, nil
}
