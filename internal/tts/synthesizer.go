package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/example/go-supertonic/internal/onnx"
	"github.com/example/go-supertonic/internal/text"
	"github.com/example/go-supertonic/internal/tokenizer"
)

var (
	// ErrInference wraps any failure raised by one of the pipeline graphs.
	ErrInference = errors.New("inference failed")
	// ErrInvalidInput is returned for out-of-range options or mismatched
	// batch arguments.
	ErrInvalidInput = errors.New("invalid synthesis input")
)

const (
	DefaultSteps   = 5
	DefaultSpeed   = 1.05
	DefaultSilence = 0.3
)

// Options controls one synthesis call.
type Options struct {
	// Steps is the number of denoising iterations (>= 1).
	Steps int
	// Speed divides every predicted duration; larger is faster.
	Speed float64
	// Silence is the gap in seconds inserted between chunks.
	Silence float64
	// MaxChunkLen bounds chunk length in characters; <= 0 uses the chunker default.
	MaxChunkLen int
	// Seed makes latent sampling reproducible when set.
	Seed *uint64
}

// DefaultOptions returns the stock synthesis settings.
func DefaultOptions() Options {
	return Options{
		Steps:       DefaultSteps,
		Speed:       DefaultSpeed,
		Silence:     DefaultSilence,
		MaxChunkLen: text.DefaultMaxChunkLen,
	}
}

// Validate reports the first out-of-range field.
func (o Options) Validate() error {
	if o.Steps < 1 {
		return fmt.Errorf("%w: steps must be >= 1, got %d", ErrInvalidInput, o.Steps)
	}
	if !(o.Speed > 0) || math.IsInf(o.Speed, 0) {
		return fmt.Errorf("%w: speed must be a positive finite number, got %v", ErrInvalidInput, o.Speed)
	}
	if o.Silence < 0 || math.IsNaN(o.Silence) || math.IsInf(o.Silence, 0) {
		return fmt.Errorf("%w: silence must be >= 0, got %v", ErrInvalidInput, o.Silence)
	}
	return nil
}

// InferResult is the raw output of one batched pipeline pass.
type InferResult struct {
	// Waveforms holds one full vocoder row per input text. Rows are as long
	// as the longest text in the batch.
	Waveforms [][]float32
	// Durations holds the speed-adjusted duration of each row in seconds.
	Durations  []float32
	SampleRate int
}

// Result is a finished waveform.
type Result struct {
	Samples    []float32
	SampleRate int
	// Duration is the audio length in seconds, including inserted silence.
	Duration float64
	Chunks   int
}

// Synthesizer runs the pipeline over an InferenceEngine. It holds no
// per-call state and is safe for concurrent use when the engine is.
type Synthesizer struct {
	engine InferenceEngine
	tok    *tokenizer.UnicodeIndexer
	geo    LatentGeometry
}

// NewSynthesizer wires an engine, a tokenizer and the model geometry.
func NewSynthesizer(engine InferenceEngine, tok *tokenizer.UnicodeIndexer, geo LatentGeometry) (*Synthesizer, error) {
	if engine == nil {
		return nil, errors.New("inference engine is required")
	}
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if err := geo.validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{engine: engine, tok: tok, geo: geo}, nil
}

// SampleRate returns the output sample rate in Hz.
func (s *Synthesizer) SampleRate() int {
	return s.geo.SampleRate
}

// Infer runs all four stages once over a batch of texts. style must have one
// row or len(texts) rows.
func (s *Synthesizer) Infer(ctx context.Context, texts []string, style *Style, opts Options) (InferResult, error) {
	if err := opts.Validate(); err != nil {
		return InferResult{}, err
	}
	return s.infer(ctx, texts, style, opts, newRNG(opts.Seed))
}

func (s *Synthesizer) infer(ctx context.Context, texts []string, style *Style, opts Options, rng *rand.Rand) (InferResult, error) {
	if len(texts) == 0 {
		return InferResult{}, fmt.Errorf("%w: no texts", ErrInvalidInput)
	}
	if style.Batch() == 0 {
		return InferResult{}, fmt.Errorf("%w: style is empty", ErrInvalidInput)
	}
	style, err := style.Repeat(len(texts))
	if err != nil {
		return InferResult{}, err
	}

	batch := s.tok.Encode(texts)
	ids, idShape := batch.FlatIDs()
	mask, maskShape := batch.FlatMask()
	textIDs, err := onnx.WrapInt64(ids, idShape)
	if err != nil {
		return InferResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	textMask, err := onnx.WrapFloat32(mask, maskShape)
	if err != nil {
		return InferResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := ctx.Err(); err != nil {
		return InferResult{}, err
	}

	started := time.Now()
	durations, err := s.engine.PredictDuration(ctx, textIDs, style.DP, textMask)
	if err != nil {
		return InferResult{}, stageError("duration", -1, err)
	}
	for i := range durations {
		durations[i] /= float32(opts.Speed)
	}

	textEmb, err := s.engine.EncodeText(ctx, textIDs, style.TTL, textMask)
	if err != nil {
		return InferResult{}, stageError("text encoder", -1, err)
	}

	lat, err := SampleLatent(rng, durations, s.geo)
	if err != nil {
		return InferResult{}, err
	}

	xt, err := s.denoise(ctx, lat, textEmb, style, textMask, opts.Steps)
	if err != nil {
		return InferResult{}, err
	}

	latent, err := onnx.WrapFloat32(xt, lat.Shape())
	if err != nil {
		return InferResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	wav, err := s.engine.Vocode(ctx, latent)
	if err != nil {
		return InferResult{}, stageError("vocoder", -1, err)
	}

	rows, err := splitRows(wav, len(texts))
	if err != nil {
		return InferResult{}, stageError("vocoder", -1, err)
	}

	slog.Debug("inference complete",
		"batch", len(texts),
		"tokens", batch.MaxLen,
		"frames", lat.Frames,
		"steps", opts.Steps,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	return InferResult{Waveforms: rows, Durations: durations, SampleRate: s.geo.SampleRate}, nil
}

// denoise runs the vector field steps in place over one latent buffer. The
// step tensors share a single scratch slice that is refilled each step.
func (s *Synthesizer) denoise(ctx context.Context, lat Latent, textEmb *onnx.Tensor, style *Style, textMask *onnx.Tensor, steps int) ([]float32, error) {
	xt := lat.Data
	latentMask, err := onnx.WrapFloat32(lat.Mask, lat.MaskShape())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	stepShape := []int64{int64(lat.Batch)}
	total := make([]float32, lat.Batch)
	for i := range total {
		total[i] = float32(steps)
	}
	totalStep, err := onnx.WrapFloat32(total, stepShape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	current := make([]float32, lat.Batch)

	for step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("denoise step %d: %w", step, err)
		}

		for i := range current {
			current[i] = float32(step)
		}
		currentStep, err := onnx.WrapFloat32(current, stepShape)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		noisy, err := onnx.WrapFloat32(xt, lat.Shape())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}

		out, err := s.engine.EstimateVector(ctx, onnx.VectorFieldInput{
			NoisyLatent: noisy,
			TextEmb:     textEmb,
			StyleTTL:    style.TTL,
			LatentMask:  latentMask,
			TextMask:    textMask,
			CurrentStep: currentStep,
			TotalStep:   totalStep,
		})
		if err != nil {
			return nil, stageError("vector field", step, err)
		}

		next, err := out.Float32s()
		if err != nil || len(next) != len(xt) {
			return nil, stageError("vector field", step, fmt.Errorf("%w: got %v", onnx.ErrOutputContract, out.Shape()))
		}
		copy(xt, next)
	}

	return xt, nil
}

func splitRows(wav *onnx.Tensor, batch int) ([][]float32, error) {
	data, err := wav.Float32s()
	if err != nil {
		return nil, err
	}
	if wav.Rank() != 2 || int(wav.Dim(0)) != batch {
		return nil, fmt.Errorf("%w: waveform shape %v, want [%d, samples]", onnx.ErrOutputContract, wav.Shape(), batch)
	}

	n := int(wav.Dim(1))
	rows := make([][]float32, batch)
	for i := range rows {
		rows[i] = append([]float32(nil), data[i*n:(i+1)*n]...)
	}
	return rows, nil
}

func stageError(stage string, step int, err error) error {
	if step >= 0 {
		return fmt.Errorf("%w: %s step %d: %w", ErrInference, stage, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrInference, stage, err)
}

// Synthesize chunks text, infers each chunk on its own and joins the chunks
// with opts.Silence seconds of zeros. Each chunk is trimmed or zero-padded
// to its predicted duration.
func (s *Synthesizer) Synthesize(ctx context.Context, input string, style *Style, opts Options) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if style.Batch() != 1 {
		return Result{}, fmt.Errorf("%w: synthesize needs a single-voice style, got %d rows", ErrInvalidInput, style.Batch())
	}

	chunks := text.Chunk(input, opts.MaxChunkLen)
	rng := newRNG(opts.Seed)
	gap := s.geo.WaveLength(opts.Silence)

	var (
		samples []float32
		seconds float64
	)
	for i, chunk := range chunks {
		r, err := s.infer(ctx, []string{chunk}, style, opts, rng)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}

		if i > 0 {
			samples = append(samples, make([]float32, gap)...)
			seconds += opts.Silence
		}
		dur := float64(r.Durations[0])
		samples = append(samples, fitLength(r.Waveforms[0], s.geo.WaveLength(dur))...)
		seconds += max(dur, 0)
	}

	return Result{
		Samples:    samples,
		SampleRate: s.geo.SampleRate,
		Duration:   seconds,
		Chunks:     len(chunks),
	}, nil
}

// BatchSynthesize infers every text in one batched pass without chunking.
// Each result is trimmed to its own predicted duration.
func (s *Synthesizer) BatchSynthesize(ctx context.Context, texts []string, style *Style, opts Options) ([]Result, error) {
	r, err := s.Infer(ctx, texts, style, opts)
	if err != nil {
		return nil, err
	}

	out := make([]Result, len(texts))
	for i := range texts {
		dur := float64(r.Durations[i])
		out[i] = Result{
			Samples:    fitLength(r.Waveforms[i], s.geo.WaveLength(dur)),
			SampleRate: s.geo.SampleRate,
			Duration:   max(dur, 0),
			Chunks:     1,
		}
	}
	return out, nil
}

// fitLength returns the first n samples of w, zero-padded when w is short.
func fitLength(w []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, w)
	return out
}
