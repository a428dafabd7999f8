// Package tts turns text into waveforms with the four-stage flow-matching
// pipeline: duration prediction, text encoding, iterative latent denoising
// and vocoding.
package tts

import (
	"context"

	"github.com/example/go-supertonic/internal/onnx"
)

// InferenceEngine runs the four pipeline graphs. *onnx.Engine satisfies it;
// tests substitute fakes.
type InferenceEngine interface {
	PredictDuration(ctx context.Context, textIDs, styleDP, textMask *onnx.Tensor) ([]float32, error)
	EncodeText(ctx context.Context, textIDs, styleTTL, textMask *onnx.Tensor) (*onnx.Tensor, error)
	EstimateVector(ctx context.Context, in onnx.VectorFieldInput) (*onnx.Tensor, error)
	Vocode(ctx context.Context, latent *onnx.Tensor) (*onnx.Tensor, error)
}

var _ InferenceEngine = (*onnx.Engine)(nil)
