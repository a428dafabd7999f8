package tts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-supertonic/internal/onnx"
	"github.com/example/go-supertonic/internal/tokenizer"
)

// testGeometry gives 20-sample latent frames at 22050 Hz.
var testGeometry = LatentGeometry{
	SampleRate:          22050,
	BaseChunkSize:       10,
	ChunkCompressFactor: 2,
	LatentDim:           3,
}

// fakeEngine is an InferenceEngine whose outputs are easy to predict.
type fakeEngine struct {
	// duration returns the duration of a row given its token count.
	duration func(tokens int) float32
	// onStep runs before each vector field step returns.
	onStep func(step int) error
	// fill is the value of every vocoder sample.
	fill float32

	firstNoise   [][]float32
	currentSteps []float32
	totalSteps   []float32
	stepCalls    int
	styleRows    []int64
}

func (f *fakeEngine) PredictDuration(_ context.Context, textIDs, styleDP, textMask *onnx.Tensor) ([]float32, error) {
	f.styleRows = append(f.styleRows, styleDP.Dim(0))

	mask, err := textMask.Float32s()
	if err != nil {
		return nil, err
	}
	b, l := int(textMask.Dim(0)), int(textMask.Dim(2))
	out := make([]float32, b)
	for i := range b {
		tokens := 0
		for _, v := range mask[i*l : (i+1)*l] {
			tokens += int(v)
		}
		out[i] = 1
		if f.duration != nil {
			out[i] = f.duration(tokens)
		}
	}
	return out, nil
}

func (f *fakeEngine) EncodeText(_ context.Context, textIDs, styleTTL, textMask *onnx.Tensor) (*onnx.Tensor, error) {
	b, l := textIDs.Dim(0), textIDs.Dim(1)
	return onnx.WrapFloat32(make([]float32, b*2*l), []int64{b, 2, l})
}

func (f *fakeEngine) EstimateVector(_ context.Context, in onnx.VectorFieldInput) (*onnx.Tensor, error) {
	step := f.stepCalls
	f.stepCalls++

	noisy, err := in.NoisyLatent.Float32s()
	if err != nil {
		return nil, err
	}
	if step == 0 {
		f.firstNoise = append(f.firstNoise, append([]float32(nil), noisy...))
	}
	cur, _ := in.CurrentStep.Float32s()
	tot, _ := in.TotalStep.Float32s()
	f.currentSteps = append(f.currentSteps, cur[0])
	f.totalSteps = append(f.totalSteps, tot[0])

	if f.onStep != nil {
		if err := f.onStep(step); err != nil {
			return nil, err
		}
	}

	return onnx.NewTensor(noisy, in.NoisyLatent.Shape())
}

func (f *fakeEngine) Vocode(_ context.Context, latent *onnx.Tensor) (*onnx.Tensor, error) {
	b, t := latent.Dim(0), latent.Dim(2)
	n := t * int64(testGeometry.ChunkSamples())
	data := make([]float32, b*n)
	for i := range data {
		data[i] = f.fill
	}
	return onnx.WrapFloat32(data, []int64{b, n})
}

func newTestSynthesizer(t *testing.T, eng *fakeEngine) *Synthesizer {
	t.Helper()

	table := make([]int64, 256)
	for i := range table {
		table[i] = int64(i)
	}
	s, err := NewSynthesizer(eng, tokenizer.NewUnicodeIndexer(table), testGeometry)
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	return s
}

// styleDoc builds a style document with ttl dims [1,2,3] and dp dims [1,1,2].
func styleDoc(base float32) styleFile {
	return styleFile{
		StyleTTL: styleTensor{
			Data: [][][]float32{{{base, base + 1, base + 2}, {base + 3, base + 4, base + 5}}},
			Dims: []int64{1, 2, 3},
			Type: "float32",
		},
		StyleDP: styleTensor{
			Data: [][][]float32{{{base, base + 1}}},
			Dims: []int64{1, 1, 2},
			Type: "float32",
		},
	}
}

func writeStyleFile(t *testing.T, dir, name string, doc styleFile) string {
	t.Helper()

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal style: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write style: %v", err)
	}
	return path
}

func testStyle(t *testing.T) *Style {
	t.Helper()

	path := writeStyleFile(t, t.TempDir(), "M1.json", styleDoc(0))
	st, err := LoadStyle(path)
	if err != nil {
		t.Fatalf("LoadStyle: %v", err)
	}
	return st
}

func seed(v uint64) *uint64 {
	return &v
}
