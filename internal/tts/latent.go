package tts

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/go-supertonic/internal/config"
)

// minUniform keeps log(u1) finite in the Box-Muller transform.
const minUniform = 1e-10

// LatentGeometry holds the model constants that size the latent.
type LatentGeometry struct {
	SampleRate          int
	BaseChunkSize       int
	ChunkCompressFactor int
	LatentDim           int
}

// GeometryFromModel copies the latent constants out of tts.json.
func GeometryFromModel(mc config.ModelConfig) LatentGeometry {
	return LatentGeometry{
		SampleRate:          mc.AE.SampleRate,
		BaseChunkSize:       mc.AE.BaseChunkSize,
		ChunkCompressFactor: mc.TTL.ChunkCompressFactor,
		LatentDim:           mc.TTL.LatentDim,
	}
}

// ChunkSamples is the number of waveform samples one latent frame covers.
func (g LatentGeometry) ChunkSamples() int {
	return g.BaseChunkSize * g.ChunkCompressFactor
}

// Channels is the latent channel count C.
func (g LatentGeometry) Channels() int {
	return g.LatentDim * g.ChunkCompressFactor
}

func (g LatentGeometry) validate() error {
	if g.SampleRate <= 0 || g.BaseChunkSize <= 0 || g.ChunkCompressFactor <= 0 || g.LatentDim <= 0 {
		return fmt.Errorf("%w: latent geometry %+v must be positive", ErrInvalidInput, g)
	}
	return nil
}

// WaveLength converts a duration in seconds to a sample count, rounding to
// the nearest sample. Negative durations yield 0.
func (g LatentGeometry) WaveLength(seconds float64) int {
	n := math.Round(seconds * float64(g.SampleRate))
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	return int(n)
}

// Latent is the initial noise and its validity mask, both row-major.
type Latent struct {
	Data        []float32 // [Batch, Channels, Frames]
	Mask        []float32 // [Batch, 1, Frames]
	Batch       int
	Channels    int
	Frames      int
	WaveLengths []int
}

// Shape returns [Batch, Channels, Frames].
func (l Latent) Shape() []int64 {
	return []int64{int64(l.Batch), int64(l.Channels), int64(l.Frames)}
}

// MaskShape returns [Batch, 1, Frames].
func (l Latent) MaskShape() []int64 {
	return []int64{int64(l.Batch), 1, int64(l.Frames)}
}

// SampleLatent draws standard-normal noise for a batch whose rows last
// durations seconds. Frames past a row's own length are zeroed and masked
// out. The frame count is at least 1 so a zero-length batch still forms a
// valid tensor.
func SampleLatent(rng *rand.Rand, durations []float32, g LatentGeometry) (Latent, error) {
	if len(durations) == 0 {
		return Latent{}, fmt.Errorf("%w: no durations to sample for", ErrInvalidInput)
	}
	if err := g.validate(); err != nil {
		return Latent{}, err
	}

	chunk := g.ChunkSamples()
	waveLens := make([]int, len(durations))
	maxWave := 0
	for i, d := range durations {
		waveLens[i] = g.WaveLength(float64(d))
		maxWave = max(maxWave, waveLens[i])
	}

	frames := max(1, ceilDiv(maxWave, chunk))
	lat := Latent{
		Data:        make([]float32, len(durations)*g.Channels()*frames),
		Mask:        make([]float32, len(durations)*frames),
		Batch:       len(durations),
		Channels:    g.Channels(),
		Frames:      frames,
		WaveLengths: waveLens,
	}

	idx := 0
	for b := range lat.Batch {
		valid := ceilDiv(waveLens[b], chunk)
		mask := lat.Mask[b*frames : (b+1)*frames]
		for t := range valid {
			mask[t] = 1
		}

		for range lat.Channels {
			for t := range frames {
				lat.Data[idx] = float32(gaussian(rng)) * mask[t]
				idx++
			}
		}
	}

	return lat, nil
}

// gaussian returns one standard-normal draw via Box-Muller.
func gaussian(rng *rand.Rand) float64 {
	u1 := math.Max(minUniform, rng.Float64())
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// newRNG returns a PCG generator seeded from seed, or from the runtime's
// entropy source when seed is nil.
func newRNG(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
