package audio

import "math"

// dcBlockCutoffHz is the corner frequency of the DC-blocking high-pass.
const dcBlockCutoffHz = 20.0

// PeakNormalize scales samples so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	out := append([]float32(nil), samples...)

	var peak float64
	for _, v := range out {
		peak = max(peak, math.Abs(float64(v)))
	}
	if peak == 0 {
		return out
	}

	gain := 1 / peak
	for i, v := range out {
		out[i] = float32(float64(v) * gain)
	}

	return out
}

// DCBlock removes DC offset with a one-pole high-pass filter
// y[n] = x[n] - x[n-1] + R*y[n-1]. The filter starts settled on the first
// sample so a constant offset produces no transient.
func DCBlock(samples []float32, sampleRate int) []float32 {
	out := make([]float32, len(samples))
	if len(samples) == 0 || sampleRate < 1 {
		copy(out, samples)
		return out
	}

	r := math.Exp(-2 * math.Pi * dcBlockCutoffHz / float64(sampleRate))
	prevX := float64(samples[0])
	var prevY float64
	for i, s := range samples {
		x := float64(s)
		y := x - prevX + r*prevY
		out[i] = float32(y)
		prevX, prevY = x, y
	}

	return out
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)
	n := min(fadeLength(sampleRate, ms), len(out))
	for i := range n {
		out[i] *= float32(i) / float32(n)
	}

	return out
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	out := append([]float32(nil), samples...)
	n := min(fadeLength(sampleRate, ms), len(out))
	start := len(out) - n
	for i := range n {
		out[start+i] *= float32(n-1-i) / float32(n)
	}

	return out
}

func fadeLength(sampleRate int, ms float64) int {
	if ms <= 0 || sampleRate < 1 {
		return 0
	}
	return int(ms / 1000 * float64(sampleRate))
}
