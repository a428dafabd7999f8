package audio

import (
	"fmt"
	"io"

	"github.com/cwbudde/wav"
)

// WriteWAVFile encodes samples through the wav encoder into a seekable sink
// such as an *os.File. Samples are quantized with QuantizePCM16 first.
func WriteWAVFile(ws io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	enc := wav.NewEncoder(ws, sampleRate, BitDepth, Channels, 1) // 1 = PCM

	// int16 frames are written verbatim, so the payload matches EncodeWAV.
	for i, s := range samples {
		if err := enc.WriteFrame(QuantizePCM16(s)); err != nil {
			return fmt.Errorf("writing PCM frame %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	return nil
}
