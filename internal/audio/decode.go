package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// decodeBlock is the number of samples read per PCMBuffer call.
const decodeBlock = 4096

// ErrFormatMismatch is returned when a decoded WAV does not match the expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// Format describes the PCM layout of a decoded WAV.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Decoded is a WAV file decoded to float32 samples in [-1, 1].
type Decoded struct {
	Format  Format
	Samples []float32
}

// Duration returns the playback length in seconds.
func (d Decoded) Duration() float64 {
	if d.Format.SampleRate <= 0 || d.Format.Channels <= 0 {
		return 0
	}
	frames := len(d.Samples) / d.Format.Channels
	return float64(frames) / float64(d.Format.SampleRate)
}

// DecodeWAV decodes WAV bytes of any PCM layout.
func DecodeWAV(data []byte) (Decoded, error) {
	if len(data) == 0 {
		return Decoded{}, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Decoded{}, errors.New("invalid WAV file")
	}

	samples, err := readPCM(dec)
	if err != nil {
		return Decoded{}, err
	}

	return Decoded{
		Format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		},
		Samples: samples,
	}, nil
}

// readPCM drains the data chunk in fixed-size blocks.
func readPCM(dec *wav.Decoder) ([]float32, error) {
	buf := &goaudio.Float32Buffer{Data: make([]float32, decodeBlock)}

	samples := make([]float32, 0, decodeBlock)
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("reading PCM data: %w", err)
		}
		if n <= 0 {
			break
		}
		samples = append(samples, buf.Data[:n]...)
	}

	return samples, nil
}

// DecodeMonoPCM16 decodes data and requires mono 16-bit PCM at sampleRate.
func DecodeMonoPCM16(data []byte, sampleRate int) ([]float32, error) {
	d, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	if d.Format.SampleRate != sampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, d.Format.SampleRate, sampleRate)
	}
	if d.Format.Channels != Channels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, d.Format.Channels, Channels)
	}
	if d.Format.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, d.Format.BitDepth, BitDepth)
	}

	return d.Samples, nil
}
