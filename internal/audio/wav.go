package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WAV layout produced by EncodeWAV and WriteWAV.
const (
	Channels     = 1
	BitDepth     = 16
	HeaderSize   = 44
	bytesPerSamp = BitDepth / 8
)

type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// QuantizePCM16 converts a float sample to signed 16-bit PCM. Input is
// clamped to [-1, 1]; non-negative values scale by 32767 and negative values
// by 32768, then the result is truncated toward zero. The asymmetric scale
// maps -1.0 to the int16 minimum and 1.0 to the maximum, so full-scale
// samples survive a round trip exactly.
func QuantizePCM16(s float32) int16 {
	v := float64(s)
	switch {
	case v != v:
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}

	if v >= 0 {
		v *= 32767
	} else {
		v *= 32768
	}

	v = max(-32768, min(32767, v))

	return int16(v)
}

// EncodeWAV returns a canonical 44-byte-header mono 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(samples)*bytesPerSamp))
	if err := WriteWAV(buf, samples, sampleRate); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteWAV streams the WAV encoding of samples to w. Errors from w are
// returned unchanged.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	dataSize := len(samples) * bytesPerSamp
	if uint64(dataSize)+HeaderSize-8 > 0xFFFFFFFF {
		return fmt.Errorf("wav data too large: %d samples", len(samples))
	}

	hdr := wavHeader(sampleRate, uint32(dataSize))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	_, err := WritePCM16Samples(w, samples)

	return err
}

func wavHeader(sampleRate int, dataSize uint32) [HeaderSize]byte {
	byteRate := uint32(sampleRate * Channels * bytesPerSamp)
	blockAlign := uint16(Channels * bytesPerSamp)

	var hdr [HeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], BitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	return hdr
}

// WritePCM16Samples encodes samples as little-endian int16 and writes them to w.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*bytesPerSamp)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(QuantizePCM16(s)))
	}

	return w.Write(buf)
}

// WAVDuration reads the audio length in seconds from a canonical header as
// written by EncodeWAV.
func WAVDuration(data []byte) (float64, error) {
	if len(data) < HeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a canonical WAV header")
	}

	byteRate := binary.LittleEndian.Uint32(data[28:32])
	if byteRate == 0 {
		return 0, fmt.Errorf("wav header has zero byte rate")
	}

	return float64(binary.LittleEndian.Uint32(data[40:44])) / float64(byteRate), nil
}
