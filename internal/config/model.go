package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfigLoad is returned when a model configuration document or lookup
// table cannot be read or is structurally invalid.
var ErrConfigLoad = errors.New("config load failed")

// Well-known file names inside the ONNX directory.
const (
	ModelConfigFile    = "tts.json"
	UnicodeIndexerFile = "unicode_indexer.json"
)

// ModelConfig holds the constants the synthesis pipeline needs from tts.json.
type ModelConfig struct {
	AE  AEConfig  `json:"ae"`
	TTL TTLConfig `json:"ttl"`
}

type AEConfig struct {
	SampleRate    int `json:"sample_rate"`
	BaseChunkSize int `json:"base_chunk_size"`
}

type TTLConfig struct {
	ChunkCompressFactor int `json:"chunk_compress_factor"`
	LatentDim           int `json:"latent_dim"`
}

// LoadModelConfig reads tts.json. A directory argument is resolved to the
// tts.json inside it.
func LoadModelConfig(path string) (ModelConfig, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, ModelConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("%w: read model config: %w", ErrConfigLoad, err)
	}

	return ParseModelConfig(data)
}

// ParseModelConfig decodes and validates a tts.json document.
func ParseModelConfig(data []byte) (ModelConfig, error) {
	var mc ModelConfig
	if err := json.Unmarshal(data, &mc); err != nil {
		return ModelConfig{}, fmt.Errorf("%w: decode model config: %w", ErrConfigLoad, err)
	}

	if err := mc.Validate(); err != nil {
		return ModelConfig{}, err
	}

	return mc, nil
}

// Validate reports missing or non-positive constants.
func (m ModelConfig) Validate() error {
	checks := []struct {
		key string
		val int
	}{
		{"ae.sample_rate", m.AE.SampleRate},
		{"ae.base_chunk_size", m.AE.BaseChunkSize},
		{"ttl.chunk_compress_factor", m.TTL.ChunkCompressFactor},
		{"ttl.latent_dim", m.TTL.LatentDim},
	}
	for _, c := range checks {
		if c.val <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %d", ErrConfigLoad, c.key, c.val)
		}
	}
	return nil
}

// LatentChunkSamples is the number of waveform samples covered by one latent frame.
func (m ModelConfig) LatentChunkSamples() int {
	return m.AE.BaseChunkSize * m.TTL.ChunkCompressFactor
}

// LatentChannels is the channel count of the compressed latent.
func (m ModelConfig) LatentChannels() int {
	return m.TTL.LatentDim * m.TTL.ChunkCompressFactor
}
