package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/onnx"
	"github.com/example/go-supertonic/internal/tokenizer"
)

// AudioCache stores encoded WAV bytes by request key.
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, wav []byte, seconds float64) error
}

// Recorder receives one observation per synthesis call.
type Recorder interface {
	RecordSynthesis(ctx context.Context, o Observation)
}

// Observation describes a finished (or failed) synthesis call.
type Observation struct {
	Voice    string
	Chunks   int
	Seconds  float64
	Elapsed  time.Duration
	CacheHit bool
	Err      error
}

// Request is a single synthesis request. Zero fields take the service
// defaults.
type Request struct {
	Text  string
	Voice string
	Steps int
	Speed float64
	Seed  *uint64
}

// Service resolves voices, caches loaded styles and runs the synthesizer.
// It is safe for concurrent use.
type Service struct {
	synth    *Synthesizer
	catalog  *VoiceCatalog
	defaults config.TTSConfig
	closer   func()

	mu     sync.RWMutex
	styles map[string]*Style

	cache    AudioCache
	recorder Recorder
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithCache stores finished WAVs in c.
func WithCache(c AudioCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithRecorder reports every call to r.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService loads the model assets named in cfg and opens the ONNX
// Runtime engine.
func NewService(cfg config.Config, opts ...ServiceOption) (*Service, error) {
	mc, err := config.LoadModelConfig(cfg.Paths.ONNXDir)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.LoadUnicodeIndexer(filepath.Join(cfg.Paths.ONNXDir, config.UnicodeIndexerFile))
	if err != nil {
		return nil, err
	}
	catalog, err := LoadVoiceCatalog(cfg.Paths.VoiceDir)
	if err != nil {
		return nil, err
	}

	engine, err := onnx.Open(cfg)
	if err != nil {
		return nil, err
	}

	synth, err := NewSynthesizer(engine, tok, GeometryFromModel(mc))
	if err != nil {
		engine.Close()
		return nil, err
	}

	svc := NewServiceWithSynthesizer(synth, catalog, cfg.TTS, opts...)
	svc.closer = engine.Close
	return svc, nil
}

// NewServiceWithSynthesizer builds a Service around an existing synthesizer.
func NewServiceWithSynthesizer(synth *Synthesizer, catalog *VoiceCatalog, defaults config.TTSConfig, opts ...ServiceOption) *Service {
	s := &Service{
		synth:    synth,
		catalog:  catalog,
		defaults: defaults,
		styles:   make(map[string]*Style),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the engine, if the service owns one.
func (s *Service) Close() {
	if s.closer != nil {
		s.closer()
		s.closer = nil
	}
}

func (s *Service) SampleRate() int {
	return s.synth.SampleRate()
}

func (s *Service) Voices() []Voice {
	return s.catalog.ListVoices()
}

// DefaultVoice returns the configured fallback voice id.
func (s *Service) DefaultVoice() string {
	return s.defaults.Voice
}

// Style returns the loaded style for a voice, reading it on first use.
func (s *Service) Style(voice string) (*Style, error) {
	s.mu.RLock()
	st, ok := s.styles[voice]
	s.mu.RUnlock()
	if ok {
		return st, nil
	}

	st, err := s.loadStyle(voice)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.styles[voice]; ok {
		st = existing
	} else {
		s.styles[voice] = st
	}
	s.mu.Unlock()

	return st, nil
}

// ReloadStyles rereads every cached style from disk. A style that fails to
// load keeps its previous value; the first such error is returned.
func (s *Service) ReloadStyles() error {
	s.mu.RLock()
	voices := make([]string, 0, len(s.styles))
	for v := range s.styles {
		voices = append(voices, v)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, v := range voices {
		st, err := s.loadStyle(v)
		if err != nil {
			slog.Warn("voice style reload failed; keeping previous", "voice", v, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.mu.Lock()
		s.styles[v] = st
		s.mu.Unlock()
	}
	return firstErr
}

func (s *Service) loadStyle(voice string) (*Style, error) {
	path, err := s.catalog.ResolvePath(voice)
	if err != nil {
		return nil, err
	}
	return LoadStyle(path)
}

// Options resolves a request against the service defaults.
func (s *Service) Options(req Request) Options {
	opts := Options{
		Steps:       s.defaults.Steps,
		Speed:       s.defaults.Speed,
		Silence:     s.defaults.Silence,
		MaxChunkLen: s.defaults.MaxChunkLen,
		Seed:        req.Seed,
	}
	if req.Steps != 0 {
		opts.Steps = req.Steps
	}
	if req.Speed != 0 {
		opts.Speed = req.Speed
	}
	return opts
}

func (s *Service) voiceOrDefault(v string) string {
	if v == "" {
		return s.defaults.Voice
	}
	return v
}

// Synthesize runs a chunked synthesis for one request.
func (s *Service) Synthesize(ctx context.Context, req Request) (Result, error) {
	voice := s.voiceOrDefault(req.Voice)
	start := time.Now()

	res, err := s.synthesize(ctx, voice, req)
	s.record(ctx, Observation{
		Voice:   voice,
		Chunks:  res.Chunks,
		Seconds: res.Duration,
		Elapsed: time.Since(start),
		Err:     err,
	})
	return res, err
}

func (s *Service) synthesize(ctx context.Context, voice string, req Request) (Result, error) {
	style, err := s.Style(voice)
	if err != nil {
		return Result{}, err
	}
	return s.synth.Synthesize(ctx, req.Text, style, s.Options(req))
}

// SynthesizeWAV returns the request rendered as WAV bytes, consulting the
// cache first when one is configured and the request is deterministic.
func (s *Service) SynthesizeWAV(ctx context.Context, req Request) ([]byte, error) {
	voice := s.voiceOrDefault(req.Voice)
	key := ""
	if s.cache != nil && req.Seed != nil {
		key = s.cacheKey(voice, req)
	}
	if key != "" {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("audio cache read failed", "error", err)
		}
		if ok {
			s.record(ctx, Observation{Voice: voice, CacheHit: true})
			return data, nil
		}
	}

	res, err := s.Synthesize(ctx, Request{Text: req.Text, Voice: voice, Steps: req.Steps, Speed: req.Speed, Seed: req.Seed})
	if err != nil {
		return nil, err
	}

	data, err := audio.EncodeWAV(res.Samples, res.SampleRate)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.Put(ctx, key, data, res.Duration); err != nil {
			slog.Warn("audio cache write failed", "error", err)
		}
	}

	return data, nil
}

// BatchSynthesize renders several texts with one voice in a single batched
// pass.
func (s *Service) BatchSynthesize(ctx context.Context, texts []string, req Request) ([]Result, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts", ErrInvalidInput)
	}
	voice := s.voiceOrDefault(req.Voice)
	start := time.Now()

	style, err := s.Style(voice)
	if err != nil {
		return nil, err
	}

	results, err := s.synth.BatchSynthesize(ctx, texts, style, s.Options(req))

	var seconds float64
	for _, r := range results {
		seconds += r.Duration
	}
	s.record(ctx, Observation{
		Voice:   voice,
		Chunks:  len(texts),
		Seconds: seconds,
		Elapsed: time.Since(start),
		Err:     err,
	})

	return results, err
}

func (s *Service) record(ctx context.Context, o Observation) {
	if s.recorder != nil {
		s.recorder.RecordSynthesis(ctx, o)
	}
}

// cacheKey returns "" when the voice cannot be loaded; Synthesize then
// reports the error.
func (s *Service) cacheKey(voice string, req Request) string {
	style, err := s.Style(voice)
	if err != nil {
		return ""
	}
	return CacheKey(voice, style.Digest, req.Text, s.Options(req))
}

// CacheKey derives a stable key from everything that shapes the output.
// styleDigest ties the key to the style file contents, so a reloaded voice
// never serves audio rendered with its old style.
func CacheKey(voice, styleDigest, input string, opts Options) string {
	seed := "random"
	if opts.Seed != nil {
		seed = strconv.FormatUint(*opts.Seed, 10)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%g\x00%g\x00%d\x00%s\x00",
		voice, styleDigest, opts.Steps, opts.Speed, opts.Silence, opts.MaxChunkLen, seed)
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// IsClientError reports whether err stems from the request rather than the
// pipeline.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnknownVoice)
}
