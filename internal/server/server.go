package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/config"
	"github.com/example/go-supertonic/internal/tts"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

const headerRequestID = "X-Request-ID"

// Synthesizer renders requests. *tts.Service satisfies it.
type Synthesizer interface {
	SynthesizeWAV(ctx context.Context, req tts.Request) ([]byte, error)
	BatchSynthesize(ctx context.Context, texts []string, req tts.Request) ([]tts.Result, error)
}

// VoiceLister returns the list of available voices.
type VoiceLister interface {
	Voices() []tts.Voice
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxBatch       int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        http.Handler
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		maxBatch:       16,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes per text.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxBatch caps the number of texts accepted by POST /tts/batch.
func WithMaxBatch(n int) Option {
	return func(o *options) { o.maxBatch = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
// Zero disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth  Synthesizer
	voices VoiceLister
	opts   options
	sem    chan struct{} // semaphore for worker pool
	log    *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /voices,
// POST /tts, POST /tts/batch and, when configured, /metrics.
func NewHandler(synth Synthesizer, voices VoiceLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:  synth,
		voices: voices,
		opts:   opts,
		log:    opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/voices", h.handleVoices)
	mux.HandleFunc("/tts", h.handleTTS)
	mux.HandleFunc("/tts/batch", h.handleBatch)
	if opts.metrics != nil {
		mux.Handle("/metrics", opts.metrics)
	}
	return withRequestID(mux)
}

// withRequestID echoes the caller's X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := h.voices.Voices()
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type ttsRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Steps int      `json:"steps"`
	Speed float64  `json:"speed"`
	Seed  *uint64  `json:"seed"`
	Texts []string `json:"texts"`
}

func (r ttsRequest) toTTS(text string) tts.Request {
	return tts.Request{Text: text, Voice: r.Voice, Steps: r.Steps, Speed: r.Speed, Seed: r.Seed}
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request) (ttsRequest, bool) {
	var req ttsRequest

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}

	return req, true
}

func (h *handler) checkText(w http.ResponseWriter, text string) bool {
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return false
	}

	if len(text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return false
	}

	return true
}

// acquire takes a worker slot, honouring cancellation while waiting. The
// returned release func is nil when the request was cancelled.
func (h *handler) acquire(w http.ResponseWriter, r *http.Request) func() {
	if h.sem == nil {
		return func() {}
	}

	select {
	case h.sem <- struct{}{}:
		return func() { <-h.sem }
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return nil
	}
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok || !h.checkText(w, req.Text) {
		return
	}

	release := h.acquire(w, r)
	if release == nil {
		return
	}
	defer release()

	// Apply per-request timeout.
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, err := h.synth.SynthesizeWAV(ctx, req.toTTS(req.Text))
	durationMS := time.Since(start).Milliseconds()

	attrs := []any{
		slog.String("request_id", r.Header.Get(headerRequestID)),
		slog.String("voice", req.Voice),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
	}

	if err != nil {
		h.fail(r.Context(), w, attrs, err)
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete", append(attrs, slog.Int("wav_bytes", len(wav)))...)

	w.Header().Set("Content-Type", "audio/wav")
	if d, err := audio.WAVDuration(wav); err == nil {
		w.Header().Set("X-Audio-Duration", strconv.FormatFloat(d, 'f', 3, 64))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

type batchItem struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Audio    string  `json:"audio"`
}

type batchResponse struct {
	SampleRate int         `json:"sample_rate"`
	Items      []batchItem `json:"items"`
}

func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "texts field is required")
		return
	}
	if h.opts.maxBatch > 0 && len(req.Texts) > h.opts.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds maximum of %d texts", h.opts.maxBatch))
		return
	}
	for _, text := range req.Texts {
		if !h.checkText(w, text) {
			return
		}
	}

	release := h.acquire(w, r)
	if release == nil {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	results, err := h.synth.BatchSynthesize(ctx, req.Texts, req.toTTS(""))

	attrs := []any{
		slog.String("request_id", r.Header.Get(headerRequestID)),
		slog.String("voice", req.Voice),
		slog.Int("batch", len(req.Texts)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}

	if err != nil {
		h.fail(r.Context(), w, attrs, err)
		return
	}

	resp := batchResponse{Items: make([]batchItem, len(results))}
	for i, res := range results {
		wav, err := audio.EncodeWAV(res.Samples, res.SampleRate)
		if err != nil {
			h.fail(r.Context(), w, attrs, err)
			return
		}
		resp.SampleRate = res.SampleRate
		resp.Items[i] = batchItem{
			Text:     req.Texts[i],
			Duration: res.Duration,
			Audio:    base64.StdEncoding.EncodeToString(wav),
		}
	}

	h.log.InfoContext(r.Context(), "batch synthesis complete", attrs...)
	writeJSON(w, http.StatusOK, resp)
}

// fail maps a synthesis error to an HTTP status and logs it.
func (h *handler) fail(ctx context.Context, w http.ResponseWriter, attrs []any, err error) {
	attrs = append(attrs, slog.String("error", err.Error()))

	status := statusFor(err)
	if status == http.StatusGatewayTimeout {
		h.log.WarnContext(ctx, "synthesis timed out", attrs...)
		writeError(w, status, "synthesis timed out")
		return
	}

	if status >= 500 {
		h.log.ErrorContext(ctx, "synthesis failed", attrs...)
	} else {
		h.log.WarnContext(ctx, "synthesis rejected", attrs...)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, tts.ErrUnknownVoice):
		return http.StatusNotFound
	case errors.Is(err, tts.ErrMalformedStyle):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tts.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	synth           Synthesizer
	voices          VoiceLister
	extra           []Option
	shutdownTimeout time.Duration
}

// New builds a server. Extra options are applied after the ones derived
// from cfg.
func New(cfg config.Config, synth Synthesizer, voices VoiceLister, extra ...Option) *Server {
	s := &Server{
		cfg:             cfg,
		synth:           synth,
		voices:          voices,
		extra:           extra,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	return s
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler from the server configuration.
func (s *Server) Handler() (http.Handler, error) {
	if s.synth == nil || s.voices == nil {
		return nil, errors.New("server has no synthesis service")
	}

	handlerOpts := []Option{WithWorkers(s.cfg.Server.Workers)}
	if s.cfg.Server.MaxTextBytes > 0 {
		handlerOpts = append(handlerOpts, WithMaxTextBytes(s.cfg.Server.MaxTextBytes))
	}
	if s.cfg.Server.RequestTimeout > 0 {
		handlerOpts = append(handlerOpts, WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second))
	}
	handlerOpts = append(handlerOpts, s.extra...)

	return NewHandler(s.synth, s.voices, handlerOpts...), nil
}

func (s *Server) Start(ctx context.Context) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("http server listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
