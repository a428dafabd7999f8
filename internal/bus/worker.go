package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/go-supertonic/internal/audio"
	"github.com/example/go-supertonic/internal/tts"
)

// Synthesizer is the part of tts.Service the worker needs.
type Synthesizer interface {
	SynthesizeWAV(ctx context.Context, req tts.Request) ([]byte, error)
}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Subject      string
	QueueGroup   string
	Timeout      time.Duration
	MaxTextBytes int
	// Concurrency bounds in-flight syntheses; values < 1 mean 1.
	Concurrency int
}

// Worker answers synthesis requests on a NATS subject. Workers sharing a
// queue group split the load.
type Worker struct {
	cfg    WorkerConfig
	conn   *nats.Conn
	synth  Synthesizer
	sub    *nats.Subscription
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// mu guards closed; handleMsg only calls wg.Add while closed is false.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// drainPoll is how often Close checks whether the subscription drained.
const drainPoll = 10 * time.Millisecond

func NewWorker(parent context.Context, cfg WorkerConfig, conn *nats.Conn, synth Synthesizer, log *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		cfg:    cfg,
		conn:   conn,
		synth:  synth,
		sem:    make(chan struct{}, max(cfg.Concurrency, 1)),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With("component", "tts-worker"),
	}
}

// Start subscribes to the configured subject.
func (w *Worker) Start() error {
	if w.cfg.Subject == "" {
		return errors.New("worker subject is required")
	}

	var (
		sub *nats.Subscription
		err error
	)
	if w.cfg.QueueGroup != "" {
		sub, err = w.conn.QueueSubscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleMsg)
	} else {
		sub, err = w.conn.Subscribe(w.cfg.Subject, w.handleMsg)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.cfg.Subject, err)
	}

	w.sub = sub
	w.logger.Info("listening for synthesis requests", "subject", w.cfg.Subject, "queue", w.cfg.QueueGroup)
	return nil
}

// Close stops accepting requests and waits for in-flight ones. Messages
// already buffered by the subscription are handled before it returns.
func (w *Worker) Close() {
	if w.sub != nil {
		if err := w.sub.Drain(); err != nil {
			w.logger.Warn("subscription drain failed", "error", err)
		}
		timeout := nats.DefaultDrainTimeout
		if w.conn != nil && w.conn.Opts.DrainTimeout > 0 {
			timeout = w.conn.Opts.DrainTimeout
		}
		if !waitDrained(w.sub, timeout) {
			w.logger.Warn("subscription drain timed out", "timeout", timeout)
		}
	}

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()
}

// waitDrained polls until sub reports it is no longer valid, which nats.go
// does once a drain has delivered every pending message.
func waitDrained(sub interface{ IsValid() bool }, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(drainPoll)
	}
	return true
}

func (w *Worker) handleMsg(msg *nats.Msg) {
	if msg.Reply == "" {
		w.logger.Warn("dropping synthesis request without reply subject")
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("dropping synthesis request after close")
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()

		select {
		case w.sem <- struct{}{}:
			defer func() { <-w.sem }()
		case <-w.ctx.Done():
			return
		}

		reply := w.Process(w.ctx, msg)
		if err := msg.RespondMsg(reply); err != nil {
			w.logger.Warn("failed to send synthesis reply", "error", err)
		}
	}()
}

// Process turns one request message into its reply message. The reply has
// no subject; RespondMsg fills it in.
func (w *Worker) Process(parent context.Context, msg *nats.Msg) *nats.Msg {
	requestID := msg.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := w.logger.With("request_id", requestID)

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Warn("failed to decode synthesis request", "error", err)
		return errorReply(requestID, fmt.Errorf("decode request: %w", err))
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorReply(requestID, errors.New("text is required"))
	}
	if w.cfg.MaxTextBytes > 0 && len(req.Text) > w.cfg.MaxTextBytes {
		return errorReply(requestID, fmt.Errorf("text exceeds %d bytes", w.cfg.MaxTextBytes))
	}

	ctx := parent
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, w.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	wav, err := w.synth.SynthesizeWAV(ctx, tts.Request{
		Text:  req.Text,
		Voice: req.Voice,
		Steps: req.Steps,
		Speed: req.Speed,
		Seed:  req.Seed,
	})
	if err != nil {
		log.Warn("synthesis failed", "error", err)
		return errorReply(requestID, err)
	}

	out := nats.NewMsg("")
	out.Data = wav
	out.Header.Set(HeaderRequestID, requestID)
	out.Header.Set(HeaderStatus, statusOK)
	out.Header.Set(HeaderContentType, "audio/wav")
	if d, err := audio.WAVDuration(wav); err == nil {
		out.Header.Set(HeaderDuration, strconv.FormatFloat(d, 'f', 3, 64))
	}

	log.Info("synthesis request served", "bytes", len(wav), "elapsed_ms", time.Since(start).Milliseconds())
	return out
}

func errorReply(requestID string, err error) *nats.Msg {
	data, _ := json.Marshal(ErrorReply{Error: err.Error()})

	out := nats.NewMsg("")
	out.Data = data
	out.Header.Set(HeaderRequestID, requestID)
	out.Header.Set(HeaderStatus, statusError)
	out.Header.Set(HeaderContentType, "application/json")
	return out
}
