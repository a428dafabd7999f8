// Package bus carries synthesis requests over NATS request/reply.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/example/go-supertonic/internal/config"
)

// Header keys used on request and reply messages.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderContentType = "Content-Type"
	HeaderStatus      = "Status"
	HeaderDuration    = "X-Audio-Duration"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// ErrRemote is returned by Client.Synthesize when the worker replied with
// an error.
var ErrRemote = errors.New("remote synthesis failed")

// Request is the JSON body of a synthesis request.
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Steps int     `json:"steps,omitempty"`
	Speed float64 `json:"speed,omitempty"`
	Seed  *uint64 `json:"seed,omitempty"`
}

// ErrorReply is the JSON body of a failed reply.
type ErrorReply struct {
	Error string `json:"error"`
}

// Client wraps a NATS connection with minimal helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the servers listed in cfg.URL (comma separated).
func Connect(cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("no NATS url configured")
	}

	options := []nats.Option{
		nats.Name("supertonic"),
		nats.Timeout(time.Duration(cfg.TimeoutMS) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "server", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", "servers", url)

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Synthesize sends req to subject and waits for the WAV reply.
func (c *Client) Synthesize(ctx context.Context, subject string, req Request) ([]byte, error) {
	msg, err := NewRequestMsg(subject, req)
	if err != nil {
		return nil, err
	}

	reply, err := c.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}

	return DecodeReply(reply)
}

// NewRequestMsg encodes req and tags it with a fresh request id.
func NewRequestMsg(subject string, req Request) (*nats.Msg, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderRequestID, uuid.NewString())
	msg.Header.Set(HeaderContentType, "application/json")
	return msg, nil
}

// DecodeReply returns the WAV payload of a reply or its error.
func DecodeReply(msg *nats.Msg) ([]byte, error) {
	if msg.Header.Get(HeaderStatus) != statusError {
		return msg.Data, nil
	}

	var er ErrorReply
	if err := json.Unmarshal(msg.Data, &er); err != nil {
		return nil, fmt.Errorf("%w: undecodable error reply: %w", ErrRemote, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrRemote, er.Error)
}
