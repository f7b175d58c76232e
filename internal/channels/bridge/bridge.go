// Package bridge implements the WebSocket envelope state machine that lets a
// messaging platform's socket-mode connection feed events into the same
// webhook-shaped dispatch path as an ordinary HTTP channel. The transport the
// envelope rides over (the WASM channel bridge itself) is out of scope; this
// package owns only the hello/disconnect/events_api/ack protocol and the
// reconnect policy around it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ironclaw/ironclaw/internal/backoff"
	"github.com/ironclaw/ironclaw/internal/cache"
	"github.com/ironclaw/ironclaw/internal/observability"
)

// EnvelopeType is the `type` field of a socket-mode envelope.
type EnvelopeType string

const (
	EnvelopeHello      EnvelopeType = "hello"
	EnvelopeDisconnect EnvelopeType = "disconnect"
	EnvelopeEventsAPI  EnvelopeType = "events_api"
)

// Envelope is the minimal shape every frame on the socket carries. Payload is
// left raw because its schema depends on EnvelopeType and is forwarded
// verbatim to the dispatcher rather than interpreted here.
type Envelope struct {
	Type       EnvelopeType    `json:"type"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ackFrame struct {
	EnvelopeID string `json:"envelope_id"`
}

// EventDispatcher forwards an events_api payload into the channel's ordinary
// webhook-shaped dispatch path. It is invoked after the envelope has already
// been acked, so a slow or failing dispatcher never risks the 3-second ack
// deadline the upstream platform enforces.
type EventDispatcher interface {
	Dispatch(ctx context.Context, payload json.RawMessage) error
}

// Dialer opens the socket-mode WebSocket connection, returning a fresh
// connection URL each time (socket-mode URLs are single-use).
type Dialer interface {
	Open(ctx context.Context) (wsURL string, err error)
}

// Config tunes the bridge's reconnect policy. Backoff is computed with
// internal/backoff using Factor 2 and a 320s cap, matching the upstream
// reconnection contract.
type Config struct {
	ReconnectInitialMs   float64
	MaxReconnectAttempts int // 0 means unlimited

	// DedupeTTL is how long an envelope_id is remembered to suppress
	// redelivery after a reconnect races the upstream platform's own ack
	// timeout. Zero disables deduplication.
	DedupeTTL time.Duration
	// DedupeMaxEntries bounds the dedupe cache's size. Zero means
	// unbounded (entries still expire via DedupeTTL).
	DedupeMaxEntries int
}

func (c Config) policy() backoff.BackoffPolicy {
	initial := c.ReconnectInitialMs
	if initial <= 0 {
		initial = 1000
	}
	return backoff.BackoffPolicy{InitialMs: initial, MaxMs: 320_000, Factor: 2, Jitter: 0.25}
}

// Bridge owns one socket-mode connection's lifecycle: connect, ack every
// envelope immediately, forward events_api payloads, and reconnect on loss
// with exponential backoff (immediately, with no backoff, on a planned
// disconnect envelope).
type Bridge struct {
	dialer     Dialer
	dispatcher EventDispatcher
	cfg        Config
	logger     *observability.Logger
	dedupe     *cache.DedupeCache

	mu   sync.Mutex
	conn *websocket.Conn
}

// New constructs a Bridge. logger may be nil, in which case a no-op logger is
// used. When cfg.DedupeTTL is positive, redelivered envelopes (same
// envelope_id seen again within the TTL) are acked but not re-dispatched.
func New(dialer Dialer, dispatcher EventDispatcher, cfg Config, logger *observability.Logger) *Bridge {
	var dedupe *cache.DedupeCache
	if cfg.DedupeTTL > 0 {
		dedupe = cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: cfg.DedupeTTL, MaxSize: cfg.DedupeMaxEntries})
	}
	return &Bridge{dialer: dialer, dispatcher: dispatcher, cfg: cfg, logger: logger, dedupe: dedupe}
}

func (b *Bridge) logf(ctx context.Context, level string, msg string, args ...any) {
	if b.logger == nil {
		return
	}
	switch level {
	case "warn":
		b.logger.Warn(ctx, msg, args...)
	case "error":
		b.logger.Error(ctx, msg, args...)
	default:
		b.logger.Info(ctx, msg, args...)
	}
}

// Run drives the bridge until ctx is cancelled. A planned `disconnect`
// envelope reconnects immediately with no backoff; any other connection loss
// (dial failure, read error, unplanned close) reconnects with exponential
// backoff capped at 320s. Run returns only when ctx is done or the
// configured attempt cap is exceeded.
func (b *Bridge) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		planned, err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if planned {
			b.logf(ctx, "info", "socket bridge planned disconnect, reconnecting immediately")
			attempt = 0
			continue
		}

		attempt++
		if b.cfg.MaxReconnectAttempts > 0 && attempt > b.cfg.MaxReconnectAttempts {
			return fmt.Errorf("socket bridge: max reconnect attempts (%d) exceeded: %w", b.cfg.MaxReconnectAttempts, err)
		}

		delay := backoff.ComputeBackoff(b.cfg.policy(), attempt)
		b.logf(ctx, "warn", "socket bridge connection lost, reconnecting", "attempt", attempt, "delay", delay.String(), "error", err)
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// runOnce opens one connection and runs the event loop until it ends.
// Returns (true, nil) when the server sent a planned `disconnect` envelope;
// otherwise returns (false, err) describing why the connection ended.
func (b *Bridge) runOnce(ctx context.Context) (planned bool, err error) {
	wsURL, err := b.dialer.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("open socket-mode connection: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	defer func() {
		_ = conn.Close()
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			return false, fmt.Errorf("read: %w", readErr)
		}

		var env Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
			b.logf(ctx, "warn", "socket bridge received malformed envelope", "error", jsonErr)
			continue
		}

		if env.EnvelopeID != "" {
			if ackErr := b.ack(env.EnvelopeID); ackErr != nil {
				return false, fmt.Errorf("ack envelope %s: %w", env.EnvelopeID, ackErr)
			}
		}

		switch env.Type {
		case EnvelopeHello:
			b.logf(ctx, "info", "socket bridge hello received, connection established")
		case EnvelopeDisconnect:
			b.logf(ctx, "info", "socket bridge disconnect received, server requests reconnection")
			return true, nil
		case EnvelopeEventsAPI:
			if len(env.Payload) == 0 {
				b.logf(ctx, "warn", "socket bridge events_api envelope missing payload")
				continue
			}
			if b.dedupe != nil {
				key := cache.MessageDedupeKey("socket", env.EnvelopeID)
				if b.dedupe.Check(key) {
					b.logf(ctx, "info", "socket bridge suppressed redelivered envelope", "envelope_id", env.EnvelopeID)
					continue
				}
			}
			if dispErr := b.dispatcher.Dispatch(ctx, env.Payload); dispErr != nil {
				b.logf(ctx, "error", "socket bridge event dispatch failed", "error", dispErr)
			}
		default:
			// Unknown envelope types are acked (above) and otherwise ignored;
			// the protocol is forward-compatible by design.
		}
	}
}

// ack writes the `{envelope_id}` acknowledgement frame back on the same
// socket. It must happen before any dispatch work so the platform's ack
// deadline is never at the mercy of dispatcher latency.
func (b *Bridge) ack(envelopeID string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no active connection")
	}
	data, err := json.Marshal(ackFrame{EnvelopeID: envelopeID})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection, if any, causing the current
// runOnce read loop to fail and Run to either reconnect or exit depending on
// ctx's state.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
