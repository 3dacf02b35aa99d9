// Package wsclient provides the reusable WebSocket channel primitive the
// console builds its live feeds on: one client per logical URL, with
// debounced connects, bounded exponential reconnect, and isolated
// subscriber callbacks.
package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dexsniper/snipectl/internal/apperr"
)

// State is the lifecycle position of a channel.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// ErrNotConnected is returned by Send when the channel is not open.
var ErrNotConnected = errors.New("websocket not connected")

// Options tunes one channel.
type Options struct {
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	// ReconnectGrowth is the backoff multiplier, expected in [1.5, 2.0].
	ReconnectGrowth   float64
	MaxReconnectDelay time.Duration
	ShouldReconnect   bool
	// SuppressTransportNoise collapses repeated connection-refused logs
	// into a single warning per outage (development convenience).
	SuppressTransportNoise bool
	// ConnectDebounce delays the first dial so a rapid connect/
	// disconnect/connect cycle opens at most one socket.
	ConnectDebounce time.Duration
	DialTimeout     time.Duration
	PingInterval    time.Duration
	Development     bool
}

// DefaultOptions returns the tuning used by the console feeds.
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts:   5,
		BaseReconnectDelay:     5 * time.Second,
		ReconnectGrowth:        1.5,
		MaxReconnectDelay:      30 * time.Second,
		ShouldReconnect:        true,
		SuppressTransportNoise: true,
		ConnectDebounce:        75 * time.Millisecond,
		DialTimeout:            10 * time.Second,
		PingInterval:           30 * time.Second,
		Development:            true,
	}
}

// Message is one parsed frame. Frames that are not JSON objects still get
// delivered with Raw set and Type empty; nothing is dropped.
type Message struct {
	Type       string
	Data       json.RawMessage
	Raw        []byte
	ReceivedAt time.Time
}

// Handlers are the subscriber callbacks. Panics inside any handler are
// recovered and logged; they never reach the transport goroutines.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(code int, reason string)
	OnError   func(*apperr.Classified)
}

// Client owns one WebSocket channel. At most one live socket exists per
// client at any time.
type Client struct {
	url  string
	opts Options

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	writeMu       sync.Mutex
	gen           uint64 // bumped on every dial and teardown; stale goroutines bail
	attempts      int
	terminal      bool // reconnect budget exhausted, waiting for Reconnect()
	noiseLatched  bool
	handlers      Handlers
	debounceTimer *time.Timer
	retryTimer    *time.Timer
	pingStop      chan struct{}

	connectionStartAt time.Time
	lastOpenedAt      time.Time
	lastClosedAt      time.Time
}

// New creates a channel client for url. Nothing is dialed until Connect.
func New(url string, opts Options) *Client {
	if opts.ReconnectGrowth < 1.5 {
		opts.ReconnectGrowth = 1.5
	}
	if opts.ReconnectGrowth > 2.0 {
		opts.ReconnectGrowth = 2.0
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Client{
		url:   url,
		opts:  opts,
		state: StateIdle,
	}
}

// Subscribe installs the subscriber callbacks, replacing any previous set.
func (c *Client) Subscribe(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// State returns the current channel state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect starts the channel. Idempotent: a connecting or open channel is
// left alone. The first dial is debounced so a rapid stop/start cycle
// cannot race two sockets.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnecting || c.state == StateOpen {
		return
	}
	c.terminal = false
	c.state = StateConnecting
	c.connectionStartAt = time.Now()
	gen := c.bumpGenLocked()

	if c.opts.ConnectDebounce > 0 {
		c.debounceTimer = time.AfterFunc(c.opts.ConnectDebounce, func() {
			c.dial(gen)
		})
		return
	}
	go c.dial(gen)
}

// Reconnect resets the attempt budget and connects again. It is the only
// way out of the terminal state reached when attempts are exhausted.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.terminal = false
	c.mu.Unlock()
	c.Connect()
}

// Disconnect closes the channel with code 1000, cancels any pending
// reconnect, and releases the subscriber callbacks. A later Connect is
// permitted.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelTimersLocked()
	c.bumpGenLocked()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = StateClosing
	}
	c.handlers = Handlers{}
	c.attempts = 0
	c.terminal = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		conn.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.lastClosedAt = time.Now()
	c.mu.Unlock()
}

// Send writes one message on the open channel. Strings and byte slices go
// out verbatim; anything else is JSON-encoded. Returns false (and the
// error) when the channel is not open or the write fails.
func (c *Client) Send(v any) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return false, ErrNotConnected
	}

	var payload []byte
	switch m := v.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return false, fmt.Errorf("marshal ws message: %w", err)
		}
		payload = b
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("ws write: %w", err)
	}
	return true, nil
}

// bumpGenLocked invalidates every in-flight dial, read loop, and timer
// belonging to the previous connection generation.
func (c *Client) bumpGenLocked() uint64 {
	c.gen++
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	return c.gen
}

func (c *Client) cancelTimersLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) dial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.debounceTimer = nil
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.Dial(c.url, nil)

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.mu.Unlock()
		c.logDialFailure(err)
		// Dial failures behave like an immediate non-clean close.
		c.handleClosed(gen, websocket.CloseAbnormalClosure, err.Error())
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.noiseLatched = false
	c.lastOpenedAt = time.Now()
	pingStop := make(chan struct{})
	c.pingStop = pingStop
	onOpen := c.handlers.OnOpen
	c.mu.Unlock()

	log.Debug().Str("url", c.url).Msg("WebSocket channel open")
	safeCall(func() {
		if onOpen != nil {
			onOpen()
		}
	})

	go c.readLoop(conn, gen)
	if c.opts.PingInterval > 0 {
		go c.pingLoop(conn, pingStop)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			}
			c.mu.Lock()
			stale := gen != c.gen
			onClose := c.handlers.OnClose
			c.mu.Unlock()
			if stale {
				return
			}
			safeCall(func() {
				if onClose != nil {
					onClose(code, reason)
				}
			})
			c.handleClosed(gen, code, reason)
			return
		}

		c.mu.Lock()
		stale := gen != c.gen
		onMessage := c.handlers.OnMessage
		c.mu.Unlock()
		if stale {
			return
		}

		msg := Message{Raw: raw, ReceivedAt: time.Now()}
		var envelope struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil {
			msg.Type = envelope.Type
			msg.Data = envelope.Data
		}

		safeCall(func() {
			if onMessage != nil {
				onMessage(msg)
			}
		})
	}
}

// handleClosed runs the reconnect decision for a connection that ended
// with the given close code.
func (c *Client) handleClosed(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.bumpGenLocked()
	c.conn = nil
	c.state = StateClosed
	c.lastClosedAt = time.Now()

	clean := code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
	if clean || !c.opts.ShouldReconnect {
		c.mu.Unlock()
		return
	}

	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.terminal = true
		onError := c.handlers.OnError
		c.mu.Unlock()
		log.Warn().
			Str("url", c.url).
			Int("attempts", c.opts.MaxReconnectAttempts).
			Msg("WebSocket reconnect attempts exhausted")
		safeCall(func() {
			if onError != nil {
				onError(apperr.Classify("websocket", fmt.Errorf(
					"%w after %d reconnect attempts: %s",
					apperr.ErrConnectionLost, c.opts.MaxReconnectAttempts, reason)))
			}
		})
		return
	}

	delay := c.backoffDelayLocked()
	c.attempts++
	c.state = StateConnecting
	nextGen := c.gen
	c.retryTimer = time.AfterFunc(delay, func() {
		c.dial(nextGen)
	})
	c.mu.Unlock()

	log.Debug().
		Str("url", c.url).
		Int("attempt", c.attempts).
		Dur("delay", delay).
		Int("code", code).
		Msg("WebSocket reconnect scheduled")
}

func (c *Client) backoffDelayLocked() time.Duration {
	d := time.Duration(float64(c.opts.BaseReconnectDelay) *
		math.Pow(c.opts.ReconnectGrowth, float64(c.attempts)))
	if d > c.opts.MaxReconnectDelay {
		d = c.opts.MaxReconnectDelay
	}
	return d
}

func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
		}
	}
}

// logDialFailure logs a dial error once per outage when transport noise
// suppression is on; every failure is still counted against the budget.
func (c *Client) logDialFailure(err error) {
	c.mu.Lock()
	latched := c.noiseLatched
	if c.opts.SuppressTransportNoise && c.opts.Development {
		c.noiseLatched = true
	}
	c.mu.Unlock()

	if c.opts.SuppressTransportNoise && c.opts.Development {
		if latched {
			log.Debug().Str("url", c.url).Err(err).Msg("WebSocket dial failed (suppressed)")
			return
		}
		log.Warn().
			Str("url", c.url).
			Err(err).
			Msg("⚠️  Backend WebSocket unreachable - is the API server running?")
		return
	}
	log.Error().Str("url", c.url).Err(err).Msg("WebSocket dial failed")
}

// safeCall shields the transport goroutines from subscriber panics.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("WebSocket handler panicked")
		}
	}()
	fn()
}
