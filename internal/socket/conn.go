// Package socket owns the single duplex websocket between the client and the
// logging backend.
//
// A Conn moves through Connecting -> Open -> Closed exactly once. There is no
// reconnect transition: a failed dial or a dropped connection leaves the Conn
// Closed and callers observe it through Connected, Done and a closed Messages
// channel.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicelog/internal/observability"
	"github.com/ent0n29/voicelog/internal/reliability"
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotOpen       = errors.New("socket not open")
	ErrAlreadyOpened = errors.New("socket already opened")
)

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// KeepAlivePeriod enables pings and a read deadline of twice the period.
	KeepAlivePeriod time.Duration
	WriteTimeout    time.Duration
	ReadLimit       int64
	// Dialer overrides the default websocket dialer.
	Dialer *websocket.Dialer
}

type Conn struct {
	cfg     Config
	metrics *observability.Metrics

	state  atomic.Int32
	opened atomic.Bool

	mu            sync.Mutex
	ws            *websocket.Conn
	err           error
	readerStarted bool

	// writeMu keeps a single writer on the websocket.
	writeMu sync.Mutex

	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, metrics *observability.Metrics) *Conn {
	c := &Conn{
		cfg:      cfg,
		metrics:  metrics,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Open dials the configured endpoint once. On failure the Conn is Closed and
// the error is returned; it is never retried.
func (c *Conn) Open(ctx context.Context) error {
	if !c.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpened
	}
	if c.State() == StateClosed {
		return ErrNotOpen
	}
	c.metrics.ObserveConnectionEvent("connecting")

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.cfg.HandshakeTimeout,
		}
	}
	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		reason, retryable := reliability.ClassifyDialFailure(resp, err)
		log.Printf("socket: dial %s failed (%s, retryable=%v): %v", c.cfg.URL, reason, retryable, err)
		c.metrics.ObserveConnectionEvent("dial_failed_" + reason)
		c.shutdown(err)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrNotOpen
	}
	c.ws = ws
	c.readerStarted = true
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}
	if c.cfg.KeepAlivePeriod > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(2 * c.cfg.KeepAlivePeriod))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * c.cfg.KeepAlivePeriod))
		})
	}

	c.metrics.ObserveConnectionEvent("open")
	c.metrics.SetConnected(true)
	log.Printf("socket: connected to %s", c.cfg.URL)

	go c.readLoop(ws)
	if c.cfg.KeepAlivePeriod > 0 {
		go c.keepAlive(ws)
	}
	return nil
}

// Messages yields inbound text frames in delivery order. It is closed once
// the connection has ended.
func (c *Conn) Messages() <-chan []byte { return c.messages }

// Done is closed when the Conn reaches Closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) Connected() bool { return c.State() == StateOpen }

func (c *Conn) URL() string { return c.cfg.URL }

// Err returns the cause of the transition to Closed, nil for a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendFrame writes one binary frame. It returns ErrNotOpen unless the Conn
// is Open.
func (c *Conn) SendFrame(data []byte) error {
	return c.write(websocket.BinaryMessage, data, "audio_frame")
}

// SendJSON writes v as one text frame, guarded like SendFrame.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.write(websocket.TextMessage, data, "control")
}

// Close releases the channel. It is safe to call in any state and more than
// once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) write(kind int, data []byte, label string) error {
	c.writeMu.Lock()
	if c.State() != StateOpen {
		c.writeMu.Unlock()
		return ErrNotOpen
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	err := ws.WriteMessage(kind, data)
	c.writeMu.Unlock()

	if err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %w", ErrNotOpen, err)
	}
	c.metrics.ObserveMessage("outbound", label)
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	defer close(c.messages)
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if c.cfg.KeepAlivePeriod > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(2 * c.cfg.KeepAlivePeriod))
		}
		if kind != websocket.TextMessage {
			c.metrics.ObserveMessage("inbound", "binary_ignored")
			continue
		}
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) keepAlive(ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.KeepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.KeepAlivePeriod)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// shutdown moves the Conn to Closed exactly once. cause is nil for a local
// Close.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := State(c.state.Swap(int32(StateClosed)))
		ws := c.ws
		c.err = cause
		readerStarted := c.readerStarted
		c.mu.Unlock()

		if ws != nil {
			if cause == nil {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			_ = ws.Close()
		}
		close(c.done)
		if !readerStarted {
			close(c.messages)
		}

		if prev == StateOpen {
			reason := reliability.ClassifyDisconnect(cause)
			c.metrics.ObserveConnectionEvent("closed_" + reason)
			c.metrics.SetConnected(false)
			log.Printf("socket: disconnected from %s (%s)", c.cfg.URL, reason)
		}
	})
}
