// Package transport maintains the bidirectional message channel between one
// agent and the chat service.
//
// A channel is opened with a Dialer, emits decoded events on a Go channel in
// arrival order and reports an unexpected loss exactly once through the
// onClose callback. It never reconnects on its own; reconnection policy belongs
// to the session that owns it.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an open channel to the chat service.
type Conn interface {
	// Send transmits an event. It is a logged no-op when the channel is not open.
	Send(ctx context.Context, ev Outbound) error
	// Events delivers inbound events in arrival order. It is closed when the
	// channel ends.
	Events() <-chan Event
	// Open reports whether the channel can currently carry events.
	Open() bool
	// Close tears the channel down synchronously without invoking onClose.
	Close() error
}

// Dialer opens channels keyed by a session credential.
type Dialer interface {
	Dial(ctx context.Context, token string, onClose func(error)) (Conn, error)
}

// Config configures the websocket dialer.
type Config struct {
	// URL is the endpoint; the literal "{token}" is replaced by the credential.
	URL                string        `yaml:"url"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	EventBuffer        int           `yaml:"event_buffer"`
}

// DefaultConfig returns the dialer defaults.
func DefaultConfig() Config {
	return Config{
		URL:              "wss://app.howdies.app/howdies?token={token}",
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		EventBuffer:      64,
	}
}

// WebSocketDialer opens channels over gorilla/websocket.
type WebSocketDialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer. Zero config fields take defaults.
func NewWebSocketDialer(cfg Config, logger *slog.Logger) *WebSocketDialer {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{cfg: cfg, logger: logger}
}

// Dial opens a channel. Handshake failures return *ConnectError.
func (d *WebSocketDialer) Dial(ctx context.Context, token string, onClose func(error)) (Conn, error) {
	target := strings.ReplaceAll(d.cfg.URL, "{token}", url.QueryEscape(token))
	redacted := strings.ReplaceAll(d.cfg.URL, "{token}", "REDACTED")

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	if d.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 - the chat service presents an unverifiable certificate
	}

	ws, resp, err := dialer.DialContext(ctx, target, nil)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	if err != nil {
		return nil, &ConnectError{URL: redacted, StatusCode: status, Err: err}
	}

	c := newClient(ws, d.cfg, onClose, d.logger)
	c.start()
	return c, nil
}

// Client is a websocket-backed Conn.
type Client struct {
	ws      *websocket.Conn
	cfg     Config
	logger  *slog.Logger
	onClose func(error)

	events     chan Event
	done       chan struct{}
	readDone   chan struct{}
	writeMu    sync.Mutex
	open       atomic.Bool
	closeOnce  sync.Once
	notifyOnce sync.Once
}

func newClient(ws *websocket.Conn, cfg Config, onClose func(error), logger *slog.Logger) *Client {
	c := &Client{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		onClose:  onClose,
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

func (c *Client) start() {
	if c.cfg.PingInterval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(3 * c.cfg.PingInterval))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(3 * c.cfg.PingInterval))
		})
		go c.pingLoop()
	}
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.open.Store(false)
			c.notifyOnce.Do(func() {
				c.logger.Warn("channel closed unexpectedly", "error", err)
				if c.onClose != nil {
					c.onClose(&ChannelError{Err: err})
				}
			})
			return
		}

		ev, err := Decode(data)
		if err != nil {
			c.logger.Debug("dropping inbound event", "error", err)
			continue
		}
		if ev.Type == EventUnknown {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// Send implements Conn. It returns ErrNotOpen once Close has started; a write
// already in progress finishes before Close returns.
func (c *Client) Send(ctx context.Context, ev Outbound) error {
	if !c.open.Load() {
		c.logger.Debug("send on closed channel dropped", "kind", ev.Kind)
		return ErrNotOpen
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.open.Load() {
		return ErrNotOpen
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ChannelError{Err: err}
	}
	return nil
}

// Events implements Conn.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Open implements Conn.
func (c *Client) Open() bool {
	return c.open.Load()
}

// Close implements Conn. It returns after the read loop has exited.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// An explicit close is not an unexpected loss.
		c.notifyOnce.Do(func() {})
		c.open.Store(false)
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		<-c.readDone
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
