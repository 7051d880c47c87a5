// Package transporttest provides in-memory channels for exercising sessions
// without a chat service.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aixgo-dev/duet/internal/transport"
)

// Conn is an in-memory transport.Conn. Tests push inbound events with Push,
// simulate a server-side drop with Drop, and inspect outbound traffic with Sent.
type Conn struct {
	Token string

	mu       sync.Mutex
	sent     []transport.Outbound
	events   chan transport.Event
	open     bool
	onClose  func(error)
	notified bool
	sentCh   chan transport.Outbound
	hold     chan struct{}
	inFlight int
}

// NewConn creates an open fake channel.
func NewConn(token string, onClose func(error)) *Conn {
	return &Conn{
		Token:   token,
		events:  make(chan transport.Event, 64),
		open:    true,
		onClose: onClose,
		sentCh:  make(chan transport.Outbound, 256),
	}
}

// Send implements transport.Conn. While sends are held it blocks until they
// are released or ctx ends.
func (c *Conn) Send(ctx context.Context, ev transport.Outbound) error {
	c.mu.Lock()
	hold := c.hold
	if hold != nil {
		c.inFlight++
	}
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return transport.ErrNotOpen
	}
	c.sent = append(c.sent, ev)
	select {
	case c.sentCh <- ev:
	default:
	}
	return nil
}

// HoldSends makes every later Send block until release is called, simulating
// a slow network write.
func (c *Conn) HoldSends() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.hold = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.hold == ch {
				c.hold = nil
			}
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Blocked returns how many sends are waiting on HoldSends.
func (c *Conn) Blocked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

// Open implements transport.Conn.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		c.open = false
		c.notified = true
		close(c.events)
	}
	return nil
}

// Push delivers an inbound event. Events pushed after close are discarded.
func (c *Conn) Push(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		c.events <- ev
	}
}

// Joined delivers a room-joined acknowledgment.
func (c *Conn) Joined(roomID, name string) {
	c.Push(transport.Event{Type: transport.EventRoomJoined, RoomID: roomID, RoomName: name})
}

// Message delivers a chat line.
func (c *Conn) Message(sender, text string) {
	c.Push(transport.Event{Type: transport.EventMessage, Sender: sender, Text: text})
}

// Drop simulates an unexpected loss: onClose fires once, then the events
// channel closes.
func (c *Conn) Drop() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	notify := !c.notified
	c.notified = true
	onClose := c.onClose
	c.mu.Unlock()

	if notify && onClose != nil {
		onClose(&transport.ChannelError{Err: errors.New("connection reset by peer")})
	}

	c.mu.Lock()
	close(c.events)
	c.mu.Unlock()
}

// Sent returns a copy of every outbound event so far.
func (c *Conn) Sent() []transport.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]transport.Outbound, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentOf returns outbound events of one kind.
func (c *Conn) SentOf(kind transport.OutboundKind) []transport.Outbound {
	var out []transport.Outbound
	for _, ev := range c.Sent() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// WaitSent blocks until an outbound event of the given kind is observed.
func (c *Conn) WaitSent(t testing.TB, kind transport.OutboundKind, timeout time.Duration) transport.Outbound {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.sentCh:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return transport.Outbound{}
		}
	}
}

// Dialer hands out fake channels and records every attempt.
type Dialer struct {
	mu       sync.Mutex
	attempts int
	tokens   []string
	conns    []*Conn
	failures []error
	dialed   chan *Conn
}

// NewDialer creates a fake dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext makes the next dial attempts fail with the given errors, in order.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(_ context.Context, token string, onClose func(error)) (transport.Conn, error) {
	d.mu.Lock()
	d.attempts++
	d.tokens = append(d.tokens, token)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		var cerr *transport.ConnectError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &transport.ConnectError{URL: "fake://chat", Err: err}
	}
	c := NewConn(token, onClose)
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	d.dialed <- c
	return c, nil
}

// Attempts returns the number of dial attempts.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Tokens returns the credentials used for every attempt.
func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Next waits for the next successfully dialed channel.
func (d *Dialer) Next(t testing.TB, timeout time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// Last returns the most recently dialed channel, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
