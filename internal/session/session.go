// Package session drives one agent through authentication, connection and
// room membership, and keeps it connected while the engine is running.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aixgo-dev/duet/internal/auth"
	"github.com/aixgo-dev/duet/internal/logsink"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/internal/transport"
	"github.com/aixgo-dev/duet/pkg/observability"
)

// State is the lifecycle state of a session.
type State int32

const (
	Disconnected State = iota
	Authenticating
	Connecting
	JoiningRoom
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Connecting:
		return "connecting"
	case JoiningRoom:
		return "joining_room"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrStopped is returned by sends issued after the engine stopped.
	ErrStopped = errors.New("engine stopped")
	// ErrNotActive is returned by sends issued while the session has no room.
	ErrNotActive = errors.New("session not in room")
	// ErrChannelClosed is reported when the connection ends without a cause.
	ErrChannelClosed = errors.New("channel closed")
)

// AuthError is a fatal credential failure for one agent. The session does not
// retry after it.
type AuthError struct {
	Agent string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for %s: %v", e.Agent, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Handler receives chat messages for an active session. HandleMessage runs on
// the session loop and must not block.
type Handler interface {
	HandleMessage(s *Session, sender, text string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, sender, text string)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(s *Session, sender, text string) { f(s, sender, text) }

// Config identifies the agent and its room.
type Config struct {
	Name     string
	Partner  string
	Password string
	Room     string

	SettleDelay      schedule.Range
	ReconnectBackoff schedule.Range
}

// Status is a point-in-time view of a session.
type Status struct {
	Name            string `json:"name"`
	Partner         string `json:"partner"`
	State           string `json:"state"`
	RoomID          string `json:"room_id,omitempty"`
	ConnectAttempts int64  `json:"connect_attempts"`
	Error           string `json:"error,omitempty"`
}

// Session is one agent's connection to the chat service.
type Session struct {
	cfg     Config
	auth    auth.Authenticator
	dialer  transport.Dialer
	running *atomic.Bool
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	token   string
	conn    transport.Conn
	roomID  string
	lastErr error

	attempts atomic.Int64
}

// New creates a session. running is the engine-wide flag shared by every
// session; the session never re-enters Connecting once it is cleared.
func New(cfg Config, a auth.Authenticator, d transport.Dialer, running *atomic.Bool, h Handler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil {
		h = HandlerFunc(func(*Session, string, string) {})
	}
	s := &Session{
		cfg:     cfg,
		auth:    a,
		dialer:  d,
		running: running,
		handler: h,
		logger:  logger.With(logsink.AgentKey, cfg.Name),
	}
	observability.SetSessionState(cfg.Name, int(Disconnected))
	return s
}

// Name returns the agent name.
func (s *Session) Name() string { return s.cfg.Name }

// Partner returns the agent's conversational anchor.
func (s *Session) Partner() string { return s.cfg.Partner }

// Logger returns the agent-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the joined room id, or "" when not Active.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// ConnectAttempts returns how many times the session has dialed.
func (s *Session) ConnectAttempts() int64 { return s.attempts.Load() }

// Status returns a snapshot for the control surface.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:            s.cfg.Name,
		Partner:         s.cfg.Partner,
		State:           s.state.String(),
		RoomID:          s.roomID,
		ConnectAttempts: s.attempts.Load(),
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	observability.SetSessionState(s.cfg.Name, int(st))
}

func (s *Session) isRunning(ctx context.Context) bool {
	return s.running.Load() && ctx.Err() == nil
}

// Authenticate obtains a credential unless one is already stored. A rejected
// credential yields an *AuthError; any other failure is returned as is and
// may be retried.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	if s.token != "" {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(Authenticating)
	token, err := s.auth.Login(ctx, s.cfg.Name, s.cfg.Password)
	if err != nil {
		if !auth.IsRejected(err) {
			s.mu.Lock()
			s.state = Disconnected
			s.lastErr = err
			s.mu.Unlock()
			observability.SetSessionState(s.cfg.Name, int(Disconnected))
			s.logger.Warn("login failed, will retry", "error", err)
			return fmt.Errorf("login: %w", err)
		}

		aerr := &AuthError{Agent: s.cfg.Name, Err: err}
		s.mu.Lock()
		s.state = Disconnected
		s.lastErr = aerr
		s.mu.Unlock()
		observability.SetSessionState(s.cfg.Name, int(Disconnected))
		observability.RecordAuthFailure(s.cfg.Name)
		s.logger.Error("login rejected", "error", err)
		return aerr
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.logger.Info("logged in")
	return nil
}

// Run keeps the session connected until ctx is done or the running flag is
// cleared. It returns an *AuthError when credentials are rejected and nil on
// a normal shutdown.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Disconnected)

	for s.isRunning(ctx) {
		err := s.Authenticate(ctx)
		var aerr *AuthError
		if errors.As(err, &aerr) {
			if !s.isRunning(ctx) {
				return nil
			}
			return err
		}
		if err == nil {
			err = s.serve(ctx)
		}
		if !s.isRunning(ctx) {
			return nil
		}

		var cerr *transport.ConnectError
		if errors.As(err, &cerr) && cerr.Rejected() {
			// The credential expired; sign in again on the next attempt.
			s.mu.Lock()
			s.token = ""
			s.mu.Unlock()
		}

		backoff := s.cfg.ReconnectBackoff.Pick()
		s.logger.Warn("connection lost, reconnecting", "error", err, "backoff", backoff)
		if schedule.Sleep(ctx, backoff) != nil {
			return nil
		}
	}
	return nil
}

// serve runs one connection from dial to close.
func (s *Session) serve(ctx context.Context) error {
	s.setState(Connecting)
	s.attempts.Add(1)

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	var closeErr atomic.Pointer[error]
	conn, err := s.dialer.Dial(ctx, token, func(err error) {
		closeErr.Store(&err)
		s.logger.Warn("channel closed", "error", err)
	})
	if err != nil {
		observability.RecordConnectAttempt(s.cfg.Name, "error")
		s.mu.Lock()
		s.state = Disconnected
		s.lastErr = err
		s.mu.Unlock()
		observability.SetSessionState(s.cfg.Name, int(Disconnected))
		return err
	}
	observability.RecordConnectAttempt(s.cfg.Name, "success")

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer s.teardown(conn)

	if err := conn.Send(ctx, transport.Login(s.cfg.Name, s.cfg.Password)); err != nil {
		return err
	}
	if err := schedule.Sleep(ctx, s.cfg.SettleDelay.Pick()); err != nil {
		return err
	}
	if !s.running.Load() {
		return nil
	}
	if err := conn.Send(ctx, transport.JoinRoom(s.cfg.Room)); err != nil {
		return err
	}
	s.setState(JoiningRoom)
	s.logger.Info("joining room", "room", s.cfg.Room)

	for ev := range conn.Events() {
		switch ev.Type {
		case transport.EventRoomJoined:
			s.joined(ev)
		case transport.EventMessage:
			s.dispatch(ev)
		}
	}

	if p := closeErr.Load(); p != nil {
		s.mu.Lock()
		s.lastErr = *p
		s.mu.Unlock()
		return *p
	}
	return ErrChannelClosed
}

func (s *Session) joined(ev transport.Event) {
	if ev.RoomName != "" && s.cfg.Room != "" && ev.RoomName != s.cfg.Room {
		s.logger.Debug("ignoring join for other room", "room", ev.RoomName)
		return
	}
	s.mu.Lock()
	s.roomID = ev.RoomID
	s.state = Active
	s.lastErr = nil
	s.mu.Unlock()
	observability.SetSessionState(s.cfg.Name, int(Active))
	s.logger.Info("joined room", logsink.TagKey, "SUCCESS", "room_id", ev.RoomID)
}

func (s *Session) dispatch(ev transport.Event) {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	if roomID == "" {
		return
	}
	if ev.RoomID != "" && ev.RoomID != roomID {
		return
	}
	observability.RecordMessageReceived(s.cfg.Name)
	s.logger.Info(ev.Text, logsink.TagKey, "CHAT", "from", ev.Sender)
	s.handler.HandleMessage(s, ev.Sender, ev.Text)
}

func (s *Session) teardown(conn transport.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.roomID = ""
	s.state = Disconnected
	s.mu.Unlock()
	observability.SetSessionState(s.cfg.Name, int(Disconnected))
	_ = conn.Close()
}

// SendMessage posts text to the joined room. It returns ErrStopped once the
// running flag is cleared. The write happens outside the session lock;
// Close marks the channel closed before waiting for a write in progress, so
// no send completes after Close returns.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	conn, roomID, err := s.target()
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			s.logger.Warn("dropping message, not in room")
		}
		return err
	}
	if err := conn.Send(ctx, transport.SendMessage(roomID, text)); err != nil {
		return s.sendErr(err)
	}
	observability.RecordMessageSent(s.cfg.Name)
	s.logger.Info(text, logsink.TagKey, "CHAT", "to", "room")
	return nil
}

// StartTyping shows the typing indicator in the joined room.
func (s *Session) StartTyping(ctx context.Context) error {
	conn, roomID, err := s.target()
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, transport.StartTyping(roomID)); err != nil {
		return s.sendErr(err)
	}
	return nil
}

// target snapshots the channel and room for a send.
func (s *Session) target() (transport.Conn, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil, "", ErrStopped
	}
	if s.conn == nil || s.roomID == "" {
		return nil, "", ErrNotActive
	}
	return s.conn, s.roomID, nil
}

func (s *Session) sendErr(err error) error {
	if !s.running.Load() {
		return ErrStopped
	}
	return err
}

// Close tears down the current connection synchronously. Run observes the
// closure and exits if the running flag is cleared. The channel refuses new
// writes before Close waits on one already in progress.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.roomID = ""
	s.state = Disconnected
	s.mu.Unlock()
	observability.SetSessionState(s.cfg.Name, int(Disconnected))

	if conn == nil {
		return nil
	}
	return conn.Close()
}
