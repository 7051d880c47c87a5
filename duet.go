// Package duet runs a set of chat agents that hold a conversation with each
// other, and with anyone else, in a shared room.
package duet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/duet/internal/auth"
	"github.com/aixgo-dev/duet/internal/humanize"
	"github.com/aixgo-dev/duet/internal/llm"
	"github.com/aixgo-dev/duet/internal/logsink"
	"github.com/aixgo-dev/duet/internal/pace"
	"github.com/aixgo-dev/duet/internal/reply"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/internal/session"
	"github.com/aixgo-dev/duet/internal/transport"
	"github.com/aixgo-dev/duet/pkg/config"
	"github.com/aixgo-dev/duet/pkg/memory"
	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

var (
	// ErrMissingParameter is returned by Start when a required parameter is
	// empty.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrAlreadyRunning is returned by Start while the engine runs.
	ErrAlreadyRunning = errors.New("engine already running")
)

// AgentSpec names one agent account. An empty Partner is filled in by Start.
type AgentSpec struct {
	Name    string `json:"name"`
	Partner string `json:"partner,omitempty"`
}

// StartParams are the runtime parameters of one run.
type StartParams struct {
	Agents         []AgentSpec
	SharedPassword string
	RoomName       string
}

func (p StartParams) validate() error {
	var missing []string
	if len(p.Agents) < 2 {
		missing = append(missing, "agents (at least two)")
	}
	for i, a := range p.Agents {
		if a.Name == "" {
			missing = append(missing, fmt.Sprintf("agents[%d].name", i))
		}
	}
	if p.SharedPassword == "" {
		missing = append(missing, "shared password")
	}
	if p.RoomName == "" {
		missing = append(missing, "room name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}
	return nil
}

// ParamsFromConfig builds StartParams from a loaded configuration.
func ParamsFromConfig(cfg *config.Config) StartParams {
	p := StartParams{SharedPassword: cfg.Password, RoomName: cfg.Room}
	for _, a := range cfg.Agents {
		p.Agents = append(p.Agents, AgentSpec{Name: a.Name, Partner: a.Partner})
	}
	return p
}

// pairAgents fills empty partners with the next agent in the list, which
// pairs two agents with each other and arranges more in a ring.
func pairAgents(agents []AgentSpec) []AgentSpec {
	out := make([]AgentSpec, len(agents))
	copy(out, agents)
	for i := range out {
		if out[i].Partner == "" {
			out[i].Partner = agents[(i+1)%len(agents)].Name
		}
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthenticator replaces the HTTP login client.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(e *Engine) { e.auth = a }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithCompleter replaces the text completion client.
func WithCompleter(c llm.Completer) Option {
	return func(e *Engine) { e.completer = c }
}

// WithMemory replaces the memory store.
func WithMemory(s *memory.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the logger and the ring it writes into. ring may be nil,
// in which case RecentLogs returns nothing.
func WithLogger(l *slog.Logger, ring *logsink.Ring) Option {
	return func(e *Engine) {
		e.logger = l
		e.ring = ring
		e.customLogger = true
	}
}

// WithRand overrides the random sources used for decisions and noise.
func WithRand(rnd func() float64, intn func(int) int) Option {
	return func(e *Engine) {
		if rnd != nil {
			e.rnd = rnd
		}
		if intn != nil {
			e.intn = intn
		}
	}
}

// Engine owns the sessions, the shared memory and the background jobs.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	ring   *logsink.Ring

	auth      auth.Authenticator
	dialer    transport.Dialer
	completer llm.Completer
	store     *memory.Store

	gate   *reply.Gate
	gen    *reply.Generator
	human  *humanize.Pipeline
	topics *reply.TopicPool

	rnd          func() float64
	intn         func(int) int
	customLogger bool

	pacer *pace.Limiter

	running      atomic.Bool
	inFlight     atomic.Int64
	lastActivity atomic.Int64

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	sessions []*session.Session
	live     []*session.Session
	tasks    *errgroup.Group
	sched    *schedule.Scheduler
	loops    sync.WaitGroup
}

// New creates an engine from cfg. Collaborators not supplied through options
// are built from cfg.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:  cfg,
		rnd:  rand.Float64,
		intn: rand.IntN,
	}
	for _, opt := range opts {
		opt(e)
	}

	if !e.customLogger {
		level := logsink.ParseLevel(cfg.Log.Level)
		e.ring = logsink.NewRing(cfg.Engine.LogCapacity, level)
		e.logger = logsink.SetupLogger(os.Stderr, e.ring, level)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.auth == nil {
		e.auth = auth.NewClient(cfg.Auth)
	}
	if e.dialer == nil {
		e.dialer = transport.NewWebSocketDialer(cfg.Transport, e.logger)
	}
	if e.completer == nil {
		e.completer = llm.NewClient(cfg.LLM)
	}
	if e.store == nil {
		var backend memory.Backend = memory.NopBackend{}
		if cfg.Redis.Addr != "" {
			rb, err := memory.NewRedisBackend(cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("memory backend: %w", err)
			}
			backend = rb
		}
		e.store = memory.NewStore(cfg.Memory,
			memory.WithBackend(backend),
			memory.WithLogger(e.logger),
			memory.WithRand(e.rnd),
		)
	}

	e.gate = reply.NewGate(cfg.Gate, e.rnd)
	e.completer = llm.WithBreaker(e.completer, pace.NewBreaker(cfg.LLM.BreakerFailures, cfg.LLM.BreakerCooldown))
	e.gen = reply.NewGenerator(e.completer, cfg.Generator, cfg.Timing.RetryPause, e.logger)
	e.human = humanize.New(cfg.Humanize, reply.Acknowledgments, humanize.WithRand(e.rnd, e.intn))
	e.topics = reply.NewTopicPool(cfg.Topics, e.intn)
	e.pacer = pace.NewLimiter(cfg.Engine.SendRate, cfg.Engine.SendBurst, cfg.Engine.AgentSendRate)

	metrics.InitMetrics()
	return e, nil
}

// Start signs every agent in, connects them to the room and starts the
// background jobs. It returns once authentication has finished; connections
// are then kept up in the background until Stop.
//
// Agents whose credentials are rejected are left out and their
// *session.AuthError values are returned joined. Agents that could not sign
// in for any other reason keep retrying in the background. The engine keeps running
// with the others unless no agent could sign in. Running reports which case
// applies.
func (e *Engine) Start(ctx context.Context, p StartParams) error {
	if err := p.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.started = true
	e.running.Store(true)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.ctx, e.cancel = runCtx, cancel

	agents := pairAgents(p.Agents)
	e.sessions = make([]*session.Session, 0, len(agents))
	for _, a := range agents {
		s := session.New(session.Config{
			Name:             a.Name,
			Partner:          a.Partner,
			Password:         p.SharedPassword,
			Room:             p.RoomName,
			SettleDelay:      e.cfg.Timing.SettleDelay,
			ReconnectBackoff: e.cfg.Timing.ReconnectBackoff,
		}, e.auth, e.dialer, &e.running, session.HandlerFunc(e.handleMessage), e.logger)
		e.sessions = append(e.sessions, s)
	}
	e.tasks = new(errgroup.Group)
	e.tasks.SetLimit(max(e.cfg.Engine.MaxInFlight, 1))
	sessions := e.sessions
	e.mu.Unlock()

	e.logger.Info("starting engine", logsink.TagKey, "SYSTEM", "room", p.RoomName, "agents", len(agents))

	errs := make([]error, len(sessions))
	var g errgroup.Group
	for i, s := range sessions {
		g.Go(func() error {
			errs[i] = s.Authenticate(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var (
		live     []*session.Session
		rejected []error
	)
	for i, s := range sessions {
		var aerr *session.AuthError
		if errors.As(errs[i], &aerr) {
			rejected = append(rejected, errs[i])
			continue
		}
		if errs[i] != nil {
			s.Logger().Warn("sign-in will be retried", "error", errs[i])
		}
		live = append(live, s)
	}
	authErr := errors.Join(rejected...)

	if len(live) == 0 {
		e.logger.Error("no agent could sign in", logsink.TagKey, "SYSTEM", "error", authErr)
		_ = e.Stop(ctx)
		return authErr
	}

	e.mu.Lock()
	if !e.started {
		// Stop ran while agents were signing in.
		e.mu.Unlock()
		return session.ErrStopped
	}
	e.live = live
	e.sched = schedule.NewScheduler(e.running.Load, e.logger)
	sched := e.sched
	e.mu.Unlock()

	e.touch()

	var delay time.Duration
	for i, s := range live {
		if i > 0 {
			delay += e.cfg.Timing.JoinStagger.Pick()
		}
		e.loops.Add(1)
		go func(d time.Duration) {
			defer e.loops.Done()
			if schedule.Sleep(runCtx, d) != nil {
				return
			}
			if err := s.Run(runCtx); err != nil {
				s.Logger().Error("session ended", "error", err)
			}
		}(delay)
	}

	if err := e.scheduleJobs(sched); err != nil {
		_ = e.Stop(ctx)
		return err
	}
	sched.Start()

	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		e.kickstart(runCtx, live)
	}()

	return authErr
}

// Stop clears the running flag, closes every session and waits for the
// session loops, jobs and reply tasks to return. Once Stop has cleared the
// flag no further message is sent. ctx bounds the wait.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.running.Store(false)
	cancel, sessions, sched, tasks := e.cancel, e.sessions, e.sched, e.tasks
	e.sched = nil
	e.mu.Unlock()

	cancel()
	for _, s := range sessions {
		_ = s.Close()
	}
	if sched != nil {
		sched.Stop()
	}

	done := make(chan struct{})
	go func() {
		e.loops.Wait()
		_ = tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for engine to stop: %w", ctx.Err())
	}

	e.logger.Info("engine stopped", logsink.TagKey, "SYSTEM")
	return nil
}

// Close releases the memory backend. Call it after Stop.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Running reports whether the engine is between Start and Stop.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// RecentLogs returns the buffered log lines, oldest first.
func (e *Engine) RecentLogs() []logsink.Entry {
	if e.ring == nil {
		return nil
	}
	return e.ring.Recent()
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running  bool             `json:"running"`
	Topic    string           `json:"topic"`
	InFlight int64            `json:"reply_tasks_in_flight"`
	Records  int              `json:"memory_records"`
	Agents   []session.Status `json:"agents"`
}

// Status returns the engine state and one entry per agent, including the
// last fatal error of agents that could not sign in.
func (e *Engine) Status() Status {
	e.mu.Lock()
	sessions := e.sessions
	e.mu.Unlock()

	st := Status{
		Running:  e.running.Load(),
		Topic:    e.topics.Current(),
		InFlight: e.inFlight.Load(),
		Records:  e.store.Len(),
		Agents:   make([]session.Status, 0, len(sessions)),
	}
	for _, s := range sessions {
		st.Agents = append(st.Agents, s.Status())
	}
	return st
}

// RegisterHealthChecks adds the engine's checks to hc.
func (e *Engine) RegisterHealthChecks(hc *metrics.HealthChecker) {
	hc.RegisterCheck(metrics.SessionsCheck(func(context.Context) error {
		if !e.running.Load() {
			return errors.New("engine not running")
		}
		e.mu.Lock()
		live := e.live
		e.mu.Unlock()
		for _, s := range live {
			if s.State() == session.Active {
				return nil
			}
		}
		return errors.New("no agent in room")
	}))
	hc.RegisterCheck(metrics.MemoryBackendCheck(e.store.Ping))
}

// spawn runs fn as a reply task unless the engine is stopping or the task
// limit is reached.
func (e *Engine) spawn(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return false
	}
	ctx := e.ctx
	return e.tasks.TryGo(func() error {
		n := e.inFlight.Add(1)
		metrics.SetReplyTasksInFlight(int(n))
		defer func() {
			metrics.SetReplyTasksInFlight(int(e.inFlight.Add(-1)))
		}()
		fn(ctx)
		return nil
	})
}

func (e *Engine) touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

func (e *Engine) idleFor() time.Duration {
	return time.Since(time.Unix(0, e.lastActivity.Load()))
}

// kickstart waits for every signed-in agent to reach the room, then has the
// first one greet its partner.
func (e *Engine) kickstart(ctx context.Context, live []*session.Session) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !allActive(live) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if schedule.Sleep(ctx, e.cfg.Timing.KickstartDelay.Pick()) != nil || !e.running.Load() {
		return
	}

	s := live[0]
	e.say(ctx, s, s.Partner(), []string{reply.Starter(s.Partner())})
}

func allActive(sessions []*session.Session) bool {
	for _, s := range sessions {
		if s.State() != session.Active {
			return false
		}
	}
	return true
}
