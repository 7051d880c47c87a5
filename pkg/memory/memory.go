// Package memory keeps per-partner conversation memory: a bounded message
// history, a fatigue scalar and a coarse mood, optionally persisted for
// partners the agent talks to often.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aixgo-dev/duet/pkg/observability"
)

// MaxEnergy is the ceiling of the energy scale.
const MaxEnergy = 100.0

// Role identifies who authored a history entry.
type Role string

const (
	RoleSelf    Role = "self"
	RolePartner Role = "partner"
)

// Entry is one line of conversation history.
type Entry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Record is the memory an agent keeps about one conversation partner.
type Record struct {
	Agent      string    `json:"agent"`
	Partner    string    `json:"partner"`
	History    []Entry   `json:"history"`
	Energy     float64   `json:"energy"`
	Mood       Mood      `json:"mood"`
	Messages   int       `json:"messages"`
	LastActive time.Time `json:"last_active"`
	Promoted   bool      `json:"promoted"`
}

func (r *Record) clone() Record {
	c := *r
	c.History = append([]Entry(nil), r.History...)
	return c
}

// Config holds the memory limits.
type Config struct {
	// Capacity bounds the history of every record.
	Capacity int `yaml:"capacity"`
	// EnergyCostMin and EnergyCostMax bound the energy spent per own message.
	EnergyCostMin float64 `yaml:"energy_cost_min"`
	EnergyCostMax float64 `yaml:"energy_cost_max"`
	// RechargeStep is added to every record on each recharge tick.
	RechargeStep float64 `yaml:"recharge_step"`
	// PromoteAfter is the message count at which a record becomes durable.
	PromoteAfter int `yaml:"promote_after"`
	// IdleWindow is how long a non-promoted record survives without activity.
	IdleWindow time.Duration `yaml:"idle_window"`
}

// DefaultConfig returns the default memory limits.
func DefaultConfig() Config {
	return Config{
		Capacity:      8,
		EnergyCostMin: 3,
		EnergyCostMax: 8,
		RechargeStep:  5,
		PromoteAfter:  20,
		IdleWindow:    30 * time.Minute,
	}
}

type key struct {
	agent   string
	partner string
}

// Store holds every partner record in process. One mutex guards all records.
type Store struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	rnd     func() float64

	mu      sync.Mutex
	records map[key]*Record
}

// Option configures a Store.
type Option func(*Store)

// WithBackend persists promoted records to b.
func WithBackend(b Backend) Option {
	return func(s *Store) { s.backend = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRand overrides the source of uniform [0,1) values.
func WithRand(rnd func() float64) Option {
	return func(s *Store) { s.rnd = rnd }
}

// NewStore creates a store. Zero config fields take their defaults.
func NewStore(cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.EnergyCostMax < cfg.EnergyCostMin {
		cfg.EnergyCostMax = cfg.EnergyCostMin
	}
	if cfg.RechargeStep <= 0 {
		cfg.RechargeStep = def.RechargeStep
	}
	if cfg.PromoteAfter <= 0 {
		cfg.PromoteAfter = def.PromoteAfter
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = def.IdleWindow
	}

	s := &Store{
		cfg:     cfg,
		backend: NopBackend{},
		logger:  slog.Default(),
		now:     time.Now,
		rnd:     rand.Float64,
		records: make(map[key]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ensure returns the record for k, restoring a promoted snapshot from the
// backend on first contact. The backend is consulted without holding the lock.
func (s *Store) ensure(ctx context.Context, k key) {
	s.mu.Lock()
	_, ok := s.records[k]
	s.mu.Unlock()
	if ok {
		return
	}

	rec, err := s.backend.Load(ctx, k.agent, k.partner)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("memory restore failed", "agent", k.agent, "partner", k.partner, "error", err)
		}
		rec = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[k]; ok {
		return
	}
	if rec == nil {
		rec = &Record{
			Agent:      k.agent,
			Partner:    k.partner,
			Energy:     MaxEnergy,
			Mood:       MoodChill,
			LastActive: s.now(),
		}
	} else {
		rec.Agent, rec.Partner = k.agent, k.partner
		rec.Energy = clamp(rec.Energy)
		if len(rec.History) > s.cfg.Capacity {
			rec.History = rec.History[len(rec.History)-s.cfg.Capacity:]
		}
	}
	s.records[k] = rec
	observability.SetPartnerRecords(len(s.records))
}

// RecordMessage appends text to the history agent keeps about partner.
// Partner-authored text updates the mood; self-authored text spends energy.
// Once a record reaches the promotion threshold it is written through to the
// backend on every change.
func (s *Store) RecordMessage(ctx context.Context, agent, partner string, role Role, text string) {
	k := key{agent: agent, partner: partner}
	s.ensure(ctx, k)

	s.mu.Lock()
	rec := s.records[k]
	if rec == nil {
		// evicted between ensure and here
		s.mu.Unlock()
		s.RecordMessage(ctx, agent, partner, role, text)
		return
	}

	now := s.now()
	rec.History = append(rec.History, Entry{Role: role, Text: text, Time: now})
	if over := len(rec.History) - s.cfg.Capacity; over > 0 {
		rec.History = append(rec.History[:0:0], rec.History[over:]...)
	}
	rec.Messages++
	rec.LastActive = now

	switch role {
	case RolePartner:
		if m, ok := InferMood(text); ok {
			rec.Mood = m
		}
	case RoleSelf:
		cost := s.cfg.EnergyCostMin + s.rnd()*(s.cfg.EnergyCostMax-s.cfg.EnergyCostMin)
		rec.Energy = clamp(rec.Energy - cost)
	}

	if !rec.Promoted && rec.Messages >= s.cfg.PromoteAfter {
		rec.Promoted = true
		s.logger.Info("memory promoted", "agent", agent, "partner", partner)
	}

	var snap Record
	persist := rec.Promoted
	if persist {
		snap = rec.clone()
	}
	s.mu.Unlock()

	if persist {
		if err := s.backend.Save(ctx, &snap); err != nil {
			s.logger.Warn("memory save failed", "agent", agent, "partner", partner, "error", err)
		}
	}
}

// Recharge restores RechargeStep energy to every record, capped at MaxEnergy.
func (s *Store) Recharge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		rec.Energy = clamp(rec.Energy + s.cfg.RechargeStep)
	}
}

// Evict drops non-promoted records idle for longer than the idle window and
// returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, rec := range s.records {
		if rec.Promoted {
			continue
		}
		if now.Sub(rec.LastActive) > s.cfg.IdleWindow {
			delete(s.records, k)
			n++
		}
	}
	observability.SetPartnerRecords(len(s.records))
	return n
}

// TrimHistories keeps only the newest keep entries of every history.
func (s *Store) TrimHistories(keep int) {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if over := len(rec.History) - keep; over > 0 {
			rec.History = append(rec.History[:0:0], rec.History[over:]...)
		}
	}
}

// Snapshot returns a copy of the record agent keeps about partner. Later
// writes are not reflected in the copy.
func (s *Store) Snapshot(agent, partner string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key{agent: agent, partner: partner}]
	if !ok {
		return Record{Agent: agent, Partner: partner, Energy: MaxEnergy, Mood: MoodChill}, false
	}
	return rec.clone(), true
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Ping checks the durable backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the durable backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func clamp(e float64) float64 {
	return min(max(e, 0), MaxEnergy)
}
