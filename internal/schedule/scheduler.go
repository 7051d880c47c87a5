package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a periodic background activity.
type Job func(ctx context.Context)

// Scheduler runs periodic jobs for the lifetime of the engine. Jobs only run
// while the gate function reports true; once Stop returns no job runs again.
type Scheduler struct {
	cron   *cron.Cron
	gate   func() bool
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	names   map[cron.EntryID]string
}

// NewScheduler creates a scheduler. gate is consulted before every run; pass
// nil to always run.
func NewScheduler(gate func() bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = func() bool { return true }
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		gate:   gate,
		logger: logger,
		names:  make(map[cron.EntryID]string),
	}
}

// Every registers job to run every interval.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %v", name, interval)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil || ctx.Err() != nil || !s.gate() {
			return
		}
		job(ctx)
	}))

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()

	s.logger.Debug("scheduled job", "job", name, "interval", interval)
	return nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.cron.Start()
}

// Stop halts the scheduler, cancels the context handed to running jobs and
// waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.names))
	for _, e := range s.cron.Entries() {
		out = append(out, s.names[e.ID])
	}
	return out
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
