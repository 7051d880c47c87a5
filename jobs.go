package duet

import (
	"context"
	"time"

	"github.com/aixgo-dev/duet/internal/logsink"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/internal/session"
)

// scheduleJobs registers the periodic jobs. A zero interval disables a job.
func (e *Engine) scheduleJobs(sched *schedule.Scheduler) error {
	jobs := []struct {
		name  string
		every time.Duration
		run   schedule.Job
	}{
		{"maintenance", e.cfg.Jobs.Maintenance, e.maintenance},
		{"recharge", e.cfg.Jobs.Recharge, func(context.Context) { e.store.Recharge() }},
		{"evict", e.cfg.Jobs.Evict, e.evict},
		{"idle", e.cfg.Jobs.IdleCheck, e.idle},
	}
	for _, j := range jobs {
		if j.every == 0 {
			continue
		}
		if err := sched.Every(j.name, j.every, j.run); err != nil {
			return err
		}
	}
	return nil
}

// maintenance moves the conversation on: new topic, cleared logs and
// histories cut down to their last few lines.
func (e *Engine) maintenance(context.Context) {
	topic := e.topics.Rotate()
	if e.ring != nil {
		e.ring.Trim(e.cfg.Engine.LogKeep)
	}
	e.store.TrimHistories(e.cfg.Engine.HistoryKeep)
	e.logger.Info("maintenance: logs cleared, new topic", logsink.TagKey, "SYSTEM", "topic", topic)
}

func (e *Engine) evict(context.Context) {
	if n := e.store.Evict(time.Now()); n > 0 {
		e.logger.Debug("evicted idle memory", "records", n)
	}
}

// idle has a random agent in the room break the silence once nothing has
// been said for a while.
func (e *Engine) idle(context.Context) {
	if e.idleFor() < e.cfg.Timing.IdleAfter.Pick() {
		return
	}

	e.mu.Lock()
	var active []*session.Session
	for _, s := range e.live {
		if s.State() == session.Active {
			active = append(active, s)
		}
	}
	e.mu.Unlock()
	if len(active) == 0 {
		return
	}

	s := active[e.intn(len(active))]
	e.touch()
	if e.spawn(func(ctx context.Context) { e.icebreakerTask(ctx, s) }) {
		s.Logger().Info("room is quiet, breaking the ice", logsink.TagKey, "SYSTEM")
	}
}
