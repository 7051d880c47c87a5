package duet

import (
	"context"
	"errors"

	"github.com/aixgo-dev/duet/internal/observability"
	"github.com/aixgo-dev/duet/internal/reply"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/internal/session"
	"github.com/aixgo-dev/duet/pkg/memory"
	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

// handleMessage runs on a session's read loop and must not block: the reply
// itself happens in a task.
func (e *Engine) handleMessage(s *session.Session, sender, text string) {
	if sender == "" || sender == s.Name() {
		return
	}
	e.touch()

	if !e.spawn(func(ctx context.Context) { e.replyTask(ctx, s, sender, text) }) {
		if e.running.Load() {
			metrics.RecordReplySkipped(s.Name(), "saturated")
			s.Logger().Warn("reply dropped, too many in flight", "from", sender)
		}
	}
}

// replyTask decides whether to answer text and, if so, reads, thinks, types
// and sends like a person would.
func (e *Engine) replyTask(ctx context.Context, s *session.Session, sender, text string) {
	agent := s.Name()
	ctx, span := observability.StartSpan(ctx, "duet.reply", map[string]any{"agent": agent, "from": sender})
	defer span.End()

	e.store.RecordMessage(ctx, agent, sender, memory.RolePartner, text)
	rec, _ := e.store.Snapshot(agent, sender)

	d := e.gate.Decide(agent, s.Partner(), sender, rec.Energy, rec.Mood)
	if !d.Respond {
		metrics.RecordReplySkipped(agent, d.Reason)
		span.SetAttribute("skipped", d.Reason)
		s.Logger().Debug("not replying", "from", sender, "reason", d.Reason, "energy", rec.Energy)
		return
	}

	if schedule.Sleep(ctx, e.cfg.Timing.ReadDelayFor(text)) != nil || !e.running.Load() {
		return
	}

	prompt := reply.Prompt{
		Agent:    agent,
		Partner:  sender,
		Mood:     rec.Mood,
		Topic:    e.topics.Current(),
		History:  rec.History,
		Incoming: text,
		Sender:   sender,
	}
	candidate := e.gen.Reply(ctx, prompt)
	parts := e.human.Process(ctx, candidate, texts(rec.History), func(ctx context.Context) string {
		metrics.RecordFallback("similar")
		return e.gen.Reply(ctx, prompt)
	})

	e.say(ctx, s, sender, parts)
}

// icebreakerTask restarts a quiet room around the current topic.
func (e *Engine) icebreakerTask(ctx context.Context, s *session.Session) {
	agent, partner := s.Name(), s.Partner()
	ctx, span := observability.StartSpan(ctx, "duet.icebreaker", map[string]any{"agent": agent})
	defer span.End()

	rec, _ := e.store.Snapshot(agent, partner)
	line := e.gen.Icebreaker(ctx, reply.Prompt{
		Agent:   agent,
		Partner: partner,
		Mood:    rec.Mood,
		Topic:   e.topics.Current(),
		History: rec.History,
	})
	if !e.running.Load() {
		return
	}
	e.say(ctx, s, partner, e.human.Process(ctx, line, texts(rec.History), nil))
}

// say commits parts to the history agent keeps about partner and delivers
// them in order.
func (e *Engine) say(ctx context.Context, s *session.Session, partner string, parts []string) {
	if len(parts) == 0 || !e.running.Load() {
		return
	}
	agent := s.Name()

	parts = e.human.Commit(agent, parts,
		func() []string {
			rec, _ := e.store.Snapshot(agent, partner)
			return texts(rec.History)
		},
		func(text string) {
			e.store.RecordMessage(ctx, agent, partner, memory.RoleSelf, text)
		},
	)

	for i, part := range parts {
		if i > 0 && schedule.Sleep(ctx, e.cfg.Timing.BurstGap.Pick()) != nil {
			return
		}
		if err := e.deliver(ctx, s, part); err != nil {
			if !errors.Is(err, session.ErrStopped) && !errors.Is(err, context.Canceled) {
				s.Logger().Warn("message not sent", "error", err)
			}
			return
		}
	}
}

// deliver paces, shows typing for a while, then sends text. The running flag
// is checked before every step that reaches the network.
func (e *Engine) deliver(ctx context.Context, s *session.Session, text string) error {
	if !e.running.Load() {
		return session.ErrStopped
	}
	if err := e.pacer.Wait(ctx, s.Name()); err != nil {
		return err
	}
	if err := s.StartTyping(ctx); err != nil {
		return err
	}
	if err := schedule.Sleep(ctx, e.cfg.Timing.TypingFor(text)); err != nil {
		return err
	}
	if err := s.SendMessage(ctx, text); err != nil {
		return err
	}
	e.touch()
	return nil
}

func texts(history []memory.Entry) []string {
	out := make([]string, len(history))
	for i, h := range history {
		out[i] = h.Text
	}
	return out
}
