// Package schedule provides the timing model of the engine: randomized delay
// ranges for human-plausible pacing and periodic background jobs.
package schedule

import (
	"context"
	"math/rand/v2"
	"time"
)

// Range is an inclusive duration interval. Every delay in the engine is drawn
// from a Range so that no two waits are identical.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Pick returns a uniformly random duration in [Min, Max].
// A degenerate or inverted range returns Min.
func (r Range) Pick() time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() when the wait
// was interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Timing holds every randomized delay used by the engine.
type Timing struct {
	// ReadDelay is the base pause before reacting to an incoming message.
	ReadDelay Range `yaml:"read_delay"`
	// ReadPerChar is added per rune of the incoming message.
	ReadPerChar time.Duration `yaml:"read_per_char"`
	// ReadMax caps the total read delay (0 = uncapped).
	ReadMax time.Duration `yaml:"read_max"`

	// TypingPerChar is the simulated typing speed, drawn per reply.
	TypingPerChar Range `yaml:"typing_per_char"`
	// TypingMin and TypingMax clamp the typing duration.
	TypingMin time.Duration `yaml:"typing_min"`
	TypingMax time.Duration `yaml:"typing_max"`

	SettleDelay      Range `yaml:"settle_delay"`
	ReconnectBackoff Range `yaml:"reconnect_backoff"`
	JoinStagger      Range `yaml:"join_stagger"`
	BurstGap         Range `yaml:"burst_gap"`
	KickstartDelay   Range `yaml:"kickstart_delay"`
	RetryPause       Range `yaml:"retry_pause"`

	// IdleAfter is how long the room may stay quiet before an icebreaker.
	IdleAfter Range `yaml:"idle_after"`
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		ReadDelay:        Range{Min: 4 * time.Second, Max: 10 * time.Second},
		ReadPerChar:      40 * time.Millisecond,
		ReadMax:          16 * time.Second,
		TypingPerChar:    Range{Min: 60 * time.Millisecond, Max: 140 * time.Millisecond},
		TypingMin:        1500 * time.Millisecond,
		TypingMax:        9 * time.Second,
		SettleDelay:      Range{Min: 1 * time.Second, Max: 4 * time.Second},
		ReconnectBackoff: Range{Min: 5 * time.Second, Max: 20 * time.Second},
		JoinStagger:      Range{Min: 2 * time.Second, Max: 6 * time.Second},
		BurstGap:         Range{Min: 800 * time.Millisecond, Max: 2500 * time.Millisecond},
		KickstartDelay:   Range{Min: 3 * time.Second, Max: 8 * time.Second},
		RetryPause:       Range{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		IdleAfter:        Range{Min: 4 * time.Minute, Max: 8 * time.Minute},
	}
}

// ReadDelayFor returns the pause before reacting to a message of the given text.
func (t Timing) ReadDelayFor(text string) time.Duration {
	d := t.ReadDelay.Pick() + time.Duration(len([]rune(text)))*t.ReadPerChar
	if t.ReadMax > 0 && d > t.ReadMax {
		d = t.ReadMax
	}
	return d
}

// TypingFor returns how long typing a reply of the given text should take.
func (t Timing) TypingFor(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * t.TypingPerChar.Pick()
	if d < t.TypingMin {
		d = t.TypingMin
	}
	if t.TypingMax > 0 && d > t.TypingMax {
		d = t.TypingMax
	}
	return d
}
