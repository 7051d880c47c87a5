// Package pace throttles outbound chat traffic and guards flaky
// collaborators.
package pace

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces sends globally and per agent. A non-positive rate means
// unlimited.
type Limiter struct {
	global *rate.Limiter
	agents map[string]*rate.Limiter
	mu     sync.RWMutex

	agentRate  float64
	agentBurst int
}

// NewLimiter creates a limiter allowing globalRate sends per second across all
// agents (bursting to globalBurst) and agentRate per second for any one agent.
func NewLimiter(globalRate float64, globalBurst int, agentRate float64) *Limiter {
	return &Limiter{
		global:     newRateLimiter(globalRate, globalBurst),
		agents:     make(map[string]*rate.Limiter),
		agentRate:  agentRate,
		agentBurst: 1,
	}
}

func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

// Allow reports whether agent may send right now, consuming a token if so.
func (l *Limiter) Allow(agent string) bool {
	if !l.global.Allow() {
		return false
	}
	return l.agentLimiter(agent).Allow()
}

// Wait blocks until agent may send or ctx is done.
func (l *Limiter) Wait(ctx context.Context, agent string) error {
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("global send rate: %w", err)
	}
	if err := l.agentLimiter(agent).Wait(ctx); err != nil {
		return fmt.Errorf("send rate for %s: %w", agent, err)
	}
	return nil
}

func (l *Limiter) agentLimiter(agent string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.agents[agent]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.agents[agent]; exists {
		return limiter
	}
	limiter = newRateLimiter(l.agentRate, l.agentBurst)
	l.agents[agent] = limiter
	return limiter
}
