// Package reply decides whether an agent answers a message and produces the
// text it answers with.
package reply

import (
	"math/rand/v2"

	"github.com/aixgo-dev/duet/pkg/memory"
)

// Skip reasons reported by the gate.
const (
	ReasonSelf     = "self"
	ReasonChance   = "chance"
	ReasonDepleted = "depleted"
)

// GateConfig holds the reply probabilities. None of them are fixed constants;
// deployments tune them.
type GateConfig struct {
	// PartnerProbability is the chance of answering the designated partner.
	PartnerProbability float64 `yaml:"partner_probability"`
	// BystanderProbability is the chance of answering anyone else.
	BystanderProbability float64 `yaml:"bystander_probability"`
	// DepletionThreshold is the energy below which an agent is tired.
	DepletionThreshold float64 `yaml:"depletion_threshold"`
	// DepletedSkipProbability is the chance a tired agent ignores a bystander.
	DepletedSkipProbability float64 `yaml:"depleted_skip_probability"`
	// MoodyDamping scales the answer probability while the mood is moody.
	MoodyDamping float64 `yaml:"moody_damping"`
}

// DefaultGateConfig returns the default reply probabilities.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PartnerProbability:      0.92,
		BystanderProbability:    0.4,
		DepletionThreshold:      20,
		DepletedSkipProbability: 0.9,
		MoodyDamping:            0.85,
	}
}

// Decision is the gate's verdict for one message.
type Decision struct {
	Respond bool
	Reason  string
}

// Gate applies GateConfig with an injectable random source.
type Gate struct {
	cfg GateConfig
	rnd func() float64
}

// NewGate creates a gate. A nil rnd uses math/rand/v2.
func NewGate(cfg GateConfig, rnd func() float64) *Gate {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Gate{cfg: cfg, rnd: rnd}
}

// Decide reports whether agent answers sender. energy and mood come from the
// record agent keeps about sender.
func (g *Gate) Decide(agent, partner, sender string, energy float64, mood memory.Mood) Decision {
	if sender == agent {
		return Decision{Reason: ReasonSelf}
	}

	p := g.cfg.PartnerProbability
	if sender != partner {
		if energy < g.cfg.DepletionThreshold && g.rnd() < g.cfg.DepletedSkipProbability {
			return Decision{Reason: ReasonDepleted}
		}
		p = g.cfg.BystanderProbability
	}
	if mood == memory.MoodMoody && g.cfg.MoodyDamping > 0 {
		p *= g.cfg.MoodyDamping
	}

	if g.rnd() < p {
		return Decision{Respond: true}
	}
	return Decision{Reason: ReasonChance}
}
