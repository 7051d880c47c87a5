package humanize

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
)

// Config holds the humanizer thresholds and probabilities.
type Config struct {
	// SimilarityThreshold rejects a candidate scoring above this against a
	// recent line. It must be below 1 so exact repeats are rejected.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// SimilarityWindow is how many recent lines are compared.
	SimilarityWindow int `yaml:"similarity_window"`
	// Regenerations bounds how often a rejected candidate is regenerated.
	Regenerations int `yaml:"regenerations"`

	SlangProbability float64 `yaml:"slang_probability"`
	TypoProbability  float64 `yaml:"typo_probability"`

	// BurstMinLength is the rune length above which a reply may be split.
	BurstMinLength   int     `yaml:"burst_min_length"`
	BurstProbability float64 `yaml:"burst_probability"`
}

// DefaultConfig returns the default humanizer settings.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.78,
		SimilarityWindow:    8,
		Regenerations:       2,
		SlangProbability:    0.3,
		TypoProbability:     0.03,
		BurstMinLength:      60,
		BurstProbability:    0.4,
	}
}

// Pipeline runs similarity rejection, lexical noise, emoji augmentation and
// burst splitting.
type Pipeline struct {
	cfg       Config
	fallbacks []string
	rnd       func() float64
	intn      func(int) int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRand overrides the random sources.
func WithRand(rnd func() float64, intn func(int) int) Option {
	return func(p *Pipeline) {
		if rnd != nil {
			p.rnd = rnd
		}
		if intn != nil {
			p.intn = intn
		}
	}
}

// New creates a pipeline. fallbacks are canned lines used when every
// regenerated candidate is still a repeat.
func New(cfg Config, fallbacks []string, opts ...Option) *Pipeline {
	if len(fallbacks) == 0 {
		fallbacks = []string{"Hmm.", "Achha."}
	}
	p := &Pipeline{
		cfg:       cfg,
		fallbacks: fallbacks,
		rnd:       rand.Float64,
		intn:      rand.IntN,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Regenerator produces a fresh candidate.
type Regenerator func(ctx context.Context) string

// Process turns a generated candidate into one or more messages to send.
func (p *Pipeline) Process(ctx context.Context, candidate string, history []string, regenerate Regenerator) []string {
	return p.Humanize(p.Dedupe(ctx, candidate, history, regenerate))
}

// Dedupe returns candidate, or a regenerated one, that is not too similar to
// history. After Regenerations failed attempts it returns a canned line that
// is itself dissimilar.
func (p *Pipeline) Dedupe(ctx context.Context, candidate string, history []string, regenerate Regenerator) string {
	for attempt := 0; ; attempt++ {
		if !p.tooSimilar(candidate, history) {
			return candidate
		}
		if attempt >= p.cfg.Regenerations || regenerate == nil || ctx.Err() != nil {
			break
		}
		candidate = regenerate(ctx)
	}
	return p.fallback(history)
}

// Humanize applies lexical noise, emoji and burst splitting.
func (p *Pipeline) Humanize(text string) []string {
	text = p.lexical(text)
	text = addEmoji(text)
	return p.burst(text)
}

// Commit serializes the final check for one agent: under the agent's lock it
// compares parts against fresh history, swaps in a canned line when a
// concurrent reply already said the same thing, and calls record with the
// text that will be sent. Two near-identical candidates racing for the same
// agent are therefore never both emitted verbatim.
func (p *Pipeline) Commit(agent string, parts []string, history func() []string, record func(text string)) []string {
	l := p.lockFor(agent)
	l.Lock()
	defer l.Unlock()

	hist := history()
	if p.tooSimilar(strings.Join(parts, " "), hist) {
		parts = []string{addEmoji(p.fallback(hist))}
	}
	record(strings.Join(parts, " "))
	return parts
}

func (p *Pipeline) lockFor(agent string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[agent]
	if !ok {
		l = &sync.Mutex{}
		p.locks[agent] = l
	}
	return l
}

func (p *Pipeline) tooSimilar(text string, history []string) bool {
	return TooSimilar(text, history, p.cfg.SimilarityWindow, p.cfg.SimilarityThreshold)
}

// fallback picks a canned line unlike anything in history, starting at a
// random offset. If every single line is taken it joins two.
func (p *Pipeline) fallback(history []string) string {
	n := len(p.fallbacks)
	start := p.intn(n)
	for i := 0; i < n; i++ {
		c := p.fallbacks[(start+i)%n]
		if !p.tooSimilar(c, history) {
			return c
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			c := p.fallbacks[i] + " " + p.fallbacks[j]
			if !p.tooSimilar(c, history) {
				return c
			}
		}
	}
	return p.fallbacks[start]
}
