package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aixgo-dev/duet/internal/llm"
	"github.com/aixgo-dev/duet/internal/observability"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/pkg/memory"
	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

// GeneratorConfig bounds each completion call.
type GeneratorConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	// Retries is the number of extra attempts after a failed completion.
	Retries int `yaml:"retries"`
	// ContextTurns is how many history entries are sent as context.
	ContextTurns int `yaml:"context_turns"`
}

// DefaultGeneratorConfig returns the default completion bounds.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxTokens:    60,
		Temperature:  1.2,
		TopP:         0.9,
		Retries:      2,
		ContextTurns: 8,
	}
}

// Prompt describes one reply to generate.
type Prompt struct {
	Agent   string
	Partner string
	Mood    memory.Mood
	Topic   string
	History []memory.Entry
	// Incoming is the message being answered. Empty for icebreakers.
	Incoming string
	// Sender wrote Incoming.
	Sender string
}

// Persona renders the system instruction for p.
func Persona(p Prompt) string {
	mood := p.Mood
	if mood == "" {
		mood = memory.MoodChill
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a smart Indian internet user chatting with your close friend %s.\n", p.Agent, p.Partner)
	fmt.Fprintf(&b, "Current discussion topic: %q. Your current mood: %s.\n", p.Topic, mood)
	b.WriteString("Rules:\n")
	b.WriteString("1. Language: Hinglish (Roman Hindi + English mix). Use slang like \"Bhai\", \"Yaar\", \"Sahi hai\", \"Lol\".\n")
	b.WriteString("2. Tone: casual, respectful but fun. No formal assistant tone. Be brief (1-2 sentences).\n")
	fmt.Fprintf(&b, "3. React to what %s just said. If they asked something, answer it. If they joked, laugh.\n", orDefault(p.Sender, p.Partner))
	b.WriteString("4. Never say you are a bot. Never repeat an earlier line. No long essays.\n")
	return b.String()
}

// BuildRequest assembles the completion request for p. The incoming line is
// the final user turn, so a history that already ends with it drops that
// entry.
func BuildRequest(p Prompt, cfg GeneratorConfig) llm.Request {
	hist := p.History
	if k := len(hist) - 1; p.Incoming != "" && k >= 0 && hist[k].Role == memory.RolePartner && hist[k].Text == p.Incoming {
		hist = hist[:k]
	}
	if n := cfg.ContextTurns; n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	turns := make([]llm.Turn, 0, len(hist))
	for _, e := range hist {
		turns = append(turns, llm.Turn{Self: e.Role == memory.RoleSelf, Text: e.Text})
	}

	user := p.Incoming
	if user == "" {
		user = fmt.Sprintf("The room has gone quiet. Start a fresh conversation with %s about %s.", p.Partner, p.Topic)
	}
	return llm.Request{
		Persona:     Persona(p),
		History:     turns,
		UserText:    user,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
}

// Generator turns prompts into text. It never fails: after bounded retries it
// substitutes a canned line.
type Generator struct {
	completer  llm.Completer
	cfg        GeneratorConfig
	retryPause schedule.Range
	logger     *slog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(c llm.Completer, cfg GeneratorConfig, retryPause schedule.Range, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Generator{completer: c, cfg: cfg, retryPause: retryPause, logger: logger}
}

// Reply generates an answer to p.Incoming.
func (g *Generator) Reply(ctx context.Context, p Prompt) string {
	text, err := g.generate(ctx, p, "reply.generate")
	if err != nil {
		metrics.RecordFallback("generation")
		return Acknowledgment()
	}
	return text
}

// Icebreaker generates a line that restarts a quiet room around p.Topic.
func (g *Generator) Icebreaker(ctx context.Context, p Prompt) string {
	p.Incoming = ""
	text, err := g.generate(ctx, p, "reply.icebreaker")
	if err != nil {
		metrics.RecordFallback("icebreaker")
		return CannedIcebreaker(p.Topic)
	}
	return text
}

func (g *Generator) generate(ctx context.Context, p Prompt, span string) (string, error) {
	ctx, sp := observability.StartSpan(ctx, span, map[string]any{"agent": p.Agent, "mood": string(p.Mood)})
	defer sp.End()

	req := BuildRequest(p, g.cfg)
	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := schedule.Sleep(ctx, g.retryPause.Pick()); err != nil {
				return "", err
			}
		}
		out, err := g.completer.Complete(ctx, req)
		if err == nil {
			if text := Clean(out, p.Agent); text != "" {
				sp.SetAttribute("attempts", attempt+1)
				return text, nil
			}
			err = llm.ErrEmptyCompletion
		}
		lastErr = err
		g.logger.Warn("generation failed", "agent", p.Agent, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	sp.SetError(lastErr)
	return "", lastErr
}

// Clean strips speaker prefixes, quotes and stray whitespace from generated
// text.
func Clean(text, agent string) string {
	text = strings.TrimSpace(text)
	if agent != "" {
		text = strings.ReplaceAll(text, agent+":", "")
	}
	text = strings.NewReplacer(`"`, "", "“", "", "”", "").Replace(text)
	text = strings.Join(strings.Fields(text), " ")
	return strings.Trim(text, "'` ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
