package reply

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/duet/internal/llm"
	"github.com/aixgo-dev/duet/internal/schedule"
	"github.com/aixgo-dev/duet/pkg/memory"
)

func fixed(v float64) func() float64 { return func() float64 { return v } }

func TestGate_Decide(t *testing.T) {
	cfg := DefaultGateConfig()

	tests := []struct {
		name   string
		sender string
		energy float64
		mood   memory.Mood
		roll   float64
		want   Decision
	}{
		{name: "own message", sender: "rahul", energy: 100, roll: 0, want: Decision{Reason: ReasonSelf}},
		{name: "partner answered", sender: "priya", energy: 100, roll: 0.5, want: Decision{Respond: true}},
		{name: "partner unlucky", sender: "priya", energy: 100, roll: 0.95, want: Decision{Reason: ReasonChance}},
		{name: "partner ignores depletion", sender: "priya", energy: 0, roll: 0.5, want: Decision{Respond: true}},
		{name: "bystander answered", sender: "amit", energy: 100, roll: 0.3, want: Decision{Respond: true}},
		{name: "bystander ignored", sender: "amit", energy: 100, roll: 0.5, want: Decision{Reason: ReasonChance}},
		{name: "bystander while tired", sender: "amit", energy: 10, roll: 0.1, want: Decision{Reason: ReasonDepleted}},
		{name: "moody damps partner", sender: "priya", energy: 100, mood: memory.MoodMoody, roll: 0.9, want: Decision{Reason: ReasonChance}},
		{name: "moody still answers", sender: "priya", energy: 100, mood: memory.MoodMoody, roll: 0.7, want: Decision{Respond: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(cfg, fixed(tt.roll))
			got := g.Decide("rahul", "priya", tt.sender, tt.energy, tt.mood)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_Probabilities(t *testing.T) {
	g := NewGate(DefaultGateConfig(), nil)
	const n = 20000

	partner, bystander := 0, 0
	for i := 0; i < n; i++ {
		if g.Decide("a", "b", "b", 100, memory.MoodChill).Respond {
			partner++
		}
		if g.Decide("a", "b", "c", 100, memory.MoodChill).Respond {
			bystander++
		}
	}
	assert.InDelta(t, 0.92, float64(partner)/n, 0.02)
	assert.InDelta(t, 0.4, float64(bystander)/n, 0.02)
}

func TestTopicPool_RotateNeverRepeats(t *testing.T) {
	p := NewTopicPool(nil, nil)
	prev := p.Current()
	require.Contains(t, DefaultTopics, prev)

	for i := 0; i < 200; i++ {
		next := p.Rotate()
		require.NotEqual(t, prev, next)
		require.Equal(t, next, p.Current())
		prev = next
	}
}

func TestTopicPool_SingleTopic(t *testing.T) {
	p := NewTopicPool([]string{" cricket ", ""}, nil)
	assert.Equal(t, "cricket", p.Current())
	assert.Equal(t, "cricket", p.Rotate())
}

func TestStarterMentionsPartner(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Contains(t, Starter("priya"), "priya")
		assert.Contains(t, CannedIcebreaker("weekend plans"), "weekend plans")
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`rahul: "haan bhai"`, "haan bhai"},
		{"  sahi hai\n\nyaar  ", "sahi hai yaar"},
		{"“quoted”", "quoted"},
		{`""`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in, "rahul"))
	}
}

func TestBuildRequest(t *testing.T) {
	var hist []memory.Entry
	for i := 0; i < 12; i++ {
		role := memory.RolePartner
		if i%2 == 1 {
			role = memory.RoleSelf
		}
		hist = append(hist, memory.Entry{Role: role, Text: strings.Repeat("x", i+1)})
	}

	req := BuildRequest(Prompt{
		Agent:    "rahul",
		Partner:  "priya",
		Mood:     memory.MoodPlayful,
		Topic:    "weekend plans",
		History:  hist,
		Incoming: "kya scene",
		Sender:   "priya",
	}, DefaultGeneratorConfig())

	assert.Contains(t, req.Persona, "You are rahul")
	assert.Contains(t, req.Persona, "priya")
	assert.Contains(t, req.Persona, "weekend plans")
	assert.Contains(t, req.Persona, "playful")
	require.Len(t, req.History, 8)
	assert.Equal(t, strings.Repeat("x", 5), req.History[0].Text)
	assert.False(t, req.History[0].Self)
	assert.True(t, req.History[1].Self)
	assert.Equal(t, "kya scene", req.UserText)
	assert.Equal(t, 60, req.MaxTokens)
	assert.InDelta(t, 1.2, req.Temperature, 1e-6)
}

func TestBuildRequest_IncomingSentOnce(t *testing.T) {
	hist := []memory.Entry{
		{Role: memory.RolePartner, Text: "kya scene"},
		{Role: memory.RoleSelf, Text: "bas chill"},
		{Role: memory.RolePartner, Text: "kya scene"},
	}
	req := BuildRequest(Prompt{Agent: "rahul", Partner: "priya", History: hist, Incoming: "kya scene", Sender: "priya"}, DefaultGeneratorConfig())

	require.Len(t, req.History, 2)
	assert.Equal(t, "bas chill", req.History[1].Text)
	assert.Equal(t, "kya scene", req.UserText)

	// An own line equal to the incoming text is a real earlier turn.
	hist[2].Role = memory.RoleSelf
	req = BuildRequest(Prompt{Agent: "rahul", Partner: "priya", History: hist, Incoming: "kya scene"}, DefaultGeneratorConfig())
	assert.Len(t, req.History, 3)
}

func TestGenerator_Reply(t *testing.T) {
	mock := llm.NewMockChatClient()
	mock.AddText(`rahul: "bas chill bhai"`)
	g := NewGenerator(llm.NewClientWith(mock, "m"), DefaultGeneratorConfig(), schedule.Range{}, nil)

	out := g.Reply(context.Background(), Prompt{Agent: "rahul", Partner: "priya", Incoming: "kya scene"})
	assert.Equal(t, "bas chill bhai", out)
}

func TestGenerator_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", &llm.GenerationError{Err: errors.New("timeout")}
		}
		return "aa gaya jawab", nil
	})
	g := NewGenerator(c, DefaultGeneratorConfig(), schedule.Range{}, nil)

	assert.Equal(t, "aa gaya jawab", g.Reply(context.Background(), Prompt{Agent: "a", Incoming: "hi"}))
	assert.EqualValues(t, 3, calls.Load())
}

func TestGenerator_FallsBackWithoutError(t *testing.T) {
	var calls atomic.Int32
	c := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	})
	cfg := DefaultGeneratorConfig()
	cfg.Retries = 1
	g := NewGenerator(c, cfg, schedule.Range{}, nil)

	out := g.Reply(context.Background(), Prompt{Agent: "a", Incoming: "hi"})
	assert.True(t, slices.Contains(Acknowledgments, out), "got %q", out)
	assert.EqualValues(t, 2, calls.Load())

	ice := g.Icebreaker(context.Background(), Prompt{Agent: "a", Partner: "b", Topic: "momos"})
	assert.Contains(t, ice, "momos")
}

func TestGenerator_EmptyOutputCountsAsFailure(t *testing.T) {
	c := llm.CompleterFunc(func(context.Context, llm.Request) (string, error) {
		return `  ""  `, nil
	})
	g := NewGenerator(c, DefaultGeneratorConfig(), schedule.Range{}, nil)

	out := g.Reply(context.Background(), Prompt{Agent: "a", Incoming: "hi"})
	assert.Contains(t, Acknowledgments, out)
}

func TestGenerator_IcebreakerPrompt(t *testing.T) {
	var got llm.Request
	c := llm.CompleterFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "chalo momos khane chalein", nil
	})
	g := NewGenerator(c, DefaultGeneratorConfig(), schedule.Range{}, nil)

	out := g.Icebreaker(context.Background(), Prompt{Agent: "a", Partner: "b", Topic: "momos", Incoming: "ignored"})
	assert.Equal(t, "chalo momos khane chalein", out)
	assert.Contains(t, got.UserText, "momos")
	assert.NotContains(t, got.UserText, "ignored")
}
