package humanize

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFallbacks = []string{"Haan bhai sahi baat hai.", "Achha, aur bata.", "Lol sach mein?"}

// quiet disables every random transformation.
func quiet() Config {
	cfg := DefaultConfig()
	cfg.SlangProbability = 0
	cfg.TypoProbability = 0
	cfg.BurstProbability = 0
	return cfg
}

func never() float64  { return 0.99 }
func always() float64 { return 0 }

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Kya SCENE hai?!", "kya scene hai"},
		{"  haan   bhai 😂  ", "haan bhai"},
		{"...", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Haan bhai!", "haan bhai 🙂"))
	assert.Equal(t, 1.0, Similarity("", "!!"))
	assert.Less(t, Similarity("kya scene hai", "weekend pe momos khane chalein"), 0.5)
	assert.GreaterOrEqual(t, Similarity("sahi hai bhai", "sahi hai bhaii"), 0.9)
}

func TestTooSimilar_Window(t *testing.T) {
	hist := []string{"kya scene", "a", "b", "c"}
	assert.True(t, TooSimilar("Kya scene!", hist, 8, 0.78))
	assert.False(t, TooSimilar("Kya scene!", hist, 3, 0.78), "outside the window")
}

func TestTooSimilar_ThresholdIsExclusive(t *testing.T) {
	// One edit in four runes scores exactly 0.75.
	require.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)
	assert.False(t, TooSimilar("abcd", []string{"abce"}, 8, 0.75))
	assert.True(t, TooSimilar("abcd", []string{"abce"}, 8, 0.74))
	assert.True(t, TooSimilar("abcd", []string{"ABCD!"}, 8, 0.99))
}

func TestDedupe_RegeneratesRepeat(t *testing.T) {
	p := New(quiet(), testFallbacks)
	calls := 0
	regen := func(context.Context) string {
		calls++
		return "chalo momos khate hain"
	}

	out := p.Dedupe(context.Background(), "kya scene hai", []string{"Kya scene hai!"}, regen)
	assert.Equal(t, "chalo momos khate hain", out)
	assert.Equal(t, 1, calls)
}

func TestDedupe_FallsBackWhenExhausted(t *testing.T) {
	p := New(quiet(), testFallbacks)
	calls := 0
	regen := func(context.Context) string {
		calls++
		return "kya scene hai"
	}

	hist := []string{"kya scene hai", "Haan bhai sahi baat hai."}
	out := p.Dedupe(context.Background(), "kya scene hai", hist, regen)
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, "kya scene hai", out)
	assert.False(t, TooSimilar(out, hist, 8, 0.78))
	assert.Contains(t, testFallbacks, out)
}

func TestDedupe_NeverEmitsRecentVerbatim(t *testing.T) {
	p := New(quiet(), testFallbacks)
	hist := append([]string(nil), testFallbacks...)
	hist = append(hist, "same line")

	out := p.Dedupe(context.Background(), "same line", hist, func(context.Context) string { return "same line" })
	assert.NotEqual(t, Normalize("same line"), Normalize(out))
	assert.False(t, TooSimilar(out, hist, 8, 0.78))
}

func TestLexical_Slang(t *testing.T) {
	cfg := quiet()
	cfg.SlangProbability = 1
	p := New(cfg, nil, WithRand(always, nil))

	assert.Equal(t, "haan bhai, u r right!", p.lexical("yes brother, you are right!"))
}

func TestLexical_TypoKeepsLetters(t *testing.T) {
	cfg := quiet()
	cfg.TypoProbability = 1
	p := New(cfg, nil, WithRand(always, func(int) int { return 0 }))

	assert.Equal(t, "mmoos aur caho", p.lexical("momos aur chai"))
	assert.Equal(t, "ok", p.lexical("ok"))
}

func TestLexical_CleanWhenProbabilitiesZero(t *testing.T) {
	p := New(quiet(), nil)
	for i := 0; i < 50; i++ {
		assert.Equal(t, "you are very good friend", p.lexical("you are very good friend"))
	}
}

func TestEmoji(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"haha pagal", "haha pagal 😂"},
		{"chalo momos", "chalo momos 😋"},
		{"theek hai", "theek hai " + NeutralEmoji},
		{"already 🔥", "already 🔥"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, addEmoji(tt.in))
	}
	assert.False(t, HasEmoji("plain text"))
}

func TestBurst(t *testing.T) {
	cfg := quiet()
	cfg.BurstProbability = 1
	cfg.BurstMinLength = 20
	p := New(cfg, nil, WithRand(always, nil))

	parts := p.burst("yaar kal match dekha tha, bahut mast khela kohli ne")
	require.Len(t, parts, 2)
	assert.Equal(t, "yaar kal match dekha tha,", parts[0])
	assert.Equal(t, "bahut mast khela kohli ne", parts[1])

	parts = p.burst("movie theek thi lekin interval ke baad boring ho gayi")
	require.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[1], "lekin"))

	assert.Len(t, p.burst("short, line"), 1, "below min length")
	assert.Len(t, p.burst("ek lambi line jisme koi separator nahi hai bilkul bhi yaar"), 1)

	cfg.BurstProbability = 0.5
	p = New(cfg, nil, WithRand(never, nil))
	assert.Len(t, p.burst("yaar kal match dekha tha, bahut mast khela kohli ne"), 1)
}

func TestProcess(t *testing.T) {
	p := New(quiet(), testFallbacks)
	parts := p.Process(context.Background(), "kal cricket dekhega", nil, nil)
	assert.Equal(t, []string{"kal cricket dekhega 🏏"}, parts)
}

func TestCommit_ConcurrentDuplicates(t *testing.T) {
	p := New(quiet(), testFallbacks)

	var mu sync.Mutex
	var history []string
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), history...)
	}
	record := func(text string) {
		mu.Lock()
		defer mu.Unlock()
		history = append(history, text)
	}

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Commit("rahul", []string{"bas chill kar raha hu 🙂"}, snapshot, record)
		}(i)
	}
	wg.Wait()

	a := strings.Join(results[0], " ")
	b := strings.Join(results[1], " ")
	assert.NotEqual(t, Normalize(a), Normalize(b))
	assert.Len(t, history, 2)
}
