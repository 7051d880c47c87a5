package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/duet/internal/pace"
)

func TestClient_CompleteBuildsMessages(t *testing.T) {
	mock := NewMockChatClient()
	mock.AddText("haan bhai")
	c := NewClientWith(mock, "test-model")

	out, err := c.Complete(context.Background(), Request{
		Persona:     "You are Rahul.",
		History:     []Turn{{Self: false, Text: "hi"}, {Self: true, Text: "hello"}},
		UserText:    "kya scene",
		MaxTokens:   60,
		Temperature: 1.2,
		TopP:        0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, "haan bhai", out)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 60, req.MaxTokens)
	assert.InDelta(t, 1.2, req.Temperature, 1e-6)
	assert.InDelta(t, 0.9, req.TopP, 1e-6)

	roles := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleUser,
	}, roles)
	assert.Equal(t, "kya scene", req.Messages[3].Content)
}

func TestClient_CompleteErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *MockChatClient)
		errIs error
	}{
		{
			name:  "api error",
			setup: func(m *MockChatClient) { m.AddResponse(openai.ChatCompletionResponse{}, errors.New("rate limited")) },
		},
		{
			name:  "no choices",
			setup: func(m *MockChatClient) { m.AddResponse(openai.ChatCompletionResponse{}, nil) },
			errIs: ErrEmptyCompletion,
		},
		{
			name:  "empty text",
			setup: func(m *MockChatClient) { m.AddText("") },
			errIs: ErrEmptyCompletion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChatClient()
			tt.setup(mock)
			_, err := NewClientWith(mock, "").Complete(context.Background(), Request{UserText: "x"})

			var gerr *GenerationError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, DefaultConfig().Model, gerr.Model)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestNewClient_UsesBaseURL(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "sab badhiya"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "gsk-test"})
	out, err := c.Complete(context.Background(), Request{Persona: "p", UserText: "u"})
	require.NoError(t, err)
	assert.Equal(t, "sab badhiya", out)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer gsk-test", gotAuth)
}

func TestWithBreaker_FailsFastWhenOpen(t *testing.T) {
	calls := 0
	inner := CompleterFunc(func(context.Context, Request) (string, error) {
		calls++
		return "", errors.New("503 service unavailable")
	})
	c := WithBreaker(inner, pace.NewBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{UserText: "hi"})
		require.Error(t, err)
	}
	_, err := c.Complete(context.Background(), Request{UserText: "hi"})
	assert.ErrorIs(t, err, pace.ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestWithBreaker_PassesThrough(t *testing.T) {
	c := WithBreaker(CompleterFunc(func(context.Context, Request) (string, error) {
		return "theek hai", nil
	}), pace.NewBreaker(1, time.Minute))

	out, err := c.Complete(context.Background(), Request{UserText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "theek hai", out)
}
