package llm

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// MockChatClient is a scripted ChatClient for tests.
type MockChatClient struct {
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
	callIndex int
	mu        sync.Mutex
}

// NewMockChatClient creates an empty mock.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{}
}

// CreateChatCompletion implements ChatClient.
func (m *MockChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.callIndex >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}

	resp := m.responses[m.callIndex]
	err := m.errors[m.callIndex]
	m.callIndex++
	return resp, err
}

// AddResponse queues a response.
func (m *MockChatClient) AddResponse(resp openai.ChatCompletionResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

// AddText queues a single-choice response carrying text.
func (m *MockChatClient) AddText(text string) {
	m.AddResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}}},
	}, nil)
}

// Calls returns every recorded request.
func (m *MockChatClient) Calls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]openai.ChatCompletionRequest, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
