// Package llm calls an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/duet/internal/observability"
	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

// ErrEmptyCompletion is returned when the endpoint answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// GenerationError wraps a failed completion call.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Turn is one prior chat line. Self marks lines written by the agent.
type Turn struct {
	Self bool
	Text string
}

// Request is one completion call.
type Request struct {
	Persona     string
	History     []Turn
	UserText    string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Completer produces text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the completion endpoint.
type Config struct {
	// BaseURL of an OpenAI-compatible API.
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// BreakerFailures consecutive failures stop calls for BreakerCooldown.
	// Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultConfig targets Groq's OpenAI-compatible API.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "llama-3.1-8b-instant",
		Timeout: 20 * time.Second,

		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

// Client implements Completer over go-openai.
type Client struct {
	api   ChatClient
	model string
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return NewClientWith(openai.NewClientWithConfig(oc), cfg.Model)
}

// NewClientWith wraps an existing chat client (useful for testing).
func NewClientWith(api ChatClient, model string) *Client {
	if model == "" {
		model = DefaultConfig().Model
	}
	return &Client{api: api, model: model}
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := observability.StartSpan(ctx, "llm.complete", map[string]any{
		"model":   c.model,
		"history": len(req.History),
	})
	defer span.End()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Persona})
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Self {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText})

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err == nil && (len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "") {
		err = ErrEmptyCompletion
	}
	if err != nil {
		metrics.RecordGeneration("error", time.Since(start))
		span.SetError(err)
		return "", &GenerationError{Model: c.model, Err: err}
	}
	metrics.RecordGeneration("success", time.Since(start))
	span.SetAttribute("tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
