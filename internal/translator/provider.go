package translator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/semaphore"
)

// Provider completes one system+user exchange with a chat model.
type Provider interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxConcurrent bounds in-flight requests for providers whose calls outlive their context.
	MaxConcurrent int
}

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
type OpenAIProvider struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
}

func NewOpenAIProvider(s Settings) (*OpenAIProvider, error) {
	if s.APIKey == "" {
		return nil, errors.New("openai api key required")
	}

	opts := []openai.Option{
		openai.WithToken(s.APIKey),
		openai.WithModel(s.Model),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}

	return &OpenAIProvider{
		llm:         llm,
		model:       s.Model,
		temperature: s.Temperature,
		maxTokens:   s.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := p.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(p.temperature),
		llms.WithMaxTokens(p.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response choices")
	}

	return response.Choices[0].Content, nil
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

type promptFunc func(system, user, schema, apiKey string, settings types.RequestSettings, files ...types.File) (*types.AnthropicResponse, error)

// AnthropicProvider uses the Anthropic messages API.
type AnthropicProvider struct {
	apiKey   string
	settings types.RequestSettings
	prompt   promptFunc
	inflight *semaphore.Weighted
}

func NewAnthropicProvider(s Settings) (*AnthropicProvider, error) {
	if s.APIKey == "" {
		return nil, errors.New("anthropic api key required")
	}
	if s.Model == "" {
		return nil, errors.New("anthropic model required")
	}
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}

	return &AnthropicProvider{
		apiKey: s.APIKey,
		settings: types.RequestSettings{
			Model:       s.Model,
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
		},
		prompt:   anthropic.PromptWithSettings,
		inflight: semaphore.NewWeighted(int64(s.MaxConcurrent)),
	}, nil
}

// Complete returns when ctx is done even though the underlying client call cannot be cancelled.
// An abandoned call keeps its in-flight slot until it finishes, so at most MaxConcurrent requests
// are ever open against the API.
func (p *AnthropicProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if err := p.inflight.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for request slot: %w", err)
	}

	type reply struct {
		text string
		err  error
	}

	done := make(chan reply, 1)
	go func() {
		defer p.inflight.Release(1)

		response, err := p.prompt(system, user, "", p.apiKey, p.settings)
		if err != nil {
			done <- reply{err: fmt.Errorf("prompt: %w", err)}
			return
		}
		if response == nil || len(response.Content) == 0 {
			done <- reply{err: errors.New("no content in response")}
			return
		}
		done <- reply{text: response.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (p *AnthropicProvider) Model() string {
	return p.settings.Model
}
