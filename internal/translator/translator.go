// Package translator turns an English story title, and optionally the article body, into a
// Chinese title, summary, category and tags.
package translator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"news_enricher/internal/config"
	"news_enricher/internal/domain"
)

type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Options struct {
	SystemPrompt       string
	UserPromptTemplate string
	FetchContent       bool
	// Timeout bounds the model call alone; zero leaves it to the caller's context.
	Timeout time.Duration
}

type Translator struct {
	provider     Provider
	fetcher      ContentFetcher
	systemPrompt string
	userTemplate string
	fetchContent bool
	timeout      time.Duration
	logger       *slog.Logger
}

func NewTranslator(provider Provider, fetcher ContentFetcher, opts Options, logger *slog.Logger) *Translator {
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(opts.UserPromptTemplate) == "" {
		opts.UserPromptTemplate = DefaultUserPromptTemplate
	}

	return &Translator{
		provider:     provider,
		fetcher:      fetcher,
		systemPrompt: opts.SystemPrompt,
		userTemplate: opts.UserPromptTemplate,
		fetchContent: opts.FetchContent && fetcher != nil,
		timeout:      opts.Timeout,
		logger:       logger.With("component", "translator", "model", provider.Model()),
	}
}

// New builds a Translator for the configured provider.
func New(cfg config.TranslatorConfig, fetcher ContentFetcher, logger *slog.Logger) (*Translator, error) {
	settings := Settings{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Model:         cfg.Model,
		Temperature:   cfg.SamplingTemperature(),
		MaxTokens:     cfg.MaxTokens,
		MaxConcurrent: cfg.MaxConcurrent,
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = NewOpenAIProvider(settings)
	case "anthropic":
		provider, err = NewAnthropicProvider(settings)
	default:
		err = fmt.Errorf("unsupported translator provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewTranslator(provider, fetcher, Options{
		SystemPrompt:       cfg.SystemPrompt,
		UserPromptTemplate: cfg.UserPromptTemplate,
		FetchContent:       cfg.ShouldFetchContent(),
		Timeout:            cfg.Timeout,
	}, logger), nil
}

func (t *Translator) Model() string {
	return t.provider.Model()
}

// Translate never fails because the article could not be fetched; it then works from the
// title alone. Model errors are returned.
func (t *Translator) Translate(ctx context.Context, title, sourceURL string) (*domain.EnrichmentResult, error) {
	var body string
	if sourceURL != "" && t.fetchContent {
		content, err := t.fetcher.Fetch(ctx, sourceURL)
		if err != nil {
			t.logger.Warn("content fetch failed, translating title only",
				"url", sourceURL,
				"error", err,
			)
		} else {
			body = strings.TrimSpace(content)
		}
	}

	prompt := renderPrompt(t.userTemplate, title, urlInfo(sourceURL, body))

	completeCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		completeCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	reply, err := t.provider.Complete(completeCtx, t.systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("complete with %s: %w", t.provider.Model(), err)
	}

	result := parseResponse(reply, title)
	if body != "" {
		result.BodyContent = &body
	}

	t.logger.Debug("translated story",
		"title", title,
		"translated_title", result.TranslatedTitle,
		"with_body", body != "",
	)

	return &result, nil
}
