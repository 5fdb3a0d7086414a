// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proposer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// chatCompleter is the slice of the OpenAI client the adapter needs.
// Narrowed to an interface so tests can substitute a fake.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the OpenAI proposer adapter.
type OpenAIConfig struct {
	// Model is the chat model to use. Default: gpt-4o-mini.
	Model string

	// SystemPrompt frames the continuation request. Default asks for a
	// single short continuation.
	SystemPrompt string

	// MaxTokens caps each continuation. Default: 8.
	MaxTokens int

	// Temperature for sampling. Default: 1.0 (diverse particles need
	// diverse proposals).
	Temperature float32

	// RequestsPerSecond throttles API calls across all workers.
	// Zero disables throttling.
	RequestsPerSecond float64

	// BatchConcurrency bounds the fan-out of ProposeBatch.
	// Default: 8.
	BatchConcurrency int
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:            openai.GPT4oMini,
		SystemPrompt:     "Continue the text with a single short continuation. Reply with the continuation only.",
		MaxTokens:        8,
		Temperature:      1.0,
		BatchConcurrency: 8,
	}
}

// OpenAI adapts the OpenAI chat-completion API to the Proposer interface.
//
// Each Propose call issues one chat completion conditioned on the
// particle's current sequence. ProposeBatch fans out concurrently under a
// bounded group; the API has no true batch endpoint, so intra-step
// parallelism comes from concurrent requests capped by BatchConcurrency
// and the shared rate limiter.
//
// Thread Safety: Safe for concurrent use.
type OpenAI struct {
	client  chatCompleter
	config  OpenAIConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	requests int64
}

// OpenAIOption configures the OpenAI adapter.
type OpenAIOption func(*OpenAI)

// WithOpenAILogger sets the logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(o *OpenAI) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// withClient substitutes the API client. Test seam.
func withClient(c chatCompleter) OpenAIOption {
	return func(o *OpenAI) {
		o.client = c
	}
}

// NewOpenAI creates an OpenAI-backed proposer.
//
// Inputs:
//   - apiKey: OpenAI API key.
//   - config: Adapter configuration. Zero fields take defaults.
//
// Outputs:
//   - *OpenAI: The proposer.
//   - error: Non-nil when the API key is empty.
func NewOpenAI(apiKey string, config OpenAIConfig, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	defaults := DefaultOpenAIConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaults.SystemPrompt
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = defaults.Temperature
	}
	if config.BatchConcurrency == 0 {
		config.BatchConcurrency = defaults.BatchConcurrency
	}

	o := &OpenAI{
		client: openai.NewClient(apiKey),
		config: config,
		logger: slog.Default(),
	}
	if config.RequestsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Propose requests one continuation for the state.
func (o *OpenAI) Propose(ctx context.Context, state []string) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req := openai.ChatCompletionRequest{
		Model:               o.config.Model,
		Temperature:         o.config.Temperature,
		MaxCompletionTokens: o.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.config.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: strings.Join(state, " ")},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	o.mu.Lock()
	o.requests++
	o.mu.Unlock()

	continuation := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.logger.Debug("proposed continuation",
		slog.Int("state_len", len(state)),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return continuation, nil
}

// ProposeBatch fans the states out concurrently under a bounded group.
// Results stay index-aligned with the inputs.
func (o *OpenAI) ProposeBatch(ctx context.Context, states [][]string) ([]string, error) {
	out := make([]string, len(states))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.BatchConcurrency)

	for i := range states {
		g.Go(func() error {
			tok, err := o.Propose(ctx, states[i])
			if err != nil {
				return fmt.Errorf("state %d: %w", i, err)
			}
			out[i] = tok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Requests returns the number of successful API calls, for diagnostics.
func (o *OpenAI) Requests() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}
