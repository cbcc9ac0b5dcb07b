// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/pipewise-hq/pipewise/internal/provider"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// defaultModel is used when the task request does not pin a model.
const defaultModel = "gpt-4.1"

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider implements provider.Provider using the OpenAI Chat Completions API.
type Provider struct {
	client openaisdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new OpenAI provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "openai: missing api_key in config", pwerr.FieldProvider("openai"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: openaisdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindOpenAI }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// HealthTracker exposes the underlying tracker for metrics snapshots.
func (p *Provider) HealthTracker() *provider.HealthTracker { return p.health }

func (p *Provider) Run(ctx context.Context, req provider.TaskRequest) (<-chan provider.TaskEvent, error) {
	params := buildParams(req)

	eventCh := make(chan provider.TaskEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamTask(ctx, params, eventCh)
	}()

	return eventCh, nil
}

func (p *Provider) Close() error { return nil }

// buildParams converts a provider.TaskRequest into OpenAI SDK ChatCompletionNewParams.
func buildParams(req provider.TaskRequest) openaisdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var msgs []openaisdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}

	return params
}

// streamTask runs the streaming loop, converting SDK chunks into provider.TaskEvent values.
func (p *Provider) streamTask(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.TaskEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- provider.TaskEvent{
					Type: provider.EventTypeTextDelta,
					Text: choice.Delta.Content,
				}
			}
		}

		// Usage chunk (typically last chunk with stream_options.include_usage).
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ch <- provider.TaskEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				},
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		ch <- provider.TaskEvent{
			Type:  provider.EventTypeError,
			Error: err.Error(),
		}
		return
	}

	p.health.RecordSuccess()
	ch <- provider.TaskEvent{Type: provider.EventTypeDone}
}
