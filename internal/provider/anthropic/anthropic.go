// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package anthropic

import (
	"context"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pipewise-hq/pipewise/internal/provider"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// defaultModel is used when the task request does not pin a model.
const defaultModel = "claude-sonnet-4-5"

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config", pwerr.FieldProvider("anthropic"))
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
		client: anthropicsdk.NewClient(opts...),
		config: cfg,
		health: health,
	}, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindAnthropic }

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

// buildParams converts a provider.TaskRequest into Anthropic SDK MessageNewParams.
func buildParams(req provider.TaskRequest) anthropicsdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropicsdk.MessageNewParams{
		Model: anthropicsdk.Model(model),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Temperature))
	}

	return params
}

// streamTask runs the streaming loop, converting SDK events into provider.TaskEvent values.
func (p *Provider) streamTask(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.TaskEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" {
				ch <- provider.TaskEvent{
					Type: provider.EventTypeTextDelta,
					Text: event.Delta.Text,
				}
			}

		case "message_delta":
			// message_delta carries final usage info
			ch <- provider.TaskEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(event.Usage.InputTokens),
					OutputTokens: int(event.Usage.OutputTokens),
				},
			}

		case "message_start":
			if event.Message.Usage.InputTokens > 0 || event.Message.Usage.OutputTokens > 0 {
				ch <- provider.TaskEvent{
					Type: provider.EventTypeUsage,
					Usage: &provider.Usage{
						InputTokens:  int(event.Message.Usage.InputTokens),
						OutputTokens: int(event.Message.Usage.OutputTokens),
					},
				}
			}

		case "message_stop":
			p.health.RecordSuccess()
			ch <- provider.TaskEvent{Type: provider.EventTypeDone}
			return
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

	// If we exit the loop without a message_stop, still send done.
	p.health.RecordSuccess()
	ch <- provider.TaskEvent{Type: provider.EventTypeDone}
}
