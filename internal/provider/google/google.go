// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package google

import (
	"context"

	"google.golang.org/genai"

	"github.com/pipewise-hq/pipewise/internal/provider"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// defaultModel is used when the task request does not pin a model.
const defaultModel = "gemini-2.5-flash"

// Config holds Google provider configuration.
type Config struct {
	APIKey string
}

// Compile-time interface check.
var _ provider.Provider = (*Provider)(nil)

// Provider implements provider.Provider using the Google Gemini API.
type Provider struct {
	client *genai.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, pwerr.New(pwerr.CodeProviderRequestInvalid, "google: missing api_key in config", pwerr.FieldProvider("google"))
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	health, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: client,
		config: cfg,
		health: health,
	}, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindGoogle }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

// HealthTracker exposes the underlying tracker for metrics snapshots.
func (p *Provider) HealthTracker() *provider.HealthTracker { return p.health }

func (p *Provider) Run(ctx context.Context, req provider.TaskRequest) (<-chan provider.TaskEvent, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: req.Prompt},
			},
		},
	}

	config := buildConfig(req)

	eventCh := make(chan provider.TaskEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamTask(ctx, model, contents, config, eventCh)
	}()

	return eventCh, nil
}

func (p *Provider) Close() error { return nil }

// buildConfig converts a provider.TaskRequest into a genai.GenerateContentConfig.
func buildConfig(req provider.TaskRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Temperature)
	}

	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.SystemPrompt},
			},
		}
	}

	return cfg
}

// streamTask runs the streaming loop, converting SDK responses into provider.TaskEvent values.
func (p *Provider) streamTask(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.TaskEvent,
) {
	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			p.health.RecordFailure()
			ch <- provider.TaskEvent{
				Type:  provider.EventTypeError,
				Error: err.Error(),
			}
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					ch <- provider.TaskEvent{
						Type: provider.EventTypeTextDelta,
						Text: part.Text,
					}
				}
			}
		}

		if result.UsageMetadata != nil {
			ch <- provider.TaskEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:  int(result.UsageMetadata.PromptTokenCount),
					OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
				},
			}
		}
	}

	p.health.RecordSuccess()
	ch <- provider.TaskEvent{Type: provider.EventTypeDone}
}
