// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipewise-hq/pipewise/internal/config"
	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/provider/anthropic"
	"github.com/pipewise-hq/pipewise/internal/provider/google"
	"github.com/pipewise-hq/pipewise/internal/provider/openai"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	"github.com/pipewise-hq/pipewise/internal/server"
	"github.com/pipewise-hq/pipewise/internal/store"
	"github.com/pipewise-hq/pipewise/internal/store/sqlite"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
	"github.com/pipewise-hq/pipewise/pkg/health"
)

// app bundles the wired subsystems with their shutdown order.
type app struct {
	cfg      *config.Config
	server   *server.Server
	limiter  *ratelimit.Limiter
	registry *provider.Registry
	sink     *store.AsyncUsageSink
	db       *sqlite.Store
}

// buildApp constructs every subsystem from configuration. Shutdown
// order is the reverse of construction: server, providers, usage sink,
// database.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	registry, trackers, err := buildRegistry(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := syncProviderRecords(ctx, db, registry); err != nil {
		registry.Close()
		db.Close()
		return nil, err
	}

	classifier, err := buildClassifier(cfg)
	if err != nil {
		registry.Close()
		db.Close()
		return nil, err
	}

	sink := store.NewAsyncUsageSink(db, 0)
	executor := provider.NewExecutor(registry, classifier, sink, cfg.Assistant.CallTimeout)

	limiter, err := ratelimit.New(db, rateLimitBuckets(cfg))
	if err != nil {
		sink.Close()
		registry.Close()
		db.Close()
		return nil, err
	}

	reporter := escalate.NewReporter(escalationConfigs(cfg), nil, nil)

	sessions := &tokenSessions{token: cfg.Server.APIToken}
	checker := readiness.NewChecker(
		sessions,
		db,
		&providerConfigCheck{providers: cfg.Providers},
		&registryProbe{registry: registry},
		cfg.Assistant.ReadinessTTL,
	)

	srv, err := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IPGuard: server.IPGuardConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
			MaxVisitors:       cfg.Server.MaxTrackedIPs,
		},
	})
	if err != nil {
		sink.Close()
		registry.Close()
		db.Close()
		return nil, err
	}

	svc, err := server.NewServices(
		sessions,
		checker,
		executor,
		limiter,
		&dealsFileSource{path: cfg.Assistant.DealsFile},
		reporter,
		&healthService{registry: registry, trackers: trackers},
	)
	if err != nil {
		sink.Close()
		registry.Close()
		db.Close()
		return nil, err
	}
	srv.RegisterServices(svc)

	return &app{
		cfg:      cfg,
		server:   srv,
		limiter:  limiter,
		registry: registry,
		sink:     sink,
		db:       db,
	}, nil
}

// close shuts the app down in reverse construction order. The server is
// stopped separately by cancelling its Start context.
func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		slog.Warn("closing providers", "error", err)
	}
	a.sink.Close()
	if err := a.db.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}

func buildRegistry(cfg *config.Config) (*provider.Registry, map[provider.Kind]*provider.HealthTracker, error) {
	registry := provider.NewRegistry()
	trackers := make(map[provider.Kind]*provider.HealthTracker)

	if pc, ok := cfg.Providers["anthropic"]; ok && pc.APIKey != "" {
		p, err := anthropic.New(anthropic.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		trackers[provider.KindAnthropic] = p.HealthTracker()
	}
	if pc, ok := cfg.Providers["openai"]; ok && pc.APIKey != "" {
		p, err := openai.New(openai.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		trackers[provider.KindOpenAI] = p.HealthTracker()
	}
	if pc, ok := cfg.Providers["google"]; ok && pc.APIKey != "" {
		p, err := google.New(google.Config{APIKey: pc.APIKey})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		trackers[provider.KindGoogle] = p.HealthTracker()
	}

	return registry, trackers, nil
}

// syncProviderRecords mirrors the registered providers into the
// provider config snapshot the readiness checker reads.
func syncProviderRecords(ctx context.Context, db *sqlite.Store, registry *provider.Registry) error {
	for _, kind := range provider.Kinds() {
		rec := provider.Record{ID: string(kind), Kind: kind}
		if _, ok := registry.Get(kind); ok {
			rec.Active = true
		}
		if err := db.UpsertProvider(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func buildClassifier(cfg *config.Config) (*provider.Classifier, error) {
	if cfg.Assistant.FailurePhraseFile != "" {
		return provider.NewClassifierFromFile(cfg.Assistant.FailurePhraseFile, cfg.Assistant.PhraseScanLimit)
	}
	return provider.NewClassifier(nil, cfg.Assistant.PhraseScanLimit), nil
}

func rateLimitBuckets(cfg *config.Config) map[string]ratelimit.BucketConfig {
	buckets := make(map[string]ratelimit.BucketConfig, len(cfg.RateLimits))
	for name, bc := range cfg.RateLimits {
		buckets[name] = ratelimit.BucketConfig{
			WindowSeconds: bc.WindowSeconds,
			Max:           bc.Max,
		}
	}
	return buckets
}

func escalationConfigs(cfg *config.Config) map[escalate.Category]escalate.CategoryConfig {
	configs := escalate.DefaultConfigs()
	for name, ec := range cfg.Escalation.Categories {
		configs[escalate.Category(name)] = escalate.CategoryConfig{
			Window:                  ec.Window,
			MaxPerWindow:            ec.MaxPerWindow,
			DistinctCodesToEscalate: ec.DistinctCodesToEscalate,
		}
	}
	return configs
}

// tokenSessions validates bearer tokens against the configured API
// token. It backs both the per-request session check and the readiness
// session stage.
type tokenSessions struct {
	token string
}

var (
	_ server.SessionService      = (*tokenSessions)(nil)
	_ readiness.SessionValidator = (*tokenSessions)(nil)
)

func (t *tokenSessions) ValidateSession(_ context.Context, token string) (server.Session, error) {
	if t.token == "" {
		// Development mode: any non-empty bearer token identifies the
		// caller.
		return server.Session{Subject: token}, nil
	}
	if token != t.token {
		return server.Session{}, pwerr.New(pwerr.CodeSessionInvalid, "bearer token rejected")
	}
	return server.Session{Subject: "default"}, nil
}

// CheckSession reports the service-level session health. Per-request
// token validation happens in the HTTP layer; here a session is valid
// as long as the service has a workable auth configuration.
func (t *tokenSessions) CheckSession(_ context.Context) (readiness.SessionResult, error) {
	return readiness.SessionResult{OK: true}, nil
}

// providerConfigCheck validates the shape of the configured providers
// for the readiness config stage.
type providerConfigCheck struct {
	providers map[string]config.ProviderConfig
}

var _ readiness.ConfigChecker = (*providerConfigCheck)(nil)

func (c *providerConfigCheck) CheckConfig(_ context.Context) (readiness.ConfigResult, error) {
	for name, pc := range c.providers {
		if pc.APIKey == "" {
			return readiness.ConfigResult{
				OK:      false,
				Code:    string(pwerr.CodeConfigValidateInvalidValue),
				Message: "provider " + name + " has no api key",
			}, nil
		}
	}
	return readiness.ConfigResult{OK: true}, nil
}

// registryProbe derives the readiness health stage from current
// provider availability.
type registryProbe struct {
	registry *provider.Registry
}

var _ readiness.HealthProbe = (*registryProbe)(nil)

func (p *registryProbe) HealthCheck(ctx context.Context) (health.ProbeResult, error) {
	records := p.registry.Records(ctx)

	available := 0
	for _, rec := range records {
		if rec.Active {
			available++
		}
	}

	switch {
	case len(records) == 0:
		return health.ProbeResult{OK: false, Message: "no providers registered"}, nil
	case available == 0:
		return health.ProbeResult{OK: false, Message: "all providers cooling down"}, nil
	case available < len(records):
		return health.ProbeResult{OK: true, Degraded: true, Message: "some providers cooling down"}, nil
	}
	return health.ProbeResult{OK: true}, nil
}

// healthService exposes per-provider health metrics for the providers
// endpoint.
type healthService struct {
	registry *provider.Registry
	trackers map[provider.Kind]*provider.HealthTracker
}

var _ server.ProviderHealthService = (*healthService)(nil)

func (h *healthService) ProviderHealth(_ context.Context) ([]server.ProviderHealthEntry, error) {
	entries := make([]server.ProviderHealthEntry, 0, len(h.trackers))
	for _, kind := range provider.Kinds() {
		tracker, ok := h.trackers[kind]
		if !ok {
			continue
		}
		entries = append(entries, server.ProviderHealthEntry{
			Provider: kind,
			Metrics:  tracker.Metrics(),
		})
	}
	return entries, nil
}

// dealsFileSource reads open pipeline deals from a YAML file. The real
// deal pipeline lives in the wider product; the assistant service only
// needs a read path for fallback plans.
type dealsFileSource struct {
	path string
}

var _ server.DealSource = (*dealsFileSource)(nil)

type dealsFile struct {
	Deals []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Stage       string `yaml:"stage"`
		DaysInStage int    `yaml:"days_in_stage"`
		ValueCents  int64  `yaml:"value_cents"`
	} `yaml:"deals"`
}

func (s *dealsFileSource) ListOpenDeals(_ context.Context) ([]plan.Deal, error) {
	if s.path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeConfigLoadReadFailure, "reading deals file %s", s.path)
	}

	var df dealsFile
	if err := yaml.Unmarshal(raw, &df); err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeConfigValidateInvalidValue, "parsing deals file %s", s.path)
	}

	deals := make([]plan.Deal, 0, len(df.Deals))
	for _, d := range df.Deals {
		deals = append(deals, plan.Deal{
			ID:          d.ID,
			Name:        d.Name,
			Stage:       plan.Stage(d.Stage),
			DaysInStage: d.DaysInStage,
			ValueCents:  d.ValueCents,
		})
	}
	return deals, nil
}
