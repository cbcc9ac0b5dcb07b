// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/config"
	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "pipewise.db")
	return cfg
}

func TestBuildApp(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {APIKey: "sk-ant-test"},
	}

	application, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer application.close()

	assert.NotNil(t, application.server)
	assert.NotNil(t, application.limiter)
	assert.NotNil(t, application.registry)
	assert.NotNil(t, application.sink)
	assert.NotNil(t, application.db)

	// The registered provider is mirrored into the provider snapshot
	// the readiness checker reads.
	recs, err := application.db.ListActiveProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "anthropic", recs[0].ID)
}

func TestBuildApp_NoProviders(t *testing.T) {
	cfg := testConfig(t)

	application, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer application.close()

	recs, err := application.db.ListActiveProviders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestBuildApp_IPGuardEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 2

	application, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer application.close()

	handler := application.server.Handler()
	status := func() int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.7:41000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// The configured rate and burst reach the transport guard: the
	// burst passes, the next request from the same IP is throttled.
	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusTooManyRequests, status())
}

func TestApp_GracefulShutdown(t *testing.T) {
	cfg := testConfig(t)

	application, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer application.close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = application.server.Start(ctx)
	assert.NoError(t, err)
}

func TestTokenSessions_DevMode(t *testing.T) {
	sessions := &tokenSessions{}

	session, err := sessions.ValidateSession(context.Background(), "any-token")
	require.NoError(t, err)
	assert.Equal(t, "any-token", session.Subject)
}

func TestTokenSessions_ConfiguredToken(t *testing.T) {
	sessions := &tokenSessions{token: "secret"}

	session, err := sessions.ValidateSession(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "default", session.Subject)

	_, err = sessions.ValidateSession(context.Background(), "wrong")
	require.Error(t, err)
	assert.True(t, pwerr.IsSessionError(err))
}

func TestDealsFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
deals:
  - id: d1
    name: Acme expansion
    stage: negotiation
    days_in_stage: 9
    value_cents: 4500000
  - id: d2
    name: Globex renewal
    stage: closing
    days_in_stage: 1
`), 0o600))

	src := &dealsFileSource{path: path}
	deals, err := src.ListOpenDeals(context.Background())
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.Equal(t, "d1", deals[0].ID)
	assert.Equal(t, plan.StageNegotiation, deals[0].Stage)
	assert.Equal(t, int64(4500000), deals[0].ValueCents)
	assert.Equal(t, 1, deals[1].DaysInStage)
}

func TestDealsFileSource_EmptyPath(t *testing.T) {
	src := &dealsFileSource{}
	deals, err := src.ListOpenDeals(context.Background())
	require.NoError(t, err)
	assert.Nil(t, deals)
}

func TestDealsFileSource_MissingFile(t *testing.T) {
	src := &dealsFileSource{path: "/nonexistent/deals.yaml"}
	_, err := src.ListOpenDeals(context.Background())
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeConfigLoadReadFailure))
}

func TestEscalationConfigs_MergesOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Escalation.Categories = map[string]config.EscalationCategoryConfig{
		"session_error": {Window: time.Minute, MaxPerWindow: 2, DistinctCodesToEscalate: 1},
	}

	configs := escalationConfigs(cfg)

	// Overridden category takes the configured values.
	assert.Equal(t, time.Minute, configs[escalate.CategorySessionError].Window)
	assert.Equal(t, 2, configs[escalate.CategorySessionError].MaxPerWindow)
	// Untouched categories keep their defaults.
	assert.Equal(t, escalate.DefaultConfigs()[escalate.CategoryBlankState], configs[escalate.CategoryBlankState])
}
