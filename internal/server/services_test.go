// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewise-hq/pipewise/internal/server"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

func TestNewServices_Valid(t *testing.T) {
	svc, err := server.NewServices(&stubSessions{}, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, &recordingEscalations{})
	require.NoError(t, err)
	assert.NotNil(t, svc.Sessions())
	assert.NotNil(t, svc.Readiness())
	assert.NotNil(t, svc.Runner())
	assert.NotNil(t, svc.Limiter())
	assert.NotNil(t, svc.Deals())
	assert.NotNil(t, svc.Escalations())
	assert.Nil(t, svc.Providers())
}

func TestNewServices_OptionalHealthService(t *testing.T) {
	svc, err := server.NewServices(&stubSessions{}, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, &recordingEscalations{}, &stubProviderHealth{})
	require.NoError(t, err)
	assert.NotNil(t, svc.Providers())
}

func TestNewServices_RequiredServiceMissing(t *testing.T) {
	_, err := server.NewServices(nil, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, &recordingEscalations{})
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeServerConfigInvalid))

	_, err = server.NewServices(&stubSessions{}, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, nil)
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeServerConfigInvalid))
}

func TestNewServices_AtMostOneHealthService(t *testing.T) {
	_, err := server.NewServices(&stubSessions{}, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, &recordingEscalations{},
		&stubProviderHealth{}, &stubProviderHealth{})
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeServerConfigInvalid))
}

func TestNewServer_RequiresListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}
