// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	"github.com/pipewise-hq/pipewise/internal/plan"
	"github.com/pipewise-hq/pipewise/internal/provider"
	"github.com/pipewise-hq/pipewise/internal/ratelimit"
	"github.com/pipewise-hq/pipewise/internal/readiness"
	"github.com/pipewise-hq/pipewise/internal/server"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts
// the OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	// No-op service stubs so all routes register for schema discovery.
	// Handlers are never invoked during spec generation.
	svc, err := server.NewServices(&stubSessions{}, &stubReadiness{}, &stubRunner{},
		&stubLimiter{}, &stubDeals{}, &stubEscalations{})
	if err != nil {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "building services: %w", err)
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, pwerr.Errorf(pwerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op service stubs for spec generation. Methods are never called.

type stubSessions struct{}

func (s *stubSessions) ValidateSession(context.Context, string) (server.Session, error) {
	return server.Session{}, nil
}

type stubReadiness struct{}

func (s *stubReadiness) Check(context.Context) (readiness.Snapshot, error) {
	return readiness.Snapshot{}, nil
}

type stubRunner struct{}

func (s *stubRunner) Run(context.Context, provider.TaskRequest, []provider.Kind, provider.RunOptions) (provider.Outcome, error) {
	return provider.Outcome{}, nil
}

type stubLimiter struct{}

func (s *stubLimiter) Allow(context.Context, string, string, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, nil
}

type stubDeals struct{}

func (s *stubDeals) ListOpenDeals(context.Context) ([]plan.Deal, error) { return nil, nil }

type stubEscalations struct{}

func (s *stubEscalations) Report(escalate.Event) escalate.Outcome { return escalate.Outcome{} }
