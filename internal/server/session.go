// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/pipewise-hq/pipewise/internal/escalate"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// authorize validates the Authorization header and returns the caller's
// session. Session failures map to 401, anything else to 500. Every
// rejected credential is reported to the escalation sink so a burst of
// auth failures surfaces as an anomaly instead of drowning in logs.
func (s *Server) authorize(ctx context.Context, authHeader string) (Session, error) {
	token := bearerToken(authHeader)
	if token == "" {
		s.reportSessionFailure(string(pwerr.CodeSessionInvalid), "missing bearer token")
		return Session{}, huma.Error401Unauthorized("missing bearer token")
	}

	session, err := s.services.Sessions().ValidateSession(ctx, token)
	if err != nil {
		if pwerr.IsSessionError(err) {
			s.reportSessionFailure(string(pwerr.CodeOf(err)), err.Error())
			return Session{}, huma.Error401Unauthorized("session invalid")
		}
		slog.Error("session validation failed", "error", err)
		return Session{}, huma.Error500InternalServerError("validating session", err)
	}

	return session, nil
}

func (s *Server) reportSessionFailure(code, message string) {
	s.services.Escalations().Report(escalate.Event{
		Category: escalate.CategorySessionError,
		Code:     code,
		Message:  message,
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
