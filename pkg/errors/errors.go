// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeSessionInvalid Code = "session.check.invalid"
	CodeSessionExpired Code = "session.check.expired"

	CodeReadinessDisabled    Code = "readiness.assistant.disabled"
	CodeReadinessNotReady    Code = "readiness.assistant.not_ready"
	CodeReadinessCheckFailed Code = "readiness.check.failure"

	CodeProviderRequestInvalid    Code = "provider.request.invalid"
	CodeProviderCredentialInvalid Code = "provider.credential.invalid"
	CodeProviderQuotaExceeded     Code = "provider.quota.exceeded"
	CodeProviderTransientFailure  Code = "provider.call.timeout"
	CodeProviderUpstreamFailure   Code = "provider.upstream.failure"
	CodeProviderSoftFailure       Code = "provider.response.soft_failure"
	CodeProviderNotConfigured     Code = "provider.registry.not_configured"
	CodeProviderChainEmpty        Code = "provider.chain.empty"
	CodeProviderAllFailed         Code = "provider.chain.exhausted"
	CodeProviderUnknownTask       Code = "provider.task.unknown"

	CodeRateLimitExceeded     Code = "ratelimit.window.exceeded"
	CodeRateLimitStoreFailure Code = "ratelimit.store.failure"

	CodeUsageAppendFailure Code = "usage.log.append.failure"

	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreInvalidInput    Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerAuthUnauthorized Code = "server.auth.unauthorized"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeServerStartFailure     Code = "server.start.failure"
	CodeServerConfigInvalid    Code = "server.config.invalid"

	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIServiceNotRunning Code = "cli.service.not_running"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldSubject(value string) Attr {
	return Field("subject", value)
}

func FieldBucket(value string) Attr {
	return Field("bucket", value)
}

func FieldTask(value string) Attr {
	return Field("task", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsSessionError(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "session.")
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUnauthorized(err error) bool {
	r := reason(CodeOf(err))
	return r == "unauthorized" || r == "forbidden" || r == "denied"
}

func IsRateLimited(err error) bool {
	return HasCode(err, CodeRateLimitExceeded)
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsRetryable reports whether a provider failure may be retried against
// a different provider in the same chain pass. Credential and quota
// failures never retry.
func IsRetryable(err error) bool {
	return HasCode(err, CodeProviderTransientFailure)
}

func IsInfrastructure(err error) bool {
	code := CodeOf(err)
	return code == CodeRateLimitStoreFailure || code == CodeStoreDatabaseFailure || code == CodeServerInternalFailure
}

// HTTPStatus maps an error to a transport status. Chain exhaustion is
// deliberately absent here: it travels as a structured payload inside a
// 200 response, never as a status code.
func HTTPStatus(err error) int {
	switch {
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsSessionError(err), IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
