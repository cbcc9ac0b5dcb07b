// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// ValidateKey makes a lightweight HTTP call to the provider's models
// endpoint to confirm the API key is valid. Used by the readiness
// configuration check and the status command.
func ValidateKey(ctx context.Context, client *http.Client, kind Kind, key string) error {
	url, headers, err := keyCheckRequest(kind, key)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pwerr.Wrapf(err, pwerr.CodeProviderUpstreamFailure, "building key validation request for %s", kind)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return pwerr.Wrapf(err, pwerr.CodeProviderUpstreamFailure, "validating %s key", kind)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return pwerr.Errorf(pwerr.CodeProviderCredentialInvalid, "invalid %s API key (HTTP %d)", kind, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return pwerr.Errorf(pwerr.CodeProviderUpstreamFailure, "%s key validation failed (HTTP %d)", kind, resp.StatusCode)
	}

	return nil
}

func keyCheckRequest(kind Kind, key string) (url string, headers map[string]string, err error) {
	switch kind {
	case KindAnthropic:
		return "https://api.anthropic.com/v1/models", map[string]string{
			"x-api-key":         key,
			"anthropic-version": "2023-06-01",
		}, nil
	case KindOpenAI:
		return "https://api.openai.com/v1/models", map[string]string{
			"Authorization": "Bearer " + key,
		}, nil
	case KindGoogle:
		// Google's Generative Language API authenticates via query
		// parameter; there is no header-based alternative. The key will
		// appear in HTTP proxy/CDN access logs.
		return "https://generativelanguage.googleapis.com/v1/models?key=" + key, nil, nil
	default:
		return "", nil, pwerr.Errorf(pwerr.CodeProviderRequestInvalid, "unknown provider kind: %s", kind)
	}
}
