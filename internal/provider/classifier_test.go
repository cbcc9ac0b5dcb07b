// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

func TestClassifier_DefaultPhrasesCaught(t *testing.T) {
	c := NewClassifier(nil, 0)

	bodies := []string{
		`{"error": {"type": "authentication_error", "message": "invalid x-api-key"}}`,
		"You exceeded your current quota, please check your plan and billing details.",
		"Error: Rate limit exceeded. Try again in 20s.",
		"The model is overloaded. Please try again later.",
		"upstream connect error or disconnect/reset before headers",
		"dial tcp 10.0.0.1:443: connection refused",
	}

	for _, body := range bodies {
		matched, phrase := c.IsSoftFailure(body)
		assert.True(t, matched, "body %q should classify as soft failure", body)
		assert.NotEmpty(t, phrase)
	}
}

func TestClassifier_MatchIsCaseInsensitive(t *testing.T) {
	c := NewClassifier(nil, 0)

	matched, phrase := c.IsSoftFailure("INVALID API KEY provided")
	assert.True(t, matched)
	assert.Equal(t, "invalid api key", phrase)
}

func TestClassifier_CleanBodyPasses(t *testing.T) {
	c := NewClassifier(nil, 0)

	matched, phrase := c.IsSoftFailure("Here are three follow-ups for the Acme deal: ...")
	assert.False(t, matched)
	assert.Empty(t, phrase)

	matched, _ = c.IsSoftFailure("")
	assert.False(t, matched)
}

func TestClassifier_OnlyLeadingBytesScanned(t *testing.T) {
	c := NewClassifier(nil, 64)

	// The phrase sits beyond the scan limit: a long legitimate answer
	// that quotes an error message must not be classified as a failure.
	body := strings.Repeat("a", 100) + " quota exceeded"
	matched, _ := c.IsSoftFailure(body)
	assert.False(t, matched)

	// Inside the limit it still matches.
	matched, _ = c.IsSoftFailure("quota exceeded " + strings.Repeat("a", 100))
	assert.True(t, matched)
}

func TestClassifier_CustomPhrases(t *testing.T) {
	c := NewClassifier([]string{"  Custom Outage Marker  ", ""}, 0)

	matched, phrase := c.IsSoftFailure("custom outage marker: please retry")
	assert.True(t, matched)
	assert.Equal(t, "custom outage marker", phrase)

	// Default phrases are replaced, not merged.
	matched, _ = c.IsSoftFailure("quota exceeded")
	assert.False(t, matched)
}

func TestNewClassifierFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	content := "version: 3\nphrases:\n  - \"vendor says no\"\n  - \"try later\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := NewClassifierFromFile(path, 0)
	require.NoError(t, err)

	matched, phrase := c.IsSoftFailure("Vendor says NO to this request")
	assert.True(t, matched)
	assert.Equal(t, "vendor says no", phrase)
	assert.Len(t, c.Phrases(), 2)
}

func TestNewClassifierFromFile_Errors(t *testing.T) {
	_, err := NewClassifierFromFile("/nonexistent/phrases.yaml", 0)
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeConfigLoadReadFailure))

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("version: 1\nphrases: []\n"), 0o600))

	_, err = NewClassifierFromFile(empty, 0)
	require.Error(t, err)
	assert.True(t, pwerr.HasCode(err, pwerr.CodeConfigValidateInvalidValue))
}
