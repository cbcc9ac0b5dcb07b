// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// defaultScanLimit bounds how much of a response body the classifier
// inspects. Provider error envelopes appear at the start of the body;
// scanning the whole text would let legitimate model output that quotes
// an error phrase trip the classifier.
const defaultScanLimit = 2048

// defaultFailurePhrases is the built-in phrase list, used when no
// phrase file is configured. The list is wording observed in real
// provider 200-status error bodies and will drift as vendors change
// their messages; operators override it via a versioned YAML file.
var defaultFailurePhrases = []string{
	"invalid api key",
	"invalid x-api-key",
	"incorrect api key",
	"api key expired",
	"api key not valid",
	"authentication failed",
	"authentication_error",
	"invalid_api_key",
	"quota exceeded",
	"exceeded your current quota",
	"insufficient_quota",
	"rate limit exceeded",
	"rate_limit_error",
	"resource has been exhausted",
	"billing hard limit",
	"service unavailable",
	"upstream connect error",
	"model is overloaded",
	"overloaded_error",
	"connection refused",
	"could not reach the provider",
}

// Classifier detects "transport-successful but semantically failed"
// provider responses by case-insensitive substring match against a
// maintained phrase list.
type Classifier struct {
	phrases   []string
	scanLimit int
}

// phraseFile is the on-disk shape of a versioned phrase list.
type phraseFile struct {
	Version int      `yaml:"version"`
	Phrases []string `yaml:"phrases"`
}

// NewClassifier builds a Classifier from phrases. Empty or blank
// entries are dropped; phrases are lowered once at construction.
// A scanLimit of zero applies the default.
func NewClassifier(phrases []string, scanLimit int) *Classifier {
	if len(phrases) == 0 {
		phrases = defaultFailurePhrases
	}
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}

	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Classifier{phrases: lowered, scanLimit: scanLimit}
}

// NewClassifierFromFile loads the phrase list from a YAML file.
func NewClassifierFromFile(path string, scanLimit int) (*Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeConfigLoadReadFailure, "reading failure phrase file %s", path)
	}

	var pf phraseFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, pwerr.Wrapf(err, pwerr.CodeConfigValidateInvalidValue, "parsing failure phrase file %s", path)
	}
	if len(pf.Phrases) == 0 {
		return nil, pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
			"failure phrase file %s contains no phrases", path)
	}

	return NewClassifier(pf.Phrases, scanLimit), nil
}

// IsSoftFailure reports whether a nominally successful response body is
// actually a provider failure, and which phrase matched. Only the
// leading scanLimit bytes are inspected.
func (c *Classifier) IsSoftFailure(body string) (bool, string) {
	if body == "" {
		return false, ""
	}
	if len(body) > c.scanLimit {
		body = body[:c.scanLimit]
	}
	lowered := strings.ToLower(body)
	for _, phrase := range c.phrases {
		if strings.Contains(lowered, phrase) {
			return true, phrase
		}
	}
	return false, ""
}

// Phrases returns a copy of the active phrase list.
func (c *Classifier) Phrases() []string {
	out := make([]string, len(c.phrases))
	copy(out, c.phrases)
	return out
}
