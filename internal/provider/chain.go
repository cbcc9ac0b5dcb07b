// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package provider

import (
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// taskAffinity is the hand-tuned per-task provider ordering. Coaching
// leans on the vendor strongest at long-context reasoning; planning and
// analysis lean on constrained structured output; chart generation
// leans on the vendor with the best figure/JSON fidelity. TaskDefault
// is the global order used for unrecognized categories.
var taskAffinity = map[TaskCategory][]Kind{
	TaskGeneral:  {KindAnthropic, KindOpenAI, KindGoogle},
	TaskPlanning: {KindOpenAI, KindAnthropic, KindGoogle},
	TaskCoaching: {KindAnthropic, KindGoogle, KindOpenAI},
	TaskAnalysis: {KindOpenAI, KindGoogle, KindAnthropic},
	TaskChart:    {KindGoogle, KindOpenAI, KindAnthropic},
	TaskDefault:  {KindAnthropic, KindOpenAI, KindGoogle},
}

// ValidateAffinity checks that the affinity table covers the full
// TaskCategory domain and that every entry is a complete, duplicate-free
// ordering of the supported kinds. Called from init so a gap is a
// construction-time error rather than a silent default at request time.
func ValidateAffinity() error {
	for _, task := range TaskCategories() {
		order, ok := taskAffinity[task]
		if !ok {
			return pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"task affinity table missing category %q", task)
		}
		if len(order) != len(Kinds()) {
			return pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
				"task affinity for %q must rank all %d providers, got %d", task, len(Kinds()), len(order))
		}
		seen := make(map[Kind]bool, len(order))
		for _, kind := range order {
			if !kind.Valid() {
				return pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
					"task affinity for %q references unknown provider kind %q", task, kind)
			}
			if seen[kind] {
				return pwerr.Errorf(pwerr.CodeConfigValidateInvalidValue,
					"task affinity for %q lists provider %q twice", task, kind)
			}
			seen[kind] = true
		}
	}
	return nil
}

func init() {
	if err := ValidateAffinity(); err != nil {
		panic(err)
	}
}

// BuildChain computes the ordered provider attempt sequence for one
// request: the task's affinity order filtered to the kinds present and
// active in the record snapshot, de-duplicated. An empty chain is a
// valid output meaning no provider is connected, not an error.
func BuildChain(task TaskCategory, records []Record) []Kind {
	active := make(map[Kind]bool, len(records))
	for _, rec := range records {
		if rec.Active && rec.Kind.Valid() {
			active[rec.Kind] = true
		}
	}

	order := taskAffinity[task.Normalize()]

	chain := make([]Kind, 0, len(order))
	seen := make(map[Kind]bool, len(order))
	for _, kind := range order {
		if active[kind] && !seen[kind] {
			chain = append(chain, kind)
			seen[kind] = true
		}
	}
	return chain
}
