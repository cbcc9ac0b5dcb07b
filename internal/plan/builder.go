// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

// Package plan synthesizes a rule-based action plan from the caller's
// own pipeline data. It is the substitute result when every upstream
// provider is unavailable: no model call, no randomness, identical
// output for identical input.
package plan

import (
	"fmt"
	"sort"
	"time"
)

// Deal is the caller-supplied view of one open pipeline record.
type Deal struct {
	ID          string
	Name        string
	Stage       Stage
	DaysInStage int
	ValueCents  int64
}

// Stage is a pipeline stage name.
type Stage string

const (
	StageLead        Stage = "lead"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageClosing     Stage = "closing"
)

// staleThresholds is the per-stage number of days after which a deal
// counts as stalled. Later stages tolerate less idle time.
var staleThresholds = map[Stage]int{
	StageLead:        14,
	StageQualified:   10,
	StageProposal:    7,
	StageNegotiation: 5,
	StageClosing:     3,
}

// defaultStaleThreshold applies to unknown stages.
const defaultStaleThreshold = 7

// Task is one ordered action item in a plan.
type Task struct {
	Priority    int    `json:"priority"`
	Action      string `json:"action"`
	ReferenceID string `json:"referenceId,omitempty"`
}

// Plan is the fixed-shape fallback result.
type Plan struct {
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generatedAt"`
	Tasks       []Task    `json:"tasks"`
}

// Build produces a plan from the open deals. It is total: zero input
// deals still yield a non-empty summary and a non-nil (possibly empty)
// task list. Output ordering is fully deterministic: priority first,
// then stalest, then ID.
func Build(deals []Deal, now time.Time) Plan {
	var stalled, closing []Deal
	for _, d := range deals {
		threshold, ok := staleThresholds[d.Stage]
		if !ok {
			threshold = defaultStaleThreshold
		}
		switch {
		case d.DaysInStage > threshold:
			stalled = append(stalled, d)
		case d.Stage == StageNegotiation || d.Stage == StageClosing:
			closing = append(closing, d)
		}
	}

	tasks := make([]Task, 0, len(stalled)+len(closing))
	for _, d := range stalled {
		tasks = append(tasks, Task{
			Priority:    1,
			Action:      fmt.Sprintf("Follow up on %q: no movement for %d days in %s", d.Name, d.DaysInStage, d.Stage),
			ReferenceID: d.ID,
		})
	}
	for _, d := range closing {
		tasks = append(tasks, Task{
			Priority:    2,
			Action:      fmt.Sprintf("Push %q toward close: currently in %s", d.Name, d.Stage),
			ReferenceID: d.ID,
		})
	}

	sortTasks(tasks, deals)

	return Plan{
		Summary:     summarize(len(deals), len(stalled), len(closing)),
		GeneratedAt: now.UTC(),
		Tasks:       tasks,
	}
}

func sortTasks(tasks []Task, deals []Deal) {
	days := make(map[string]int, len(deals))
	for _, d := range deals {
		days[d.ID] = d.DaysInStage
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if days[tasks[i].ReferenceID] != days[tasks[j].ReferenceID] {
			return days[tasks[i].ReferenceID] > days[tasks[j].ReferenceID]
		}
		return tasks[i].ReferenceID < tasks[j].ReferenceID
	})
}

func summarize(total, stalled, closing int) string {
	if total == 0 {
		return "No open deals need attention right now."
	}
	if stalled == 0 && closing == 0 {
		return fmt.Sprintf("Reviewed %d open deals; everything is moving at a healthy pace.", total)
	}
	return fmt.Sprintf("Reviewed %d open deals: %d stalled and %d near close need attention.", total, stalled, closing)
}
