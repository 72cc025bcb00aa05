package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/resolve"
)

// Terminal record for one node.
type NodeResult struct {
	Name    string            `json:"name"`
	Recipe  string            `json:"recipe,omitempty"`
	Version string            `json:"version,omitempty"`
	State   resolve.NodeState `json:"-"`
	Status  string            `json:"status"`

	Jobs    int  `json:"jobs,omitempty"`    // Job count of the final attempt.
	Retried bool `json:"retried,omitempty"` // Whether a serial retry ran.

	Failure    *pipeline.StageResult  `json:"failure,omitempty"`
	History    []pipeline.StageResult `json:"history,omitempty"`
	Diagnostic string                 `json:"diagnostic,omitempty"`
}

// Aggregate outcome of one scheduler invocation.
//
// Results are appended in completion order and never mutated after the
// run finishes; the reporting layer consumes them as-is.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Processed   int                       `json:"processed"`
	Succeeded   int                       `json:"succeeded"`
	Failed      int                       `json:"failed"`
	Quarantined int                       `json:"quarantined"`
	Skipped     int                       `json:"skipped"`
	FailedBy    map[classify.Category]int `json:"failed_by_category"`

	BuildOrder []string     `json:"build_order"` // Dispatch order.
	Results    []NodeResult `json:"results"`     // Completion order.

	SystemicallyInvalid bool           `json:"systemically_invalid"`
	SystemicStage       pipeline.Stage `json:"systemic_stage,omitempty"`
}

func newRunSummary() *RunSummary {
	return &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		FailedBy:  make(map[classify.Category]int),
	}
}

// Appends one terminal node record and updates the counters.
func (s *RunSummary) record(node *resolve.Node, result NodeResult) {
	result.Name = node.Name
	result.Recipe = node.Recipe
	result.Version = node.Version
	result.State = node.State
	result.Status = node.State.String()
	if result.Diagnostic == "" {
		result.Diagnostic = node.Diagnostic
	}
	s.Results = append(s.Results, result)

	switch node.State {
	case resolve.StateSucceeded:
		s.Processed++
		s.Succeeded++
	case resolve.StateFailed:
		s.Processed++
		s.Failed++
		if result.Failure != nil {
			s.FailedBy[result.Failure.Category]++
		} else {
			s.FailedBy[classify.CategoryUnknown]++
		}
	case resolve.StateQuarantined:
		s.Quarantined++
	case resolve.StateSkipped:
		s.Skipped++
	}
}
