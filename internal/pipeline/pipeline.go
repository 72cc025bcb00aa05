package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phoreus/rpmforge/internal/classify"
)

// Executes the work of a single stage for one package.
//
// RunStage blocks on the external collaborator behind the stage (container
// invocation, network fetch) and returns nil on success or an error whose
// message carries the raw failure signal. A non-nil error halts the
// pipeline; the signal is classified by the pipeline, not the executor.
type StageExecutor interface {
	RunStage(ctx context.Context, stage Stage) error
}

// Outcome of one pipeline stage for one package.
type StageResult struct {
	Stage      Stage             // Stage that produced this result.
	Success    bool              // Whether the stage passed.
	Category   classify.Category // Classified failure category, empty on success.
	Domain     classify.Domain   // Failure domain of the stage.
	Excerpt    string            // Bounded raw-signal excerpt, empty on success.
	StartedAt  time.Time         // When the stage began.
	FinishedAt time.Time         // When the stage returned.
}

// Terminal outcome of one pipeline attempt.
type Outcome struct {
	Succeeded bool          // True when every stage passed.
	Failure   *StageResult  // First failing stage's classified result, nil on success.
	History   []StageResult // Append-only stage history, a strict prefix of the stage order.
}

// Drives the ordered stages for one package.
type Pipeline struct {
	name       string
	executor   StageExecutor
	classifier *classify.Classifier
}

// Creates a pipeline for one package attempt.
func New(name string, executor StageExecutor, classifier *classify.Classifier) *Pipeline {
	return &Pipeline{
		name:       name,
		executor:   executor,
		classifier: classifier,
	}
}

// Runs the stages in order, halting at the first failure.
//
// Every execution path terminates in a classified stage result; no error
// escapes to the caller. A stage aborted by context deadline with no other
// signal is classified as toolchain resource exhaustion; one aborted by
// run cancellation is tagged RunCanceled.
func (p *Pipeline) Run(ctx context.Context) Outcome {
	var history []StageResult

	for _, stage := range Stages {
		result := p.runStage(ctx, stage)
		history = append(history, result)

		if !result.Success {
			slog.Debug("stage failed",
				"package", p.name,
				"stage", stage,
				"category", result.Category,
			)
			failure := history[len(history)-1]
			return Outcome{Failure: &failure, History: history}
		}
	}

	return Outcome{Succeeded: true, History: history}
}

// Runs one stage and classifies its failure signal, if any.
func (p *Pipeline) runStage(ctx context.Context, stage Stage) StageResult {
	started := time.Now()
	err := p.executor.RunStage(ctx, stage)
	finished := time.Now()

	result := StageResult{
		Stage:      stage,
		Domain:     stage.Domain(),
		StartedAt:  started,
		FinishedAt: finished,
	}

	if err == nil {
		result.Success = true
		return result
	}

	classified := p.classifier.Classify(err.Error())

	// A context abort with no recognizable toolchain signal is tagged by
	// its cause rather than Unknown: a deadline is resource exhaustion, a
	// cancellation is the operator ending the run, not a package defect.
	if classified.Category == classify.CategoryUnknown {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			classified.Category = classify.CategoryToolchainResourceExhaustion
		case errors.Is(err, context.Canceled):
			classified.Category = classify.CategoryRunCanceled
		}
	}

	result.Category = classified.Category
	result.Excerpt = classified.Excerpt
	return result
}
