package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/resolve"
	"github.com/phoreus/rpmforge/internal/stability"
)

// Runs the full pipeline for one node at the given make job count and
// returns its classified outcome.
type BuildFunc func(ctx context.Context, node *resolve.Node, jobs int) pipeline.Outcome

// Absorbs externally queued package requests into the running graph.
// Called between dispatches; an error is logged, not fatal.
type IntakeFunc func(ctx context.Context, g *resolve.Graph) error

// Scheduler tuning.
type Config struct {
	Workers int  // Bounded worker slots, minimum 1.
	Jobs    int  // Parallel make jobs for first attempts, minimum 1.
	Serial  bool // Pin every attempt to one job, no retry.

	GuardMinSample int     // Nodes processed before the guard evaluates.
	GuardThreshold float64 // Terminal-failure fraction that trips the guard.

	Intake IntakeFunc // Optional forwarded-request drain hook.
}

// Dispatches ready nodes of a dependency graph over bounded workers.
type Scheduler struct {
	build     BuildFunc
	stability *stability.Store
	cfg       Config
}

// Creates a scheduler. The stability store may be nil, in which case
// every first attempt runs at the configured job count.
func New(build BuildFunc, store *stability.Store, cfg Config) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	return &Scheduler{build: build, stability: store, cfg: cfg}
}

// Completion message from one worker.
type nodeDone struct {
	node    *resolve.Node
	outcome pipeline.Outcome
	jobs    int
	retried bool
}

// Executes the graph to completion and returns the run summary.
//
// Node states are mutated only here, in the coordinator loop; workers
// communicate exclusively through the completion channel. Dispatch stops
// when the systemic failure guard fires or the context is canceled, but
// in-flight nodes always run to completion.
func (s *Scheduler) Run(ctx context.Context, g *resolve.Graph) (*RunSummary, error) {
	summary := newRunSummary()
	gd := newGuard(s.cfg.GuardMinSample, s.cfg.GuardThreshold)

	done := make(chan nodeDone)
	running := 0
	recorded := make(map[*resolve.Node]bool)

	for {
		if s.cfg.Intake != nil && !gd.fired && ctx.Err() == nil {
			if err := s.cfg.Intake(ctx, g); err != nil {
				slog.Warn("request intake failed", "error", err)
			}
		}

		propagateSkips(g)
		for _, n := range g.Nodes {
			if n.State.Terminal() && !recorded[n] {
				recorded[n] = true
				summary.record(n, NodeResult{})
			}
		}

		halted := gd.fired || ctx.Err() != nil
		if !halted {
			for _, n := range g.Nodes {
				if running >= s.cfg.Workers {
					break
				}
				if n.State != resolve.StatePending || !upstreamSucceeded(n) {
					continue
				}
				n.State = resolve.StateRunning
				summary.BuildOrder = append(summary.BuildOrder, n.Name)
				running++
				go s.runNode(ctx, n, done)
			}
		}

		if running == 0 {
			break
		}

		d := <-done
		running--
		s.finish(d, summary, recorded, gd)
	}

	// Nodes never dispatched because the run halted are skipped, not lost.
	for _, n := range g.Nodes {
		if !n.State.Terminal() {
			n.State = resolve.StateSkipped
			if n.Diagnostic == "" {
				n.Diagnostic = "run halted before dispatch"
			}
		}
		if !recorded[n] {
			recorded[n] = true
			summary.record(n, NodeResult{})
		}
	}

	summary.FinishedAt = time.Now().UTC()
	if gd.fired {
		summary.SystemicallyInvalid = true
		summary.SystemicStage = gd.firedStage
		slog.Error("run is systemically invalid",
			"stage", gd.firedStage,
			"processed", gd.processed,
		)
	}
	return summary, ctx.Err()
}

// Applies one completed attempt to the graph and the summary.
func (s *Scheduler) finish(d nodeDone, summary *RunSummary, recorded map[*resolve.Node]bool, gd *guard) {
	if d.outcome.Succeeded {
		d.node.State = resolve.StateSucceeded
	} else {
		d.node.State = resolve.StateFailed
	}

	recorded[d.node] = true
	summary.record(d.node, NodeResult{
		Jobs:    d.jobs,
		Retried: d.retried,
		Failure: d.outcome.Failure,
		History: d.outcome.History,
	})
	gd.observe(d.outcome.Failure)

	if d.outcome.Succeeded {
		slog.Info("package built", "package", d.node.Name, "jobs", d.jobs, "retried", d.retried)
	} else {
		slog.Warn("package failed",
			"package", d.node.Name,
			"stage", d.outcome.Failure.Stage,
			"category", d.outcome.Failure.Category,
		)
	}
}

// Builds one node, retrying serially once when a parallel attempt fails.
func (s *Scheduler) runNode(ctx context.Context, n *resolve.Node, done chan<- nodeDone) {
	jobs := s.cfg.Jobs
	if s.cfg.Serial {
		jobs = 1
	} else if s.stability != nil && s.stability.ParallelUnstable(n.Name) {
		slog.Debug("known parallel-unstable, starting serial", "package", n.Name)
		jobs = 1
	}

	outcome := s.build(ctx, n, jobs)
	retried := false

	if !outcome.Succeeded && jobs > 1 && ctx.Err() == nil {
		slog.Info("parallel attempt failed, retrying serially", "package", n.Name, "jobs", jobs)
		retried = true
		jobs = 1
		outcome = s.build(ctx, n, jobs)
		if outcome.Succeeded && s.stability != nil {
			if err := s.stability.MarkParallelUnstable(n.Name); err != nil {
				slog.Warn("recording stability flag failed", "package", n.Name, "error", err)
			}
		}
	}

	done <- nodeDone{node: n, outcome: outcome, jobs: jobs, retried: retried}
}

// Whether every upstream node has succeeded.
func upstreamSucceeded(n *resolve.Node) bool {
	for _, dep := range n.Deps {
		if dep.State != resolve.StateSucceeded {
			return false
		}
	}
	return true
}

// Skips every pending node with a terminally unsuccessful upstream,
// cascading until a fixpoint.
func propagateSkips(g *resolve.Graph) {
	for changed := true; changed; {
		changed = false
		for _, n := range g.Nodes {
			if n.State != resolve.StatePending {
				continue
			}
			for _, dep := range n.Deps {
				if dep.State.Terminal() && dep.State != resolve.StateSucceeded {
					n.State = resolve.StateSkipped
					n.Diagnostic = "upstream " + dep.Name + " " + dep.State.String()
					changed = true
					break
				}
			}
		}
	}
}
