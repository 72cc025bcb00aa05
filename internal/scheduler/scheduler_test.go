package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/resolve"
	"github.com/phoreus/rpmforge/internal/stability"
)

// Builds in-memory graphs without going through a recipe repository.
func node(name string, order int, deps ...*resolve.Node) *resolve.Node {
	n := &resolve.Node{
		Name:   name,
		Recipe: name,
		Order:  order,
		State:  resolve.StatePending,
		Deps:   deps,
	}
	for _, dep := range deps {
		dep.Dependents = append(dep.Dependents, n)
	}
	return n
}

func graphOf(nodes ...*resolve.Node) *resolve.Graph {
	return &resolve.Graph{Nodes: nodes}
}

func successOutcome() pipeline.Outcome {
	var history []pipeline.StageResult
	for _, stage := range pipeline.Stages {
		history = append(history, pipeline.StageResult{Stage: stage, Success: true, Domain: stage.Domain()})
	}
	return pipeline.Outcome{Succeeded: true, History: history}
}

func failureAt(stage pipeline.Stage, category classify.Category) pipeline.Outcome {
	failure := pipeline.StageResult{
		Stage:    stage,
		Category: category,
		Domain:   stage.Domain(),
		Excerpt:  "boom",
	}
	return pipeline.Outcome{Failure: &failure, History: []pipeline.StageResult{failure}}
}

// Records attempts and answers from a per-package script.
type fakeBuilder struct {
	mu       sync.Mutex
	attempts []string // "name@jobs" in start order
	script   map[string]func(jobs int) pipeline.Outcome
}

func (b *fakeBuilder) build(_ context.Context, n *resolve.Node, jobs int) pipeline.Outcome {
	b.mu.Lock()
	b.attempts = append(b.attempts, fmt.Sprintf("%s@%d", n.Name, jobs))
	b.mu.Unlock()

	if fn, ok := b.script[n.Name]; ok {
		return fn(jobs)
	}
	return successOutcome()
}

func (b *fakeBuilder) attemptList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.attempts...)
}

func TestDispatchRespectsDependencyOrder(t *testing.T) {
	a := node("a", 0)
	b := node("b", 1, a)
	c := node("c", 2, b)

	builder := &fakeBuilder{}
	sched := New(builder.build, nil, Config{Workers: 4, Jobs: 1})

	summary, err := sched.Run(context.Background(), graphOf(a, b, c))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	attempts := builder.attemptList()
	want := []string{"a@1", "b@1", "c@1"}
	if len(attempts) != len(want) {
		t.Fatalf("attempts = %v", attempts)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("attempts = %v, want %v", attempts, want)
		}
	}

	if summary.Succeeded != 3 || summary.Processed != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.BuildOrder) != 3 || summary.BuildOrder[0] != "a" {
		t.Fatalf("build order = %v", summary.BuildOrder)
	}
}

func TestFailureSkipsDependentsOnly(t *testing.T) {
	a := node("a", 0)
	b := node("b", 1, a)
	c := node("c", 2)

	builder := &fakeBuilder{script: map[string]func(int) pipeline.Outcome{
		"a": func(int) pipeline.Outcome {
			return failureAt(pipeline.StageBuild, classify.CategoryBuildScriptContractFailure)
		},
	}}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 1})

	summary, err := sched.Run(context.Background(), graphOf(a, b, c))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if a.State != resolve.StateFailed {
		t.Fatalf("a state = %v", a.State)
	}
	if b.State != resolve.StateSkipped {
		t.Fatalf("b state = %v", b.State)
	}
	if c.State != resolve.StateSucceeded {
		t.Fatalf("c state = %v", c.State)
	}

	for _, attempt := range builder.attemptList() {
		if attempt == "b@1" {
			t.Fatal("skipped node was dispatched")
		}
	}

	if summary.Failed != 1 || summary.Skipped != 1 || summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.FailedBy[classify.CategoryBuildScriptContractFailure] != 1 {
		t.Fatalf("failed-by = %v", summary.FailedBy)
	}
}

func TestQuarantinedUpstreamSkipsDownstream(t *testing.T) {
	q := node("missing-lib", 0)
	q.State = resolve.StateQuarantined
	q.Diagnostic = "no provider"
	b := node("b", 1, q)

	builder := &fakeBuilder{}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 1})

	summary, err := sched.Run(context.Background(), graphOf(q, b))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(builder.attemptList()) != 0 {
		t.Fatalf("attempts = %v, want none", builder.attemptList())
	}
	if b.State != resolve.StateSkipped {
		t.Fatalf("b state = %v", b.State)
	}
	if summary.Quarantined != 1 || summary.Skipped != 1 || summary.Processed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestAdaptiveRetryMarksParallelUnstable(t *testing.T) {
	store := stability.NewStore(filepath.Join(t.TempDir(), "stability.json"))

	// Fails under parallel make, builds serially.
	script := map[string]func(int) pipeline.Outcome{
		"flaky": func(jobs int) pipeline.Outcome {
			if jobs > 1 {
				return failureAt(pipeline.StageBuild, classify.CategoryBuildScriptContractFailure)
			}
			return successOutcome()
		},
	}

	builder := &fakeBuilder{script: script}
	sched := New(builder.build, store, Config{Workers: 1, Jobs: 4})

	summary, err := sched.Run(context.Background(), graphOf(node("flaky", 0)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	attempts := builder.attemptList()
	if len(attempts) != 2 || attempts[0] != "flaky@4" || attempts[1] != "flaky@1" {
		t.Fatalf("attempts = %v", attempts)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !summary.Results[0].Retried || summary.Results[0].Jobs != 1 {
		t.Fatalf("result = %+v", summary.Results[0])
	}
	if !store.ParallelUnstable("flaky") {
		t.Fatal("stability flag not written")
	}

	// A second run starts the flagged package directly at one job.
	builder2 := &fakeBuilder{script: script}
	sched2 := New(builder2.build, store, Config{Workers: 1, Jobs: 4})
	if _, err := sched2.Run(context.Background(), graphOf(node("flaky", 0))); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	attempts2 := builder2.attemptList()
	if len(attempts2) != 1 || attempts2[0] != "flaky@1" {
		t.Fatalf("second run attempts = %v", attempts2)
	}
}

func TestSerialPolicyNeverRetries(t *testing.T) {
	builder := &fakeBuilder{script: map[string]func(int) pipeline.Outcome{
		"a": func(int) pipeline.Outcome {
			return failureAt(pipeline.StageBuild, classify.CategoryBuildScriptContractFailure)
		},
	}}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 4, Serial: true})

	if _, err := sched.Run(context.Background(), graphOf(node("a", 0))); err != nil {
		t.Fatalf("Run: %v", err)
	}

	attempts := builder.attemptList()
	if len(attempts) != 1 || attempts[0] != "a@1" {
		t.Fatalf("attempts = %v", attempts)
	}
}

// Lays out n independent nodes with scripted outcomes in order.
func independentNodes(outcomes []pipeline.Outcome) ([]*resolve.Node, map[string]func(int) pipeline.Outcome) {
	nodes := make([]*resolve.Node, len(outcomes))
	script := make(map[string]func(int) pipeline.Outcome, len(outcomes))
	for i, outcome := range outcomes {
		name := fmt.Sprintf("pkg-%02d", i)
		nodes[i] = node(name, i)
		o := outcome
		script[name] = func(int) pipeline.Outcome { return o }
	}
	return nodes, script
}

func TestGuardFiresOnInfrastructureFailureRate(t *testing.T) {
	// 22 ingestion failures and 3 successes: by the 20th processed node
	// the ingestion failure fraction exceeds the threshold.
	var outcomes []pipeline.Outcome
	for i := 0; i < 22; i++ {
		outcomes = append(outcomes, failureAt(pipeline.StageIngestion, classify.CategoryMetadataRenderFailure))
	}
	for i := 0; i < 3; i++ {
		outcomes = append(outcomes, successOutcome())
	}

	nodes, script := independentNodes(outcomes)
	builder := &fakeBuilder{script: script}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 1})

	summary, err := sched.Run(context.Background(), graphOf(nodes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.SystemicallyInvalid {
		t.Fatal("guard did not fire")
	}
	if summary.SystemicStage != pipeline.StageIngestion {
		t.Fatalf("systemic stage = %v", summary.SystemicStage)
	}
	if summary.Skipped == 0 {
		t.Fatal("no nodes were spared dispatch after the guard fired")
	}
	if len(builder.attemptList()) >= len(nodes) {
		t.Fatal("dispatch continued after the guard fired")
	}
}

func TestGuardIgnoresBuildDomainFailures(t *testing.T) {
	// The same failure volume split across the build-domain stages must
	// not trip the guard.
	var outcomes []pipeline.Outcome
	for i := 0; i < 11; i++ {
		outcomes = append(outcomes, failureAt(pipeline.StageBuild, classify.CategoryBuildScriptContractFailure))
	}
	for i := 0; i < 11; i++ {
		outcomes = append(outcomes, failureAt(pipeline.StagePostBuildValidation, classify.CategoryRpmInstallScriptFailure))
	}
	for i := 0; i < 3; i++ {
		outcomes = append(outcomes, successOutcome())
	}

	nodes, script := independentNodes(outcomes)
	builder := &fakeBuilder{script: script}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 1})

	summary, err := sched.Run(context.Background(), graphOf(nodes...))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.SystemicallyInvalid {
		t.Fatal("guard fired on build-domain failures")
	}
	if summary.Processed != 25 {
		t.Fatalf("processed = %d, want 25", summary.Processed)
	}
}

func TestIntakeExpandsRunningGraph(t *testing.T) {
	a := node("a", 0)
	g := graphOf(a)

	injected := false
	intake := func(_ context.Context, g *resolve.Graph) error {
		if !injected {
			injected = true
			g.Nodes = append(g.Nodes, node("forwarded", len(g.Nodes)))
		}
		return nil
	}

	builder := &fakeBuilder{}
	sched := New(builder.build, nil, Config{Workers: 1, Jobs: 1, Intake: intake})

	summary, err := sched.Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Succeeded != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	found := false
	for _, r := range summary.Results {
		if r.Name == "forwarded" && r.State == resolve.StateSucceeded {
			found = true
		}
	}
	if !found {
		t.Fatalf("forwarded node missing from results: %+v", summary.Results)
	}
}
