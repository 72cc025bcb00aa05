package scheduler

import (
	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
)

// Default guard tuning. Operational values, overridable in Config.
const (
	DefaultGuardMinSample = 20
	DefaultGuardThreshold = 0.80
)

// Detects environment-level malfunction from failure statistics.
//
// Only infrastructure-domain stage failures count; a batch of packages
// with broken build scripts must never look like a broken workspace.
type guard struct {
	minSample int
	threshold float64

	processed int
	failures  map[pipeline.Stage]int

	fired      bool
	firedStage pipeline.Stage
}

func newGuard(minSample int, threshold float64) *guard {
	if minSample <= 0 {
		minSample = DefaultGuardMinSample
	}
	if threshold <= 0 {
		threshold = DefaultGuardThreshold
	}
	return &guard{
		minSample: minSample,
		threshold: threshold,
		failures:  make(map[pipeline.Stage]int),
	}
}

// Records one terminally processed node and re-evaluates the failure
// fractions once the minimum sample is reached.
func (g *guard) observe(failure *pipeline.StageResult) {
	g.processed++
	if failure != nil && failure.Domain == classify.DomainInfrastructure {
		g.failures[failure.Stage]++
	}

	if g.fired || g.processed < g.minSample {
		return
	}
	for stage, count := range g.failures {
		if float64(count)/float64(g.processed) > g.threshold {
			g.fired = true
			g.firedStage = stage
			return
		}
	}
}
