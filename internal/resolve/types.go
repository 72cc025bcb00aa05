package resolve

import (
	"errors"

	"github.com/phoreus/rpmforge/internal/recipe"
)

var (
	ErrResolution = errors.New("dependency resolution failed")
	ErrCycle      = errors.New("dependency cycle detected")
	ErrMissing    = errors.New("unresolved dependency")
)

// Identity of a requested build unit.
type Request struct {
	Name    string // Package name.
	Version string // Optional version constraint, informational.
	Arch    string // Target architecture (e.g. "x86_64").
	Profile string // Target platform profile (container profile name).
}

// Controls which dependency scopes contribute edges to the closure.
type ClosurePolicy string

const (
	// Follow run-scope edges only, for roots and transitive dependencies.
	ClosureRunOnly ClosurePolicy = "run-only"

	// Follow build, host, and run edges everywhere.
	ClosureBuildHostRun ClosurePolicy = "build-host-run"

	// Follow build, host, and run edges for root requests, but only
	// run-scope edges for transitively discovered dependencies. Bounds
	// closure explosion on deep trees while fully specifying the root's
	// build environment.
	ClosureRuntimeTransitiveRootBuildHost ClosurePolicy = "runtime-transitive-root-build-host"
)

// Returns the scopes contributing edges for a node under this policy.
func (p ClosurePolicy) Scopes(root bool) []recipe.Scope {
	switch p {
	case ClosureRunOnly:
		return []recipe.Scope{recipe.ScopeRun}
	case ClosureRuntimeTransitiveRootBuildHost:
		if root {
			return []recipe.Scope{recipe.ScopeBuild, recipe.ScopeHost, recipe.ScopeRun}
		}
		return []recipe.Scope{recipe.ScopeRun}
	default:
		return []recipe.Scope{recipe.ScopeBuild, recipe.ScopeHost, recipe.ScopeRun}
	}
}

// Decides the outcome for components no provider can satisfy.
type MissingPolicy string

const (
	// Abort the whole resolution before any node is dispatched.
	MissingFail MissingPolicy = "fail"

	// Drop the node and everything solely dependent on it.
	MissingSkip MissingPolicy = "skip"

	// Record the node as quarantined and continue with the rest.
	MissingQuarantine MissingPolicy = "quarantine"
)

// Provider tag describing how a dependency edge is satisfied.
type Provider string

const (
	// Already present in the execution environment.
	ProviderAlreadyInstalled Provider = "AlreadyInstalled"

	// Satisfied by a previously produced (or this-run) local artifact.
	ProviderReusedLocalArtifact Provider = "ReusedLocalArtifact"

	// Supplied by an enabled external repository.
	ProviderRepositoryResolved Provider = "RepositoryResolved"

	// No provider could satisfy the component.
	ProviderUnresolved Provider = "Unresolved"
)

// One dependency requirement discovered from a consumer's metadata.
type Edge struct {
	Consumer  string       // Node that requires the component.
	Component string       // Required component identifier.
	Scope     recipe.Scope // Scope the requirement was declared under.
}

// How one discovered component is satisfied. Computed once per node build
// attempt; the chain order is fixed.
type ProviderDecision struct {
	Component  string   // Required component identifier.
	Scope      recipe.Scope
	Provider   Provider // Winning provider tag.
	Source     string   // Package name, artifact path, or repository name.
	Diagnostic string   // Captured diagnostic when unresolved.
}

// Lifecycle state of a build node.
type NodeState int

const (
	StatePending NodeState = iota
	StateReady
	StateRunning
	StateSucceeded
	StateFailed
	StateQuarantined
	StateSkipped
)

// Returns the state's canonical name.
func (s NodeState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	case StateQuarantined:
		return "Quarantined"
	case StateSkipped:
		return "Skipped"
	}
	return "Unknown"
}

// Whether the state is terminal for a run.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateQuarantined, StateSkipped:
		return true
	}
	return false
}

// One schedulable build unit.
//
// A node tracks a single declared output of a recipe. Recipes declaring
// multiple outputs expand into one node per output sharing the same
// upstream edges and the same invocation key, so the underlying build
// runs once while artifacts succeed or fail independently.
type Node struct {
	Name          string           // Component identity this node produces.
	Recipe        string           // Recipe providing the component.
	Version       string           // Selected recipe version.
	InvocationKey string           // Shared across outputs of one recipe build.
	Meta          *recipe.Metadata // Rendered metadata, nil for quarantined placeholders.
	Root          bool             // Requested directly rather than discovered.
	Order         int              // Discovery order, the dispatch tiebreaker.

	Deps       []*Node // Upstream nodes this node depends on.
	Dependents []*Node // Downstream nodes depending on this node.
	Edges      []Edge  // Raw requirements discovered from metadata.

	State      NodeState         // Mutated only by the scheduler.
	Decision   *ProviderDecision // How this node satisfies its consumers, nil for roots.
	Diagnostic string            // Quarantine or skip diagnostic.
}

// An expanded dependency DAG in discovery order.
type Graph struct {
	Nodes     []*Node            // All nodes, ordered by discovery.
	Decisions []ProviderDecision // Provider decisions in discovery order.

	byName map[string]*Node
}

// Returns the node producing the named component, if any.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Returns the root nodes in discovery order.
func (g *Graph) Roots() []*Node {
	var roots []*Node
	for _, n := range g.Nodes {
		if n.Root {
			roots = append(roots, n)
		}
	}
	return roots
}
