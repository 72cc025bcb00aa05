package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phoreus/rpmforge/internal/recipe"
)

// Resolver configuration.
type Options struct {
	Closure    ClosurePolicy // Scope policy for edge discovery.
	Missing    MissingPolicy // Outcome for unresolvable components.
	ExpandDeps bool          // Whether dependencies are discovered at all.
}

// Expands package requests into build-node graphs.
type Resolver struct {
	recipes   *recipe.Repository
	providers Providers
	opts      Options
}

// Creates a resolver over a recipe repository and a provider chain.
func New(recipes *recipe.Repository, providers Providers, opts Options) *Resolver {
	if opts.Closure == "" {
		opts.Closure = ClosureBuildHostRun
	}
	if opts.Missing == "" {
		opts.Missing = MissingQuarantine
	}
	return &Resolver{recipes: recipes, providers: providers, opts: opts}
}

// Expands the requests into a new DAG of build nodes.
//
// Nodes appear in discovery order. The raw edge set is checked for cycles
// before the graph is returned; a cycle is a hard error naming every
// member, never a quarantine.
func (r *Resolver) Resolve(ctx context.Context, requests []Request) (*Graph, error) {
	g := &Graph{byName: make(map[string]*Node)}
	if err := r.ExpandInto(ctx, g, requests); err != nil {
		return nil, err
	}
	return g, nil
}

// Expands additional requests into an existing graph.
//
// Used by the scheduler to absorb forwarded requests while a run is in
// progress. Newly discovered nodes are appended in discovery order after
// the existing ones; components already present in the graph are reused.
func (r *Resolver) ExpandInto(ctx context.Context, g *Graph, requests []Request) error {
	for _, req := range requests {
		if _, ok := g.byName[req.Name]; ok {
			continue // Already part of the graph; nothing new to discover.
		}
		if err := r.addRoot(ctx, g, req); err != nil {
			return err
		}
	}

	if err := detectCycles(g); err != nil {
		return err
	}

	slog.Debug("resolution complete",
		"nodes", len(g.Nodes),
		"decisions", len(g.Decisions),
		"closure", r.opts.Closure,
	)
	return nil
}

// Adds one root request and its transitive closure to the graph.
func (r *Resolver) addRoot(ctx context.Context, g *Graph, req Request) error {
	meta, err := r.recipes.Load(req.Name)
	if err != nil {
		return r.handleMissing(g, Edge{Component: req.Name}, err.Error(), true)
	}

	group := r.addGroup(g, meta, true)
	return r.discover(ctx, g, group, meta, true)
}

// Creates the build nodes for one recipe, one per declared output.
//
// All outputs share the same invocation key and, later, the same upstream
// edges. Returns the nodes in output declaration order.
func (r *Resolver) addGroup(g *Graph, meta *recipe.Metadata, root bool) []*Node {
	key := meta.Name + "-" + meta.Version
	var group []*Node
	for _, output := range meta.EffectiveOutputs() {
		if existing, ok := g.byName[output]; ok {
			group = append(group, existing)
			continue
		}
		n := &Node{
			Name:          output,
			Recipe:        meta.Name,
			Version:       meta.Version,
			InvocationKey: key,
			Meta:          meta,
			Root:          root,
			Order:         len(g.Nodes),
			State:         StatePending,
		}
		g.Nodes = append(g.Nodes, n)
		g.byName[output] = n
		group = append(group, n)
	}
	return group
}

// Discovers the dependency edges for a node group and resolves each
// discovered component through the provider chain.
//
// Scope order is fixed (build, host, run) and dependency lists are sorted,
// so discovery order (and with it dispatch order) is deterministic.
func (r *Resolver) discover(ctx context.Context, g *Graph, group []*Node, meta *recipe.Metadata, root bool) error {
	if !r.opts.ExpandDeps {
		return nil
	}

	for _, scope := range r.opts.Closure.Scopes(root) {
		for _, component := range meta.Deps(scope) {
			edge := Edge{Consumer: meta.Name, Component: component, Scope: scope}
			for _, n := range group {
				n.Edges = append(n.Edges, edge)
			}

			dep, err := r.resolveEdge(ctx, g, edge)
			if err != nil {
				return err
			}
			if dep == nil {
				continue // Satisfied outside the graph.
			}
			for _, n := range group {
				attach(n, dep)
			}
		}
	}
	return nil
}

// Resolves one edge through the fixed provider chain.
//
// Chain order: (1) already installed in the execution environment,
// (2) previously produced local artifact, (3) enabled external
// repository, (4) locally buildable recipe, (5) unresolved. Returns the
// upstream node when the component must be built this run, nil when a
// provider satisfies it externally.
func (r *Resolver) resolveEdge(ctx context.Context, g *Graph, edge Edge) (*Node, error) {
	// A node already producing the component wins outright: the build is
	// shared, not repeated.
	if dep, ok := g.byName[edge.Component]; ok {
		r.record(g, edge, ProviderReusedLocalArtifact, dep.InvocationKey, "")
		return dep, nil
	}

	var diags []string

	if p := r.providers.Installed; p != nil {
		ok, err := p.Installed(ctx, edge.Component)
		if err != nil {
			diags = append(diags, fmt.Sprintf("installed probe: %v", err))
		} else if ok {
			r.record(g, edge, ProviderAlreadyInstalled, edge.Component, "")
			return nil, nil
		}
	}

	if idx := r.providers.Artifacts; idx != nil {
		if path, ok := idx.Lookup(edge.Component); ok {
			r.record(g, edge, ProviderReusedLocalArtifact, path, "")
			return nil, nil
		}
	}

	for _, repo := range r.providers.Repos {
		ok, err := repo.Provides(ctx, edge.Component)
		if err != nil {
			diags = append(diags, fmt.Sprintf("repository %s: %v", repo.Name(), err))
			continue
		}
		if ok {
			r.record(g, edge, ProviderRepositoryResolved, repo.Name(), "")
			return nil, nil
		}
	}

	meta, err := r.recipes.Load(edge.Component)
	if err == nil {
		group := r.addGroup(g, meta, false)
		dep := depForComponent(group, edge.Component)
		decision := r.record(g, edge, ProviderReusedLocalArtifact, dep.InvocationKey, "")
		dep.Decision = decision
		if err := r.discover(ctx, g, group, meta, false); err != nil {
			return nil, err
		}
		return dep, nil
	}
	diags = append(diags, err.Error())

	diagnostic := strings.Join(diags, "; ")
	if err := r.handleMissing(g, edge, diagnostic, false); err != nil {
		return nil, err
	}
	if placeholder, ok := g.byName[edge.Component]; ok {
		return placeholder, nil
	}
	return nil, nil
}

// Returns the group node producing the requested component, falling back
// to the first output when the component names the recipe itself.
func depForComponent(group []*Node, component string) *Node {
	for _, n := range group {
		if n.Name == component {
			return n
		}
	}
	return group[0]
}

// Routes an unresolvable component through the missing-dependency policy.
//
// Fail aborts the whole resolution. Quarantine records a terminal
// placeholder node carrying the diagnostic, so dependents are skipped but
// siblings keep resolving. Skip records the placeholder as skipped; the
// scheduler drops everything solely dependent on it.
func (r *Resolver) handleMissing(g *Graph, edge Edge, diagnostic string, root bool) error {
	switch r.opts.Missing {
	case MissingFail:
		return fmt.Errorf("%w: %s (required by %s): %s", ErrMissing, edge.Component, consumerLabel(edge), diagnostic)

	case MissingSkip:
		n := r.placeholder(g, edge, diagnostic, root)
		n.State = StateSkipped
		slog.Warn("skipping unresolved component", "component", edge.Component, "consumer", consumerLabel(edge))
		return nil

	default: // MissingQuarantine
		n := r.placeholder(g, edge, diagnostic, root)
		n.State = StateQuarantined
		slog.Warn("quarantining unresolved component", "component", edge.Component, "consumer", consumerLabel(edge))
		return nil
	}
}

// Creates (or returns) the terminal placeholder node for an unresolvable
// component and records its unresolved provider decision.
func (r *Resolver) placeholder(g *Graph, edge Edge, diagnostic string, root bool) *Node {
	if existing, ok := g.byName[edge.Component]; ok {
		return existing
	}
	decision := r.record(g, edge, ProviderUnresolved, "", diagnostic)
	n := &Node{
		Name:       edge.Component,
		Root:       root,
		Order:      len(g.Nodes),
		Diagnostic: diagnostic,
		Decision:   decision,
	}
	g.Nodes = append(g.Nodes, n)
	g.byName[edge.Component] = n
	return n
}

// Appends a provider decision in discovery order.
//
// The returned pointer is an independent snapshot, never a pointer into
// the graph's decision slice: later appends may reallocate the slice and
// would leave node decisions aliased to a stale backing array.
func (r *Resolver) record(g *Graph, edge Edge, provider Provider, source, diagnostic string) *ProviderDecision {
	decision := ProviderDecision{
		Component:  edge.Component,
		Scope:      edge.Scope,
		Provider:   provider,
		Source:     source,
		Diagnostic: diagnostic,
	}
	g.Decisions = append(g.Decisions, decision)
	return &decision
}

// Links a dependency edge between two nodes, once.
func attach(consumer, dep *Node) {
	if consumer == dep {
		return
	}
	for _, existing := range consumer.Deps {
		if existing == dep {
			return
		}
	}
	consumer.Deps = append(consumer.Deps, dep)
	dep.Dependents = append(dep.Dependents, consumer)
}

// Human-readable consumer label for diagnostics.
func consumerLabel(edge Edge) string {
	if edge.Consumer == "" {
		return "requested root set"
	}
	return edge.Consumer
}
