package resolve

import "context"

// Reports whether a component is already present in the execution
// environment (e.g. installed in the build container image).
type InstalledProbe interface {
	Installed(ctx context.Context, component string) (bool, error)
}

// Looks up previously produced local artifacts by component identity.
type ArtifactIndex interface {
	Lookup(component string) (path string, ok bool)
}

// An enabled external distribution repository.
type RepoSource interface {
	// Returns the repository's configured name.
	Name() string

	// Reports whether the repository can supply the component.
	Provides(ctx context.Context, component string) (bool, error)
}

// The injected provider chain. Nil fields are treated as providers that
// never match; the chain order itself is fixed by the resolver.
type Providers struct {
	Installed InstalledProbe
	Artifacts ArtifactIndex
	Repos     []RepoSource
}
