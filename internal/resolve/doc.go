// Package resolve expands package requests into a DAG of build nodes.
//
// For each request the recipe metadata is loaded and its dependency edges
// are discovered according to the closure policy, which controls which
// scopes (build/host/run) contribute edges for root requests versus
// transitively discovered dependencies. Every discovered component is
// resolved against a fixed provider chain (already installed, previously
// built local artifact, enabled external repository, locally buildable
// recipe) and components that fall through the chain are routed through
// the missing-dependency policy (fail, skip, or quarantine).
//
// The provider chain order is a correctness invariant: it guarantees
// deterministic builds and avoids redundant rebuilds, and must not be
// reordered per package. Resolution is idempotent: re-resolving the same
// requests against an unchanged environment yields the same nodes and
// provider decisions in the same discovery order.
//
// Cycles in the raw edge set are detected before DAG construction and are
// a hard error naming every cycle member; a cyclic graph is a metadata
// defect, not a missing-dependency condition.
package resolve
