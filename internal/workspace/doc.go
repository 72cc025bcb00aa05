// Package workspace serializes access to a shared build output root.
//
// Exactly one invocation may own a workspace at a time; ownership is an
// exclusive flock(2) on a lock file inside the output root. The owner
// publishes an active-session state file describing itself. A second
// build invocation against the same root does not fail outright: it
// appends its package names to a JSONL request channel and waits for the
// owning scheduler to drain them into its running dependency graph.
//
// The state file and request channel are removed when the owning session
// releases the lock.
package workspace
