// Package stability persists per-package parallel-build stability flags.
//
// Some packages fail under parallel make but build cleanly serially. When
// the scheduler discovers this through a serial retry it records the
// package here, so later runs start that package at one job instead of
// burning a failed parallel attempt first.
//
// The cache is a single JSON file keyed by package identity. Concurrent
// invocations sharing a cache file coordinate through flock(2), and each
// commit goes through a temp file and rename so readers never observe a
// partial write.
package stability
