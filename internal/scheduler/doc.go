// Package scheduler dispatches build nodes over a bounded worker pool.
//
// Nodes move Pending -> Ready -> Running -> Succeeded|Failed, or straight
// to Skipped when any upstream ends in anything but success. A node is
// dispatched only when every upstream node has succeeded, and dispatch
// among simultaneously ready nodes follows discovery order, so runs are
// deterministic up to completion timing.
//
// Concurrency is adaptive per node: the first attempt runs at the
// configured job count unless the stability cache flags the package as
// parallel-unstable, a parallel failure earns exactly one serial retry,
// and a serial-retry success writes the stability flag for later runs.
//
// A systemic failure guard watches terminal failures in the
// infrastructure stages. When, after a minimum sample of processed
// nodes, the failure fraction for any such stage crosses the configured
// threshold, the run is declared systemically invalid: dispatch stops,
// in-flight nodes finish, and the summary carries the verdict. Build and
// validation failures never trip the guard; broken packages are normal,
// a broken environment is not.
package scheduler
