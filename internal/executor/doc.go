// Package executor drives a single run: it resolves target setup (browser
// contexts and/or Android agents), executes a run's steps sequentially,
// and maps the outcome onto the terminal statuses PASS/FAIL/CANCELLED.
//
// A run's setup is one whole transaction with rollback on any failure,
// its teardown is idempotent under a mutex, and its first-step
// loading/splash wait is retried the same way a process instance retries
// a boot check. Per-target teardown (closing browser contexts, releasing
// device leases) uses golang.org/x/sync/errgroup with SetLimit to bound
// concurrency; permission grants and final screenshots run sequentially.
package executor
