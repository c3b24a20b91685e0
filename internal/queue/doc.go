// Package queue implements the central run scheduler: a singleton FIFO
// admission loop over pending runs, lifecycle tracking for running ones,
// debounced log persistence, and cancellation across all three states a run
// can be in (queued, running, unknown to this process). It is the only
// caller of internal/executor and the only writer of run-lifecycle rows
// through internal/repository.
package queue
