// Package eventbus implements the per-project and per-run publish/subscribe
// fan-out described for live observers: project subscribers receive
// coarse-grained status transitions, run subscribers receive the full live
// event stream (logs, screenshots) plus a final status event.
//
// Delivery is at-most-once and best-effort: each subscriber owns a small
// buffered channel, and a publish that would block on a full buffer drops
// the event rather than stalling the publisher — there is no durability
// and no cross-subscriber backpressure. This mirrors the mutex-guarded-map
// shape used throughout this module (internal/netutil.PortRegistry,
// internal/urlsafety.Filter's DNS cache) rather than introducing a new
// concurrency primitive, generalized here to own a set of subscriber
// channels instead of a set of reserved ports.
package eventbus
