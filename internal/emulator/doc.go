// Package emulator starts, tracks, and reuses Android emulator instances
// keyed by AVD profile name, gating boots under a global concurrency
// ceiling. The pool is a map of per-profile free stacks sharing one
// global semaphore, so "boot a new instance" and "reuse an idle one"
// compete for the same ceiling regardless of which profile they target.
package emulator
