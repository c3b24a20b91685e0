// Package avdcache maintains a cache of prewarmed, booted AVD ("golden")
// snapshots keyed by profile name, so a cold emulator boot only has to
// happen once per profile. Subsequent boots for the same profile clone the
// cached snapshot instead of running the full first-boot sequence.
//
// The on-disk layout is a hash-keyed directory guarded by a file lock
// (github.com/gofrs/flock) so that concurrent processes racing to build the
// same cache entry serialize instead of duplicating work, with a marker
// file making entry-complete checks cheap and lock-free on the fast path.
package avdcache
