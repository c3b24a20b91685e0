// Package urlsafety classifies outbound URLs against an allow/deny policy
// for browser targets and runtime page requests. Literal IPs are checked
// against a blocked-range set; hostnames are resolved and every returned
// address is checked the same way. Only negative DNS results are cached,
// following the same mutex-guarded-map discipline the rest of this module
// uses for small bounded caches (see internal/netutil.PortRegistry).
package urlsafety
