package urlsafety

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

// Resolver abstracts hostname resolution so tests can substitute a fake
// without touching the network. *net.Resolver satisfies this.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type dnsCacheEntry struct {
	expiresAt time.Time
	err       error
}

type dedupEntry struct {
	expiresAt time.Time
}

// Filter wraps a Policy with DNS resolution and the negative-only DNS
// cache plus blocked-request log dedup described in the design: only
// failures are cached, since caching positive answers risks stale
// rebinding (a previously-safe hostname later repointed to a private IP).
//
// The cache shape mirrors internal/netutil.PortRegistry: a mutex-guarded
// map, reserve/expire on read rather than a background sweeper.
type Filter struct {
	policy      Policy
	resolver    Resolver
	dnsTimeout  time.Duration
	dnsCacheTTL time.Duration
	dedupWindow time.Duration
	log         *slog.Logger

	mu    sync.Mutex
	dns   map[string]dnsCacheEntry
	dedup map[string]dedupEntry
}

// NewFilter constructs a Filter. If resolver is nil, net.DefaultResolver is
// used. If logger is nil, slog.Default() is used.
func NewFilter(policy Policy, resolver Resolver, dnsTimeout, dnsCacheTTL, dedupWindow time.Duration, logger *slog.Logger) *Filter {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		policy:      policy,
		resolver:    resolver,
		dnsTimeout:  dnsTimeout,
		dnsCacheTTL: dnsCacheTTL,
		dedupWindow: dedupWindow,
		log:         logger,
		dns:         make(map[string]dnsCacheEntry),
		dedup:       make(map[string]dedupEntry),
	}
}

// ValidateRuntimeRequestURL performs ValidateTargetURL plus DNS resolution
// of non-literal hostnames. Every returned address must be outside the
// blocked set; a DNS timeout counts as a failure. Only failures are cached.
func (f *Filter) ValidateRuntimeRequestURL(ctx context.Context, raw string) error {
	if err := f.policy.ValidateTargetURL(raw); err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ErrUnsafeURL
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		// Literal IP already checked by ValidateTargetURL.
		return nil
	}

	if cached, ok := f.cachedFailure(host); ok {
		return cached
	}

	lookupCtx, cancel := context.WithTimeout(ctx, f.dnsTimeout)
	defer cancel()

	addrs, err := f.resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		if lookupCtx.Err() != nil {
			return f.cacheFailure(host, ErrDNSTimeout)
		}
		return f.cacheFailure(host, ErrUnsafeURL)
	}
	if len(addrs) == 0 {
		return f.cacheFailure(host, ErrUnsafeURL)
	}
	for _, a := range addrs {
		if isBlockedIP(a.IP) {
			return f.cacheFailure(host, ErrUnsafeURL)
		}
	}
	return nil
}

func (f *Filter) cachedFailure(host string) (error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.dns[host]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(f.dns, host)
		return nil, false
	}
	return entry.err, true
}

func (f *Filter) cacheFailure(host string, cause error) error {
	f.mu.Lock()
	f.dns[host] = dnsCacheEntry{expiresAt: time.Now().Add(f.dnsCacheTTL), err: cause}
	f.mu.Unlock()
	return cause
}

// ShouldLogBlockedRequest reports whether a blocked-request log line for
// this hostname:reason pair should be emitted now, deduplicating repeats
// within the configured window.
func (f *Filter) ShouldLogBlockedRequest(hostname, reason string) bool {
	key := hostname + ":" + reason
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.dedup[key]; ok && time.Now().Before(entry.expiresAt) {
		return false
	}
	f.dedup[key] = dedupEntry{expiresAt: time.Now().Add(f.dedupWindow)}
	return true
}

// LogBlockedRequest emits a deduplicated log line for a request aborted by
// request interception, matching the wording used in the quoted scenario
// ("Private network addresses are not allowed").
func (f *Filter) LogBlockedRequest(hostname, reason string) {
	if !f.ShouldLogBlockedRequest(hostname, reason) {
		return
	}
	f.log.Warn("blocked outbound request", "hostname", hostname, "reason", reason)
}
