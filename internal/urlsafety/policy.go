package urlsafety

import (
	"net"
	"net/url"

	"github.com/skytestlabs/runner/internal/sentinel"
)

// ErrUnsafeURL is returned when a URL fails syntactic or network-safety
// validation.
const ErrUnsafeURL = sentinel.Error("url: unsafe or invalid target")

// ErrDNSTimeout is returned when hostname resolution does not complete
// within the configured deadline. It counts as a validation failure like
// any other, but callers may want to log it distinctly.
const ErrDNSTimeout = sentinel.Error("url: dns resolution timed out")

// Policy controls which schemes are permitted and which IP ranges are
// considered private/unsafe. A zero Policy is usable and defaults to
// http/https only.
type Policy struct {
	// AllowedSchemes restricts validateTargetURL/validateRuntimeRequestURL
	// to these URL schemes. Nil or empty means {"http", "https"}.
	AllowedSchemes []string
}

func (p Policy) schemes() []string {
	if len(p.AllowedSchemes) == 0 {
		return []string{"http", "https"}
	}
	return p.AllowedSchemes
}

func (p Policy) schemeAllowed(scheme string) bool {
	for _, s := range p.schemes() {
		if s == scheme {
			return true
		}
	}
	return false
}

// ValidateTargetURL performs the syntactic, scheme, and literal-IP checks
// described for browser target configuration. It does not perform DNS
// resolution — see Filter.ValidateRuntimeRequestURL for that.
func (p Policy) ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrUnsafeURL
	}
	if !p.schemeAllowed(u.Scheme) {
		return ErrUnsafeURL
	}
	if u.Hostname() == "" {
		return ErrUnsafeURL
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		if isBlockedIP(ip) {
			return ErrUnsafeURL
		}
	}
	return nil
}

// isBlockedIP reports whether ip falls in a private, loopback, link-local,
// unique-local, multicast, or unspecified range.
func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() ||
		ip.IsInterfaceLocalMulticast() {
		return true
	}
	// IPv6 unique local addresses (fc00::/7) are not classified by
	// net.IP.IsPrivate before Go 1.17's ULA support on all platforms;
	// IsPrivate already covers fc00::/7 on modern stdlib, kept explicit
	// below in case of a narrower build constraint.
	if ip4 := ip.To4(); ip4 == nil {
		if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
			return true
		}
	}
	return false
}
