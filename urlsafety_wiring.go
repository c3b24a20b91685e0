package runner

import (
	"log/slog"

	"github.com/skytestlabs/runner/internal/urlsafety"
)

// urlPolicy is the scheme/IP-literal policy applied to both target URL
// validation and runtime request interception. A zero Policy already
// restricts to http/https and rejects private-range IP literals; Config
// does not currently expose a way to override the allowed scheme set,
// since every run target in this system is a web page or app, never a
// custom-scheme deep link.
func urlPolicy() urlsafety.Policy {
	return urlsafety.Policy{}
}

// urlFilter builds the runtime request filter shared by every run's
// browser driver. A single Filter instance is shared process-wide (rather
// than one per run) so the negative DNS cache and blocked-request dedup
// window are effective across concurrent runs hitting the same bad host.
func urlFilter(cfg Config, logger *slog.Logger) *urlsafety.Filter {
	return urlsafety.NewFilter(
		urlPolicy(),
		nil,
		cfg.Executor.DNSLookupTimeout,
		cfg.Executor.DNSCacheTTL,
		cfg.Executor.BlockedRequestLogDedupWindow,
		logger,
	)
}
