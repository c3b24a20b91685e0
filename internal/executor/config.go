package executor

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/urlsafety"
)

// AgentFactory constructs a fresh AgentDriver scoped to a single run and a
// single target's screenshotter. Per-run instances are this module's
// resolution of the scoped-AI-key open question: rather than mutate
// process-wide environment per run, every run gets its own driver bound to
// its own API key, so concurrent runs with distinct keys never race.
type AgentFactory func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver

// Config wires an Executor to its collaborators. New panics when
// DeviceManager, BrowserDriver, URLFilter, AgentFactory or UploadRoot is
// missing or MaxTestDuration is not positive, matching this module's
// fail-fast construction-time validation convention; Logger and Tracer
// fall back to defaults.
type Config struct {
	DeviceManager *devicemanager.Manager
	BrowserDriver browserdriver.Driver
	URLPolicy     urlsafety.Policy
	URLFilter     *urlsafety.Filter
	AgentFactory  AgentFactory

	MaxTestDuration         time.Duration
	AndroidOperationTimeout time.Duration
	CodeStatementTimeout    time.Duration
	UploadRoot              string

	Logger *slog.Logger

	// Tracer emits one span per run. Defaults to the global otel tracer if
	// nil, so a caller that never wires a TracerProvider still gets a
	// harmless no-op tracer rather than a nil-pointer panic.
	Tracer trace.Tracer
}

// Executor drives runs against the collaborators in Config. It is stateless
// across runs: all per-run state lives in local variables and
// targetRuntime values created fresh by Run.
type Executor struct {
	cfg Config
}

// New constructs an Executor.
func New(cfg Config) *Executor {
	if cfg.DeviceManager == nil {
		panic("executor: Config.DeviceManager must not be nil")
	}
	if cfg.BrowserDriver == nil {
		panic("executor: Config.BrowserDriver must not be nil")
	}
	if cfg.URLFilter == nil {
		panic("executor: Config.URLFilter must not be nil")
	}
	if cfg.AgentFactory == nil {
		panic("executor: Config.AgentFactory must not be nil")
	}
	if cfg.MaxTestDuration <= 0 {
		panic("executor: Config.MaxTestDuration must be positive")
	}
	if cfg.UploadRoot == "" {
		panic("executor: Config.UploadRoot must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/skytestlabs/runner/internal/executor")
	}
	return &Executor{cfg: cfg}
}
