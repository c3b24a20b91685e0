package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/skytestlabs/runner/internal/browserdriver"
	internalconfig "github.com/skytestlabs/runner/internal/config"
	"github.com/skytestlabs/runner/internal/repository"
)

// Config wires a Runner to its collaborators and configures every
// admission-control, timeout, and buffering limit the queue, device
// manager, and executor need. Repository is the only required field;
// every limit defaults to the values documented on internal/config's
// Queue/EmulatorPool/ADB/Executor types when left zero.
type Config struct {
	// Repository persists run and test-case status. Required.
	Repository repository.Repository

	// UsageService records best-effort action usage once a run with a
	// known user finishes. Optional: nil skips usage accounting entirely.
	UsageService UsageService

	// AVDProfiles maps an AVD profile name (as referenced by a run's
	// AndroidTarget selector) to the directory containing that profile's
	// prebuilt AVD image tree. Required only if any run targets an
	// emulator profile rather than a connected device.
	AVDProfiles map[string]string

	// BrowserDriver overrides the default chromedp-backed browser driver.
	// Optional.
	BrowserDriver browserdriver.Driver

	// AgentModel overrides the default Anthropic model used by the
	// built-in agent driver. Optional.
	AgentModel anthropic.Model

	Queue        internalconfig.Queue
	EmulatorPool internalconfig.EmulatorPool
	ADB          internalconfig.ADB
	Executor     internalconfig.Executor

	Logger *slog.Logger
	Tracer trace.Tracer
}

// UsageService records action usage for a completed run. Re-declared here
// (rather than imported from internal/queue) so callers configuring a
// Runner never need to import an internal package.
type UsageService interface {
	RecordUsage(ctx context.Context, userID uuid.UUID, actionCount int, description, runID string) error
}

func (c *Config) applyDefaults() {
	if c.Queue.GlobalConcurrency <= 0 {
		c.Queue.GlobalConcurrency = 4
	}
	if c.Queue.MaxConcurrentPerProject <= 0 {
		c.Queue.MaxConcurrentPerProject = 1
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = defaultPollInterval
	}
	if c.Queue.FlushInterval <= 0 {
		c.Queue.FlushInterval = defaultFlushInterval
	}
	if c.Queue.MaxEventsPerRun <= 0 {
		c.Queue.MaxEventsPerRun = 2000
	}
	if c.Queue.MaxScreenshotsPerRun <= 0 {
		c.Queue.MaxScreenshotsPerRun = 200
	}

	if c.EmulatorPool.MaxConcurrentEmulators <= 0 {
		c.EmulatorPool.MaxConcurrentEmulators = 4
	}
	if c.EmulatorPool.BootTimeout <= 0 {
		c.EmulatorPool.BootTimeout = defaultBootTimeout
	}
	if c.EmulatorPool.AcquireTimeout <= 0 {
		c.EmulatorPool.AcquireTimeout = defaultEmulatorAcquireTimeout
	}
	if c.EmulatorPool.EmulatorBinary == "" {
		c.EmulatorPool.EmulatorBinary = "emulator"
	}
	if c.EmulatorPool.AVDManagerBinary == "" {
		c.EmulatorPool.AVDManagerBinary = "avdmanager"
	}
	if c.EmulatorPool.BaseDataDir == "" {
		c.EmulatorPool.BaseDataDir = defaultBaseDataDir
	}
	if c.EmulatorPool.GoldenCacheDir == "" {
		c.EmulatorPool.GoldenCacheDir = defaultGoldenCacheDir
	}

	if c.ADB.Binary == "" {
		c.ADB.Binary = "adb"
	}
	if c.ADB.CommandTimeout <= 0 {
		c.ADB.CommandTimeout = defaultADBCommandTimeout
	}
	if c.ADB.HealthCheckTimeout <= 0 {
		c.ADB.HealthCheckTimeout = defaultADBHealthCheckTimeout
	}

	if c.Executor.MaxTestDuration <= 0 {
		c.Executor.MaxTestDuration = defaultMaxTestDuration
	}
	if c.Executor.AndroidOperationTimeout <= 0 {
		c.Executor.AndroidOperationTimeout = defaultAndroidOperationTimeout
	}
	if c.Executor.CodeStatementTimeout <= 0 {
		c.Executor.CodeStatementTimeout = defaultCodeStatementTimeout
	}
	if c.Executor.DNSLookupTimeout <= 0 {
		c.Executor.DNSLookupTimeout = defaultDNSLookupTimeout
	}
	if c.Executor.DNSCacheTTL <= 0 {
		c.Executor.DNSCacheTTL = defaultDNSCacheTTL
	}
	if c.Executor.BlockedRequestLogDedupWindow <= 0 {
		c.Executor.BlockedRequestLogDedupWindow = defaultBlockedRequestLogDedupWindow
	}
	if c.Executor.UploadRoot == "" {
		c.Executor.UploadRoot = defaultUploadRoot
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// validate checks the aggregate Config via errors.Join, matching this
// module's fail-together validation discipline.
func (c Config) validate() error {
	var errs []error
	if c.Repository == nil {
		errs = append(errs, errors.New("runner: Config.Repository must not be nil"))
	}
	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue config: %w", err))
	}
	if err := c.EmulatorPool.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("emulator pool config: %w", err))
	}
	if err := c.ADB.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("adb config: %w", err))
	}
	if err := c.Executor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("executor config: %w", err))
	}
	return errors.Join(errs...)
}
