package runner

import (
	"context"
	"fmt"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/avdcache"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/emulator"
	"github.com/skytestlabs/runner/internal/eventbus"
	"github.com/skytestlabs/runner/internal/executor"
	"github.com/skytestlabs/runner/internal/netutil"
	"github.com/skytestlabs/runner/internal/queue"
	"github.com/skytestlabs/runner/internal/repository"
)

// Runner is the process-wide composition root: it owns one Queue, one
// DeviceManager (and the emulator Pool behind it), and one EventBus, wired
// together per Config. Construct exactly one per process via New; there is
// no implicit package-level singleton.
type Runner struct {
	cfg   Config
	queue *queue.Queue
	dm    *devicemanager.Manager
	bus   *eventbus.Bus
	pool  *emulator.Pool
}

// New validates cfg, applies its defaults, and wires a Runner. The emulator
// pool, device manager, executor, and queue are constructed but not
// started: call Initialize to warm the device manager and Startup to
// reconcile any runs a prior process left active.
func New(cfg Config) (*Runner, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("runner: invalid config: %w", err)
	}

	logger := cfg.Logger

	ports := netutil.NewPortRegistry(logger)
	cache := avdcache.NewCache(cfg.EmulatorPool.GoldenCacheDir, cfg.EmulatorPool.BootTimeout, logger)
	factory := emulatorBootFactory(cfg, cache, ports, logger)
	pool := emulator.NewPool(factory, cfg.EmulatorPool.MaxConcurrentEmulators, logger)

	adbClient := adb.Client{Binary: cfg.ADB.Binary, Timeout: cfg.ADB.CommandTimeout}
	adbFactory := func(serial string) emulator.DeviceHandle {
		return adb.NewDevice(serial, adb.Options{
			Binary:             cfg.ADB.Binary,
			CommandTimeout:     cfg.ADB.CommandTimeout,
			Retries:            cfg.ADB.Retries,
			HealthCheckTimeout: cfg.ADB.HealthCheckTimeout,
			Logger:             logger,
		})
	}
	dm := devicemanager.NewManager(devicemanager.Config{
		Pool:       pool,
		ADBClient:  adbClient,
		ADBFactory: adbFactory,
		Logger:     logger,
	})

	bus := eventbus.New()

	browser := cfg.BrowserDriver
	if browser == nil {
		browser = browserdriver.NewChromedpDriver(logger)
	}

	policy := urlPolicy()
	filter := urlFilter(cfg, logger)

	agentFactory := func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		return agentdriver.New(agentdriver.Config{
			APIKey: apiKey,
			Model:  cfg.AgentModel,
			Shot:   shot,
			Logger: logger,
		})
	}

	exec := executor.New(executor.Config{
		DeviceManager:           dm,
		BrowserDriver:           browser,
		URLPolicy:               policy,
		URLFilter:               filter,
		AgentFactory:            agentFactory,
		MaxTestDuration:         cfg.Executor.MaxTestDuration,
		AndroidOperationTimeout: cfg.Executor.AndroidOperationTimeout,
		CodeStatementTimeout:    cfg.Executor.CodeStatementTimeout,
		UploadRoot:              cfg.Executor.UploadRoot,
		Logger:                  logger,
		Tracer:                  cfg.Tracer,
	})

	q := queue.New(queue.Config{
		Repository:              cfg.Repository,
		EventBus:                bus,
		Executor:                exec,
		DeviceManager:           dm,
		UsageService:            cfg.UsageService,
		GlobalConcurrency:       cfg.Queue.GlobalConcurrency,
		MaxConcurrentPerProject: cfg.Queue.MaxConcurrentPerProject,
		PollInterval:            cfg.Queue.PollInterval,
		MaxBufferedEvents:       cfg.Queue.MaxEventsPerRun,
		MaxScreenshots:          cfg.Queue.MaxScreenshotsPerRun,
		FlushInterval:           cfg.Queue.FlushInterval,
		Logger:                  logger,
	})

	return &Runner{cfg: cfg, queue: q, dm: dm, bus: bus, pool: pool}, nil
}

// Queue returns the process's singleton run queue.
func (r *Runner) Queue() *queue.Queue { return r.queue }

// DeviceManager returns the process's singleton Android device/emulator
// facade.
func (r *Runner) DeviceManager() *devicemanager.Manager { return r.dm }

// EventBus returns the process's singleton publish/subscribe fan-out.
func (r *Runner) EventBus() *eventbus.Bus { return r.bus }

// Initialize warms the device manager: it health-checks every idle emulator
// instance the pool already holds and discards each that fails. Emulators
// started outside this process are not discovered or admitted. Safe to call
// once at process start, before Startup.
func (r *Runner) Initialize(ctx context.Context) error {
	return r.dm.Initialize(ctx)
}

// Startup reconciles every run a prior process left in a non-terminal
// status, force-failing it. Call once at process start, after Initialize
// and before accepting new Queue.Add calls.
func (r *Runner) Startup(ctx context.Context) error {
	return r.queue.Startup(ctx)
}

// Shutdown aborts every pending and running job, releasing their leases,
// then stops every idle emulator instance. It does not stop the process's
// repository connection; callers own that lifecycle.
func (r *Runner) Shutdown(ctx context.Context) {
	r.queue.ShutdownAll(ctx, "Server shutting down")

	for _, inst := range r.pool.Instances() {
		if err := r.pool.Stop(inst.ID()); err != nil {
			r.cfg.Logger.Warn("shutdown: stop emulator instance failed", "instance", inst.ID(), "error", err)
		}
	}
	r.pool.Close()
}

// repository re-exported so callers configuring a Runner can reference
// repository.Repository / repository.RunStatus without importing the
// internal package path directly.
type (
	Repository = repository.Repository
	RunStatus  = repository.RunStatus
)

// Job re-exports queue.Job for the same reason.
type Job = queue.Job
