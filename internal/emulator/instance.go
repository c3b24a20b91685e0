package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/process"
	"github.com/skytestlabs/runner/internal/sentinel"
)

// ErrInstanceDead is returned when an operation is attempted on an instance
// that has transitioned to StateDead. A dead instance must never be reused.
const ErrInstanceDead = sentinel.Error("emulator: instance is dead")

// DeviceHandle is the subset of *adb.Device an Instance needs. Accepting an
// interface instead of the concrete type lets tests substitute a fake
// without shelling out to a real adb binary.
type DeviceHandle interface {
	Shell(ctx context.Context, opts adb.CommandOpts, cmd ...string) (string, error)
	HealthCheck(ctx context.Context) bool
	Serial() string
}

// Handle is the subset of Instance exposed to callers outside the pool: it
// hides lease-token bookkeeping behind Acquire/Release-mediated access.
type Handle struct {
	ID          string
	AVDName     string
	Serial      string
	Device      DeviceHandle
	ConsolePort int
	ADBPort     int
	ProjectID   string
	RunID       string
	StartedAt   time.Time
	AcquiredAt  time.Time
}

// Instance is a single emulator process tracked by the pool.
//
// Synchronization strategy: gen is a monotonic generation counter
// (odd=acquired, even=free) read and updated atomically for lock-free
// IsBusy checks and ABA-safe release tokens; state is a separate atomic
// for lifecycle transitions; stateMu guards the handful of fields mutated
// only while transitioning (ProjectID, RunID, timestamps), since those
// always change together with a state transition.
type Instance struct {
	id      string
	avdName string

	proc   *process.BaseProcess
	device DeviceHandle

	consolePort int
	adbPort     int
	serial      string

	gen   atomic.Uint64
	state atomic.Uint32

	stateMu    sync.Mutex
	projectID  string
	runID      string
	startedAt  time.Time
	acquiredAt time.Time

	clearPackageDataOnRelease bool
	packageName               string

	log *slog.Logger
}

// NewInstance constructs an Instance bound to an already-running process
// and device handle, in StateStarting. Production factories (see Pool's
// Factory type) call this after the process is launched and the serial is
// known; tests of packages built atop Pool can call it with a fake
// DeviceHandle and a nil proc.
func NewInstance(id, avdName string, proc *process.BaseProcess, device DeviceHandle, consolePort, adbPort int, serial string, log *slog.Logger) *Instance {
	return newInstance(id, avdName, proc, device, consolePort, adbPort, serial, log)
}

func newInstance(id, avdName string, proc *process.BaseProcess, device DeviceHandle, consolePort, adbPort int, serial string, log *slog.Logger) *Instance {
	if log == nil {
		log = slog.Default()
	}
	return &Instance{
		id:          id,
		avdName:     avdName,
		proc:        proc,
		device:      device,
		consolePort: consolePort,
		adbPort:     adbPort,
		serial:      serial,
		log:         log.With("instance", id, "avd", avdName),
	}
}

// ID returns the instance's unique identifier.
func (i *Instance) ID() string { return i.id }

// AVDName returns the profile this instance was booted for.
func (i *Instance) AVDName() string { return i.avdName }

// Serial returns the ADB serial for this instance.
func (i *Instance) Serial() string { return i.serial }

// Device returns the ADB handle bound to this instance.
func (i *Instance) Device() DeviceHandle { return i.device }

// State returns the instance's current lifecycle state.
func (i *Instance) State() State { return State(i.state.Load()) }

func (i *Instance) setState(s State) { i.state.Store(uint32(s)) }

// IsBusy reports whether the instance is currently acquired.
func (i *Instance) IsBusy() bool { return i.gen.Load()%2 == 1 }

// markAcquired transitions to ACQUIRED and returns a release token, per the
// odd/even generation-counter discipline used throughout this module.
func (i *Instance) markAcquired(projectID, runID string) uint64 {
	token := i.gen.Add(1)
	i.stateMu.Lock()
	i.projectID = projectID
	i.runID = runID
	i.acquiredAt = time.Now()
	i.stateMu.Unlock()
	i.setState(StateAcquired)
	return token
}

// tryRelease atomically advances the generation counter from token
// (odd/acquired) to token+1 (even/free). Returns false if token is stale.
func (i *Instance) tryRelease(token uint64) bool {
	return i.gen.CompareAndSwap(token, token+1)
}

// Handle snapshots the instance's caller-visible fields.
func (i *Instance) Handle() Handle {
	i.stateMu.Lock()
	defer i.stateMu.Unlock()
	return Handle{
		ID:          i.id,
		AVDName:     i.avdName,
		Serial:      i.serial,
		Device:      i.device,
		ConsolePort: i.consolePort,
		ADBPort:     i.adbPort,
		ProjectID:   i.projectID,
		RunID:       i.runID,
		StartedAt:   i.startedAt,
		AcquiredAt:  i.acquiredAt,
	}
}

// healthCheck probes the instance via ADB. A failing health check means the
// caller should discard (transition to DEAD) rather than reuse the instance.
func (i *Instance) healthCheck(ctx context.Context) bool {
	return i.device.HealthCheck(ctx)
}

// stop terminates the emulator process. Idempotent: calling stop on an
// already-stopped instance is a no-op.
func (i *Instance) stop(timeout time.Duration) error {
	i.setState(StateDead)
	if i.proc == nil {
		return nil
	}
	if err := i.proc.Stop(timeout); err != nil {
		return fmt.Errorf("stop emulator process %s: %w", i.id, err)
	}
	return nil
}

// resetForRelease clears per-run bookkeeping after a successful release
// back to IDLE.
func (i *Instance) resetForRelease() {
	i.stateMu.Lock()
	i.projectID = ""
	i.runID = ""
	i.acquiredAt = time.Time{}
	i.stateMu.Unlock()
	i.setState(StateIdle)
}
