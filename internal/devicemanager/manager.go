package devicemanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/emulator"
	"github.com/skytestlabs/runner/internal/sentinel"
)

// ErrSerialAcquired is returned when a physical device's serial is already
// ACQUIRED by another run.
const ErrSerialAcquired = sentinel.Error("devicemanager: serial already acquired")

// ErrSerialNotConnected is returned when a physical device's serial is not
// reported by `adb devices`, or reports a non-device state (unauthorized).
const ErrSerialNotConnected = sentinel.Error("devicemanager: serial not connected")

// ErrStopUnsupported is returned by Stop when asked to stop a physical lease:
// physical devices are attached to, never started or stopped by this
// process.
const ErrStopUnsupported = sentinel.Error("devicemanager: stop supports emulator instances only")

// AdbFactory constructs the ADB handle bound to a physical serial. Exposed
// as a field so tests can substitute a fake without touching a real adb
// binary.
type AdbFactory func(serial string) emulator.DeviceHandle

// Lease is the caller-visible handle returned by Acquire.
type Lease struct {
	ID         string
	Kind       Kind
	Serial     string
	Device     emulator.DeviceHandle
	ProjectID  string
	RunID      string
	AcquiredAt time.Time

	emuInst  *emulator.Instance
	emuToken uint64

	phys      *physicalLease
	physToken uint64
}

// Manager is a unified facade over an emulator.Pool and directly-connected
// physical devices, matching this module's device lease contract: at most
// one ACQUIRED lease per serial, globally.
type Manager struct {
	pool *emulator.Pool

	mu        sync.Mutex
	physical  map[string]*physicalLease
	adbClient adb.Lister
	adbFactory AdbFactory

	log *slog.Logger
}

// Config wires a Manager to its collaborators.
type Config struct {
	Pool       *emulator.Pool
	ADBClient  adb.Lister
	ADBFactory AdbFactory
	Logger     *slog.Logger
}

// NewManager constructs a Manager. Panics if Pool, ADBClient, or ADBFactory
// is nil: a device manager with no pool or no way to talk to physical
// devices cannot do its job, so a missing collaborator is a programmer
// error caught at construction time.
func NewManager(cfg Config) *Manager {
	if cfg.Pool == nil {
		panic("devicemanager: NewManager requires a non-nil Pool")
	}
	if cfg.ADBClient == nil {
		panic("devicemanager: NewManager requires a non-nil ADBClient")
	}
	if cfg.ADBFactory == nil {
		panic("devicemanager: NewManager requires a non-nil ADBFactory")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		pool:       cfg.Pool,
		physical:   make(map[string]*physicalLease),
		adbClient:  cfg.ADBClient,
		adbFactory: cfg.ADBFactory,
		log:        log,
	}
}

// Initialize delegates emulator warm-up to the pool. Physical devices are
// discovered lazily on first Acquire rather than up front: unlike emulator
// instances, this process did not create them and has no bookkeeping to
// warm.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.pool.Initialize(ctx)
}

// Acquire leases a device matching sel. For an emulator profile this
// delegates to the pool; for a connected serial it verifies ADB connection
// state first.
func (m *Manager) Acquire(ctx context.Context, projectID string, sel Selector, runID string) (*Lease, error) {
	if sel.Kind() == KindPhysical {
		return m.acquirePhysical(ctx, projectID, sel.ConnectedDevice, runID)
	}
	inst, token, err := m.pool.Acquire(ctx, projectID, sel.EmulatorProfile, runID)
	if err != nil {
		return nil, fmt.Errorf("acquire emulator profile %q: %w", sel.EmulatorProfile, err)
	}
	h := inst.Handle()
	return &Lease{
		ID:         inst.ID(),
		Kind:       KindEmulator,
		Serial:     inst.Serial(),
		Device:     inst.Device(),
		ProjectID:  h.ProjectID,
		RunID:      h.RunID,
		AcquiredAt: h.AcquiredAt,
		emuInst:    inst,
		emuToken:   token,
	}, nil
}

func (m *Manager) acquirePhysical(ctx context.Context, projectID, serial, runID string) (*Lease, error) {
	states, err := m.adbClient.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list adb devices: %w", err)
	}
	state, connected := states[serial]
	if !connected || state != adb.StateDevice {
		return nil, fmt.Errorf("%w: %s", ErrSerialNotConnected, serial)
	}

	m.mu.Lock()
	lease, exists := m.physical[serial]
	if exists && lease.isBusy() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSerialAcquired, serial)
	}
	if exists && !lease.healthCheck(ctx) {
		delete(m.physical, serial)
		exists = false
	}
	if !exists {
		lease = newPhysicalLease(serial, m.adbFactory(serial), m.log)
		lease.setState(emulator.StateIdle)
		m.physical[serial] = lease
	}
	m.mu.Unlock()

	token := lease.markAcquired(projectID, runID)
	return &Lease{
		ID:         serial,
		Kind:       KindPhysical,
		Serial:     serial,
		Device:     lease.device,
		ProjectID:  projectID,
		RunID:      runID,
		AcquiredAt: time.Now(),
		phys:       lease,
		physToken:  token,
	}, nil
}

// ReleaseOpts configures a Release call.
type ReleaseOpts struct {
	ClearPackageData bool
	PackageName      string
}

// Release cleans up and returns a lease to its pool, or discards it on
// cleanup failure. Mirrors emulator.Pool.Release's cleanup sequence for the
// physical-device path: optional force-stop + pm clear, HOME keyevent,
// health check.
func (m *Manager) Release(ctx context.Context, lease *Lease, opts ReleaseOpts) {
	if lease.Kind == KindEmulator {
		m.pool.Release(ctx, lease.emuInst, lease.emuToken, emulator.ReleaseOpts{
			ClearPackageData: opts.ClearPackageData,
			PackageName:      opts.PackageName,
		})
		return
	}
	m.releasePhysical(ctx, lease, opts)
}

func (m *Manager) releasePhysical(ctx context.Context, lease *Lease, opts ReleaseOpts) {
	p := lease.phys
	if !p.tryRelease(lease.physToken) {
		panic("devicemanager: double-release of physical lease " + p.serial)
	}

	dev := p.device
	if opts.ClearPackageData && opts.PackageName != "" {
		_, _ = dev.Shell(ctx, adb.CommandOpts{}, "am", "force-stop", opts.PackageName)
		_, _ = dev.Shell(ctx, adb.CommandOpts{}, "pm", "clear", opts.PackageName)
	}
	_, _ = dev.Shell(ctx, adb.CommandOpts{}, "input", "keyevent", "KEYCODE_HOME")

	if !dev.HealthCheck(ctx) {
		m.mu.Lock()
		delete(m.physical, p.serial)
		m.mu.Unlock()
		p.setState(emulator.StateDead)
		return
	}
	p.resetForRelease()
}

// CanAcquireBatchImmediately reports whether every request in the batch is
// immediately satisfiable: emulator requests are delegated to the pool's
// check; physical requests require the serial be free and not requested
// twice within the same batch.
func (m *Manager) CanAcquireBatchImmediately(requests []Request) bool {
	var emuReqs []emulator.Request
	seenSerials := make(map[string]struct{})

	m.mu.Lock()
	for _, r := range requests {
		if r.Selector.Kind() == KindEmulator {
			emuReqs = append(emuReqs, emulator.Request{AVDName: r.Selector.EmulatorProfile})
			continue
		}
		serial := r.Selector.ConnectedDevice
		if _, dup := seenSerials[serial]; dup {
			m.mu.Unlock()
			return false
		}
		seenSerials[serial] = struct{}{}
		if lease, ok := m.physical[serial]; ok && lease.isBusy() {
			m.mu.Unlock()
			return false
		}
	}
	m.mu.Unlock()

	if len(emuReqs) == 0 {
		return true
	}
	return m.pool.CanAcquireBatchImmediately(emuReqs)
}

// Stop terminates the idle emulator instance with the given id. Stopping a
// physical device is rejected: this process only attaches to and detaches
// from physical devices, it never starts or stops them.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	_, isPhysical := m.physical[id]
	m.mu.Unlock()
	if isPhysical {
		return ErrStopUnsupported
	}
	return m.pool.Stop(id)
}

// StopConnectedEmulator force-kills a connected emulator by serial via ADB,
// used for reconciling orphaned emulator processes outside this pool's own
// bookkeeping.
func (m *Manager) StopConnectedEmulator(ctx context.Context, serial string) error {
	dev := m.adbFactory(serial)
	killer, ok := dev.(interface {
		EmulatorKill(ctx context.Context, opts adb.CommandOpts) error
	})
	if !ok {
		return fmt.Errorf("devicemanager: device handle for %s does not support EmulatorKill", serial)
	}
	return killer.EmulatorKill(ctx, adb.CommandOpts{})
}

// StopIdleEmulatorsForProfiles terminates every idle (unleased) emulator
// instance whose profile appears in names. Used when a cancelled job's
// emulator reservation would otherwise sit idle and starve the next job
// waiting on the same profile.
func (m *Manager) StopIdleEmulatorsForProfiles(names []string) {
	m.pool.StopIdleEmulatorsForProfiles(names)
}

// ListInstalledPackages queries a leased device's installed packages.
func (m *Manager) ListInstalledPackages(ctx context.Context, lease *Lease) ([]string, error) {
	out, err := lease.Device.Shell(ctx, adb.CommandOpts{}, "pm", "list", "packages")
	if err != nil {
		return nil, fmt.Errorf("list installed packages on %s: %w", lease.Serial, err)
	}
	return parsePackageList(out), nil
}
