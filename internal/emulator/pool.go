package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skytestlabs/runner/internal/sentinel"
)

// ErrPoolClosed is returned when Acquire/Boot is called on a closed pool.
const ErrPoolClosed = sentinel.Error("emulator: pool is closed")

// ErrCeilingBlocked is returned by Acquire/Boot when the global ceiling is
// hit and the caller's context ends while it is blocked waiting for a slot.
const ErrCeilingBlocked = sentinel.Error("emulator: acquire aborted waiting for a free slot")

// Factory boots a brand new instance for avdName and returns it in StateIdle.
// index is a monotonically increasing value useful for unique IDs.
type Factory func(ctx context.Context, avdName string, index int) (*Instance, error)

// Request is one element of a canAcquireBatchImmediately probe.
type Request struct {
	AVDName string
}

// Pool maintains emulator instances keyed by AVD profile, gated by a global
// concurrency ceiling shared across all profiles. It is safe for concurrent
// use.
type Pool struct {
	mu sync.Mutex

	freeByProfile map[string][]*Instance
	all           []*Instance
	nextIdx       int
	closed        bool

	factory Factory
	maxSize int

	sem       chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

// NewPool creates a Pool bounded by maxSize concurrently booted instances.
// Panics if factory is nil or maxSize <= 0: an unbounded emulator pool
// makes no sense, the ceiling is always a required, positive configuration
// value.
func NewPool(factory Factory, maxSize int, logger *slog.Logger) *Pool {
	if factory == nil {
		panic("emulator: NewPool factory must not be nil")
	}
	if maxSize <= 0 {
		panic(fmt.Sprintf("emulator: NewPool maxSize must be positive, got %d", maxSize))
	}
	if logger == nil {
		logger = slog.Default()
	}
	sem := make(chan struct{}, maxSize)
	for range maxSize {
		sem <- struct{}{}
	}
	return &Pool{
		freeByProfile: make(map[string][]*Instance),
		factory:       factory,
		maxSize:       maxSize,
		sem:           sem,
		closeCh:       make(chan struct{}),
		log:           logger,
	}
}

// Instances returns a snapshot of every instance ever created by this pool.
func (p *Pool) Instances() []*Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]*Instance, len(p.all))
	copy(cp, p.all)
	return cp
}

// Initialize performs idempotent warm-up: it health-checks every idle
// instance and drops any that fail, without creating new ones. Discovery
// of pre-existing emulator processes outside this pool's bookkeeping (e.g.
// left running by a previous process) is intentionally out of scope — the
// pool only manages instances it created.
func (p *Pool) Initialize(ctx context.Context) error {
	for _, inst := range p.Instances() {
		if inst.State() != StateIdle || inst.healthCheck(ctx) {
			continue
		}
		p.mu.Lock()
		list := p.freeByProfile[inst.avdName]
		found := false
		for i, f := range list {
			if f == inst {
				p.freeByProfile[inst.avdName] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		p.mu.Unlock()
		if found {
			p.discard(inst)
		}
	}
	return nil
}

// CanAcquireBatchImmediately reports whether every request in the batch can
// be satisfied without exceeding the global ceiling and without reusing the
// same ACQUIRED-would-be instance twice within the batch. A free idle
// instance for a profile satisfies one request for that profile; remaining
// requests must fit within currently-unused global capacity (free slots
// not already claimed by earlier requests in this same batch).
func (p *Pool) CanAcquireBatchImmediately(requests []Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	freeCounts := make(map[string]int, len(p.freeByProfile))
	for profile, list := range p.freeByProfile {
		freeCounts[profile] = len(list)
	}
	availableSlots := len(p.sem)

	for _, req := range requests {
		if freeCounts[req.AVDName] > 0 {
			freeCounts[req.AVDName]--
			continue
		}
		if availableSlots <= 0 {
			return false
		}
		availableSlots--
	}
	return true
}

// Boot starts a new emulator instance for avdName unconditionally, waiting
// for boot completion. It does not consult or mutate the free stack; callers
// that want pooled reuse should call Acquire instead.
func (p *Pool) Boot(ctx context.Context, avdName string) (*Instance, error) {
	if err := p.takeSlot(ctx); err != nil {
		return nil, err
	}
	inst, err := p.build(ctx, avdName)
	if err != nil {
		p.returnSlot()
		return nil, err
	}
	return inst, nil
}

func (p *Pool) build(ctx context.Context, avdName string) (*Instance, error) {
	p.mu.Lock()
	idx := p.nextIdx
	p.nextIdx++
	p.mu.Unlock()

	inst, err := p.factory(ctx, avdName, idx)
	if err != nil {
		return nil, fmt.Errorf("boot emulator for profile %q: %w", avdName, err)
	}
	inst.setState(StateIdle)

	p.mu.Lock()
	p.all = append(p.all, inst)
	closed := p.closed
	p.mu.Unlock()

	if closed {
		_ = inst.stop(30 * time.Second)
		return nil, ErrPoolClosed
	}
	return inst, nil
}

// Acquire returns an IDLE instance for avdName, health-checking it first and
// discarding on failure, booting a fresh one if none is free. If the global
// ceiling is hit, it blocks until a slot frees or ctx is done.
func (p *Pool) Acquire(ctx context.Context, projectID, avdName, runID string) (*Instance, uint64, error) {
	for {
		if inst, ok := p.popFree(avdName); ok {
			if inst.healthCheck(ctx) {
				token := inst.markAcquired(projectID, runID)
				return inst, token, nil
			}
			p.discard(inst)
			continue
		}
		break
	}

	if err := p.takeSlot(ctx); err != nil {
		return nil, 0, err
	}
	inst, err := p.build(ctx, avdName)
	if err != nil {
		p.returnSlot()
		return nil, 0, err
	}
	token := inst.markAcquired(projectID, runID)
	return inst, token, nil
}

func (p *Pool) takeSlot(ctx context.Context) error {
	select {
	case <-p.sem:
		return nil
	case <-p.closeCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCeilingBlocked, ctx.Err())
	}
}

func (p *Pool) returnSlot() {
	select {
	case p.sem <- struct{}{}:
	default:
		select {
		case <-p.closeCh:
		default:
			panic("emulator: returnSlot: semaphore full during normal operation")
		}
	}
}

func (p *Pool) popFree(avdName string) (*Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.freeByProfile[avdName]
	if len(list) == 0 {
		return nil, false
	}
	inst := list[len(list)-1]
	p.freeByProfile[avdName] = list[:len(list)-1]
	return inst, true
}

func (p *Pool) pushFree(inst *Instance) {
	p.mu.Lock()
	p.freeByProfile[inst.avdName] = append(p.freeByProfile[inst.avdName], inst)
	p.mu.Unlock()
}

// ReleaseOpts configures a Release call.
type ReleaseOpts struct {
	ClearPackageData bool
	PackageName      string
}

// Release cleans up an acquired instance (optional force-stop + pm clear,
// HOME key, health check) and returns it to IDLE on success, or discards it
// (DEAD) on any failure. token must match the value returned by Acquire;
// a stale token panics, matching this module's double-release contract.
// An instance holds its global slot from boot until it dies, acquired or
// idle, so a successful release keeps the slot with the instance; only the
// discard path frees it.
func (p *Pool) Release(ctx context.Context, inst *Instance, token uint64, opts ReleaseOpts) {
	if !inst.tryRelease(token) {
		panic("emulator: double-release of instance " + inst.id)
	}
	inst.setState(StateCleaning)

	if !p.cleanupInstance(ctx, inst, opts) {
		p.discard(inst)
		return
	}
	inst.resetForRelease()
	p.pushFree(inst)
}

func (p *Pool) cleanupInstance(ctx context.Context, inst *Instance, opts ReleaseOpts) bool {
	dev := inst.Device()
	if opts.ClearPackageData && opts.PackageName != "" {
		_, _ = dev.Shell(ctx, adbCmdOpts(), "am", "force-stop", opts.PackageName)
		_, _ = dev.Shell(ctx, adbCmdOpts(), "pm", "clear", opts.PackageName)
	}
	_, _ = dev.Shell(ctx, adbCmdOpts(), "input", "keyevent", "KEYCODE_HOME")
	return dev.HealthCheck(ctx)
}

// markDead stops the instance. It stays in the Instances snapshot; callers
// take it off its free stack first, so it is never reused. Stop is
// best-effort; failures are logged only.
func (p *Pool) markDead(inst *Instance) {
	if err := inst.stop(30 * time.Second); err != nil {
		p.log.Warn("stop discarded instance", "instance", inst.id, "error", err)
	}
}

// discard kills inst and returns its global slot.
func (p *Pool) discard(inst *Instance) {
	p.markDead(inst)
	p.returnSlot()
}

// Stop terminates the idle instance with the given id. Has no effect on
// ACQUIRED instances (it only searches the free stacks).
func (p *Pool) Stop(id string) error {
	p.mu.Lock()
	for profile, list := range p.freeByProfile {
		for idx, inst := range list {
			if inst.id != id {
				continue
			}
			p.freeByProfile[profile] = append(list[:idx], list[idx+1:]...)
			p.mu.Unlock()
			p.discard(inst)
			return nil
		}
	}
	p.mu.Unlock()
	return fmt.Errorf("emulator: no idle instance with id %q", id)
}

// StopIdleEmulatorsForProfiles terminates every idle instance whose profile
// appears in names, so a subsequent job isn't starved by an orphaned
// instance left over from a cancelled job's reservation.
func (p *Pool) StopIdleEmulatorsForProfiles(names []string) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	p.mu.Lock()
	var toStop []*Instance
	for profile := range want {
		toStop = append(toStop, p.freeByProfile[profile]...)
		delete(p.freeByProfile, profile)
	}
	p.mu.Unlock()

	for _, inst := range toStop {
		p.discard(inst)
	}
}

// Close marks the pool closed: further Acquire/Boot calls fail, and
// in-flight waiters on the semaphore are unblocked.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	all := append([]*Instance(nil), p.all...)
	p.freeByProfile = make(map[string][]*Instance)
	p.mu.Unlock()

	p.closeOnce.Do(func() { close(p.closeCh) })
	for _, inst := range all {
		if inst.State() != StateDead {
			_ = inst.stop(30 * time.Second)
		}
	}
}
