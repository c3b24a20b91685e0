package devicemanager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skytestlabs/runner/internal/emulator"
)

// physicalLease tracks one directly-connected serial. It mirrors
// emulator.Instance's generation-counter/state discipline but has no
// associated process: a physical device cannot be booted or stopped by this
// process, only attached to and detached from.
type physicalLease struct {
	serial string
	device emulator.DeviceHandle

	gen   atomic.Uint64
	state atomic.Uint32

	stateMu    sync.Mutex
	projectID  string
	runID      string
	acquiredAt time.Time

	log *slog.Logger
}

func newPhysicalLease(serial string, device emulator.DeviceHandle, log *slog.Logger) *physicalLease {
	if log == nil {
		log = slog.Default()
	}
	return &physicalLease{serial: serial, device: device, log: log.With("serial", serial)}
}

func (p *physicalLease) State() emulator.State     { return emulator.State(p.state.Load()) }
func (p *physicalLease) setState(s emulator.State) { p.state.Store(uint32(s)) }
func (p *physicalLease) isBusy() bool              { return p.gen.Load()%2 == 1 }

func (p *physicalLease) markAcquired(projectID, runID string) uint64 {
	token := p.gen.Add(1)
	p.stateMu.Lock()
	p.projectID = projectID
	p.runID = runID
	p.acquiredAt = time.Now()
	p.stateMu.Unlock()
	p.setState(emulator.StateAcquired)
	return token
}

func (p *physicalLease) tryRelease(token uint64) bool {
	return p.gen.CompareAndSwap(token, token+1)
}

func (p *physicalLease) resetForRelease() {
	p.stateMu.Lock()
	p.projectID = ""
	p.runID = ""
	p.acquiredAt = time.Time{}
	p.stateMu.Unlock()
	p.setState(emulator.StateIdle)
}

func (p *physicalLease) healthCheck(ctx context.Context) bool {
	return p.device.HealthCheck(ctx)
}
