package runner

import (
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/emulator"
)

// Sentinel errors re-exported from internal packages so callers can match
// them with errors.Is without importing internal/* directly.
const (
	// ErrPoolClosed is returned by the emulator pool once Shutdown has run.
	ErrPoolClosed = emulator.ErrPoolClosed

	// ErrCeilingBlocked is returned by an emulator acquire when the global
	// emulator ceiling is hit and the caller's context ends while it is
	// blocked waiting for a slot.
	ErrCeilingBlocked = emulator.ErrCeilingBlocked

	// ErrSerialAcquired is returned when a physical device's serial is
	// already ACQUIRED by another run.
	ErrSerialAcquired = devicemanager.ErrSerialAcquired

	// ErrSerialNotConnected is returned when a physical device's serial is
	// not reported by `adb devices`, or reports a non-device state.
	ErrSerialNotConnected = devicemanager.ErrSerialNotConnected

	// ErrStopUnsupported is returned by DeviceManager.Stop when asked to
	// stop a physical lease: physical devices are attached to, never
	// started or stopped by this process.
	ErrStopUnsupported = devicemanager.ErrStopUnsupported
)
