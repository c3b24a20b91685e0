package emulator

import (
	"context"
	"fmt"

	"github.com/skytestlabs/runner/internal/adb"
)

// fakeDevice implements DeviceHandle without shelling out to a real adb
// binary, so pool/instance tests can exercise health-check and cleanup
// paths deterministically.
type fakeDevice struct {
	serial   string
	healthy  bool
	shellErr error
	shellLog *[]string
}

func (f fakeDevice) Shell(ctx context.Context, opts adb.CommandOpts, cmd ...string) (string, error) {
	if f.shellLog != nil {
		*f.shellLog = append(*f.shellLog, fmt.Sprint(cmd))
	}
	if f.shellErr != nil {
		return "", f.shellErr
	}
	return "", nil
}

func (f fakeDevice) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f fakeDevice) Serial() string { return f.serial }

// newTestInstance builds an Instance backed by a fakeDevice, bypassing the
// process/ADB factory entirely.
func newTestInstance(id, avdName string, healthy bool) *Instance {
	inst := newInstance(id, avdName, nil, fakeDevice{serial: "emulator-" + id, healthy: healthy}, 0, 0, "emulator-"+id, nil)
	inst.setState(StateIdle)
	return inst
}

// newTestFactory returns a Factory producing fakeDevice-backed instances,
// counting how many times it was invoked.
func newTestFactory(healthy bool, calls *int) Factory {
	return func(ctx context.Context, avdName string, index int) (*Instance, error) {
		if calls != nil {
			*calls++
		}
		id := fmt.Sprintf("%s-%d", avdName, index)
		return newTestInstance(id, avdName, healthy), nil
	}
}
