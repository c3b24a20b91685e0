package devicemanager

import (
	"context"
	"fmt"
	"testing"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/emulator"
)

type fakeDevice struct {
	serial  string
	healthy bool
}

func (f fakeDevice) Shell(ctx context.Context, opts adb.CommandOpts, cmd ...string) (string, error) {
	return "", nil
}
func (f fakeDevice) HealthCheck(ctx context.Context) bool { return f.healthy }
func (f fakeDevice) Serial() string                       { return f.serial }

func testPool(t *testing.T, maxSize int) *emulator.Pool {
	t.Helper()
	factory := func(ctx context.Context, avdName string, index int) (*emulator.Instance, error) {
		id := fmt.Sprintf("%s-%d", avdName, index)
		return emulator.NewInstance(id, avdName, nil, fakeDevice{serial: id, healthy: true}, 0, 0, id, nil), nil
	}
	return emulator.NewPool(factory, maxSize, nil)
}

type fakeLister struct {
	states map[string]adb.ConnectionState
	err    error
}

func (f fakeLister) ListDevices(ctx context.Context) (map[string]adb.ConnectionState, error) {
	return f.states, f.err
}

func testManager(t *testing.T, maxSize int, lister adb.Lister) *Manager {
	t.Helper()
	return NewManager(Config{
		Pool:      testPool(t, maxSize),
		ADBClient: lister,
		ADBFactory: func(serial string) emulator.DeviceHandle {
			return fakeDevice{serial: serial, healthy: true}
		},
	})
}

func TestAcquireEmulatorDelegatesToPool(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{}})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "proj-1", Selector{EmulatorProfile: "pixel6"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Kind != KindEmulator {
		t.Fatalf("kind = %v, want emulator", lease.Kind)
	}
	m.Release(ctx, lease, ReleaseOpts{})
}

func TestAcquirePhysicalRejectsUnauthorized(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{
		"serial-1": adb.StateUnauthorized,
	}})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "proj-1", Selector{ConnectedDevice: "serial-1"}, "run-1"); err == nil {
		t.Fatal("expected acquiring an unauthorized serial to fail")
	}
}

func TestAcquirePhysicalRejectsAlreadyAcquired(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{
		"serial-1": adb.StateDevice,
	}})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "proj-1", Selector{ConnectedDevice: "serial-1"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, "proj-2", Selector{ConnectedDevice: "serial-1"}, "run-2"); err == nil {
		t.Fatal("expected a second acquire of the same serial to fail")
	}

	m.Release(ctx, lease, ReleaseOpts{})

	if _, err := m.Acquire(ctx, "proj-3", Selector{ConnectedDevice: "serial-1"}, "run-3"); err != nil {
		t.Fatalf("expected acquire to succeed after release, got: %v", err)
	}
}

func TestReleasePhysicalDoubleReleasePanics(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{
		"serial-1": adb.StateDevice,
	}})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "proj-1", Selector{ConnectedDevice: "serial-1"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(ctx, lease, ReleaseOpts{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	m.Release(ctx, lease, ReleaseOpts{})
}

func TestCanAcquireBatchImmediatelyDetectsDuplicateSerial(t *testing.T) {
	m := testManager(t, 2, fakeLister{states: map[string]adb.ConnectionState{}})

	ok := m.CanAcquireBatchImmediately([]Request{
		{ProjectID: "p1", Selector: Selector{ConnectedDevice: "serial-1"}},
		{ProjectID: "p2", Selector: Selector{ConnectedDevice: "serial-1"}},
	})
	if ok {
		t.Fatal("expected a batch requesting the same serial twice to be infeasible")
	}
}

func TestCanAcquireBatchImmediatelyCombinesEmulatorAndPhysical(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{
		"serial-1": adb.StateDevice,
	}})
	ctx := context.Background()

	if !m.CanAcquireBatchImmediately([]Request{
		{Selector: Selector{EmulatorProfile: "pixel6"}},
		{Selector: Selector{ConnectedDevice: "serial-1"}},
	}) {
		t.Fatal("expected batch to be feasible when both devices are free")
	}

	lease, err := m.Acquire(ctx, "proj-1", Selector{ConnectedDevice: "serial-1"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m.CanAcquireBatchImmediately([]Request{{Selector: Selector{ConnectedDevice: "serial-1"}}}) {
		t.Fatal("expected batch to be infeasible once the serial is ACQUIRED")
	}
	m.Release(ctx, lease, ReleaseOpts{})
}

func TestStopRejectsPhysicalLease(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{
		"serial-1": adb.StateDevice,
	}})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "proj-1", Selector{ConnectedDevice: "serial-1"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(ctx, lease, ReleaseOpts{})

	if err := m.Stop("serial-1"); err == nil {
		t.Fatal("expected Stop on a physical serial to be rejected")
	}
}

func TestListInstalledPackagesParsesOutput(t *testing.T) {
	m := testManager(t, 1, fakeLister{states: map[string]adb.ConnectionState{}})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "proj-1", Selector{EmulatorProfile: "pixel6"}, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(ctx, lease, ReleaseOpts{})

	pkgs, err := m.ListInstalledPackages(ctx, lease)
	if err != nil {
		t.Fatalf("ListInstalledPackages: %v", err)
	}
	if pkgs != nil {
		t.Fatalf("expected no packages from the fake device's empty shell output, got %v", pkgs)
	}
}
