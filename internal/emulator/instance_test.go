package emulator

import (
	"context"
	"testing"
)

func TestInstanceMarkAcquiredAndTryRelease(t *testing.T) {
	inst := newTestInstance("i1", "pixel6", true)
	if inst.IsBusy() {
		t.Fatal("new instance must not be busy")
	}

	token := inst.markAcquired("proj-1", "run-1")
	if !inst.IsBusy() {
		t.Fatal("instance must be busy after markAcquired")
	}
	if inst.State() != StateAcquired {
		t.Fatalf("state = %v, want ACQUIRED", inst.State())
	}

	if inst.tryRelease(token + 1) {
		t.Fatal("tryRelease must reject a stale token")
	}
	if !inst.tryRelease(token) {
		t.Fatal("tryRelease must succeed with the token returned by markAcquired")
	}
	if inst.IsBusy() {
		t.Fatal("instance must not be busy after a successful release")
	}
	if inst.tryRelease(token) {
		t.Fatal("tryRelease must not succeed twice with the same token")
	}
}

func TestInstanceHandleSnapshotsBookkeeping(t *testing.T) {
	inst := newTestInstance("i2", "pixel6", true)
	inst.markAcquired("proj-9", "run-9")

	h := inst.Handle()
	if h.ProjectID != "proj-9" || h.RunID != "run-9" {
		t.Fatalf("handle = %+v, want proj-9/run-9", h)
	}
	if h.ID != inst.id || h.AVDName != inst.avdName {
		t.Fatalf("handle identity mismatch: %+v", h)
	}
}

func TestInstanceHealthCheckReflectsDevice(t *testing.T) {
	healthy := newTestInstance("i3", "pixel6", true)
	if !healthy.healthCheck(context.Background()) {
		t.Fatal("expected healthy instance to report healthy")
	}

	unhealthy := newTestInstance("i4", "pixel6", false)
	if unhealthy.healthCheck(context.Background()) {
		t.Fatal("expected unhealthy instance to report unhealthy")
	}
}

func TestInstanceStopIsIdempotentWithNilProcess(t *testing.T) {
	inst := newTestInstance("i5", "pixel6", true)
	if err := inst.stop(0); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if inst.State() != StateDead {
		t.Fatalf("state = %v, want DEAD", inst.State())
	}
	if err := inst.stop(0); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestInstanceResetForReleaseClearsBookkeeping(t *testing.T) {
	inst := newTestInstance("i6", "pixel6", true)
	inst.markAcquired("proj-1", "run-1")
	inst.resetForRelease()

	h := inst.Handle()
	if h.ProjectID != "" || h.RunID != "" {
		t.Fatalf("expected bookkeeping cleared, got %+v", h)
	}
	if inst.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", inst.State())
	}
}
