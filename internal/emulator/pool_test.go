package emulator

import (
	"context"
	"testing"
	"time"
)

func TestNewPoolPanicsOnInvalidArgs(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	mustPanic("nil factory", func() { NewPool(nil, 1, nil) })
	mustPanic("zero maxSize", func() {
		NewPool(newTestFactory(true, nil), 0, nil)
	})
	mustPanic("negative maxSize", func() {
		NewPool(newTestFactory(true, nil), -1, nil)
	})
}

func TestPoolAcquireBootsThenReusesFromFreeStack(t *testing.T) {
	var calls int
	p := NewPool(newTestFactory(true, &calls), 2, nil)
	ctx := context.Background()

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	p.Release(ctx, inst, token, ReleaseOpts{})
	if inst.State() != StateIdle {
		t.Fatalf("state after release = %v, want IDLE", inst.State())
	}

	inst2, token2, err := p.Acquire(ctx, "proj-2", "pixel6", "run-2")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls after reuse = %d, want still 1 (reused from free stack)", calls)
	}
	if inst2.id != inst.id {
		t.Fatalf("expected the same instance to be reused, got %s vs %s", inst2.id, inst.id)
	}
	p.Release(ctx, inst2, token2, ReleaseOpts{})
}

func TestPoolReleaseDoubleReleasePanics(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 1, nil)
	ctx := context.Background()

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(ctx, inst, token, ReleaseOpts{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	p.Release(ctx, inst, token, ReleaseOpts{})
}

func TestPoolReleaseDiscardsUnhealthyInstance(t *testing.T) {
	var calls int
	p := NewPool(newTestFactory(false, &calls), 1, nil)
	ctx := context.Background()

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(ctx, inst, token, ReleaseOpts{})

	if inst.State() != StateDead {
		t.Fatalf("state = %v, want DEAD after failing health check on release", inst.State())
	}
	if got := len(p.Instances()); got != 1 {
		t.Fatalf("instances tracked = %d, want 1", got)
	}

	// The slot must have been returned: a second Acquire should succeed
	// without blocking.
	inst2, token2, err := p.Acquire(ctx, "proj-2", "pixel6", "run-2")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (discarded instance must not be reused)", calls)
	}
	p.Release(ctx, inst2, token2, ReleaseOpts{})
}

func TestPoolAcquireBlocksAtGlobalCeiling(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 1, nil)
	ctx := context.Background()

	inst, _, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	boundedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := p.Acquire(boundedCtx, "proj-2", "pixelxl", "run-2"); err == nil {
		t.Fatal("expected Acquire to block and time out at the global ceiling")
	}

	_ = inst
}

func TestPoolCanAcquireBatchImmediately(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 2, nil)
	ctx := context.Background()

	if !p.CanAcquireBatchImmediately([]Request{{AVDName: "pixel6"}, {AVDName: "pixelxl"}}) {
		t.Fatal("expected a batch of 2 to fit within a ceiling of 2 with nothing in use")
	}
	if p.CanAcquireBatchImmediately([]Request{{AVDName: "pixel6"}, {AVDName: "pixelxl"}, {AVDName: "pixel6"}}) {
		t.Fatal("expected a batch of 3 to exceed a ceiling of 2")
	}

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.CanAcquireBatchImmediately([]Request{{AVDName: "pixelxl"}, {AVDName: "pixel6"}}) {
		t.Fatal("expected batch to be infeasible with one slot already consumed")
	}

	p.Release(ctx, inst, token, ReleaseOpts{})
	if !p.CanAcquireBatchImmediately([]Request{{AVDName: "pixel6"}}) {
		t.Fatal("expected the released free instance to satisfy the request")
	}
}

func TestPoolStopOnlyAffectsIdleInstances(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 1, nil)
	ctx := context.Background()

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Stop(inst.id); err == nil {
		t.Fatal("expected Stop to fail for an ACQUIRED instance")
	}

	p.Release(ctx, inst, token, ReleaseOpts{})
	if err := p.Stop(inst.id); err != nil {
		t.Fatalf("Stop on idle instance: %v", err)
	}
	if inst.State() != StateDead {
		t.Fatalf("state = %v, want DEAD after Stop", inst.State())
	}
}

func TestPoolStopIdleEmulatorsForProfiles(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 2, nil)
	ctx := context.Background()

	a, aTok, _ := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	p.Release(ctx, a, aTok, ReleaseOpts{})
	b, bTok, _ := p.Acquire(ctx, "proj-1", "pixelxl", "run-2")
	p.Release(ctx, b, bTok, ReleaseOpts{})

	p.StopIdleEmulatorsForProfiles([]string{"pixel6"})

	if a.State() != StateDead {
		t.Fatalf("pixel6 instance state = %v, want DEAD", a.State())
	}
	if b.State() != StateIdle {
		t.Fatalf("pixelxl instance state = %v, want still IDLE", b.State())
	}
}

func TestPoolCloseDrainsInstancesAndRejectsAcquire(t *testing.T) {
	p := NewPool(newTestFactory(true, nil), 1, nil)
	ctx := context.Background()

	inst, token, err := p.Acquire(ctx, "proj-1", "pixel6", "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(ctx, inst, token, ReleaseOpts{})

	p.Close()
	if inst.State() != StateDead {
		t.Fatalf("state after Close = %v, want DEAD", inst.State())
	}

	if _, _, err := p.Acquire(ctx, "proj-2", "pixel6", "run-2"); err == nil {
		t.Fatal("expected Acquire on a closed pool to fail")
	}
}
