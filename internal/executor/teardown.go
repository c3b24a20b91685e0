package executor

import (
	"context"
	"time"

	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/devicemanager"
	"golang.org/x/sync/errgroup"
)

// teardownConcurrency bounds how many targets are torn down at once.
const teardownConcurrency = 10

// teardownGrace bounds the whole teardown independently of the run's own
// context, which may already be cancelled or expired by the time cleanup
// runs.
const teardownGrace = 30 * time.Second

// teardown releases every acquired device lease and closes every opened
// browser context, concurrently and independently: one target's teardown
// failure must never block another's. Always invoked with a background
// context so cancellation of the run itself cannot also cancel its cleanup.
func (e *Executor) teardown(parent context.Context, targets map[string]*targetRuntime, order []string, browser browserdriver.Browser) {
	ctx, cancel := context.WithTimeout(parent, teardownGrace)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(teardownConcurrency)

	for _, id := range order {
		tr := targets[id]
		g.Go(func() error {
			e.teardownTarget(gCtx, tr)
			return nil
		})
	}
	_ = g.Wait()

	if browser != nil {
		if err := browser.Close(ctx); err != nil {
			e.cfg.Logger.Warn("close browser failed", "error", err)
		}
	}
}

func (e *Executor) teardownTarget(ctx context.Context, tr *targetRuntime) {
	if tr.browserCtx != nil {
		if err := tr.browserCtx.Close(ctx); err != nil {
			e.cfg.Logger.Warn("close browser context failed", "target", tr.id, "error", err)
		}
	}
	if tr.lease != nil {
		opts := devicemanager.ReleaseOpts{}
		if tr.spec.Android != nil {
			opts.ClearPackageData = tr.spec.Android.ClearAppState
			opts.PackageName = tr.spec.Android.AppID
		}
		e.cfg.DeviceManager.Release(ctx, tr.lease, opts)
	}
}
