package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/eventbus"
)

// Run drives rc through preconditions, whole-setup, sequential step
// execution, and cleanup, mapping the outcome to one terminal Result.
// Cleanup always runs, exactly once, whether Run returns normally or the
// caller invokes the hook handed to cb.OnCleanup during cancellation.
func (e *Executor) Run(ctx context.Context, rc ResolvedConfig, cb Callbacks) Result {
	ctx, span := e.cfg.Tracer.Start(ctx, "executor.Run", trace.WithAttributes(
		attribute.String("run.id", rc.RunID),
		attribute.String("run.project_id", rc.ProjectID),
		attribute.String("run.test_case_id", rc.TestCaseID),
	))
	defer span.End()

	res, err := e.checkPreconditions(rc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{Status: StatusFail, Error: err.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxTestDuration)
	defer cancel()

	targets := make(map[string]*targetRuntime, len(res.targets))
	order := make([]string, 0, len(res.targets))
	for _, t := range res.targets {
		targets[t.ID] = &targetRuntime{id: t.ID, spec: t}
		order = append(order, t.ID)
	}

	var (
		countMu     sync.Mutex
		actionCount int
	)
	tipCallback := func(tr *targetRuntime) agentdriver.TipCallback {
		return func(ctx context.Context) error {
			countMu.Lock()
			actionCount++
			countMu.Unlock()
			cb.emit(eventbus.NewLogEvent("info", "AI action", tr.id))
			if shot, err := tr.screenshot(ctx); err == nil {
				cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), "tip", tr.id))
			}
			return nil
		}
	}
	snapshotCount := func() int {
		countMu.Lock()
		defer countMu.Unlock()
		return actionCount
	}

	var (
		cleanupOnce sync.Once
		browser     browserdriver.Browser
	)
	cleanup := func() {
		cleanupOnce.Do(func() {
			e.teardown(context.Background(), targets, order, browser)
		})
	}
	if cb.OnCleanup != nil {
		cb.OnCleanup(cleanup)
	}
	defer cleanup()

	hasAndroid := false
	for _, t := range res.targets {
		if t.IsAndroid() {
			hasAndroid = true
			break
		}
	}
	if hasAndroid && cb.OnPreparing != nil {
		cb.OnPreparing()
	}

	for _, id := range order {
		tr := targets[id]

		var setupErr error
		if tr.spec.IsAndroid() {
			setupErr = e.setupAndroidTarget(runCtx, rc, tr, tr.spec.Android, cb)
		} else {
			if browser == nil {
				browser, setupErr = e.cfg.BrowserDriver.Launch(runCtx, browserdriver.LaunchOptions{
					Headless: true,
					Timeout:  e.cfg.MaxTestDuration,
				})
				if setupErr != nil {
					setupErr = fmt.Errorf("executor: launch browser: %w", setupErr)
				}
			}
			if setupErr == nil {
				setupErr = e.setupBrowserTarget(runCtx, rc, tr, tr.spec.Browser, browser, cb)
			}
		}
		if setupErr != nil {
			return e.finish(span, e.terminalResult(ctx, runCtx, setupErr, snapshotCount()))
		}
		tr.agent.SetOnTaskStartTip(tipCallback(tr))
	}

	if cb.OnRunning != nil {
		cb.OnRunning()
	}

	for i, step := range res.steps {
		tr := targets[step.TargetID]
		if err := e.runStep(runCtx, rc, step, tr, cb, i == 0); err != nil {
			e.captureFailureScreenshot(runCtx, tr, cb)
			return e.finish(span, e.terminalResult(ctx, runCtx, err, snapshotCount()))
		}
		if shot, err := tr.screenshot(runCtx); err == nil {
			cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), "step", tr.id))
		}
		tr.updateNavigationState(runCtx)
	}

	for _, id := range order {
		if shot, err := targets[id].screenshot(runCtx); err == nil {
			cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), "final", targets[id].id))
		}
	}

	return e.finish(span, Result{Status: StatusPass, ActionCount: snapshotCount()})
}

// finish annotates span with result's outcome and returns result unchanged,
// so every exit path from Run reports its terminal status on the same span
// instead of only the error paths.
func (e *Executor) finish(span trace.Span, result Result) Result {
	span.SetAttributes(attribute.String("run.status", string(result.Status)), attribute.Int("run.action_count", result.ActionCount))
	if result.Status == StatusFail {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

// terminalResult maps a failure observed mid-run to its terminal status:
// caller cancellation wins over the run's own max-duration timer, which in
// turn wins over treating err as an ordinary step/setup failure.
func (e *Executor) terminalResult(callerCtx, runCtx context.Context, err error, count int) Result {
	switch {
	case callerCtx.Err() == context.Canceled:
		return Result{Status: StatusCancelled, Error: cancelledMessage, ActionCount: count}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return Result{Status: StatusFail, Error: ErrTimeout.Error(), ActionCount: count}
	default:
		return Result{Status: StatusFail, Error: err.Error(), ActionCount: count}
	}
}

// captureFailureScreenshot is best-effort: a screenshot that itself fails
// while the run is already failing must never mask the original error.
func (e *Executor) captureFailureScreenshot(ctx context.Context, tr *targetRuntime, cb Callbacks) {
	if tr == nil {
		return
	}
	if shot, err := tr.screenshot(ctx); err == nil {
		cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), "failure", tr.id))
	}
}
