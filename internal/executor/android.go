package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/eventbus"
)

const (
	appLaunchTimeout     = 15 * time.Second
	foregroundWaitPoll   = 500 * time.Millisecond
	foregroundWaitBudget = 10 * time.Second
)

// setupAndroidTarget acquires a device lease for at, verifies the app is
// installed, optionally clears its data, optionally grants all run-time
// permissions (best-effort), launches it, and waits for it to reach the
// foreground.
func (e *Executor) setupAndroidTarget(ctx context.Context, rc ResolvedConfig, tr *targetRuntime, at *AndroidTarget, cb Callbacks) error {
	lease, err := e.cfg.DeviceManager.Acquire(ctx, rc.ProjectID, at.Selector, rc.RunID)
	if err != nil {
		return fmt.Errorf("executor: acquire device for target %s: %w", tr.id, err)
	}
	tr.lease = lease

	installed, err := e.cfg.DeviceManager.ListInstalledPackages(ctx, lease)
	if err != nil {
		return fmt.Errorf("executor: list installed packages: %w", err)
	}
	if !contains(installed, at.AppID) {
		return fmt.Errorf("%w: app %q is not installed on target %s", ErrConfiguration, at.AppID, tr.id)
	}

	if at.ClearAppState {
		_, _ = lease.Device.Shell(ctx, adb.CommandOpts{}, "pm", "clear", at.AppID)
	}

	if at.AllowAllPermissions {
		e.grantAllPermissions(ctx, lease, at.AppID, cb)
	}

	// The agent must exist before launchApp runs: it is the preferred
	// launch path, with the monkey launcher intent only a fallback.
	tr.agent = e.cfg.AgentFactory(rc.AIAPIKey, androidScreenshotter{lease: lease})

	if err := e.launchApp(ctx, tr, at); err != nil {
		return fmt.Errorf("executor: launch app %q on target %s: %w", at.AppID, tr.id, err)
	}

	if err := e.waitForeground(ctx, lease, at.AppID); err != nil {
		return fmt.Errorf("executor: app %q did not reach foreground on target %s: %w", at.AppID, tr.id, err)
	}

	return nil
}

// grantAllPermissions bulk-grants every run-time permission declared by the
// package. Individual failures are logged and never fatal: a permission the
// OS refuses to grant (e.g. a special-access permission not grantable via
// `pm grant`) should not fail the whole setup.
func (e *Executor) grantAllPermissions(ctx context.Context, lease *devicemanager.Lease, appID string, cb Callbacks) {
	out, err := lease.Device.Shell(ctx, adb.CommandOpts{}, "dumpsys", "package", appID)
	if err != nil {
		e.cfg.Logger.Warn("list permissions for grant failed", "app", appID, "error", err)
		return
	}
	for _, perm := range parseRequestedPermissions(out) {
		if _, err := lease.Device.Shell(ctx, adb.CommandOpts{}, "pm", "grant", appID, perm); err != nil {
			e.cfg.Logger.Warn("grant permission failed", "app", appID, "permission", perm, "error", err)
			cb.emit(eventbus.NewLogEvent("warn", fmt.Sprintf("could not grant permission %s: %v", perm, err), ""))
		}
	}
}

func parseRequestedPermissions(dumpsysOutput string) []string {
	var perms []string
	for _, line := range strings.Split(dumpsysOutput, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "android.permission.") {
			continue
		}
		name, _, _ := strings.Cut(line, ":")
		perms = append(perms, strings.TrimSpace(name))
	}
	return perms
}

// launchApp prefers launching through the agent (which can drive the app
// icon directly), falling back to a monkey launcher intent on failure or
// timeout.
func (e *Executor) launchApp(ctx context.Context, tr *targetRuntime, at *AndroidTarget) error {
	launchCtx, cancel := context.WithTimeout(ctx, appLaunchTimeout)
	defer cancel()

	if tr.agent != nil {
		if err := tr.agent.Launch(launchCtx, at.AppID); err == nil {
			return nil
		}
	}

	_, err := tr.lease.Device.Shell(ctx, adb.CommandOpts{}, "monkey",
		"-p", at.AppID, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// waitForeground polls dumpsys window until appID owns window focus, or
// foregroundWaitBudget elapses.
func (e *Executor) waitForeground(ctx context.Context, lease *devicemanager.Lease, appID string) error {
	deadline := time.Now().Add(foregroundWaitBudget)
	for {
		out, err := lease.Device.Shell(ctx, adb.CommandOpts{}, "dumpsys", "window", "windows")
		if err == nil {
			for _, line := range strings.Split(out, "\n") {
				if strings.Contains(line, "mCurrentFocus") && strings.Contains(line, appID) {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s to reach foreground", appID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(foregroundWaitPoll):
		}
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
