package adb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/skytestlabs/runner/internal/sentinel"
)

// ErrUnauthorized is returned when a serial reports the "unauthorized"
// connection state instead of "device".
const ErrUnauthorized = sentinel.Error("adb: device unauthorized")

// ErrNotConnected is returned when a serial does not appear in `adb devices`.
const ErrNotConnected = sentinel.Error("adb: device not connected")

// ErrCommandFailed is returned when a shell/install/uninstall call exhausts
// its retry budget without success.
const ErrCommandFailed = sentinel.Error("adb: command failed")

// terminalPatterns are exit states that must not be retried: the command
// ran, adb understood it, and the failure is intrinsic to the invocation
// rather than a transient connection hiccup.
var terminalPatterns = []string{
	"INSTALL_FAILED_INVALID_APK",
	"INSTALL_FAILED_VERIFICATION_FAILURE",
	"DELETE_FAILED_INTERNAL_ERROR",
	"no such file or directory",
}

// Options configures a Device handle.
type Options struct {
	Binary             string
	CommandTimeout     time.Duration
	Retries            int
	HealthCheckTimeout time.Duration
	Logger             *slog.Logger
}

// Device is a per-serial ADB handle. A Device is safe for concurrent use;
// each call shells out independently and carries its own timeout.
type Device struct {
	serial string
	opts   Options
	log    *slog.Logger
}

// NewDevice returns a handle bound to serial. Serial must not be empty.
func NewDevice(serial string, opts Options) *Device {
	if serial == "" {
		panic("adb: serial must not be empty")
	}
	if opts.Binary == "" {
		opts.Binary = "adb"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{serial: serial, opts: opts, log: logger.With("serial", serial)}
}

// Serial returns the device serial this handle is bound to.
func (d *Device) Serial() string { return d.serial }

// CommandOpts overrides the per-call timeout/retry budget. A zero value
// field falls back to the Device's configured default.
type CommandOpts struct {
	Timeout time.Duration
	Retries int
}

func (d *Device) resolve(opts CommandOpts) (time.Duration, int) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.opts.CommandTimeout
	}
	retries := opts.Retries
	if retries == 0 {
		retries = d.opts.Retries
	}
	return timeout, retries
}

// Shell runs `adb -s <serial> shell <cmd...>` with a hard timeout and up
// to `retries` additional attempts on transient failure.
func (d *Device) Shell(ctx context.Context, opts CommandOpts, cmd ...string) (string, error) {
	args := append([]string{"shell"}, cmd...)
	return d.run(ctx, opts, args...)
}

// Install runs `adb -s <serial> install -r <apkPath>`.
func (d *Device) Install(ctx context.Context, opts CommandOpts, apkPath string) error {
	_, err := d.run(ctx, opts, "install", "-r", apkPath)
	return err
}

// Uninstall runs `adb -s <serial> uninstall <appID>`.
func (d *Device) Uninstall(ctx context.Context, opts CommandOpts, appID string) error {
	_, err := d.run(ctx, opts, "uninstall", appID)
	return err
}

// EmulatorKill runs `adb -s <serial> emu kill`, used to terminate an
// emulator instance cleanly from outside the emulator pool's own process
// handle (e.g., during reconciliation of orphaned instances).
func (d *Device) EmulatorKill(ctx context.Context, opts CommandOpts) error {
	_, err := d.run(ctx, opts, "emu", "kill")
	return err
}

// HealthCheck probes responsiveness with a benign shell command within a
// small budget and reports healthy=true on success.
func (d *Device) HealthCheck(ctx context.Context) bool {
	timeout := d.opts.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	out, err := d.run(ctx, CommandOpts{Timeout: timeout, Retries: 0}, "shell", "echo", "ok")
	return err == nil && strings.TrimSpace(out) == "ok"
}

func (d *Device) run(ctx context.Context, opts CommandOpts, args ...string) (string, error) {
	timeout, retries := d.resolve(opts)
	full := append([]string{"-s", d.serial}, args...)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		out, err := d.runOnce(ctx, timeout, full)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if isTerminal(out, err) {
			break
		}
		if attempt < retries {
			d.log.Debug("adb command transient failure, retrying",
				"attempt", attempt+1, "args", args, "error", err)
		}
	}
	return "", fmt.Errorf("%w: %v", ErrCommandFailed, lastErr)
}

func (d *Device) runOnce(ctx context.Context, timeout time.Duration, args []string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, d.opts.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String() + stderr.String(), fmt.Errorf("run adb %v: %w", args, err)
	}
	return stdout.String(), nil
}

// isTerminal reports whether a failed command matched a known non-transient
// error pattern and should not be retried.
func isTerminal(output string, err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(output)
	for _, pattern := range terminalPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
