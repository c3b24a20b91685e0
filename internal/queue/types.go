package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/executor"
)

// RunExecutor is the subset of *executor.Executor the queue depends on,
// narrowed to an interface so tests can substitute a fake without driving a
// real browser or device.
type RunExecutor interface {
	Run(ctx context.Context, rc executor.ResolvedConfig, cb executor.Callbacks) executor.Result
}

// UsageService records best-effort action usage once a run with a known
// user finishes. Failures are logged by the queue, never propagated.
type UsageService interface {
	RecordUsage(ctx context.Context, userID uuid.UUID, actionCount int, description, runID string) error
}

// Job is everything the queue needs to admit, run, and account for one test
// run. Config is the immutable snapshot the executor drives; AndroidRequests
// and EmulatorProfiles describe the device reservations canStartJobNow and
// cancellation-time cleanup need to reason about independently of Config's
// internals.
type Job struct {
	RunID      uuid.UUID
	ProjectID  uuid.UUID
	TestCaseID uuid.UUID
	UserID     *uuid.UUID

	Config executor.ResolvedConfig

	AndroidRequests  []devicemanager.Request
	EmulatorProfiles []string
}
