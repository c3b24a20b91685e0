package repository

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract the queue calls. Every method is
// idempotent on the key (runID, target state): calling UpdateRunTerminal
// twice with the same terminal status must not error or double-apply side
// effects, since the queue may retry after a crash mid-write.
type Repository interface {
	// UpdateRunStatus transitions a run to a non-terminal status
	// (QUEUED/PREPARING/RUNNING). Implementations must set startedAt when
	// the new status is PREPARING, and must leave a row whose status is
	// already CANCELLED untouched: a cancel that has landed wins over any
	// intermediate transition racing it.
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status RunStatus) error

	// UpdateRunTerminal persists the final outcome of a run exactly once:
	// status, error message, the accumulated result JSON, and completion
	// time. If logsCleared is true, the incremental `logs` column is reset
	// to NULL since `result` now holds the full event history. A row
	// already CANCELLED keeps its outcome; the write applies to zero rows.
	UpdateRunTerminal(ctx context.Context, runID uuid.UUID, update TerminalUpdate) error

	// AppendRunLogs appends chunk (newline-delimited JSON events) to the
	// run's `logs` column. Called by the queue's debounced flush, at most
	// once per second per run.
	AppendRunLogs(ctx context.Context, runID uuid.UUID, chunk []byte) error

	// FindStaleActiveRuns returns every run left in a non-terminal status
	// by a prior process, consulted once by Queue.startup().
	FindStaleActiveRuns(ctx context.Context) ([]StaleRun, error)

	// UpdateTestCaseStatus mirrors a run's status onto its owning test
	// case, so a test-case list view reflects its most recent run.
	UpdateTestCaseStatus(ctx context.Context, testCaseID uuid.UUID, status RunStatus) error

	// FindTestCaseWithProjectForRun resolves the test case and project a
	// run belongs to, used to build the usage-accounting description
	// "<projectName> - <testCaseName>".
	FindTestCaseWithProjectForRun(ctx context.Context, runID uuid.UUID) (TestCaseProject, error)
}
