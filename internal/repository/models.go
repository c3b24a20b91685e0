package repository

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the persisted lifecycle state of a run. Source of truth
// across process restarts: the in-memory queue state is rebuilt from this
// column, never the reverse.
type RunStatus string

const (
	StatusQueued    RunStatus = "QUEUED"
	StatusPreparing RunStatus = "PREPARING"
	StatusRunning   RunStatus = "RUNNING"
	StatusPass      RunStatus = "PASS"
	StatusFail      RunStatus = "FAIL"
	StatusCancelled RunStatus = "CANCELLED"
)

// IsActive reports whether s is a non-terminal status a restart must
// reconcile.
func (s RunStatus) IsActive() bool {
	switch s {
	case StatusQueued, StatusPreparing, StatusRunning:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a final status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusPass, StatusFail, StatusCancelled:
		return true
	default:
		return false
	}
}

// StaleRun identifies a run left in a non-terminal state by a prior
// process, found by FindStaleActiveRuns during startup reconciliation.
type StaleRun struct {
	RunID      uuid.UUID
	TestCaseID uuid.UUID
	Status     RunStatus
}

// TestCaseProject is the joined test-case/project metadata needed to
// describe a run for usage accounting and status propagation.
type TestCaseProject struct {
	TestCaseID   uuid.UUID
	TestCaseName string
	ProjectID    uuid.UUID
	ProjectName  string
}

// TerminalUpdate carries the fields written exactly once on a run's
// terminal transition.
type TerminalUpdate struct {
	Status      RunStatus
	Error       string
	ResultJSON  []byte
	LogsCleared bool
	CompletedAt time.Time
}
