package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skytestlabs/runner/internal/repository"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRun(t *testing.T, s *Store, runID, testCaseID, projectID uuid.UUID) {
	t.Helper()
	if _, err := s.db.Exec(`INSERT INTO projects (id, name) VALUES (?, ?)`, projectID.String(), "demo project"); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO test_cases (id, project_id, name, status) VALUES (?, ?, ?, 'QUEUED')`,
		testCaseID.String(), projectID.String(), "demo case"); err != nil {
		t.Fatalf("seed test case: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO runs (id, test_case_id, status) VALUES (?, ?, 'QUEUED')`,
		runID.String(), testCaseID.String()); err != nil {
		t.Fatalf("seed run: %v", err)
	}
}

func TestStoreLifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, testCaseID, projectID := uuid.New(), uuid.New(), uuid.New()
	seedRun(t, s, runID, testCaseID, projectID)

	if err := s.UpdateRunStatus(ctx, runID, repository.StatusPreparing); err != nil {
		t.Fatalf("UpdateRunStatus PREPARING: %v", err)
	}

	stale, err := s.FindStaleActiveRuns(ctx)
	if err != nil {
		t.Fatalf("FindStaleActiveRuns: %v", err)
	}
	if len(stale) != 1 || stale[0].RunID != runID || stale[0].Status != repository.StatusPreparing {
		t.Fatalf("unexpected stale runs: %+v", stale)
	}

	if err := s.UpdateRunTerminal(ctx, runID, repository.TerminalUpdate{
		Status:      repository.StatusPass,
		ResultJSON:  []byte(`[{"type":"status"}]`),
		LogsCleared: true,
		CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateRunTerminal: %v", err)
	}

	stale, err = s.FindStaleActiveRuns(ctx)
	if err != nil {
		t.Fatalf("FindStaleActiveRuns after terminal: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale runs after terminal update, got %+v", stale)
	}
}

func TestStoreCancelledRowIsNeverOverwritten(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, testCaseID, projectID := uuid.New(), uuid.New(), uuid.New()
	seedRun(t, s, runID, testCaseID, projectID)

	if err := s.UpdateRunTerminal(ctx, runID, repository.TerminalUpdate{
		Status:      repository.StatusCancelled,
		Error:       "Test was cancelled by user",
		ResultJSON:  []byte(`[]`),
		LogsCleared: true,
		CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateRunTerminal CANCELLED: %v", err)
	}

	if err := s.UpdateRunStatus(ctx, runID, repository.StatusPreparing); err != nil {
		t.Fatalf("UpdateRunStatus on cancelled row: %v", err)
	}
	if err := s.UpdateRunTerminal(ctx, runID, repository.TerminalUpdate{
		Status:      repository.StatusPass,
		ResultJSON:  []byte(`[{"type":"status"}]`),
		LogsCleared: true,
		CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateRunTerminal PASS on cancelled row: %v", err)
	}

	var status, errMsg string
	if err := s.db.QueryRow(`SELECT status, error FROM runs WHERE id = ?`, runID.String()).Scan(&status, &errMsg); err != nil {
		t.Fatalf("query run: %v", err)
	}
	if status != string(repository.StatusCancelled) {
		t.Fatalf("status = %q, want CANCELLED to stick", status)
	}
	if errMsg != "Test was cancelled by user" {
		t.Fatalf("error = %q, want the cancellation reason to stick", errMsg)
	}
}

func TestStoreAppendRunLogsAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, testCaseID, projectID := uuid.New(), uuid.New(), uuid.New()
	seedRun(t, s, runID, testCaseID, projectID)

	if err := s.AppendRunLogs(ctx, runID, []byte("line one\n")); err != nil {
		t.Fatalf("AppendRunLogs 1: %v", err)
	}
	if err := s.AppendRunLogs(ctx, runID, []byte("line two\n")); err != nil {
		t.Fatalf("AppendRunLogs 2: %v", err)
	}

	var logs string
	if err := s.db.QueryRow(`SELECT logs FROM runs WHERE id = ?`, runID.String()).Scan(&logs); err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if logs != "line one\nline two\n" {
		t.Fatalf("logs = %q, want accumulated chunks", logs)
	}
}

func TestStoreFindTestCaseWithProjectForRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, testCaseID, projectID := uuid.New(), uuid.New(), uuid.New()
	seedRun(t, s, runID, testCaseID, projectID)

	tcp, err := s.FindTestCaseWithProjectForRun(ctx, runID)
	if err != nil {
		t.Fatalf("FindTestCaseWithProjectForRun: %v", err)
	}
	if tcp.TestCaseID != testCaseID || tcp.ProjectID != projectID {
		t.Fatalf("unexpected join result: %+v", tcp)
	}
	if tcp.TestCaseName != "demo case" || tcp.ProjectName != "demo project" {
		t.Fatalf("unexpected names: %+v", tcp)
	}
}

func TestStoreUpdateTestCaseStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID, testCaseID, projectID := uuid.New(), uuid.New(), uuid.New()
	seedRun(t, s, runID, testCaseID, projectID)

	if err := s.UpdateTestCaseStatus(ctx, testCaseID, repository.StatusFail); err != nil {
		t.Fatalf("UpdateTestCaseStatus: %v", err)
	}

	var status string
	if err := s.db.QueryRow(`SELECT status FROM test_cases WHERE id = ?`, testCaseID.String()).Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != string(repository.StatusFail) {
		t.Fatalf("test case status = %q, want FAIL", status)
	}
}
