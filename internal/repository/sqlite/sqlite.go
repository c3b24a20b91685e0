// Package sqlite implements repository.Repository on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no cgo), for local development and
// integration tests: a single long-lived *sql.DB opened with a
// busy_timeout pragma and WAL journal mode to tolerate the queue's
// debounced-flush writes racing a concurrent reader.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/skytestlabs/runner/internal/repository"
)

const busyTimeoutMs = 5000

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'QUEUED'
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	test_case_id  TEXT NOT NULL REFERENCES test_cases(id),
	status        TEXT NOT NULL,
	error         TEXT,
	logs          TEXT,
	result        TEXT,
	started_at    TIMESTAMP,
	completed_at  TIMESTAMP
);
`

// Store is a repository.Repository backed by an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, busyTimeoutMs,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The run queue is single-process but the debounced flush goroutine
	// and foreground queue calls both write; serialize on one connection
	// rather than tune for concurrent writers SQLite doesn't support well.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ repository.Repository = (*Store)(nil)

func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status repository.RunStatus) error {
	// The status <> 'CANCELLED' guard makes the write conditional: a
	// cancel that already landed in the row wins over a PREPARING/RUNNING
	// transition racing it.
	var err error
	if status == repository.StatusPreparing {
		_, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ? AND status <> 'CANCELLED'`,
			string(status), runID.String())
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE runs SET status = ? WHERE id = ? AND status <> 'CANCELLED'`,
			string(status), runID.String())
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunTerminal(ctx context.Context, runID uuid.UUID, u repository.TerminalUpdate) error {
	var logs any
	if u.LogsCleared {
		logs = nil
	}
	// A row already CANCELLED keeps its outcome: the executor finishing
	// after a cancel must not rewrite it to PASS/FAIL. Re-writing
	// CANCELLED over CANCELLED matches zero rows, which is the idempotence
	// the contract asks for.
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, result = ?, logs = COALESCE(?, logs), completed_at = ? WHERE id = ? AND status <> 'CANCELLED'`,
		string(u.Status), nullableString(u.Error), string(u.ResultJSON), logs, u.CompletedAt, runID.String())
	if err != nil {
		return fmt.Errorf("update run terminal: %w", err)
	}
	return nil
}

func (s *Store) AppendRunLogs(ctx context.Context, runID uuid.UUID, chunk []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET logs = COALESCE(logs, '') || ? WHERE id = ?`, string(chunk), runID.String())
	if err != nil {
		return fmt.Errorf("append run logs: %w", err)
	}
	return nil
}

func (s *Store) FindStaleActiveRuns(ctx context.Context) ([]repository.StaleRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_case_id, status FROM runs WHERE status IN ('QUEUED', 'PREPARING', 'RUNNING')`)
	if err != nil {
		return nil, fmt.Errorf("query stale active runs: %w", err)
	}
	defer rows.Close()

	var out []repository.StaleRun
	for rows.Next() {
		var runID, testCaseID, status string
		if err := rows.Scan(&runID, &testCaseID, &status); err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		rid, err := uuid.Parse(runID)
		if err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		tid, err := uuid.Parse(testCaseID)
		if err != nil {
			return nil, fmt.Errorf("parse test case id: %w", err)
		}
		out = append(out, repository.StaleRun{RunID: rid, TestCaseID: tid, Status: repository.RunStatus(status)})
	}
	return out, rows.Err()
}

func (s *Store) UpdateTestCaseStatus(ctx context.Context, testCaseID uuid.UUID, status repository.RunStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE test_cases SET status = ? WHERE id = ?`, string(status), testCaseID.String())
	if err != nil {
		return fmt.Errorf("update test case status: %w", err)
	}
	return nil
}

func (s *Store) FindTestCaseWithProjectForRun(ctx context.Context, runID uuid.UUID) (repository.TestCaseProject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tc.id, tc.name, p.id, p.name
		FROM runs r
		JOIN test_cases tc ON tc.id = r.test_case_id
		JOIN projects p ON p.id = tc.project_id
		WHERE r.id = ?`, runID.String())

	var tcID, tcName, pID, pName string
	if err := row.Scan(&tcID, &tcName, &pID, &pName); err != nil {
		return repository.TestCaseProject{}, fmt.Errorf("find test case with project for run %s: %w", runID, err)
	}
	tid, err := uuid.Parse(tcID)
	if err != nil {
		return repository.TestCaseProject{}, fmt.Errorf("parse test case id: %w", err)
	}
	pid, err := uuid.Parse(pID)
	if err != nil {
		return repository.TestCaseProject{}, fmt.Errorf("parse project id: %w", err)
	}
	return repository.TestCaseProject{
		TestCaseID:   tid,
		TestCaseName: tcName,
		ProjectID:    pid,
		ProjectName:  pName,
	}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
