// Package postgres implements repository.Repository against a production
// Postgres database via github.com/jackc/pgx/v5/pgxpool. It is the
// production counterpart to internal/repository/sqlite, exercising the
// same Repository contract over a connection pool instead of a single
// embedded-file handle.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skytestlabs/runner/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id   UUID PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
	id         UUID PRIMARY KEY,
	project_id UUID NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'QUEUED'
);

CREATE TABLE IF NOT EXISTS runs (
	id           UUID PRIMARY KEY,
	test_case_id UUID NOT NULL REFERENCES test_cases(id),
	status       TEXT NOT NULL,
	error        TEXT,
	logs         TEXT,
	result       JSONB,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
`

// Store is a repository.Repository backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres via dsn (a libpq connection string) and
// ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

var _ repository.Repository = (*Store)(nil)

func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status repository.RunStatus) error {
	// The status <> 'CANCELLED' guard makes the write conditional: a
	// cancel that already landed in the row wins over a PREPARING/RUNNING
	// transition racing it.
	var err error
	if status == repository.StatusPreparing {
		_, err = s.pool.Exec(ctx,
			`UPDATE runs SET status = $1, started_at = now() WHERE id = $2 AND status <> 'CANCELLED'`,
			string(status), runID)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE runs SET status = $1 WHERE id = $2 AND status <> 'CANCELLED'`,
			string(status), runID)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunTerminal(ctx context.Context, runID uuid.UUID, u repository.TerminalUpdate) error {
	// A row already CANCELLED keeps its outcome: the executor finishing
	// after a cancel must not rewrite it to PASS/FAIL.
	_, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $1,
		    error = NULLIF($2, ''),
		    result = $3,
		    logs = CASE WHEN $4 THEN NULL ELSE logs END,
		    completed_at = $5
		WHERE id = $6 AND status <> 'CANCELLED'`,
		string(u.Status), u.Error, u.ResultJSON, u.LogsCleared, u.CompletedAt, runID)
	if err != nil {
		return fmt.Errorf("update run terminal: %w", err)
	}
	return nil
}

func (s *Store) AppendRunLogs(ctx context.Context, runID uuid.UUID, chunk []byte) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET logs = COALESCE(logs, '') || $1 WHERE id = $2`, string(chunk), runID)
	if err != nil {
		return fmt.Errorf("append run logs: %w", err)
	}
	return nil
}

func (s *Store) FindStaleActiveRuns(ctx context.Context) ([]repository.StaleRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, test_case_id, status FROM runs WHERE status IN ('QUEUED', 'PREPARING', 'RUNNING')`)
	if err != nil {
		return nil, fmt.Errorf("query stale active runs: %w", err)
	}
	defer rows.Close()

	var out []repository.StaleRun
	for rows.Next() {
		var r repository.StaleRun
		var status string
		if err := rows.Scan(&r.RunID, &r.TestCaseID, &status); err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		r.Status = repository.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTestCaseStatus(ctx context.Context, testCaseID uuid.UUID, status repository.RunStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE test_cases SET status = $1 WHERE id = $2`, string(status), testCaseID)
	if err != nil {
		return fmt.Errorf("update test case status: %w", err)
	}
	return nil
}

func (s *Store) FindTestCaseWithProjectForRun(ctx context.Context, runID uuid.UUID) (repository.TestCaseProject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tc.id, tc.name, p.id, p.name
		FROM runs r
		JOIN test_cases tc ON tc.id = r.test_case_id
		JOIN projects p ON p.id = tc.project_id
		WHERE r.id = $1`, runID)

	var out repository.TestCaseProject
	if err := row.Scan(&out.TestCaseID, &out.TestCaseName, &out.ProjectID, &out.ProjectName); err != nil {
		if err == pgx.ErrNoRows {
			return repository.TestCaseProject{}, fmt.Errorf("test case for run %s: %w", runID, err)
		}
		return repository.TestCaseProject{}, fmt.Errorf("find test case with project for run %s: %w", runID, err)
	}
	return out, nil
}
