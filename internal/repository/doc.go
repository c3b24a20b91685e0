// Package repository defines the persistence contract the queue calls to
// record run status, append live logs, and look up test-case/project
// metadata. It is deliberately a thin interface: every operation is
// idempotent on the key (runID, target state), so a queue retry after a
// crash never double-applies a transition.
//
// Two adapters satisfy Repository: postgres (github.com/jackc/pgx/v5) for
// production, and sqlite (modernc.org/sqlite, pure Go, no cgo) for local
// development and integration tests. Callers depend only on this package's
// interface; internal/queue never imports an adapter package directly.
package repository
