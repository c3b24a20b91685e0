package queue

import (
	"context"
	"time"

	"github.com/skytestlabs/runner/internal/repository"
)

// Startup reconciles every run a prior process left in a non-terminal
// status: the only way a run observes a crash mid-execution is never
// transitioning again, so every such row is force-failed on boot, before any
// new job is admitted.
func (q *Queue) Startup(ctx context.Context) error {
	stale, err := q.cfg.Repository.FindStaleActiveRuns(ctx)
	if err != nil {
		return err
	}

	for _, sr := range stale {
		update := repository.TerminalUpdate{
			Status:      repository.StatusFail,
			Error:       "Server restarted while test was in progress",
			ResultJSON:  []byte("[]"),
			LogsCleared: true,
			CompletedAt: time.Now(),
		}
		if err := q.cfg.Repository.UpdateRunTerminal(ctx, sr.RunID, update); err != nil {
			q.cfg.Logger.Warn("startup reconciliation: persist FAIL failed", "run", sr.RunID, "error", err)
			continue
		}
		if err := q.cfg.Repository.UpdateTestCaseStatus(ctx, sr.TestCaseID, repository.StatusFail); err != nil {
			q.cfg.Logger.Warn("startup reconciliation: persist test case FAIL failed", "run", sr.RunID, "error", err)
		}
	}
	return nil
}
