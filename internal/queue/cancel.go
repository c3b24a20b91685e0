package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/skytestlabs/runner/internal/eventbus"
	"github.com/skytestlabs/runner/internal/repository"
)

// defaultCancelReason is the terminal error message persisted when a
// caller cancels a run without supplying its own reason, matching the
// executor's own cancellation-path message so a run's stored error reads
// the same whether it was aborted while queued or while it was already
// inside the executor.
const defaultCancelReason = "Test was cancelled by user"

// Cancel aborts runID wherever it currently is: running, still queued, or
// untracked by this process (an orphaned row a restart hasn't reconciled
// yet). reason becomes the run's terminal error message; pass "" to use the
// default. Idempotent: a second call for an already-cancelled running job
// is a no-op.
func (q *Queue) Cancel(ctx context.Context, runID uuid.UUID, reason string) error {
	if reason == "" {
		reason = defaultCancelReason
	}
	runIDStr := runID.String()

	q.mu.Lock()
	if je, ok := q.running[runIDStr]; ok {
		buffered := append([]eventbus.Event(nil), q.buffer[runIDStr]...)
		profiles := append([]string(nil), je.job.EmulatorProfiles...)

		// Removing je from q.running here, under the same lock as the
		// lookup above, is what makes this idempotent against a
		// concurrent second Cancel call (it will find the run gone from
		// q.running and fall through to the pending/unknown branches
		// below) and against startJob's own admission-window check (it
		// observes the entry missing and skips writing PREPARING).
		delete(q.running, runIDStr)
		delete(q.activeStatus, runIDStr)
		delete(q.pendingReservations, runIDStr)
		delete(q.buffer, runIDStr)
		delete(q.persistedIndex, runIDStr)
		delete(q.flushPending, runIDStr)
		q.recomputeMetricsLocked()
		q.mu.Unlock()

		// The abort signal fires before any cleanup runs, so the executor
		// observes cancellation at its next suspension point no matter how
		// far into the run it already is.
		je.cancel()
		if cleanup := je.getCleanup(); cleanup != nil {
			cleanup()
		}

		q.finalizeCancelledRun(je.job, buffered, reason)

		if len(profiles) > 0 {
			q.cfg.DeviceManager.StopIdleEmulatorsForProfiles(profiles)
		}

		q.triggerProcess()
		return nil
	}

	for i, je := range q.pending {
		if je.job.RunID != runID {
			continue
		}
		job := je.job
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		delete(q.buffer, runIDStr)
		delete(q.persistedIndex, runIDStr)
		q.recomputeMetricsLocked()
		q.mu.Unlock()

		je.cancel()
		q.finalizeCancelledRun(job, nil, reason)
		q.triggerProcess()
		return nil
	}
	q.mu.Unlock()

	return q.cancelUnknown(ctx, runID)
}

// finalizeCancelledRun persists the CANCELLED terminal outcome and notifies
// subscribers. Always uses a background context: a run's own cancellation
// must never prevent recording that it was cancelled.
func (q *Queue) finalizeCancelledRun(job Job, buffered []eventbus.Event, reason string) {
	runIDStr := job.RunID.String()

	chunk, err := marshalJSONArray(buffered)
	if err != nil {
		chunk = []byte("[]")
	}
	update := repository.TerminalUpdate{
		Status:      repository.StatusCancelled,
		Error:       reason,
		ResultJSON:  chunk,
		LogsCleared: true,
		CompletedAt: time.Now(),
	}
	if err := q.cfg.Repository.UpdateRunTerminal(context.Background(), job.RunID, update); err != nil {
		q.cfg.Logger.Warn("persist CANCELLED failed", "run", runIDStr, "error", err)
	}
	if err := q.cfg.Repository.UpdateTestCaseStatus(context.Background(), job.TestCaseID, repository.StatusCancelled); err != nil {
		q.cfg.Logger.Warn("persist test case CANCELLED failed", "run", runIDStr, "error", err)
	}
	q.cfg.EventBus.PublishProjectEvent(job.ProjectID.String(),
		eventbus.NewProjectStatusEvent(job.ProjectID.String(), job.TestCaseID.String(), runIDStr, string(repository.StatusCancelled)))
	q.cfg.EventBus.PublishRun(runIDStr, eventbus.NewStatusEvent(string(repository.StatusCancelled), reason))
	q.cfg.EventBus.CloseRun(runIDStr)
}

// cancelUnknown handles a cancel request for a run this process has no
// in-memory record of. It consults FindStaleActiveRuns rather than adding a
// single-row status lookup to Repository: this path is only reached for
// orphaned rows, never the hot admission/completion path, so reusing the
// startup-reconciliation query is enough.
func (q *Queue) cancelUnknown(ctx context.Context, runID uuid.UUID) error {
	stale, err := q.cfg.Repository.FindStaleActiveRuns(ctx)
	if err != nil {
		return err
	}
	for _, sr := range stale {
		if sr.RunID != runID {
			continue
		}
		update := repository.TerminalUpdate{
			Status:      repository.StatusCancelled,
			Error:       "Force cancelled (orphaned run)",
			ResultJSON:  []byte("[]"),
			LogsCleared: true,
			CompletedAt: time.Now(),
		}
		if err := q.cfg.Repository.UpdateRunTerminal(ctx, runID, update); err != nil {
			return err
		}
		return q.cfg.Repository.UpdateTestCaseStatus(ctx, sr.TestCaseID, repository.StatusCancelled)
	}
	return nil
}
