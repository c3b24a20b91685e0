package queue

import (
	"context"

	"github.com/google/uuid"
)

// ShutdownAll cancels every run currently pending or running, using reason
// as the persisted error message. A process going down must not leave runs
// stuck in QUEUED/PREPARING/RUNNING for the next Startup to find, and it
// must release every device lease those runs hold via the same Cancel path
// a user-initiated cancellation takes.
func (q *Queue) ShutdownAll(ctx context.Context, reason string) {
	q.mu.Lock()
	ids := make([]uuid.UUID, 0, len(q.running)+len(q.pending))
	for _, je := range q.running {
		ids = append(ids, je.job.RunID)
	}
	for _, je := range q.pending {
		ids = append(ids, je.job.RunID)
	}
	q.mu.Unlock()

	for _, id := range ids {
		if err := q.Cancel(ctx, id, reason); err != nil {
			q.cfg.Logger.Warn("shutdown: cancel run failed", "run", id, "error", err)
		}
	}
}
