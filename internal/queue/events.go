package queue

import (
	"encoding/json"
	"time"

	"github.com/skytestlabs/runner/internal/eventbus"
)

// handleEvent is the executor's OnEvent hook for one run: it republishes to
// live run subscribers unconditionally, then appends to the bounded
// in-memory buffer (subject to the total and screenshot caps) and schedules
// a debounced flush to persistence.
func (q *Queue) handleEvent(runIDStr string, ev eventbus.Event) {
	q.cfg.EventBus.PublishRun(runIDStr, ev)

	q.mu.Lock()
	buf, tracked := q.buffer[runIDStr]
	if !tracked {
		q.mu.Unlock()
		return
	}
	if len(buf) >= q.cfg.MaxBufferedEvents {
		q.mu.Unlock()
		eventDropsTotal.Inc()
		return
	}
	if ev.Type == eventbus.EventScreenshot {
		shots := 0
		for _, e := range buf {
			if e.Type == eventbus.EventScreenshot {
				shots++
			}
		}
		if shots >= q.cfg.MaxScreenshots {
			q.mu.Unlock()
			eventDropsTotal.Inc()
			return
		}
	}
	q.buffer[runIDStr] = append(buf, ev)
	q.mu.Unlock()

	q.scheduleFlush(runIDStr)
}

// scheduleFlush debounces persistence writes to at most once per
// FlushInterval per run: a burst of events schedules a single timer, not one
// per event.
func (q *Queue) scheduleFlush(runIDStr string) {
	q.mu.Lock()
	if q.flushPending[runIDStr] {
		q.mu.Unlock()
		return
	}
	q.flushPending[runIDStr] = true
	q.mu.Unlock()

	time.AfterFunc(q.cfg.FlushInterval, func() {
		q.flush(runIDStr)
	})
}

// flush appends every event buffered since the last flush to the run's logs
// column as newline-delimited JSON. A no-op once the run is no longer
// tracked (it finished, or was cancelled, before the timer fired).
func (q *Queue) flush(runIDStr string) {
	q.mu.Lock()
	q.flushPending[runIDStr] = false
	je, tracked := q.running[runIDStr]
	if !tracked {
		q.mu.Unlock()
		return
	}
	idx := q.persistedIndex[runIDStr]
	buf := q.buffer[runIDStr]
	if idx >= len(buf) {
		q.mu.Unlock()
		return
	}
	fresh := append([]eventbus.Event(nil), buf[idx:]...)
	q.persistedIndex[runIDStr] = len(buf)
	q.mu.Unlock()

	chunk, err := marshalNDJSON(fresh)
	if err != nil {
		q.cfg.Logger.Warn("marshal log chunk failed", "run", runIDStr, "error", err)
		return
	}
	if err := q.cfg.Repository.AppendRunLogs(je.ctx, je.job.RunID, chunk); err != nil {
		q.cfg.Logger.Warn("append run logs failed", "run", runIDStr, "error", err)
	}
}

func marshalNDJSON(events []eventbus.Event) ([]byte, error) {
	var out []byte
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

func marshalJSONArray(events []eventbus.Event) ([]byte, error) {
	if events == nil {
		events = []eventbus.Event{}
	}
	return json.Marshal(events)
}
