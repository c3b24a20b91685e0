package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/eventbus"
	"github.com/skytestlabs/runner/internal/executor"
	"github.com/skytestlabs/runner/internal/repository"
)

const (
	defaultGlobalConcurrency       = 5
	defaultMaxConcurrentPerProject = 2
	defaultPollInterval            = 2 * time.Second
	defaultMaxBufferedEvents       = 500
	defaultMaxScreenshots          = 50
	defaultFlushInterval           = time.Second
)

// Config wires a Queue to its collaborators. Repository, EventBus, Executor,
// and DeviceManager are required; New panics if any is nil. UsageService is
// optional: a nil service simply skips usage accounting.
type Config struct {
	Repository    repository.Repository
	EventBus      *eventbus.Bus
	Executor      RunExecutor
	DeviceManager *devicemanager.Manager
	UsageService  UsageService

	GlobalConcurrency       int
	MaxConcurrentPerProject int
	PollInterval            time.Duration
	MaxBufferedEvents       int
	MaxScreenshots          int
	FlushInterval           time.Duration

	Logger *slog.Logger
}

// jobEntry is a queued or running job's runtime handle: its abort context,
// allocated at Add time regardless of whether the job has started yet, and
// the executor's teardown closure once setup registers one.
type jobEntry struct {
	job    Job
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cleanup func()
}

func (je *jobEntry) setCleanup(fn func()) {
	je.mu.Lock()
	je.cleanup = fn
	je.mu.Unlock()
}

func (je *jobEntry) getCleanup() func() {
	je.mu.Lock()
	defer je.mu.Unlock()
	return je.cleanup
}

// Queue is the singleton central scheduler. All member state is private and
// mutated only inside the mu-guarded region: one mutex serializes every
// state transition.
type Queue struct {
	cfg Config

	mu                  sync.Mutex
	pending             []*jobEntry
	running             map[string]*jobEntry
	activeStatus        map[string]repository.RunStatus
	pendingReservations map[string][]devicemanager.Request
	buffer              map[string][]eventbus.Event
	persistedIndex      map[string]int
	flushPending        map[string]bool

	processing       bool
	processRequested bool
	retryTimer       *time.Timer
}

// New constructs a Queue. Panics if Repository, EventBus, Executor, or
// DeviceManager is nil: a queue with no way to persist, publish, run, or
// lease devices cannot do its job.
func New(cfg Config) *Queue {
	if cfg.Repository == nil {
		panic("queue: Config.Repository must not be nil")
	}
	if cfg.EventBus == nil {
		panic("queue: Config.EventBus must not be nil")
	}
	if cfg.Executor == nil {
		panic("queue: Config.Executor must not be nil")
	}
	if cfg.DeviceManager == nil {
		panic("queue: Config.DeviceManager must not be nil")
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = defaultGlobalConcurrency
	}
	if cfg.MaxConcurrentPerProject <= 0 {
		cfg.MaxConcurrentPerProject = defaultMaxConcurrentPerProject
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxBufferedEvents <= 0 {
		cfg.MaxBufferedEvents = defaultMaxBufferedEvents
	}
	if cfg.MaxScreenshots <= 0 {
		cfg.MaxScreenshots = defaultMaxScreenshots
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		cfg:                 cfg,
		running:             make(map[string]*jobEntry),
		activeStatus:        make(map[string]repository.RunStatus),
		pendingReservations: make(map[string][]devicemanager.Request),
		buffer:              make(map[string][]eventbus.Event),
		persistedIndex:      make(map[string]int),
		flushPending:        make(map[string]bool),
	}
}

// Add enqueues job: it is appended to the pending list, its persisted and
// test-case status are set to QUEUED, the project's subscribers are
// notified, and a process cycle is triggered.
func (q *Queue) Add(ctx context.Context, job Job) {
	runIDStr := job.RunID.String()
	jobCtx, cancel := context.WithCancel(context.Background())
	je := &jobEntry{job: job, ctx: jobCtx, cancel: cancel}

	q.mu.Lock()
	q.pending = append(q.pending, je)
	q.buffer[runIDStr] = nil
	q.persistedIndex[runIDStr] = 0
	q.recomputeMetricsLocked()
	q.mu.Unlock()

	if err := q.cfg.Repository.UpdateRunStatus(ctx, job.RunID, repository.StatusQueued); err != nil {
		q.cfg.Logger.Warn("persist QUEUED failed", "run", runIDStr, "error", err)
	}
	if err := q.cfg.Repository.UpdateTestCaseStatus(ctx, job.TestCaseID, repository.StatusQueued); err != nil {
		q.cfg.Logger.Warn("persist test case QUEUED failed", "run", runIDStr, "error", err)
	}
	q.cfg.EventBus.PublishProjectEvent(job.ProjectID.String(),
		eventbus.NewProjectStatusEvent(job.ProjectID.String(), job.TestCaseID.String(), runIDStr, string(repository.StatusQueued)))

	q.triggerProcess()
}

// GetEvents returns a snapshot of runID's buffered events seen so far, for a
// subscriber that wants the backlog before attaching to the live stream.
func (q *Queue) GetEvents(runID uuid.UUID) []eventbus.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]eventbus.Event(nil), q.buffer[runID.String()]...)
}

// GetStatus reports runID's current in-memory lifecycle status (QUEUED,
// PREPARING, or RUNNING). The second return is false once the run is no
// longer tracked in memory; callers fall back to the persisted row for its
// terminal outcome.
func (q *Queue) GetStatus(runID uuid.UUID) (repository.RunStatus, bool) {
	runIDStr := runID.String()
	q.mu.Lock()
	defer q.mu.Unlock()
	if status, ok := q.activeStatus[runIDStr]; ok {
		return status, true
	}
	for _, je := range q.pending {
		if je.job.RunID == runID {
			return repository.StatusQueued, true
		}
	}
	return "", false
}

// triggerProcess requests a selection cycle. If one is already running, it
// sets a flag that guarantees exactly one more cycle runs after the active
// one finishes, rather than starting a second concurrent cycle.
func (q *Queue) triggerProcess() {
	q.mu.Lock()
	if q.processing {
		q.processRequested = true
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	go q.runProcessLoop()
}

func (q *Queue) runProcessLoop() {
	for {
		q.processOnce()

		q.mu.Lock()
		if q.processRequested {
			q.processRequested = false
			q.mu.Unlock()
			continue
		}
		q.processing = false
		q.mu.Unlock()
		return
	}
}

// processOnce scans the pending list in FIFO order, starting every job that
// is immediately startable, and schedules a retry timer if the queue is
// non-empty but nothing could start.
func (q *Queue) processOnce() {
	q.mu.Lock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}

	var started []*jobEntry
	for {
		idx := q.firstStartableLocked()
		if idx < 0 {
			break
		}
		je := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

		runIDStr := je.job.RunID.String()
		q.running[runIDStr] = je
		q.activeStatus[runIDStr] = repository.StatusPreparing
		q.pendingReservations[runIDStr] = je.job.AndroidRequests
		q.recomputeMetricsLocked()
		started = append(started, je)
	}
	queueNonEmpty := len(q.pending) > 0
	q.mu.Unlock()

	for _, je := range started {
		go q.startJob(je)
	}

	if queueNonEmpty && len(started) == 0 {
		q.scheduleRetry()
	}
}

// firstStartableLocked returns the pending index of the first job whose
// project has concurrency headroom and whose Android reservations, added to
// every reservation already claimed this cycle, are immediately
// satisfiable. Returns -1 if none qualifies or the global ceiling is hit.
// Callers must hold q.mu.
func (q *Queue) firstStartableLocked() int {
	if len(q.running) >= q.cfg.GlobalConcurrency {
		return -1
	}
	for i, je := range q.pending {
		if q.activeCountForProjectLocked(je.job.ProjectID.String()) >= q.cfg.MaxConcurrentPerProject {
			continue
		}
		batch := q.allPendingReservationsLocked()
		batch = append(batch, je.job.AndroidRequests...)
		if !q.cfg.DeviceManager.CanAcquireBatchImmediately(batch) {
			continue
		}
		return i
	}
	return -1
}

func (q *Queue) activeCountForProjectLocked(projectIDStr string) int {
	n := 0
	for _, je := range q.running {
		if je.job.ProjectID.String() == projectIDStr {
			n++
		}
	}
	return n
}

func (q *Queue) allPendingReservationsLocked() []devicemanager.Request {
	var out []devicemanager.Request
	for _, reqs := range q.pendingReservations {
		out = append(out, reqs...)
	}
	return out
}

func (q *Queue) scheduleRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retryTimer != nil {
		return
	}
	q.retryTimer = time.AfterFunc(q.cfg.PollInterval, func() {
		q.mu.Lock()
		q.retryTimer = nil
		q.mu.Unlock()
		q.triggerProcess()
	})
}

// startJob runs one admitted job to completion. It aborts before executing,
// and skips the PREPARING write entirely, if the job was already cancelled
// in the window between admission (processOnce inserting it into q.running)
// and this call taking q.mu: Cancel's running-job branch removes the entry
// from q.running under the same lock before doing any of its actual
// cancellation work, so observing the entry gone here is proof the row was
// (or is about to be) persisted CANCELLED and must never be overwritten
// with PREPARING.
func (q *Queue) startJob(je *jobEntry) {
	runIDStr := je.job.RunID.String()

	q.mu.Lock()
	current, stillAdmitted := q.running[runIDStr]
	cancelledInWindow := !stillAdmitted || current != je
	q.mu.Unlock()
	if cancelledInWindow {
		q.triggerProcess()
		return
	}

	if err := q.cfg.Repository.UpdateRunStatus(je.ctx, je.job.RunID, repository.StatusPreparing); err != nil {
		q.cfg.Logger.Warn("persist PREPARING failed", "run", runIDStr, "error", err)
	}
	q.cfg.EventBus.PublishProjectEvent(je.job.ProjectID.String(),
		eventbus.NewProjectStatusEvent(je.job.ProjectID.String(), je.job.TestCaseID.String(), runIDStr, string(repository.StatusPreparing)))

	onRunning := func() {
		q.mu.Lock()
		alreadyRunning := q.activeStatus[runIDStr] == repository.StatusRunning
		q.activeStatus[runIDStr] = repository.StatusRunning
		delete(q.pendingReservations, runIDStr)
		q.mu.Unlock()
		if alreadyRunning {
			return
		}
		if err := q.cfg.Repository.UpdateRunStatus(je.ctx, je.job.RunID, repository.StatusRunning); err != nil {
			q.cfg.Logger.Warn("persist RUNNING failed", "run", runIDStr, "error", err)
		}
		q.cfg.EventBus.PublishProjectEvent(je.job.ProjectID.String(),
			eventbus.NewProjectStatusEvent(je.job.ProjectID.String(), je.job.TestCaseID.String(), runIDStr, string(repository.StatusRunning)))
	}

	result := q.cfg.Executor.Run(je.ctx, je.job.Config, executor.Callbacks{
		OnEvent:     func(ev eventbus.Event) { q.handleEvent(runIDStr, ev) },
		OnCleanup:   func(cleanup func()) { je.setCleanup(cleanup) },
		OnPreparing: func() {},
		OnRunning:   onRunning,
	})

	q.finishJob(je, result)
}

// finishJob persists a run's terminal outcome exactly once. If je was
// already removed from q.running by a concurrent Cancel, the run has
// already been finalized as CANCELLED, so this becomes a no-op beyond
// releasing the abort context and re-triggering selection.
func (q *Queue) finishJob(je *jobEntry, result executor.Result) {
	runIDStr := je.job.RunID.String()

	q.mu.Lock()
	_, stillTracked := q.running[runIDStr]
	if !stillTracked {
		q.mu.Unlock()
		je.cancel()
		q.triggerProcess()
		return
	}
	neverRan := q.activeStatus[runIDStr] == repository.StatusPreparing
	delete(q.running, runIDStr)
	delete(q.activeStatus, runIDStr)
	delete(q.pendingReservations, runIDStr)
	buffered := append([]eventbus.Event(nil), q.buffer[runIDStr]...)
	delete(q.buffer, runIDStr)
	delete(q.persistedIndex, runIDStr)
	delete(q.flushPending, runIDStr)
	q.recomputeMetricsLocked()
	q.mu.Unlock()

	status := repository.RunStatus(result.Status)
	chunk, err := marshalJSONArray(buffered)
	if err != nil {
		q.cfg.Logger.Warn("marshal terminal result failed", "run", runIDStr, "error", err)
		chunk = []byte("[]")
	}

	update := repository.TerminalUpdate{
		Status:      status,
		Error:       result.Error,
		ResultJSON:  chunk,
		LogsCleared: true,
		CompletedAt: time.Now(),
	}
	if err := q.cfg.Repository.UpdateRunTerminal(context.Background(), je.job.RunID, update); err != nil {
		q.cfg.Logger.Warn("persist terminal status failed", "run", runIDStr, "error", err)
	}
	if err := q.cfg.Repository.UpdateTestCaseStatus(context.Background(), je.job.TestCaseID, status); err != nil {
		q.cfg.Logger.Warn("persist test case terminal status failed", "run", runIDStr, "error", err)
	}
	q.cfg.EventBus.PublishProjectEvent(je.job.ProjectID.String(),
		eventbus.NewProjectStatusEvent(je.job.ProjectID.String(), je.job.TestCaseID.String(), runIDStr, string(status)))
	q.cfg.EventBus.PublishRun(runIDStr, eventbus.NewStatusEvent(string(status), result.Error))
	q.cfg.EventBus.CloseRun(runIDStr)

	if result.ActionCount > 0 && je.job.UserID != nil && q.cfg.UsageService != nil {
		go q.recordUsage(je.job, result.ActionCount)
	}

	// A job that failed before ever reaching RUNNING leaves its reserved
	// emulator profiles warm but unowned; stop them so the next job waiting
	// on the same ceiling isn't starved by an orphaned instance.
	if neverRan && status != repository.StatusPass && len(je.job.EmulatorProfiles) > 0 {
		q.cfg.DeviceManager.StopIdleEmulatorsForProfiles(je.job.EmulatorProfiles)
	}

	je.cancel()
	q.triggerProcess()
}

func (q *Queue) recordUsage(job Job, actionCount int) {
	tcp, err := q.cfg.Repository.FindTestCaseWithProjectForRun(context.Background(), job.RunID)
	if err != nil {
		q.cfg.Logger.Warn("usage: resolve test case/project failed", "run", job.RunID, "error", err)
		return
	}
	description := tcp.ProjectName + " - " + tcp.TestCaseName
	if err := q.cfg.UsageService.RecordUsage(context.Background(), *job.UserID, actionCount, description, job.RunID.String()); err != nil {
		q.cfg.Logger.Warn("usage: record failed", "run", job.RunID, "error", err)
	}
}
