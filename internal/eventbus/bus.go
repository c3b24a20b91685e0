package eventbus

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. A publish that
// finds a subscriber's channel full drops the event rather than blocking;
// this is the "no durability, no backpressure" contract from the design.
const subscriberBuffer = 64

// Bus is a process-wide, in-memory publish/subscribe fan-out for project
// status events and per-run live event streams. The zero value is not
// usable; construct with New.
type Bus struct {
	mu sync.Mutex

	nextID int

	projectSubs map[string]map[int]chan ProjectEvent
	runSubs     map[string]map[int]chan Event
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		projectSubs: make(map[string]map[int]chan ProjectEvent),
		runSubs:     make(map[string]map[int]chan Event),
	}
}

// SubscribeProject registers a subscriber for projectID's status events. The
// returned cancel func must be called when the subscriber detaches; it is
// safe to call more than once.
func (b *Bus) SubscribeProject(projectID string) (<-chan ProjectEvent, func()) {
	ch := make(chan ProjectEvent, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.projectSubs[projectID]
	if !ok {
		subs = make(map[int]chan ProjectEvent)
		b.projectSubs[projectID] = subs
	}
	id := b.nextID
	b.nextID++
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.projectSubs[projectID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.projectSubs, projectID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// PublishProjectEvent delivers ev to every current subscriber of projectID.
// Delivery is non-blocking per subscriber: a full channel drops the event.
func (b *Bus) PublishProjectEvent(projectID string, ev ProjectEvent) {
	b.mu.Lock()
	subs := make([]chan ProjectEvent, 0, len(b.projectSubs[projectID]))
	for _, ch := range b.projectSubs[projectID] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscribeRun registers a subscriber for runID's live event stream. The
// returned cancel func must be called when the subscriber detaches.
func (b *Bus) SubscribeRun(runID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.runSubs[runID]
	if !ok {
		subs = make(map[int]chan Event)
		b.runSubs[runID] = subs
	}
	id := b.nextID
	b.nextID++
	subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.runSubs[runID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.runSubs, runID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// PublishRun delivers ev to every current subscriber of runID.
func (b *Bus) PublishRun(runID string, ev Event) {
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.runSubs[runID]))
	for _, ch := range b.runSubs[runID] {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CloseRun closes every current subscriber channel for runID and forgets
// them, called once a run reaches a terminal state and its final status
// event has been published. Subsequent SubscribeRun calls for the same
// runID start a fresh, empty subscriber set.
func (b *Bus) CloseRun(runID string) {
	b.mu.Lock()
	subs := b.runSubs[runID]
	delete(b.runSubs, runID)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
