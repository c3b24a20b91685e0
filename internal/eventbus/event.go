package eventbus

import (
	"encoding/json"
	"time"
)

// EventType discriminates the tagged union carried on a run's event
// stream and persisted verbatim into the run's logs/result columns.
type EventType string

const (
	EventLog        EventType = "log"
	EventScreenshot EventType = "screenshot"
	EventStatus     EventType = "status"
)

// LogData is the payload of a log event.
type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ScreenshotData is the payload of a screenshot event. Src is a data: URL
// containing a base64-encoded image.
type ScreenshotData struct {
	Src   string `json:"src"`
	Label string `json:"label"`
}

// StatusData is the payload of a status event.
type StatusData struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Event is a single run-scoped event. Exactly one of Log, Screenshot, or
// Status is set, selected by Type. BrowserID identifies which browser
// context the event came from, when applicable.
type Event struct {
	Type       EventType
	Log        *LogData
	Screenshot *ScreenshotData
	Status     *StatusData
	BrowserID  string
	Timestamp  time.Time
}

// wireEvent matches the internal wire format shared between the bus and
// persisted results: {type, data, browserId?, timestamp}.
type wireEvent struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	BrowserID string          `json:"browserId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON encodes Event in the wire format used both on the bus and in
// the persisted `result`/`logs` columns, so a round trip through
// NewlineDelimited logs reproduces exactly what was streamed.
func (e Event) MarshalJSON() ([]byte, error) {
	var data any
	switch e.Type {
	case EventLog:
		data = e.Log
	case EventScreenshot:
		data = e.Screenshot
	case EventStatus:
		data = e.Status
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		Type:      e.Type,
		Data:      raw,
		BrowserID: e.BrowserID,
		Timestamp: e.Timestamp,
	})
}

// UnmarshalJSON decodes the wire format back into the matching tagged
// payload.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.BrowserID = w.BrowserID
	e.Timestamp = w.Timestamp
	switch w.Type {
	case EventLog:
		var d LogData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		e.Log = &d
	case EventScreenshot:
		var d ScreenshotData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		e.Screenshot = &d
	case EventStatus:
		var d StatusData
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return err
		}
		e.Status = &d
	}
	return nil
}

// NewLogEvent constructs a log event stamped with the current time.
func NewLogEvent(level, message, browserID string) Event {
	return Event{Type: EventLog, Log: &LogData{Level: level, Message: message}, BrowserID: browserID, Timestamp: time.Now()}
}

// NewScreenshotEvent constructs a screenshot event stamped with the current
// time.
func NewScreenshotEvent(src, label, browserID string) Event {
	return Event{Type: EventScreenshot, Screenshot: &ScreenshotData{Src: src, Label: label}, BrowserID: browserID, Timestamp: time.Now()}
}

// NewStatusEvent constructs a status event stamped with the current time.
func NewStatusEvent(status, errMsg string) Event {
	return Event{Type: EventStatus, Status: &StatusData{Status: status, Error: errMsg}, Timestamp: time.Now()}
}

// ProjectEvent is published to a project's subscribers whenever a run's
// status changes; it carries just enough to let a dashboard list update
// without subscribing to the full per-run stream.
type ProjectEvent struct {
	Type       string `json:"type"`
	ProjectID  string `json:"projectId"`
	TestCaseID string `json:"testCaseId"`
	RunID      string `json:"runId"`
	Status     string `json:"status"`
}

// NewProjectStatusEvent constructs the `test-run-status` project event.
func NewProjectStatusEvent(projectID, testCaseID, runID, status string) ProjectEvent {
	return ProjectEvent{
		Type:       "test-run-status",
		ProjectID:  projectID,
		TestCaseID: testCaseID,
		RunID:      runID,
		Status:     status,
	}
}
