package executor

import (
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/eventbus"
)

// StepType distinguishes an AI-interpreted action from direct automation
// code.
type StepType string

const (
	StepAIAction StepType = "ai-action"
	StepCode     StepType = "code"
)

// Step is one sequential unit of a run.
type Step struct {
	ID       string
	TargetID string
	Action   string
	Type     StepType
	Files    []string
}

// BrowserTarget configures a browser context target.
type BrowserTarget struct {
	URL            string
	ViewportWidth  int
	ViewportHeight int
	Username       string
	Password       string
}

// AndroidTarget configures an Android device/emulator target.
type AndroidTarget struct {
	Selector            devicemanager.Selector
	AppID               string
	ClearAppState       bool
	AllowAllPermissions bool
	Name                string
}

// Target is a tagged union: exactly one of Browser or Android is set.
type Target struct {
	ID      string
	Browser *BrowserTarget
	Android *AndroidTarget
}

// IsAndroid reports whether t is an Android target.
func (t Target) IsAndroid() bool { return t.Android != nil }

// ResolvedConfig is the immutable snapshot taken at enqueue time. Edits to
// the underlying test case after this point never affect the run.
type ResolvedConfig struct {
	RunID      string
	TestCaseID string
	ProjectID  string
	UserID     string

	URL    string
	Prompt string
	Steps  []Step

	Targets []Target

	AIAPIKey string

	Files             []string
	ResolvedVariables map[string]string
	ResolvedFiles     map[string]string
}

// Callbacks is the producer/consumer boundary between the executor and its
// caller (the queue). OnEvent streams log/screenshot events. OnCleanup is
// called exactly once, early, with the executor's whole teardown closure,
// so the caller can invoke it directly on cancellation instead of waiting
// for Run to return. OnPreparing/OnRunning each fire at most once and in
// order.
type Callbacks struct {
	OnEvent     func(eventbus.Event)
	OnCleanup   func(cleanup func())
	OnPreparing func()
	OnRunning   func()
}

func (c Callbacks) emit(ev eventbus.Event) {
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

// Status is a run's terminal outcome.
type Status string

const (
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
	StatusCancelled Status = "CANCELLED"
)

// Result is what Run returns: the terminal status, an error message for
// FAIL/CANCELLED, and the number of AI agent tips observed (drives usage
// accounting regardless of outcome).
type Result struct {
	Status      Status
	Error       string
	ActionCount int
}
