// Package agentdriver defines the AI driver ("agent") contract the
// executor treats as an opaque capability, plus a default implementation
// backed by the Anthropic Messages API. The executor only ever depends on
// the Driver interface; the Anthropic-backed implementation is wired in by
// the composition root, matching this module's "opaque driver" boundary.
package agentdriver

import (
	"context"
	"time"
)

// TipCallback is invoked once per agent "tip" — a single model turn that
// produced a screen action — so the executor can count actions toward
// usage accounting, emit a log event, and capture a screenshot. Any error
// returned is logged by the caller, never propagated: a tip callback
// failure must not abort the agent's own action.
type TipCallback func(ctx context.Context) error

// WaitForOptions bounds an AIWaitFor poll loop.
type WaitForOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Driver is the black-box AI driver contract shared by browser and Android
// targets. Implementations translate a natural-language instruction into
// one or more screen actions against whatever target they were
// constructed for.
type Driver interface {
	// Launch starts appID on an Android target. Browser-target drivers
	// treat this as a no-op (the page is already navigated by the
	// executor before the driver is constructed).
	Launch(ctx context.Context, appID string) error

	// AIAct performs a natural-language action instruction.
	AIAct(ctx context.Context, instruction string) error

	// AIAssert evaluates a natural-language verification instruction,
	// returning an error if the assertion does not hold.
	AIAssert(ctx context.Context, instruction string) error

	// AIQuery asks the agent a natural-language question about the
	// current screen and returns its textual answer, used for the
	// quoted-string verbatim-match check.
	AIQuery(ctx context.Context, prompt string) (string, error)

	// AIWaitFor polls predicate against the current screen until it
	// holds or opts.Timeout elapses.
	AIWaitFor(ctx context.Context, predicate string, opts WaitForOptions) error

	// SetAIActContext installs a standing preamble (e.g. a security
	// notice, or task-specific context) prepended to every subsequent
	// instruction.
	SetAIActContext(text string)

	// SetOnTaskStartTip installs the callback invoked on every tip. Must
	// be safe to call once, before the driver is used.
	SetOnTaskStartTip(cb TipCallback)
}
