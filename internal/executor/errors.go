package executor

import "github.com/skytestlabs/runner/internal/sentinel"

// ErrConfiguration wraps every precondition and setup failure that is a
// configuration error, not a runtime condition: missing AI key, no
// targets, invalid URL, unknown step target, a code step on an Android
// target, an app not installed. A code step rejected by the sandbox, an
// unsafe token included, is wrapped in ErrStepFailed instead.
const ErrConfiguration = sentinel.Error("executor: configuration error")

// ErrTimeout is returned when the run-scoped max-duration timer fires,
// independent of cancellation.
const ErrTimeout = sentinel.Error("executor: maximum test duration exceeded")

// ErrStepFailed wraps a step-level failure: an action or assertion
// failed, a code statement threw, or a quoted string was not found
// verbatim.
const ErrStepFailed = sentinel.Error("executor: step failed")

// cancelledMessage is the fixed terminal error text for a run ended by
// caller cancellation, independent of whatever error the in-flight
// operation happened to surface when its context was aborted.
const cancelledMessage = "Test was cancelled by user"
