// Package codestep runs the statements inside a `code` step. It is built
// on go/parser and go/ast rather than an embedded scripting engine: a
// general-purpose VM would contradict the no-subprocess/no-reflection
// sandboxing contract, and the statement surface is narrow enough that a
// closed allowlist interpreter covers it.
//
// A statement is first checked against a conservative token blocklist,
// then parsed as a single Go expression statement, then walked by an
// allowlist interpreter that only recognizes calls into the page proxy,
// the expect facade, and the wrapped timer primitives. Anything else —
// an identifier it doesn't recognize, a binary expression, a composite
// literal — is rejected before it ever runs.
package codestep
