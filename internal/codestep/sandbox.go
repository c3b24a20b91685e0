package codestep

import (
	"context"
	"fmt"
	"go/ast"
	"time"
)

// Config wires a Sandbox to the page/expect facades and the file envelope
// a single code step is allowed to operate within.
type Config struct {
	Page     Page
	Expect   Expect
	Envelope FileEnvelope

	// Vars and Files are read-only lookups available to statements via
	// vars["name"] / files["name"] syntax.
	Vars  map[string]string
	Files map[string]string

	// StatementTimeout bounds each individual statement; SyncTimeout
	// bounds the synchronous parse/walk portion before the call is
	// dispatched (guards against pathologically large input).
	StatementTimeout time.Duration
	SyncTimeout      time.Duration

	// OnScreenshot is called after each statement completes, mirroring
	// the per-statement screenshot requirement. A nil value skips it.
	OnScreenshot func(ctx context.Context) error
}

// Sandbox runs the statements of one code step.
type Sandbox struct {
	cfg  Config
	page *pageProxy
}

// New constructs a Sandbox. Panics if cfg.Page or cfg.Expect is nil: a code
// step with no page/assertion facade to drive is a configuration error,
// not a runtime condition to recover from.
func New(cfg Config) *Sandbox {
	if cfg.Page == nil {
		panic("codestep: Config.Page must not be nil")
	}
	if cfg.Expect == nil {
		panic("codestep: Config.Expect must not be nil")
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 10 * time.Second
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 2 * time.Second
	}
	return &Sandbox{
		cfg:  cfg,
		page: &pageProxy{inner: cfg.Page, envelope: cfg.Envelope},
	}
}

// Run validates, splits, and executes every statement in source in order.
// Validation is atomic over the whole step: every statement is checked
// against the token blocklist and parsed before any statement executes, so
// a syntax error in the last statement means the first one's side effects
// never happen. Execution then stops at the first statement-level error
// from the page/expect facade.
func (s *Sandbox) Run(ctx context.Context, source string) error {
	statements, err := splitStatements(source)
	if err != nil {
		return err
	}

	calls := make([]*ast.CallExpr, len(statements))
	for i, stmt := range statements {
		call, err := s.parseStatementSync(stmt)
		if err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
		calls[i] = call
	}

	interp := &interpreter{
		page:   s.page,
		expect: s.cfg.Expect,
		vars:   s.cfg.Vars,
		files:  s.cfg.Files,
	}

	for i, call := range calls {
		stmtCtx, cancel := context.WithTimeout(ctx, s.cfg.StatementTimeout)
		err := interp.exec(stmtCtx, call)
		cancel()
		if err != nil {
			return fmt.Errorf("statement %d (%s): %w", i+1, statements[i], err)
		}

		if s.cfg.OnScreenshot != nil {
			if err := s.cfg.OnScreenshot(ctx); err != nil {
				return fmt.Errorf("statement %d screenshot: %w", i+1, err)
			}
		}
	}
	return nil
}

// parseStatementSync validates stmt against the token blocklist and parses
// it into a call expression, bounded by SyncTimeout. go/parser and the
// token scan have no cancellation point of their own, so the work runs in
// a goroutine racing a timer: a pathologically large statement times out
// here rather than blocking the sandbox indefinitely before the
// per-statement StatementTimeout ever gets a chance to apply.
func (s *Sandbox) parseStatementSync(stmt string) (*ast.CallExpr, error) {
	type result struct {
		call *ast.CallExpr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := checkBlockedTokens(stmt); err != nil {
			done <- result{err: err}
			return
		}
		call, err := parseCallStatement(stmt)
		done <- result{call: call, err: err}
	}()
	select {
	case r := <-done:
		return r.call, r.err
	case <-time.After(s.cfg.SyncTimeout):
		return nil, fmt.Errorf("codestep: statement exceeded synchronous execution timeout of %s", s.cfg.SyncTimeout)
	}
}
