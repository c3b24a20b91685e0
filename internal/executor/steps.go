package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/codestep"
	"github.com/skytestlabs/runner/internal/eventbus"
)

var quotedStringPattern = regexp.MustCompile(`"([^"]*)"`)

// verificationVerbs classifies an ai-action instruction as a verification
// (dispatched to AIAssert/AIQuery) rather than an action (AIAct), per the
// "starts with verify/assert/check/confirm/ensure/validate" heuristic.
var verificationVerbs = []string{"verify", "assert", "check", "confirm", "ensure", "validate"}

func isVerificationInstruction(instruction string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(instruction))
	for _, v := range verificationVerbs {
		if strings.HasPrefix(trimmed, v) {
			return true
		}
	}
	return false
}

// runStep dispatches one step to its target's runtime, wrapping Android
// calls with the per-operation timeout and the first-step loading/splash
// retry.
func (e *Executor) runStep(ctx context.Context, rc ResolvedConfig, step Step, tr *targetRuntime, cb Callbacks, first bool) error {
	switch step.Type {
	case StepCode:
		return e.runCodeStep(ctx, rc, step, tr, cb)
	default:
		return e.runAIActionStep(ctx, tr, step.Action, first)
	}
}

// postNavigationRaceCeiling bounds the opportunistic settle wait run before
// an ai-action step that was preceded by a navigation, per the "≤3s race"
// rule: the step proceeds as soon as either signal fires, or once this
// ceiling passes, whichever comes first.
const postNavigationRaceCeiling = 3 * time.Second

func (e *Executor) runAIActionStep(ctx context.Context, tr *targetRuntime, action string, first bool) error {
	instruction := strings.TrimSpace(action)

	if tr.consumePendingSettle() {
		e.awaitNavigationSettle(ctx, tr)
	}

	run := func(ctx context.Context) error {
		return e.dispatchAIAction(ctx, tr, instruction)
	}

	if !tr.spec.IsAndroid() {
		return run(ctx)
	}

	err := e.runAndroidOperation(ctx, run)
	if err != nil && first {
		waitErr := tr.agent.AIWaitFor(ctx, "the screen has finished loading and is ready for interaction", agentdriver.WaitForOptions{
			Timeout:      e.cfg.AndroidOperationTimeout,
			PollInterval: 500 * time.Millisecond,
		})
		if waitErr == nil {
			err = e.runAndroidOperation(ctx, run)
		}
	}
	return err
}

// awaitNavigationSettle races a URL-change poll against a DOM-ready wait,
// bounded by postNavigationRaceCeiling, before an ai-action step dispatches
// following a step that navigated. It is opportunistic: whichever signal
// fires first wins, and a full timeout with neither firing is not an error
// — the step simply proceeds against whatever state the page is in.
func (e *Executor) awaitNavigationSettle(ctx context.Context, tr *targetRuntime) {
	if tr.page == nil {
		return
	}
	raceCtx, cancel := context.WithTimeout(ctx, postNavigationRaceCeiling)
	defer cancel()

	baseline := tr.lastURL
	settled := make(chan struct{}, 2)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-raceCtx.Done():
				return
			case <-ticker.C:
				if cur, err := tr.page.URL(raceCtx); err == nil && cur != baseline {
					select {
					case settled <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()
	go func() {
		if err := tr.page.WaitReady(raceCtx); err == nil {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	}()

	select {
	case <-settled:
	case <-raceCtx.Done():
	}
}

func (e *Executor) runAndroidOperation(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.AndroidOperationTimeout)
	defer cancel()
	return fn(opCtx)
}

func (e *Executor) dispatchAIAction(ctx context.Context, tr *targetRuntime, instruction string) error {
	if !isVerificationInstruction(instruction) {
		if err := tr.agent.AIAct(ctx, instruction); err != nil {
			return fmt.Errorf("%w: %v", ErrStepFailed, err)
		}
		return nil
	}

	if quotes := quotedStringPattern.FindAllStringSubmatch(instruction, -1); len(quotes) > 0 {
		return e.verifyQuotedStrings(ctx, tr, quotes)
	}
	if err := tr.agent.AIAssert(ctx, instruction); err != nil {
		return fmt.Errorf("%w: %v", ErrStepFailed, err)
	}
	return nil
}

// verifyQuotedStrings requires every quoted substring of a verification
// instruction be found verbatim on the current screen, per the exact-match
// quoted-string assertion rule.
func (e *Executor) verifyQuotedStrings(ctx context.Context, tr *targetRuntime, quotes [][]string) error {
	for _, m := range quotes {
		want := m[1]
		prompt := fmt.Sprintf("Quote the exact text visible on the screen matching %q verbatim, or respond exactly NOT_FOUND if it is not present.", want)
		got, err := tr.agent.AIQuery(ctx, prompt)
		if err != nil {
			return fmt.Errorf("%w: verify quoted text %q: %v", ErrStepFailed, want, err)
		}
		if got == "NOT_FOUND" || got != want {
			return fmt.Errorf("%w: expected text %q was not found verbatim on the page (got %q)", ErrStepFailed, want, got)
		}
	}
	return nil
}

func (e *Executor) runCodeStep(ctx context.Context, rc ResolvedConfig, step Step, tr *targetRuntime, cb Callbacks) error {
	sb := codestep.New(codestep.Config{
		Page:   codePageAdapter{page: tr.page, cb: cb, targetID: tr.id},
		Expect: codeExpectAdapter{page: tr.page},
		Envelope: codestep.FileEnvelope{
			Root:      filepath.Join(e.cfg.UploadRoot, rc.TestCaseID),
			Allowlist: step.Files,
		},
		Vars:             rc.ResolvedVariables,
		Files:            rc.ResolvedFiles,
		StatementTimeout: e.cfg.CodeStatementTimeout,
		OnScreenshot: func(ctx context.Context) error {
			shot, err := tr.page.Screenshot(ctx)
			if err != nil {
				return nil
			}
			cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), "step", tr.id))
			return nil
		},
	})
	if err := sb.Run(ctx, step.Action); err != nil {
		return fmt.Errorf("%w: %v", ErrStepFailed, err)
	}
	return nil
}

// codePageAdapter adapts a browserdriver.Page to codestep.Page, emitting a
// screenshot event whenever the sandboxed script calls page.screenshot(...).
type codePageAdapter struct {
	page     browserdriver.Page
	cb       Callbacks
	targetID string
}

func (a codePageAdapter) Goto(ctx context.Context, url string) error { return a.page.Goto(ctx, url) }
func (a codePageAdapter) Click(ctx context.Context, selector string) error {
	return a.page.Click(ctx, selector)
}
func (a codePageAdapter) Fill(ctx context.Context, selector, value string) error {
	return a.page.Fill(ctx, selector, value)
}
func (a codePageAdapter) Text(ctx context.Context, selector string) (string, error) {
	return a.page.Text(ctx, selector)
}
func (a codePageAdapter) URL(ctx context.Context) (string, error) { return a.page.URL(ctx) }
func (a codePageAdapter) WaitForSelector(ctx context.Context, selector string) error {
	return a.page.WaitForSelector(ctx, selector)
}
func (a codePageAdapter) SetInputFiles(ctx context.Context, selector string, paths ...string) error {
	return a.page.SetInputFiles(ctx, selector, paths...)
}
func (a codePageAdapter) Screenshot(ctx context.Context, label string) error {
	shot, err := a.page.Screenshot(ctx)
	if err != nil {
		return err
	}
	a.cb.emit(eventbus.NewScreenshotEvent(dataURL("image/png", shot), label, a.targetID))
	return nil
}

// codeExpectAdapter implements codestep.Expect directly against a
// browserdriver.Page: visibility via WaitForSelector, text equality/
// containment via Text.
type codeExpectAdapter struct {
	page browserdriver.Page
}

func (a codeExpectAdapter) ToBeVisible(ctx context.Context, selector string) error {
	return a.page.WaitForSelector(ctx, selector)
}

func (a codeExpectAdapter) ToHaveText(ctx context.Context, selector, want string) error {
	got, err := a.page.Text(ctx, selector)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %q, got %q", want, got)
	}
	return nil
}

func (a codeExpectAdapter) ToContainText(ctx context.Context, selector, want string) error {
	got, err := a.page.Text(ctx, selector)
	if err != nil {
		return err
	}
	if !strings.Contains(got, want) {
		return fmt.Errorf("expected %q to contain %q", got, want)
	}
	return nil
}
