package codestep

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fakePage is a trivial Page fake recording calls for assertions.
type fakePage struct {
	gotos       []string
	clicks      []string
	fills       [][2]string
	texts       map[string]string
	screenshots []string
	waited      []string
	uploaded    [][]string
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	p.gotos = append(p.gotos, url)
	return nil
}
func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.clicks = append(p.clicks, selector)
	return nil
}
func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	p.fills = append(p.fills, [2]string{selector, value})
	return nil
}
func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	return p.texts[selector], nil
}
func (p *fakePage) URL(ctx context.Context) (string, error) { return "", nil }
func (p *fakePage) Screenshot(ctx context.Context, label string) error {
	p.screenshots = append(p.screenshots, label)
	return nil
}
func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error {
	p.waited = append(p.waited, selector)
	return nil
}
func (p *fakePage) SetInputFiles(ctx context.Context, selector string, paths ...string) error {
	p.uploaded = append(p.uploaded, append([]string{selector}, paths...))
	return nil
}

type fakeExpect struct {
	visible     []string
	haveText    map[string]string
	failMessage string
}

func (e *fakeExpect) ToBeVisible(ctx context.Context, selector string) error {
	e.visible = append(e.visible, selector)
	return nil
}
func (e *fakeExpect) ToHaveText(ctx context.Context, selector, want string) error {
	if e.haveText == nil {
		e.haveText = map[string]string{}
	}
	e.haveText[selector] = want
	if e.failMessage != "" {
		return &fileEnvelopeError{path: e.failMessage}
	}
	return nil
}
func (e *fakeExpect) ToContainText(ctx context.Context, selector, want string) error { return nil }

func newSandbox(t *testing.T, page *fakePage, expect Expect, root string) *Sandbox {
	t.Helper()
	return New(Config{
		Page:             page,
		Expect:           expect,
		Envelope:         FileEnvelope{Root: root},
		Vars:             map[string]string{"username": "alice"},
		Files:            map[string]string{"avatar": "photo.png"},
		StatementTimeout: time.Second,
	})
}

func TestSandbox_RunsPageAndExpectCalls(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.Goto("https://example.com"); page.Click("#submit"); expect.ToBeVisible("#banner")`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(page.gotos) != 1 || page.gotos[0] != "https://example.com" {
		t.Fatalf("unexpected gotos: %v", page.gotos)
	}
	if len(page.clicks) != 1 || page.clicks[0] != "#submit" {
		t.Fatalf("unexpected clicks: %v", page.clicks)
	}
	if len(expect.visible) != 1 || expect.visible[0] != "#banner" {
		t.Fatalf("unexpected visible checks: %v", expect.visible)
	}
}

func TestSandbox_ResolvesVarsAndFiles(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.Fill("#user", vars["username"])`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(page.fills) != 1 || page.fills[0][1] != "alice" {
		t.Fatalf("unexpected fills: %v", page.fills)
	}
}

func TestSandbox_UnknownVariableFails(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.Fill("#user", vars["missing"])`)
	if err == nil {
		t.Fatalf("expected an error for an unknown variable")
	}
}

func TestSandbox_BlockedTokenRejected(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `os.Exit(1)`)
	if err == nil {
		t.Fatalf("expected blocked-token error")
	}
	if !strings.Contains(err.Error(), "blocked token") {
		t.Fatalf("expected blocked token error, got: %v", err)
	}
}

func TestSandbox_TrailingSyntaxErrorPreventsAllExecution(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.Click("#submit"); x := 1`)
	if err == nil {
		t.Fatalf("expected a validation error for the trailing non-call statement")
	}
	if len(page.clicks) != 0 {
		t.Fatalf("no statement may execute when a later one fails validation, got clicks: %v", page.clicks)
	}
}

func TestSandbox_TrailingBlockedTokenPreventsAllExecution(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.Goto("https://example.com"); os.Exit(1)`)
	if err == nil {
		t.Fatalf("expected a blocked-token error")
	}
	if len(page.gotos) != 0 {
		t.Fatalf("no statement may execute when a later one is blocked, got gotos: %v", page.gotos)
	}
}

func TestSandbox_NonCallStatementRejected(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `x := 1`)
	if err == nil {
		t.Fatalf("expected a parse/unrecognized-call error for a non-call statement")
	}
}

func TestSandbox_SetInputFilesOutsideEnvelopeFails(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := newSandbox(t, page, expect, t.TempDir())

	err := sb.Run(context.Background(), `page.SetInputFiles("#upload", "../../etc/passwd")`)
	if err == nil {
		t.Fatalf("expected a file-envelope violation")
	}
}

func TestSandbox_SleepHonorsContextCancellation(t *testing.T) {
	page := &fakePage{texts: map[string]string{}}
	expect := &fakeExpect{}
	sb := New(Config{
		Page:             page,
		Expect:           expect,
		Envelope:         FileEnvelope{Root: t.TempDir()},
		StatementTimeout: 10 * time.Millisecond,
	})

	err := sb.Run(context.Background(), `sleep(5000)`)
	if err == nil {
		t.Fatalf("expected sleep to be cut short by the statement timeout")
	}
}

func TestSplitStatements_SemicolonInsideStringIsNotASeparator(t *testing.T) {
	stmts, err := splitStatements(`page.Fill("#x", "a;b"); page.Click("#y")`)
	if err != nil {
		t.Fatalf("splitStatements: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "a;b") {
		t.Fatalf("expected the embedded semicolon to survive splitting, got %q", stmts[0])
	}
}

func TestSplitStatements_UnbalancedBracketsFail(t *testing.T) {
	if _, err := splitStatements(`page.Click("#x"`); err == nil {
		t.Fatalf("expected an unbalanced-bracket error")
	}
}
