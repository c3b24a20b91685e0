// Package browserdriver defines the browser automation contract the
// executor treats as an opaque driver, plus a default implementation
// backed by chromedp. The executor depends only on Driver/Browser/
// Context/Page; the chromedp-backed adapter is wired in by the
// composition root.
package browserdriver

import (
	"context"
	"time"
)

// LaunchOptions configures a single shared headless browser launch.
type LaunchOptions struct {
	Headless bool
	Timeout  time.Duration
	Args     []string
}

// ContextOptions configures a single per-target browsing context.
type ContextOptions struct {
	ViewportWidth  int
	ViewportHeight int
	Username       string
	Password       string

	// OnConsole is called for every console message the page emits.
	OnConsole func(level, text string)

	// OnRequest is consulted for every outbound request; if it returns
	// blocked=true the request is aborted instead of sent, and reason is
	// surfaced to OnBlocked for logging.
	OnRequest func(ctx context.Context, url string) (blocked bool, reason string)

	// OnBlocked is called once per aborted request, after OnRequest
	// reports blocked=true.
	OnBlocked func(url, reason string)
}

// Driver launches a single shared browser instance for the run.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process capable of opening independent
// contexts per target.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close(ctx context.Context) error
}

// Context is one isolated browsing context (cookies, viewport, request
// interception) bound to a single target.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is a single tab within a Context.
type Page interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	URL(ctx context.Context) (string, error)
	WaitForSelector(ctx context.Context, selector string) error

	// WaitReady blocks until the document body is present, bounded by ctx.
	// Used opportunistically after a step that may have triggered a
	// navigation, to give the DOM a chance to settle before the next step
	// dispatches.
	WaitReady(ctx context.Context) error
	SetInputFiles(ctx context.Context, selector string, paths ...string) error

	// Screenshot returns a PNG-encoded capture of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
}
