package browserdriver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver is the default Driver, launching one shared headless
// Chrome process per run and opening an isolated chromedp context per
// target: an ExecAllocator built from DefaultExecAllocatorOptions plus
// headless/no-sandbox flags, with a chromedp.NewContext derived from it
// per browsing context.
type ChromedpDriver struct {
	log *slog.Logger
}

// NewChromedpDriver constructs a ChromedpDriver. If logger is nil,
// slog.Default() is used.
func NewChromedpDriver(logger *slog.Logger) *ChromedpDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpDriver{log: logger}
}

var _ Driver = (*ChromedpDriver)(nil)

type chromedpBrowser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	log         *slog.Logger
}

func (d *ChromedpDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range opts.Args {
		allocOpts = append(allocOpts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	return &chromedpBrowser{allocCtx: allocCtx, allocCancel: allocCancel, log: d.log}, nil
}

func (b *chromedpBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	browserCtx, cancel := chromedp.NewContext(b.allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("browserdriver: start context: %w", err)
	}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := chromedp.Run(browserCtx, chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight))); err != nil {
			cancel()
			return nil, fmt.Errorf("browserdriver: set viewport: %w", err)
		}
	}

	c := &chromedpContext{ctx: browserCtx, cancel: cancel, opts: opts, log: b.log}
	if err := c.wireInterception(); err != nil {
		cancel()
		return nil, err
	}
	c.wireConsole()
	return c, nil
}

func (b *chromedpBrowser) Close(ctx context.Context) error {
	b.allocCancel()
	return nil
}

type chromedpContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ContextOptions
	log    *slog.Logger
}

// wireInterception enables the Fetch domain, aborts any request whose URL
// fails the caller's OnRequest predicate, and answers HTTP auth challenges
// with the context's configured credentials.
func (c *chromedpContext) wireInterception() error {
	hasAuth := c.opts.Username != "" || c.opts.Password != ""
	if c.opts.OnRequest == nil && !hasAuth {
		return nil
	}
	enable := fetch.Enable()
	if hasAuth {
		enable = enable.WithHandleAuthRequests(true)
	}
	if err := chromedp.Run(c.ctx, enable); err != nil {
		return fmt.Errorf("browserdriver: enable fetch interception: %w", err)
	}
	chromedp.ListenTarget(c.ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				if c.opts.OnRequest != nil {
					blocked, reason := c.opts.OnRequest(c.ctx, e.Request.URL)
					if blocked {
						if c.opts.OnBlocked != nil {
							c.opts.OnBlocked(e.Request.URL, reason)
						}
						_ = chromedp.Run(c.ctx, fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient))
						return
					}
				}
				_ = chromedp.Run(c.ctx, fetch.ContinueRequest(e.RequestID))
			}()
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(c.ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: c.opts.Username,
					Password: c.opts.Password,
				}))
			}()
		}
	})
	return nil
}

func (c *chromedpContext) wireConsole() {
	if c.opts.OnConsole == nil {
		return
	}
	chromedp.ListenTarget(c.ctx, func(ev any) {
		e, ok := ev.(*runtime.EventConsoleAPICalled)
		if !ok {
			return
		}
		var text string
		for _, arg := range e.Args {
			text += string(arg.Value) + " "
		}
		c.opts.OnConsole(string(e.Type), text)
	})
}

func (c *chromedpContext) NewPage(ctx context.Context) (Page, error) {
	return &chromedpPage{ctx: c.ctx}, nil
}

func (c *chromedpContext) Close(ctx context.Context) error {
	c.cancel()
	return nil
}

type chromedpPage struct {
	ctx context.Context
}

func (p *chromedpPage) Goto(ctx context.Context, url string) error {
	return chromedp.Run(p.ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return chromedp.Run(p.ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromedpPage) Fill(ctx context.Context, selector, value string) error {
	return chromedp.Run(p.ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *chromedpPage) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := chromedp.Run(p.ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(p.ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromedpPage) WaitForSelector(ctx context.Context, selector string) error {
	return chromedp.Run(p.ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromedpPage) WaitReady(ctx context.Context) error {
	return chromedp.Run(p.ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromedpPage) SetInputFiles(ctx context.Context, selector string, paths ...string) error {
	return chromedp.Run(p.ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(p.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("browserdriver: screenshot: %w", err)
	}
	return buf, nil
}
