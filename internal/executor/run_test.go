package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/devicemanager"
	"github.com/skytestlabs/runner/internal/emulator"
	"github.com/skytestlabs/runner/internal/eventbus"
	"github.com/skytestlabs/runner/internal/urlsafety"
)

// fakePage is a minimal browserdriver.Page for single-target browser runs.
type fakePage struct {
	url  string
	text map[string]string
}

func (p *fakePage) Goto(ctx context.Context, url string) error  { p.url = url; return nil }
func (p *fakePage) Click(ctx context.Context, selector string) error { return nil }
func (p *fakePage) Fill(ctx context.Context, selector, value string) error { return nil }
func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	return p.text[selector], nil
}
func (p *fakePage) URL(ctx context.Context) (string, error) { return p.url, nil }
func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error { return nil }
func (p *fakePage) WaitReady(ctx context.Context) error                       { return nil }
func (p *fakePage) SetInputFiles(ctx context.Context, selector string, paths ...string) error {
	return nil
}
func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }

type fakeContext struct{ page *fakePage }

func (c *fakeContext) NewPage(ctx context.Context) (browserdriver.Page, error) { return c.page, nil }
func (c *fakeContext) Close(ctx context.Context) error                        { return nil }

type fakeBrowser struct {
	closed bool
}

func (b *fakeBrowser) NewContext(ctx context.Context, opts browserdriver.ContextOptions) (browserdriver.Context, error) {
	return &fakeContext{page: &fakePage{text: map[string]string{}}}, nil
}
func (b *fakeBrowser) Close(ctx context.Context) error { b.closed = true; return nil }

type fakeBrowserDriver struct {
	browser *fakeBrowser
}

func (d *fakeBrowserDriver) Launch(ctx context.Context, opts browserdriver.LaunchOptions) (browserdriver.Browser, error) {
	return d.browser, nil
}

// fakeAgent is an agentdriver.Driver stub whose behavior is fully
// configurable per test.
type fakeAgent struct {
	actFn   func(ctx context.Context, instruction string) error
	assert  func(ctx context.Context, instruction string) error
	queryFn func(ctx context.Context, prompt string) (string, error)
	tip     agentdriver.TipCallback
}

func (a *fakeAgent) Launch(ctx context.Context, appID string) error { return nil }
func (a *fakeAgent) AIAct(ctx context.Context, instruction string) error {
	if a.actFn != nil {
		return a.actFn(ctx, instruction)
	}
	return nil
}
func (a *fakeAgent) AIAssert(ctx context.Context, instruction string) error {
	if a.assert != nil {
		return a.assert(ctx, instruction)
	}
	return nil
}
func (a *fakeAgent) AIQuery(ctx context.Context, prompt string) (string, error) {
	if a.queryFn != nil {
		return a.queryFn(ctx, prompt)
	}
	return "", nil
}
func (a *fakeAgent) AIWaitFor(ctx context.Context, predicate string, opts agentdriver.WaitForOptions) error {
	return nil
}
func (a *fakeAgent) SetAIActContext(text string) {}
func (a *fakeAgent) SetOnTaskStartTip(cb agentdriver.TipCallback) { a.tip = cb }

func newTestDeviceManager(t *testing.T) *devicemanager.Manager {
	t.Helper()
	pool := emulator.NewPool(func(ctx context.Context, avdName string, index int) (*emulator.Instance, error) {
		t.Fatalf("unexpected emulator boot for %q in a browser-only test", avdName)
		return nil, nil
	}, 1, slog.Default())
	return devicemanager.NewManager(devicemanager.Config{
		Pool:      pool,
		ADBClient: fakeLister{},
		ADBFactory: func(serial string) emulator.DeviceHandle {
			t.Fatalf("unexpected adb factory call for serial %q", serial)
			return nil
		},
	})
}

type fakeLister struct {
	states map[string]adb.ConnectionState
}

func (f fakeLister) ListDevices(ctx context.Context) (map[string]adb.ConnectionState, error) {
	if f.states == nil {
		return map[string]adb.ConnectionState{}, nil
	}
	return f.states, nil
}

func newTestExecutor(t *testing.T, browser *fakeBrowser, agentFactory AgentFactory) *Executor {
	t.Helper()
	filter := urlsafety.NewFilter(urlsafety.Policy{}, nil, time.Second, time.Minute, time.Minute, nil)
	return New(Config{
		DeviceManager:           newTestDeviceManager(t),
		BrowserDriver:           &fakeBrowserDriver{browser: browser},
		URLPolicy:               urlsafety.Policy{},
		URLFilter:               filter,
		AgentFactory:            agentFactory,
		MaxTestDuration:         5 * time.Second,
		AndroidOperationTimeout: time.Second,
		CodeStatementTimeout:    time.Second,
		UploadRoot:              t.TempDir(),
	})
}

func TestRun_BrowserHappyPath(t *testing.T) {
	browser := &fakeBrowser{}
	agent := &fakeAgent{}
	e := newTestExecutor(t, browser, func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		return agent
	})

	rc := ResolvedConfig{
		RunID:    "run-1",
		URL:      "https://example.com",
		Prompt:   "click the login button",
		AIAPIKey: "test-key",
	}

	var events []eventbus.Event
	var ranCleanup func()
	result := e.Run(context.Background(), rc, Callbacks{
		OnEvent: func(ev eventbus.Event) { events = append(events, ev) },
		OnCleanup: func(cleanup func()) {
			ranCleanup = cleanup
		},
	})

	if result.Status != StatusPass {
		t.Fatalf("expected PASS, got %+v", result)
	}
	if len(events) == 0 {
		t.Fatalf("expected at least one streamed event")
	}
	if ranCleanup == nil {
		t.Fatalf("expected OnCleanup to receive the teardown hook")
	}
	if !browser.closed {
		t.Fatalf("expected browser to be closed by cleanup")
	}
}

func TestRun_StepFailureMapsToFail(t *testing.T) {
	browser := &fakeBrowser{}
	agent := &fakeAgent{
		actFn: func(ctx context.Context, instruction string) error {
			return errors.New("element not found")
		},
	}
	e := newTestExecutor(t, browser, func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		return agent
	})

	rc := ResolvedConfig{
		RunID:    "run-2",
		URL:      "https://example.com",
		Prompt:   "click the login button",
		AIAPIKey: "test-key",
	}

	result := e.Run(context.Background(), rc, Callbacks{})
	if result.Status != StatusFail {
		t.Fatalf("expected FAIL, got %+v", result)
	}
}

func TestRun_QuotedVerificationMismatchFails(t *testing.T) {
	browser := &fakeBrowser{}
	agent := &fakeAgent{
		queryFn: func(ctx context.Context, prompt string) (string, error) {
			return "NOT_FOUND", nil
		},
	}
	e := newTestExecutor(t, browser, func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		return agent
	})

	rc := ResolvedConfig{
		RunID:    "run-3",
		URL:      "https://example.com",
		Prompt:   `Verify "Order #12345 confirmed"`,
		AIAPIKey: "test-key",
	}

	result := e.Run(context.Background(), rc, Callbacks{})
	if result.Status != StatusFail {
		t.Fatalf("expected FAIL on verbatim mismatch, got %+v", result)
	}
}

func TestRun_MissingAIKeyIsConfigurationFailure(t *testing.T) {
	browser := &fakeBrowser{}
	e := newTestExecutor(t, browser, func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		t.Fatalf("agent factory should not be called without an AI key")
		return nil
	})

	result := e.Run(context.Background(), ResolvedConfig{URL: "https://example.com", Prompt: "do something"}, Callbacks{})
	if result.Status != StatusFail {
		t.Fatalf("expected FAIL, got %+v", result)
	}
}

func TestRun_CancellationMapsToCancelled(t *testing.T) {
	browser := &fakeBrowser{}
	agent := &fakeAgent{
		actFn: func(ctx context.Context, instruction string) error {
			return ctx.Err()
		},
	}
	e := newTestExecutor(t, browser, func(apiKey string, shot agentdriver.Screenshotter) agentdriver.Driver {
		return agent
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := ResolvedConfig{
		URL:      "https://example.com",
		Prompt:   "click the login button",
		AIAPIKey: "test-key",
	}
	result := e.Run(ctx, rc, Callbacks{})
	if result.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %+v", result)
	}
}
