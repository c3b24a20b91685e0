package executor

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/skytestlabs/runner/internal/adb"
	"github.com/skytestlabs/runner/internal/agentdriver"
	"github.com/skytestlabs/runner/internal/browserdriver"
	"github.com/skytestlabs/runner/internal/devicemanager"
)

// targetRuntime is the live state backing one configured Target once setup
// has completed: a leased device plus its agent for Android, or a browser
// context/page plus its agent for web.
type targetRuntime struct {
	id   string
	spec Target

	lease *devicemanager.Lease

	browserCtx browserdriver.Context
	page       browserdriver.Page

	agent agentdriver.Driver

	// lastURL and pendingSettle track navigation across steps for the
	// browser "preceded by a navigation" readiness race: lastURL is the
	// URL observed after the most recently completed step (or initial
	// setup navigation); pendingSettle is set when that step's URL
	// differs from the one before it ran, and is consumed by the next
	// ai-action step before it dispatches.
	lastURL       string
	pendingSettle bool
}

// noteNavigation records url as tr's current known location and flags
// pendingSettle when it differs from the previously recorded one. Called
// after every step; browser setup records its initial navigation directly.
func (tr *targetRuntime) noteNavigation(url string) {
	tr.pendingSettle = tr.lastURL != "" && url != tr.lastURL
	tr.lastURL = url
}

// updateNavigationState refreshes tr's tracked URL from its live page,
// best-effort: a page.URL() failure leaves the prior state untouched
// rather than failing the step.
func (tr *targetRuntime) updateNavigationState(ctx context.Context) {
	if tr.page == nil {
		return
	}
	current, err := tr.page.URL(ctx)
	if err != nil {
		return
	}
	tr.noteNavigation(current)
}

// consumePendingSettle reports whether the immediately preceding step
// changed tr's URL, clearing the flag so it is only honored once.
func (tr *targetRuntime) consumePendingSettle() bool {
	v := tr.pendingSettle
	tr.pendingSettle = false
	return v
}

// browserScreenshotter adapts a browserdriver.Page to agentdriver.Screenshotter.
type browserScreenshotter struct {
	page browserdriver.Page
}

func (s browserScreenshotter) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(ctx)
}

// androidScreenshotter adapts a leased Android device to agentdriver.Screenshotter
// via `screencap -p` over the shell channel.
type androidScreenshotter struct {
	lease *devicemanager.Lease
}

func (s androidScreenshotter) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := s.lease.Device.Shell(ctx, adb.CommandOpts{}, "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("executor: android screencap: %w", err)
	}
	return []byte(out), nil
}

// dataURL wraps raw image bytes as a data: URL for the screenshot event
// payload, matching the persisted wire format.
func dataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

// screenshot captures the current state of whichever backing target tr has
// set up so far: its browser page, or its leased Android device.
func (tr *targetRuntime) screenshot(ctx context.Context) ([]byte, error) {
	if tr.page != nil {
		return tr.page.Screenshot(ctx)
	}
	if tr.lease != nil {
		return androidScreenshotter{lease: tr.lease}.Screenshot(ctx)
	}
	return nil, fmt.Errorf("executor: target %s has no screenshot source yet", tr.id)
}
