package codestep

import "context"

// Page is the subset of browser-page operations a code step may call. The
// executor's production implementation wraps a BrowserDriver page; tests
// substitute a fake.
type Page interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Text(ctx context.Context, selector string) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, label string) error
	WaitForSelector(ctx context.Context, selector string) error

	// SetInputFiles receives paths that codestep's page proxy has already
	// confined to the upload envelope and resolved under its root.
	SetInputFiles(ctx context.Context, selector string, paths ...string) error
}
