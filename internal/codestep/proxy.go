package codestep

import "context"

// pageProxy wraps a Page, confining SetInputFiles to the configured file
// envelope. All other calls pass through unchanged.
type pageProxy struct {
	inner    Page
	envelope FileEnvelope
}

func (p *pageProxy) Goto(ctx context.Context, url string) error { return p.inner.Goto(ctx, url) }

func (p *pageProxy) Click(ctx context.Context, selector string) error {
	return p.inner.Click(ctx, selector)
}

func (p *pageProxy) Fill(ctx context.Context, selector, value string) error {
	return p.inner.Fill(ctx, selector, value)
}

func (p *pageProxy) Text(ctx context.Context, selector string) (string, error) {
	return p.inner.Text(ctx, selector)
}

func (p *pageProxy) URL(ctx context.Context) (string, error) { return p.inner.URL(ctx) }

func (p *pageProxy) Screenshot(ctx context.Context, label string) error {
	return p.inner.Screenshot(ctx, label)
}

func (p *pageProxy) WaitForSelector(ctx context.Context, selector string) error {
	return p.inner.WaitForSelector(ctx, selector)
}

func (p *pageProxy) SetInputFiles(ctx context.Context, selector string, paths ...string) error {
	resolved := make([]string, len(paths))
	for i, path := range paths {
		full, err := p.envelope.validate(path)
		if err != nil {
			return err
		}
		resolved[i] = full
	}
	return p.inner.SetInputFiles(ctx, selector, resolved...)
}
