package codestep

import "context"

// Expect is the assertion facade exposed to code steps as `expect`.
type Expect interface {
	ToBeVisible(ctx context.Context, selector string) error
	ToHaveText(ctx context.Context, selector, want string) error
	ToContainText(ctx context.Context, selector, want string) error
}
