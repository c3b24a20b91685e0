package agentdriver

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

// Screenshotter captures the current state of whatever target a Driver
// drives, as PNG bytes. The browser and Android setup paths in
// internal/executor each supply their own implementation (a page
// screenshot, an ADB screencap).
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// AnthropicDriver is the default Driver, backed by the Anthropic Messages
// API: each AIAct/AIAssert/AIQuery call sends the current screenshot plus
// the instruction as a single user turn and interprets the model's
// response as the outcome of one tip.
type AnthropicDriver struct {
	client *anthropic.Client
	model  anthropic.Model

	shot Screenshotter
	log  *slog.Logger

	actContext string
	onTip      TipCallback
}

// Config wires an AnthropicDriver to its collaborators.
type Config struct {
	APIKey string
	Model  anthropic.Model
	Shot   Screenshotter
	Logger *slog.Logger
}

// New constructs an AnthropicDriver. Panics if cfg.APIKey or cfg.Shot is
// nil/empty: a driver with no credentials or no way to see the screen
// cannot do its job.
func New(cfg Config) *AnthropicDriver {
	if cfg.APIKey == "" {
		panic("agentdriver: Config.APIKey must not be empty")
	}
	if cfg.Shot == nil {
		panic("agentdriver: Config.Shot must not be nil")
	}
	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicDriver{client: client, model: model, shot: cfg.Shot, log: logger}
}

var _ Driver = (*AnthropicDriver)(nil)

func (d *AnthropicDriver) SetAIActContext(text string) { d.actContext = text }

func (d *AnthropicDriver) SetOnTaskStartTip(cb TipCallback) { d.onTip = cb }

// Launch is a no-op for the Anthropic driver: launching an app is the
// Android setup path's responsibility (see internal/executor), the driver
// only ever interprets screenshots and issues natural-language turns.
func (d *AnthropicDriver) Launch(ctx context.Context, appID string) error { return nil }

func (d *AnthropicDriver) AIAct(ctx context.Context, instruction string) error {
	_, err := d.turn(ctx, d.prompt("Perform this action on the current screen: "+instruction))
	return err
}

func (d *AnthropicDriver) AIAssert(ctx context.Context, instruction string) error {
	reply, err := d.turn(ctx, d.prompt("Verify this assertion against the current screen and reply PASS or FAIL followed by a one-line reason: "+instruction))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.TrimSpace(reply), "PASS") {
		return fmt.Errorf("agentdriver: assertion failed: %s", strings.TrimSpace(reply))
	}
	return nil
}

func (d *AnthropicDriver) AIQuery(ctx context.Context, prompt string) (string, error) {
	return d.turn(ctx, d.prompt(prompt))
}

// AIWaitFor polls predicate against fresh screenshots until the agent
// reports it holds, opts.Timeout elapses, or ctx is done.
func (d *AnthropicDriver) AIWaitFor(ctx context.Context, predicate string, opts WaitForOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		reply, err := d.turn(ctx, d.prompt("Does the current screen satisfy this condition? Reply YES or NO only: "+predicate))
		if err != nil {
			return err
		}
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES") {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agentdriver: timed out waiting for condition: %s", predicate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (d *AnthropicDriver) prompt(instruction string) string {
	if d.actContext == "" {
		return instruction
	}
	return d.actContext + "\n\n" + instruction
}

// turn sends one screenshot-grounded user message and returns the model's
// text reply. Every call is one "tip": the configured callback fires
// before the result is returned so the executor's action count and event
// stream stay consistent even if the caller discards the reply.
func (d *AnthropicDriver) turn(ctx context.Context, instruction string) (string, error) {
	png, err := d.shot.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("agentdriver: capture screenshot: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(png)

	msg, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(d.model),
		MaxTokens: anthropic.F(int64(defaultMaxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", encoded),
				anthropic.NewTextBlock(instruction),
			),
		}),
	})
	if err != nil {
		return "", fmt.Errorf("agentdriver: messages.new: %w", err)
	}

	if d.onTip != nil {
		if err := d.onTip(ctx); err != nil {
			d.log.Warn("tip callback failed", "error", err)
		}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
