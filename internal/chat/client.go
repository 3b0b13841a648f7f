// Package chat drives the Copilot Chat panel inside a running VS Code
// window: picking a model and mode, typing and sending prompts, waiting
// for the assistant to finish responding, and extracting the conversation
// transcript from the virtualized chat list.
package chat

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Page is the automation surface the chat driver runs against. It is
// satisfied by automation.Page; tests substitute a fake.
type Page interface {
	// Eval runs a JS function expression in the page and returns its
	// JSON-serialized result. Transient evaluation failures (execution
	// context torn down mid-render) are absorbed by the implementation.
	Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) error
	WaitVisibleByText(ctx context.Context, selector, text string, timeout time.Duration) error
	// WaitChange blocks until something mutates under selector, or maxWait
	// elapses. Either outcome returns nil; it is a wake-up, not a predicate.
	WaitChange(ctx context.Context, selector string, maxWait time.Duration) error
	Click(ctx context.Context, selector string) error
	ClickByText(ctx context.Context, selector, text string) error
	Press(ctx context.Context, combo string) error
	TypeText(ctx context.Context, text string) error
	InnerText(ctx context.Context, selector string) (string, error)
	MoveMouse(ctx context.Context, x, y float64) error
}

// Config holds chat driver tuning. Durations are milliseconds in the
// config file; zero values fall back to defaults via the accessors.
type Config struct {
	SafetyTimeoutMs    int `yaml:"safety_timeout_ms"`
	ToolStuckTimeoutMs int `yaml:"tool_stuck_timeout_ms"`
	StabilityCount     int `yaml:"stability_count"`
	StabilityDelayMs   int `yaml:"stability_delay_ms"`
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	RowWaitMs          int `yaml:"row_wait_ms"`
	RefocusWaitMs      int `yaml:"refocus_wait_ms"`
	MaxExtractAttempts int `yaml:"max_extract_attempts"`
	MaxRecoveryActions int `yaml:"max_recovery_actions"`
	TypingDelayMs      int `yaml:"typing_delay_ms"`
	InputWaitMs        int `yaml:"input_wait_ms"`
	SendWaitMs         int `yaml:"send_wait_ms"`
	DismissWaitMs      int `yaml:"dismiss_wait_ms"`
	PickerWaitMs       int `yaml:"picker_wait_ms"`
	ContextWaitMs      int `yaml:"context_wait_ms"`
}

// DefaultConfig returns the tuning that matches VS Code's observed
// behavior. The safety timeout is just past VS Code's internal ten
// minute limit, after which it shows the "Try Again" affordance.
func DefaultConfig() Config {
	return Config{
		SafetyTimeoutMs:    11 * 60 * 1000,
		ToolStuckTimeoutMs: 30000,
		StabilityCount:     3,
		StabilityDelayMs:   50,
		PollIntervalMs:     500,
		RowWaitMs:          5000,
		RefocusWaitMs:      20000,
		MaxExtractAttempts: 200,
		MaxRecoveryActions: 100,
		TypingDelayMs:      10,
		InputWaitMs:        1000,
		SendWaitMs:         15000,
		DismissWaitMs:      1000,
		PickerWaitMs:       60000,
		ContextWaitMs:      10000,
	}
}

func ms(v, def int) time.Duration {
	if v == 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

// SafetyTimeout bounds one AwaitSettled call end to end.
func (c Config) SafetyTimeout() time.Duration { return ms(c.SafetyTimeoutMs, 11*60*1000) }

// ToolStuckTimeout is how long a tool invocation spinner may stay up
// continuously before the invocation is cancelled.
func (c Config) ToolStuckTimeout() time.Duration { return ms(c.ToolStuckTimeoutMs, 30000) }

func (c Config) StabilityDelay() time.Duration { return ms(c.StabilityDelayMs, 50) }
func (c Config) PollInterval() time.Duration   { return ms(c.PollIntervalMs, 500) }
func (c Config) RowWait() time.Duration        { return ms(c.RowWaitMs, 5000) }
func (c Config) RefocusWait() time.Duration    { return ms(c.RefocusWaitMs, 20000) }
func (c Config) TypingDelay() time.Duration    { return ms(c.TypingDelayMs, 10) }
func (c Config) InputWait() time.Duration      { return ms(c.InputWaitMs, 1000) }
func (c Config) SendWait() time.Duration       { return ms(c.SendWaitMs, 15000) }
func (c Config) DismissWait() time.Duration    { return ms(c.DismissWaitMs, 1000) }
func (c Config) PickerWait() time.Duration     { return ms(c.PickerWaitMs, 60000) }
func (c Config) ContextWait() time.Duration    { return ms(c.ContextWaitMs, 10000) }

func (c Config) stabilityCount() int {
	if c.StabilityCount == 0 {
		return 3
	}
	return c.StabilityCount
}

func (c Config) maxExtractAttempts() int {
	if c.MaxExtractAttempts == 0 {
		return 200
	}
	return c.MaxExtractAttempts
}

func (c Config) maxRecoveryActions() int {
	if c.MaxRecoveryActions == 0 {
		return 100
	}
	return c.MaxRecoveryActions
}

// Client drives one chat panel. It is not safe for concurrent use: all
// operations share one page and must be issued sequentially, the same
// constraint the underlying UI imposes.
type Client struct {
	page  Page
	cfg   Config
	log   *zap.Logger
	model Selection
	mode  Selection
}

// NewClient wraps an attached page whose document already contains the
// open chat panel (the session manager's responsibility).
func NewClient(page Page, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{page: page, cfg: cfg, log: log}
}

// sleep waits for d or until ctx is cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
