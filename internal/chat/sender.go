package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Send picks the requested model and mode, then writes and submits the
// prompt. Empty labels leave the corresponding picker untouched.
func (c *Client) Send(ctx context.Context, text, model, mode string) error {
	if model != "" {
		if err := c.PickModel(ctx, model); err != nil {
			return err
		}
	}
	if mode != "" {
		if err := c.PickMode(ctx, mode); err != nil {
			return err
		}
	}
	return c.SendMessage(ctx, text)
}

// SendMessage writes text into the chat input and submits it with the
// current model/mode selection untouched. The stuck-tool recovery path
// re-enters through here.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if err := c.writeMessage(ctx, text); err != nil {
		return err
	}
	return c.submit(ctx)
}

// writeMessage types the prompt rune by rune so the editor's input
// handling sees real keystrokes. Embedded newlines become Shift+Enter;
// a bare Enter would submit early.
func (c *Client) writeMessage(ctx context.Context, text string) error {
	if err := c.page.WaitVisible(ctx, selChatInput, c.cfg.InputWait()); err != nil {
		return fmt.Errorf("chat input not visible: %w", err)
	}
	if err := c.page.Click(ctx, selChatInput); err != nil {
		return fmt.Errorf("focus chat input: %w", err)
	}
	for _, r := range text {
		if r == '\n' {
			if err := c.page.Press(ctx, "Shift+Enter"); err != nil {
				return fmt.Errorf("insert newline: %w", err)
			}
			continue
		}
		if err := c.page.TypeText(ctx, string(r)); err != nil {
			return fmt.Errorf("type message: %w", err)
		}
		if err := c.sleep(ctx, c.cfg.TypingDelay()); err != nil {
			return err
		}
	}
	return nil
}

type sendRaceResult struct {
	trust bool
	err   error
}

// submit clicks the send control and then waits for the first of two
// outcomes: the send button disappears (response started) or VS Code
// raises an MCP trust dialog instead. Whichever wait resolves first
// decides the branch; the other is cancelled, and a racy late
// completion of the loser is discarded, never propagated.
func (c *Client) submit(ctx context.Context) error {
	if err := c.page.WaitVisible(ctx, selSendButton, c.cfg.PickerWait()); err != nil {
		return fmt.Errorf("send button not visible: %w", err)
	}
	if err := c.page.Click(ctx, selSendButton); err != nil {
		return fmt.Errorf("click send button: %w", err)
	}
	// Move the cursor out of the way so hover styling cannot keep
	// elements alive and confuse the visibility probes.
	_ = c.page.MoveMouse(ctx, 0, 0)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make(chan sendRaceResult, 2)
	go func() {
		err := c.page.WaitVisibleByText(raceCtx, selMonacoButtons, trustButtonText, c.cfg.SendWait())
		results <- sendRaceResult{trust: true, err: err}
	}()
	go func() {
		err := c.page.WaitHidden(raceCtx, selSendButton, c.cfg.SendWait())
		results <- sendRaceResult{trust: false, err: err}
	}()

	first := <-results
	cancel()
	if first.err != nil {
		// The first finisher failed; the other wait may still succeed.
		second := <-results
		if second.err != nil {
			// Neither outcome: unusual but not fatal, the settle monitor
			// keeps waiting with the full safety timeout.
			c.log.Warn("send button still visible and no trust dialog appeared",
				zap.Error(first.err))
			return nil
		}
		first = second
	}

	if first.trust {
		c.log.Debug("trust dialog appeared after send, accepting")
		c.clickTrust(ctx)
	} else {
		c.log.Debug("send button disappeared, response in flight")
	}
	return nil
}
