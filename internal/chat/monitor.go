package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrSettleTimeout reports that the safety timeout elapsed while the
// chat was still unsettled and no recovery action applied. Callers may
// want to treat this differently from a definitive UI error ("model too
// slow" vs "UI broke").
var ErrSettleTimeout = errors.New("chat: timed out waiting for chat to settle")

// ErrNoConfirmationButton reports that the state probe saw a pending
// confirmation but no allow-listed button could be found to click. The
// condition was detected moments earlier, so silently skipping it would
// hide a real desync; it is always a hard error.
var ErrNoConfirmationButton = errors.New("chat: confirmation pending but no matching button found")

// uiState is the transient classification of the live chat UI,
// recomputed on every probe and never stored.
type uiState struct {
	Loading      bool `json:"loading"`
	Confirmation bool `json:"confirmation"`
	TrustDialog  bool `json:"trustDialog"`
	ChatError    bool `json:"chatError"`
	ErrorOverlay bool `json:"errorOverlay"`
	ToolLoading  bool `json:"toolLoading"`
}

func (s uiState) active() bool {
	return s.Loading || s.Confirmation || s.TrustDialog || s.ChatError || s.ErrorOverlay || s.ToolLoading
}

// probeStateJS evaluates the five settle predicates in one pass. The
// chat counts as loading while the response spinner is up or the send
// control is not visible (a hidden send button means a response is
// still being produced).
const probeStateJS = `
(confirmLabels) => {
	const visible = (el) => !!(el && el.offsetParent !== null);
	const sendBtn = document.querySelector('a.action-label.codicon.codicon-send');
	const loading = !!document.querySelector('div.chat-response-loading') || !visible(sendBtn);
	const confirmation = Array.from(document.querySelectorAll('div.chat-confirmation-widget-buttons a.monaco-button, div.chat-buttons a.monaco-button'))
		.some(el => visible(el) && confirmLabels.includes(el.textContent.trim()));
	const trustDialog = Array.from(document.querySelectorAll('a.monaco-button, button'))
		.some(el => visible(el) && el.textContent.trim() === 'Trust');
	const chatError = Array.from(document.querySelectorAll('div.interactive-response.chat-most-recent-response div.chat-error-confirmation a.monaco-text-button'))
		.some(el => visible(el) && el.textContent.trim() === 'Try Again');
	const errorOverlay = !!document.querySelector('div.notifications-toasts.visible div.notification-list-item');
	const toolLoading = !!document.querySelector('div.interactive-response div.chat-tool-invocation-part div.codicon-loading');
	return { loading, confirmation, trustDialog, chatError, errorOverlay, toolLoading };
}`

// clickConfirmationJS clicks the most recently appended visible
// confirmation button whose caption is allow-listed.
const clickConfirmationJS = `
(confirmLabels) => {
	const visible = (el) => !!(el && el.offsetParent !== null);
	const buttons = Array.from(document.querySelectorAll('div.chat-confirmation-widget-buttons a.monaco-button, div.chat-buttons a.monaco-button'))
		.filter(el => visible(el) && confirmLabels.includes(el.textContent.trim()));
	if (buttons.length === 0) return { clicked: false, count: 0, label: '' };
	const target = buttons[buttons.length - 1];
	const label = target.textContent.trim();
	target.click();
	return { clicked: true, count: buttons.length, label };
}`

// dismissToastsJS captures each visible notification toast's message and
// clicks its clear affordance. Toasts without one are reported but left
// alone.
const dismissToastsJS = `
() => {
	const items = Array.from(document.querySelectorAll('div.notifications-toasts.visible div.notification-list-item'));
	return items.map(item => {
		const msgEl = item.querySelector('div.notification-list-item-message span');
		const message = msgEl ? msgEl.textContent.trim() : '';
		const clear = item.querySelector('a.codicon-notifications-clear');
		if (clear) clear.click();
		return { message, dismissed: !!clear };
	});
}`

// cancelStuckToolJS clicks the cancel control attached to a running tool
// invocation (the one carrying a stop-circle icon).
const cancelStuckToolJS = `
() => {
	const visible = (el) => !!(el && el.offsetParent !== null);
	const els = Array.from(document.querySelectorAll('[aria-label^="Cancel"]'))
		.filter(el => visible(el))
		.filter(el => el.classList.contains('codicon-stop-circle') || el.querySelector('.codicon-stop-circle'));
	if (els.length === 0) return false;
	els[els.length - 1].click();
	return true;
}`

// AwaitSettled waits until the chat is safe to read: no response in
// flight, no confirmation or trust dialog pending, no error affordance
// showing. Transient dialogs are drained as they appear, one recovery
// action per wake-up, with the state re-probed from scratch afterwards.
// A tool invocation spinner continuously up past the tool-stuck timeout
// is cancelled and a canned follow-up message is sent. Settling requires
// the configured number of consecutive clean probes so a DOM re-render
// flicker cannot report success early.
//
// Returns ErrSettleTimeout when the safety timeout elapses with nothing
// left to recover.
func (c *Client) AwaitSettled(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.SafetyTimeout())
	stable := 0
	recoveries := 0
	var toolSince time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := c.probeState(ctx)
		if err != nil {
			return fmt.Errorf("probe chat state: %w", err)
		}
		c.log.Debug("chat state",
			zap.Bool("loading", st.Loading),
			zap.Bool("confirmation", st.Confirmation),
			zap.Bool("trust", st.TrustDialog),
			zap.Bool("chat_error", st.ChatError),
			zap.Bool("error_overlay", st.ErrorOverlay),
			zap.Bool("tool_loading", st.ToolLoading))

		if !st.active() {
			stable++
			if stable >= c.cfg.stabilityCount() {
				c.log.Debug("chat settled", zap.Int("stable_probes", stable))
				return nil
			}
			if err := c.sleep(ctx, c.cfg.StabilityDelay()); err != nil {
				return err
			}
			continue
		}
		stable = 0

		// Blocking dialogs and error affordances are drained immediately;
		// only plain loading waits.
		acted := false
		switch {
		case st.Confirmation:
			if err := c.clickConfirmation(ctx); err != nil {
				return err
			}
			acted = true
		case st.TrustDialog:
			c.clickTrust(ctx)
			acted = true
		case st.ChatError:
			if err := c.clickTryAgain(ctx); err != nil {
				return err
			}
			acted = true
		case st.ErrorOverlay:
			c.dismissNotifications(ctx)
			acted = true
		case st.ToolLoading:
			if toolSince.IsZero() {
				toolSince = time.Now()
			}
			if time.Since(toolSince) >= c.cfg.ToolStuckTimeout() {
				if err := c.recoverStuckTool(ctx); err != nil {
					return err
				}
				toolSince = time.Time{}
				acted = true
			}
		}
		if !st.ToolLoading {
			toolSince = time.Time{}
		}
		if acted {
			recoveries++
			if recoveries > c.cfg.maxRecoveryActions() {
				return fmt.Errorf("%w: %d recovery actions without settling", ErrSettleTimeout, recoveries)
			}
			if err := c.sleep(ctx, c.cfg.StabilityDelay()); err != nil {
				return err
			}
			continue
		}

		if time.Now().After(deadline) {
			return ErrSettleTimeout
		}
		// Wake on the next DOM mutation rather than a fixed interval; the
		// poll interval bounds the wait when nothing mutates.
		if err := c.page.WaitChange(ctx, selChatSession, c.cfg.PollInterval()); err != nil {
			c.log.Debug("mutation wait failed, falling back to delay", zap.Error(err))
			if err := c.sleep(ctx, c.cfg.StabilityDelay()); err != nil {
				return err
			}
		}
	}
}

func (c *Client) probeState(ctx context.Context) (uiState, error) {
	raw, err := c.page.Eval(ctx, probeStateJS, confirmLabels)
	if err != nil {
		return uiState{}, err
	}
	var st uiState
	if err := json.Unmarshal(raw, &st); err != nil {
		return uiState{}, fmt.Errorf("decode chat state: %w", err)
	}
	return st, nil
}

func (c *Client) clickConfirmation(ctx context.Context) error {
	raw, err := c.page.Eval(ctx, clickConfirmationJS, confirmLabels)
	if err != nil {
		return fmt.Errorf("click confirmation: %w", err)
	}
	var res struct {
		Clicked bool   `json:"clicked"`
		Count   int    `json:"count"`
		Label   string `json:"label"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode confirmation click result: %w", err)
	}
	if !res.Clicked {
		return ErrNoConfirmationButton
	}
	if res.Count > 1 {
		c.log.Warn("multiple confirmation buttons visible, clicked most recent",
			zap.Int("count", res.Count), zap.String("label", res.Label))
	} else {
		c.log.Debug("clicked confirmation button", zap.String("label", res.Label))
	}
	return nil
}

// clickTrust accepts a trust dialog. Failure is logged, not fatal: the
// dialog may have dismissed itself between the probe and the click.
func (c *Client) clickTrust(ctx context.Context) {
	if err := c.page.ClickByText(ctx, selMonacoButtons, trustButtonText); err != nil {
		c.log.Warn("failed to click trust button, continuing", zap.Error(err))
		return
	}
	c.log.Debug("accepted trust dialog")
}

func (c *Client) clickTryAgain(ctx context.Context) error {
	if err := c.page.ClickByText(ctx, selChatError, tryAgainText); err != nil {
		return fmt.Errorf("click Try Again: %w", err)
	}
	if err := c.page.WaitHidden(ctx, selChatError, c.cfg.SendWait()); err != nil {
		c.log.Warn("Try Again affordance still visible after click", zap.Error(err))
	}
	return nil
}

// dismissNotifications clears every visible toast, logging each message
// for diagnostics. A toast that cannot be dismissed is skipped.
func (c *Client) dismissNotifications(ctx context.Context) {
	raw, err := c.page.Eval(ctx, dismissToastsJS)
	if err != nil {
		c.log.Warn("failed to dismiss notifications", zap.Error(err))
		return
	}
	var toasts []struct {
		Message   string `json:"message"`
		Dismissed bool   `json:"dismissed"`
	}
	if err := json.Unmarshal(raw, &toasts); err != nil {
		c.log.Warn("failed to decode notification list", zap.Error(err))
		return
	}
	for _, t := range toasts {
		if t.Dismissed {
			c.log.Info("dismissed notification", zap.String("message", t.Message))
		} else {
			c.log.Warn("notification has no clear control, skipping", zap.String("message", t.Message))
		}
	}
}

// recoverStuckTool cancels the runaway invocation and tells the model
// why its command was stopped, re-entering the normal send flow.
func (c *Client) recoverStuckTool(ctx context.Context) error {
	c.log.Warn("tool invocation stuck, cancelling",
		zap.Duration("timeout", c.cfg.ToolStuckTimeout()))
	raw, err := c.page.Eval(ctx, cancelStuckToolJS)
	if err != nil {
		return fmt.Errorf("cancel stuck tool: %w", err)
	}
	var clicked bool
	if err := json.Unmarshal(raw, &clicked); err != nil || !clicked {
		return fmt.Errorf("stuck tool detected but no cancel control found")
	}
	msg := fmt.Sprintf("Your command took longer than %d seconds so I stopped it",
		int(c.cfg.ToolStuckTimeout().Seconds()))
	if err := c.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("send stuck-tool follow-up: %w", err)
	}
	return nil
}
