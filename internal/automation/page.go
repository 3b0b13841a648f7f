// Package automation wraps a CDP-attached page behind the small surface
// the chat driver needs: script evaluation, element waits, clicks, and
// synthetic keyboard input. Script evaluation retries transient failures
// (execution context torn down mid-render) with bounded exponential
// backoff; everything else surfaces errors directly.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"vscopilot/internal/chat"
)

// defaultActionTimeout bounds single element lookups for clicks and
// reads; longer waits are always explicit.
const defaultActionTimeout = 10 * time.Second

const (
	evalRetries      = 2 // three attempts total
	evalRetryInitial = 500 * time.Millisecond
	evalRetryMax     = 2 * time.Second
)

// Page is the production implementation of the chat driver's page
// surface on top of a rod page.
type Page struct {
	page *rod.Page
	log  *zap.Logger
}

var _ chat.Page = (*Page)(nil)

// NewPage wraps an attached rod page.
func NewPage(page *rod.Page, log *zap.Logger) *Page {
	if log == nil {
		log = zap.NewNop()
	}
	return &Page{page: page, log: log}
}

// Rod exposes the underlying page for callers that need rod directly
// (screenshots, DOM dumps).
func (p *Page) Rod() *rod.Page { return p.page }

// Eval runs a JS function expression and returns its JSON-serialized
// result. Only transient CDP failures are retried; a script that throws
// or a missing selector inside the script is a business failure and
// surfaces immediately.
func (p *Page) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	var out json.RawMessage
	op := func() error {
		res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
			JS:           js,
			JSArgs:       args,
			ByValue:      true,
			AwaitPromise: true,
		})
		if err != nil {
			if isTransient(err) {
				p.log.Warn("page evaluation failed, retrying", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		if res == nil || res.Value.Nil() {
			out = nil
			return nil
		}
		raw, err := res.Value.MarshalJSON()
		if err != nil {
			return backoff.Permanent(err)
		}
		out = raw
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = evalRetryInitial
	bo.MaxInterval = evalRetryMax
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, evalRetries), ctx)); err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return out, nil
}

// isTransient reports whether an evaluation error was caused by the
// execution context being torn down under us, which resolves itself
// once the renderer finishes whatever it was doing.
func isTransient(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"Cannot find context with specified id",
		"Execution context was destroyed",
		"Inspected target navigated or closed",
		"context destroyed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// WaitVisible blocks until an element matching selector exists and is
// visible.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("locate %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// WaitHidden blocks until no element matching selector is visible. An
// element that never existed counts as hidden.
func (p *Page) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	el, err := pg.Sleeper(rod.NotFoundSleeper).Element(selector)
	if err != nil {
		return nil
	}
	if err := el.Timeout(timeout).WaitInvisible(); err != nil {
		return fmt.Errorf("wait hidden %q: %w", selector, err)
	}
	return nil
}

// WaitVisibleByText blocks until an element matching selector whose
// text matches exactly is visible.
func (p *Page) WaitVisibleByText(ctx context.Context, selector, text string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	el, err := pg.ElementR(selector, exactPattern(text))
	if err != nil {
		return fmt.Errorf("locate %q with text %q: %w", selector, text, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %q (%q): %w", selector, text, err)
	}
	return nil
}

// WaitChange resolves on the first DOM mutation under selector, or when
// maxWait elapses, whichever comes first. Both outcomes return nil.
const waitChangeJS = `
(selector, timeoutMs) => new Promise(resolve => {
	const root = document.querySelector(selector) || document.body;
	let timer = null;
	const obs = new MutationObserver(() => {
		clearTimeout(timer);
		obs.disconnect();
		resolve(true);
	});
	obs.observe(root, { childList: true, subtree: true, attributes: true });
	timer = setTimeout(() => { obs.disconnect(); resolve(false); }, timeoutMs);
})`

func (p *Page) WaitChange(ctx context.Context, selector string, maxWait time.Duration) error {
	_, err := p.Eval(ctx, waitChangeJS, selector, int(maxWait.Milliseconds()))
	return err
}

// Click clicks the first element matching selector once it is visible.
func (p *Page) Click(ctx context.Context, selector string) error {
	pg := p.page.Context(ctx).Timeout(defaultActionTimeout)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("locate %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// ClickByText clicks the first element matching selector whose text
// matches exactly.
func (p *Page) ClickByText(ctx context.Context, selector, text string) error {
	pg := p.page.Context(ctx).Timeout(defaultActionTimeout)
	el, err := pg.ElementR(selector, exactPattern(text))
	if err != nil {
		return fmt.Errorf("locate %q with text %q: %w", selector, text, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q (%q): %w", selector, text, err)
	}
	return nil
}

// Press dispatches a key or chord such as "Control+Alt+I", "Shift+Enter"
// or "ArrowDown". The leading parts are held as modifiers while the last
// part is typed.
func (p *Page) Press(ctx context.Context, combo string) error {
	parts := strings.Split(combo, "+")
	keys := make([]input.Key, 0, len(parts))
	for _, part := range parts {
		k, err := keyFor(part)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	actions := p.page.Context(ctx).KeyActions()
	for _, k := range keys[:len(keys)-1] {
		actions = actions.Press(k)
	}
	actions = actions.Type(keys[len(keys)-1])
	if err := actions.Do(); err != nil {
		return fmt.Errorf("press %q: %w", combo, err)
	}
	return nil
}

func keyFor(name string) (input.Key, error) {
	switch name {
	case "Control", "Ctrl":
		return input.ControlLeft, nil
	case "Alt":
		return input.AltLeft, nil
	case "Shift":
		return input.ShiftLeft, nil
	case "Enter":
		return input.Enter, nil
	case "Escape":
		return input.Escape, nil
	case "Home":
		return input.Home, nil
	case "End":
		return input.End, nil
	case "ArrowDown":
		return input.ArrowDown, nil
	case "ArrowUp":
		return input.ArrowUp, nil
	case "Tab":
		return input.Tab, nil
	}
	if len(name) == 1 {
		return input.Key(unicode.ToLower(rune(name[0]))), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// TypeText inserts text at the current focus.
func (p *Page) TypeText(ctx context.Context, text string) error {
	if err := p.page.Context(ctx).InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// InnerText returns the text content of the first element matching
// selector.
func (p *Page) InnerText(ctx context.Context, selector string) (string, error) {
	pg := p.page.Context(ctx).Timeout(defaultActionTimeout)
	el, err := pg.Element(selector)
	if err != nil {
		return "", fmt.Errorf("locate %q: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("text of %q: %w", selector, err)
	}
	return text, nil
}

// MoveMouse moves the pointer to page coordinates.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	if err := p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	return nil
}

// Screenshot captures the page as PNG.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := p.page.Context(ctx).Screenshot(fullPage, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// HTML returns the full document markup.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("dump dom: %w", err)
	}
	return html, nil
}

func exactPattern(text string) string {
	return "/^" + regexp.QuoteMeta(strings.TrimSpace(text)) + "$/"
}
