package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// fakePage simulates the chat DOM: a virtualized row list where only a
// window around the focused row is rendered, plus a scripted sequence
// of state probe results. Eval dispatches on script identity.
type fakePage struct {
	mu sync.Mutex

	rows   []rawRow
	focus  int
	window int // 0 means every row is rendered

	states     []uiState // consumed one per probe; the last repeats
	probeCalls int

	confirmClicked bool
	confirmCount   int
	confirmLabel   string
	confirmEvals   int

	cancelClicks bool
	cancelEvals  int

	trustVisible bool
	innerTexts   map[string]string

	pressed     []string
	typed       []string
	clicked     []string
	clickedText []string
}

func newFakePage() *fakePage {
	return &fakePage{innerTexts: map[string]string{}}
}

func (f *fakePage) visibleRows() []rawRow {
	if f.window <= 0 {
		return append([]rawRow(nil), f.rows...)
	}
	var out []rawRow
	for i, r := range f.rows {
		if i >= f.focus-f.window && i <= f.focus+f.window {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakePage) rendered(index int) bool {
	if index < 0 || index >= len(f.rows) {
		return false
	}
	if f.window <= 0 {
		return true
	}
	return index >= f.focus-f.window && index <= f.focus+f.window
}

func (f *fakePage) Eval(ctx context.Context, js string, args ...interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch js {
	case probeStateJS:
		f.probeCalls++
		st := uiState{}
		if len(f.states) > 0 {
			st = f.states[0]
			if len(f.states) > 1 {
				f.states = f.states[1:]
			}
		}
		return json.Marshal(st)
	case collectRowsJS:
		return json.Marshal(f.visibleRows())
	case scrollToTopJS:
		f.focus = 0
		return json.Marshal(true)
	case scrollToBottomJS:
		if len(f.rows) > 0 {
			f.focus = len(f.rows) - 1
		}
		return json.Marshal(true)
	case scrollDownOneJS:
		moved := f.focus < len(f.rows)-1
		if moved {
			f.focus++
		}
		return json.Marshal(moved)
	case scrollUpOneJS:
		moved := f.focus > 0
		if moved {
			f.focus--
		}
		return json.Marshal(moved)
	case clickConfirmationJS:
		f.confirmEvals++
		return json.Marshal(map[string]interface{}{
			"clicked": f.confirmClicked,
			"count":   f.confirmCount,
			"label":   f.confirmLabel,
		})
	case dismissToastsJS:
		return json.Marshal([]map[string]interface{}{})
	case cancelStuckToolJS:
		f.cancelEvals++
		return json.Marshal(f.cancelClicks)
	}
	return nil, fmt.Errorf("unexpected script: %.40s", js)
}

func (f *fakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var idx int
	if n, err := fmt.Sscanf(selector, rowSelectorFmt, &idx); err == nil && n == 1 {
		if !f.rendered(idx) {
			return fmt.Errorf("row %d not rendered", idx)
		}
	}
	return nil
}

func (f *fakePage) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakePage) WaitVisibleByText(ctx context.Context, selector, text string, timeout time.Duration) error {
	f.mu.Lock()
	trust := f.trustVisible
	f.mu.Unlock()
	if text == trustButtonText && trust {
		return nil
	}
	return fmt.Errorf("no visible %q with text %q", selector, text)
}

func (f *fakePage) WaitChange(ctx context.Context, selector string, maxWait time.Duration) error {
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (f *fakePage) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, selector)
	return nil
}

func (f *fakePage) ClickByText(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickedText = append(f.clickedText, text)
	return nil
}

func (f *fakePage) Press(ctx context.Context, combo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed = append(f.pressed, combo)
	return nil
}

func (f *fakePage) TypeText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakePage) InnerText(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.innerTexts[selector], nil
}

func (f *fakePage) MoveMouse(ctx context.Context, x, y float64) error {
	return nil
}

var _ Page = (*fakePage)(nil)

// fastConfig shrinks every wait so state machine tests run in
// milliseconds.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.StabilityDelayMs = 1
	cfg.PollIntervalMs = 1
	cfg.TypingDelayMs = 1
	cfg.InputWaitMs = 1
	cfg.SendWaitMs = 1
	cfg.DismissWaitMs = 1
	cfg.PickerWaitMs = 1
	cfg.ContextWaitMs = 1
	cfg.RowWaitMs = 1
	cfg.RefocusWaitMs = 1
	return cfg
}
