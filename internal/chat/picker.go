package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Selection records the value a dropdown picker currently shows, so
// repeated sends can skip the click sequence when nothing changed.
// The zero value means "unknown, must pick".
type Selection struct {
	label string
	valid bool
}

// PickModel selects the model shown in the chat input's model picker.
func (c *Client) PickModel(ctx context.Context, label string) error {
	return c.pick(ctx, "Pick Model", label, &c.model)
}

// PickMode selects the chat mode (Ask, Edit, Agent).
func (c *Client) PickMode(ctx context.Context, label string) error {
	return c.pick(ctx, "Set Mode", label, &c.mode)
}

func (c *Client) pick(ctx context.Context, ariaLabel, label string, sel *Selection) error {
	if sel.valid && sel.label == label {
		c.log.Debug("picker already set, skipping", zap.String("picker", ariaLabel), zap.String("label", label))
		return nil
	}

	picker := pickerSelector(ariaLabel)
	// The picker can take a while to appear; the model list is fetched
	// lazily after the workbench loads.
	if err := c.page.WaitVisible(ctx, picker, c.cfg.PickerWait()); err != nil {
		return fmt.Errorf("%s picker not visible: %w", strings.ToLower(ariaLabel), err)
	}
	if err := c.page.Click(ctx, picker); err != nil {
		return fmt.Errorf("open %s picker: %w", strings.ToLower(ariaLabel), err)
	}
	if err := c.page.WaitVisible(ctx, selContextList, c.cfg.ContextWait()); err != nil {
		return fmt.Errorf("%s picker dropdown not visible: %w", strings.ToLower(ariaLabel), err)
	}
	if err := c.page.ClickByText(ctx, selPickerOption, label); err != nil {
		return fmt.Errorf("click %s option %q: %w", strings.ToLower(ariaLabel), label, err)
	}

	got, err := c.page.InnerText(ctx, picker)
	if err != nil {
		return fmt.Errorf("read back %s picker: %w", strings.ToLower(ariaLabel), err)
	}
	if strings.TrimSpace(got) != label {
		return fmt.Errorf("tried to select %s %q, but picker shows %q", strings.ToLower(ariaLabel), label, strings.TrimSpace(got))
	}
	*sel = Selection{label: label, valid: true}
	return nil
}
