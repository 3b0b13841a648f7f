package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// collectRowsJS snapshots every currently-rendered chat row. The list is
// virtualized: only a bounded window of rows exists in the DOM at any
// moment, so one snapshot never sees the whole conversation.
const collectRowsJS = `
() => {
	const session = document.querySelector('div.interactive-session > div.interactive-list');
	if (!session) return [];
	const rows = Array.from(session.querySelectorAll('div.monaco-list[aria-label="Chat"] > div.monaco-scrollable-element > div.monaco-list-rows > div.monaco-list-row'));
	return rows.map(row => {
		const rowId = row.getAttribute('data-index');
		const user = row.querySelector('.interactive-request > .value');
		const resp = row.querySelector('.interactive-response > .value');
		if (user) {
			const fragments = Array.from(user.querySelectorAll(':scope > .rendered-markdown')).map(el => ({
				kind: 'markdown', text: el.textContent || '', html: el.innerHTML || ''
			}));
			return { rowId, kind: 'user', fragments };
		}
		if (resp) {
			const partsSel = ':scope > .rendered-markdown, :scope > .chat-tool-invocation-part, :scope > .chat-tool-result-part, :scope > .chat-confirmation-widget';
			const fragments = Array.from(resp.querySelectorAll(partsSel)).map(el => {
				if (el.classList.contains('rendered-markdown')) {
					return { kind: 'markdown', text: el.textContent || '', html: el.innerHTML || '' };
				}
				if (el.classList.contains('chat-confirmation-widget')) {
					const title = el.querySelector('.chat-confirmation-widget-title .rendered-markdown');
					return {
						kind: 'confirmation',
						text: title ? (title.textContent || '') : '',
						html: title ? (title.innerHTML || el.innerHTML || '') : (el.innerHTML || '')
					};
				}
				return { kind: 'tool', text: el.textContent || '', html: el.innerHTML || '' };
			});
			return { rowId, kind: 'assistant', fragments };
		}
		return { rowId, kind: 'unknown', fragments: [] };
	});
}`

// scrollToTopJS focuses the list and jumps to the first row.
const scrollToTopJS = `
async () => {
	const list = document.querySelector('div.monaco-list[aria-label="Chat"]');
	if (!list) return false;
	list.focus();
	await new Promise(r => setTimeout(r, 100));
	list.dispatchEvent(new KeyboardEvent('keydown', {
		key: 'Home', code: 'Home', keyCode: 36, which: 36, bubbles: true, cancelable: true
	}));
	return true;
}`

// scrollToBottomJS focuses the list and jumps to the last row.
const scrollToBottomJS = `
async () => {
	const list = document.querySelector('div.monaco-list[aria-label="Chat"]');
	if (!list) return false;
	list.focus();
	await new Promise(r => setTimeout(r, 100));
	list.dispatchEvent(new KeyboardEvent('keydown', {
		key: 'End', code: 'End', keyCode: 35, which: 35, bubbles: true, cancelable: true
	}));
	return true;
}`

// scrollDownOneJS advances list focus one row and reports whether the
// focused index actually changed. No change means the focus is already
// at the boundary.
const scrollDownOneJS = `
() => {
	const session = document.querySelector('div.interactive-session');
	if (!session) return false;
	const before = session.querySelector('div.focused')?.getAttribute('data-index');
	const list = document.querySelector('div.monaco-list[aria-label="Chat"]');
	if (!list) return false;
	list.focus();
	list.dispatchEvent(new KeyboardEvent('keydown', {
		key: 'ArrowDown', code: 'ArrowDown', keyCode: 40, which: 40, bubbles: true, cancelable: true
	}));
	return new Promise(resolve => {
		setTimeout(() => {
			const after = session.querySelector('div.focused')?.getAttribute('data-index');
			resolve(before !== after);
		}, 200);
	});
}`

const scrollUpOneJS = `
() => {
	const session = document.querySelector('div.interactive-session');
	if (!session) return false;
	const before = session.querySelector('div.focused')?.getAttribute('data-index');
	const list = document.querySelector('div.monaco-list[aria-label="Chat"]');
	if (!list) return false;
	list.focus();
	list.dispatchEvent(new KeyboardEvent('keydown', {
		key: 'ArrowUp', code: 'ArrowUp', keyCode: 38, which: 38, bubbles: true, cancelable: true
	}));
	return new Promise(resolve => {
		setTimeout(() => {
			const after = session.querySelector('div.focused')?.getAttribute('data-index');
			resolve(before !== after);
		}, 200);
	});
}`

// Cursor tracks extraction progress across calls for one chat session.
// seen only ever grows; turns are append-only, so rows that scroll in
// and out of the rendered window repeatedly are never double counted.
type Cursor struct {
	seen  map[int]struct{}
	turns []ConversationTurn
}

// NewCursor returns an empty cursor. One cursor belongs to one session
// and must not be shared across sessions.
func NewCursor() *Cursor {
	return &Cursor{seen: make(map[int]struct{})}
}

// Transcript returns a copy of everything accumulated so far, in
// chronological order.
func (c *Cursor) Transcript() []ConversationTurn {
	out := make([]ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Seen reports whether a row index has already been extracted.
func (c *Cursor) Seen(index int) bool {
	_, ok := c.seen[index]
	return ok
}

// ExtractTranscript walks the whole virtualized list top to bottom and
// returns the conversation in chronological order. The caller must have
// settled the chat first (AwaitSettled); rows are snapshotted once on
// first observation and never revisited.
//
// Exhausting the attempt budget or losing track of the next row ends
// the walk with whatever was accumulated: a best-effort partial result,
// never an error. A budget exhaustion is logged since it usually means
// the selectors and the renderer have drifted apart.
func (c *Client) ExtractTranscript(ctx context.Context) ([]ConversationTurn, error) {
	if _, err := c.page.Eval(ctx, scrollToTopJS); err != nil {
		return nil, fmt.Errorf("scroll chat to top: %w", err)
	}

	cur := NewCursor()
	expected := 0
	complete := false
	for attempt := 0; attempt < c.cfg.maxExtractAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return cur.Transcript(), err
		}
		if !c.awaitRow(ctx, expected) {
			// Indistinguishable from running past the last row; treat the
			// desynced-renderer case identically and stop.
			complete = true
			break
		}
		rows, err := c.collectRows(ctx)
		if err != nil {
			return cur.Transcript(), err
		}
		if row, ok := findRow(rows, expected); ok {
			cur.seen[expected] = struct{}{}
			turns := parseRow(expected, row)
			cur.turns = append(cur.turns, turns...)
			c.log.Debug("extracted row", zap.Int("row", expected), zap.Int("turns", len(turns)))
		} else {
			c.log.Warn("expected row missing from rendered window", zap.Int("row", expected))
		}
		expected++
		moved, err := c.scrollOne(ctx, scrollDownOneJS)
		if err != nil {
			return cur.Transcript(), err
		}
		if !moved {
			complete = true
			break
		}
	}
	if !complete {
		c.log.Warn("extraction attempt budget exhausted, returning partial transcript",
			zap.Int("attempts", c.cfg.maxExtractAttempts()), zap.Int("rows", len(cur.seen)))
	}
	c.verifySendReady(ctx)
	return cur.Transcript(), nil
}

// ExtractNew extracts only the rows that appeared since the cursor was
// last advanced, walking the list bottom-up until it reaches an
// already-seen row. Previously accumulated turns are prefixed as-is,
// never re-derived, which bounds each call to the new tail of a long
// session. The full transcript (old plus new, oldest first) is
// returned.
func (c *Client) ExtractNew(ctx context.Context, cur *Cursor) ([]ConversationTurn, error) {
	if cur == nil {
		return nil, fmt.Errorf("extract: nil cursor")
	}
	if _, err := c.page.Eval(ctx, scrollToBottomJS); err != nil {
		return cur.Transcript(), fmt.Errorf("scroll chat to bottom: %w", err)
	}
	rows, err := c.collectRows(ctx)
	if err != nil {
		return cur.Transcript(), err
	}
	newest, ok := maxRowIndex(rows)
	if !ok {
		return cur.Transcript(), nil
	}

	// Collected newest-first, merged oldest-first below.
	var batches [][]ConversationTurn
	expected := newest
	for attempt := 0; attempt < c.cfg.maxExtractAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return cur.Transcript(), err
		}
		if expected < 0 || cur.Seen(expected) {
			break
		}
		if !c.awaitRow(ctx, expected) {
			c.log.Warn("row never rendered during backward walk", zap.Int("row", expected))
			break
		}
		rows, err := c.collectRows(ctx)
		if err != nil {
			return cur.Transcript(), err
		}
		if row, ok := findRow(rows, expected); ok {
			cur.seen[expected] = struct{}{}
			batches = append(batches, parseRow(expected, row))
		} else {
			c.log.Warn("expected row missing from rendered window", zap.Int("row", expected))
		}
		expected--
		// The focus move keeps the virtualization layer rendering the part
		// of the list we are about to read. At the top boundary it stops
		// moving while the remaining rows stay rendered, so a failed move
		// does not end the walk.
		if _, err := c.scrollOne(ctx, scrollUpOneJS); err != nil {
			return cur.Transcript(), err
		}
	}

	for i := len(batches) - 1; i >= 0; i-- {
		cur.turns = append(cur.turns, batches[i]...)
	}
	c.verifySendReady(ctx)
	return cur.Transcript(), nil
}

// awaitRow waits for the row with the given index to be rendered. On a
// first miss it nudges the focus down and back up to force the
// virtualization layer to re-render, then waits once more.
func (c *Client) awaitRow(ctx context.Context, index int) bool {
	sel := rowSelector(index)
	if err := c.page.WaitVisible(ctx, sel, c.cfg.RowWait()); err == nil {
		return true
	}
	c.log.Debug("row not rendered, nudging focus", zap.Int("row", index))
	_ = c.page.Press(ctx, "ArrowDown")
	_ = c.page.Press(ctx, "ArrowUp")
	if err := c.page.WaitVisible(ctx, sel, c.cfg.RefocusWait()); err == nil {
		return true
	}
	return false
}

func (c *Client) collectRows(ctx context.Context) ([]rawRow, error) {
	raw, err := c.page.Eval(ctx, collectRowsJS)
	if err != nil {
		return nil, fmt.Errorf("collect chat rows: %w", err)
	}
	var rows []rawRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode chat rows: %w", err)
	}
	return rows, nil
}

func (c *Client) scrollOne(ctx context.Context, js string) (bool, error) {
	raw, err := c.page.Eval(ctx, js)
	if err != nil {
		return false, fmt.Errorf("advance chat focus: %w", err)
	}
	var moved bool
	if err := json.Unmarshal(raw, &moved); err != nil {
		return false, fmt.Errorf("decode focus-advance result: %w", err)
	}
	return moved, nil
}

// verifySendReady confirms the walk left the UI able to accept another
// message. The scroll position itself does not matter, but a blocked
// send affordance would wedge the next interaction.
func (c *Client) verifySendReady(ctx context.Context) {
	if err := c.page.WaitVisible(ctx, selSendButton, c.cfg.DismissWait()); err != nil {
		c.log.Warn("send control not visible after extraction", zap.Error(err))
	}
}

func findRow(rows []rawRow, index int) (rawRow, bool) {
	for _, r := range rows {
		if n, ok := r.index(); ok && n == index {
			return r, true
		}
	}
	return rawRow{}, false
}

func maxRowIndex(rows []rawRow) (int, bool) {
	max, found := 0, false
	for _, r := range rows {
		if n, ok := r.index(); ok && (!found || n > max) {
			max, found = n, true
		}
	}
	return max, found
}
