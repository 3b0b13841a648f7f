package chat

import (
	"strconv"
	"strings"
)

// Entity identifies who or what produced a conversation turn.
type Entity string

const (
	EntityUser         Entity = "user"
	EntityAssistant    Entity = "assistant"
	EntityTool         Entity = "tool"
	EntityConfirmation Entity = "confirmation"
)

// ConversationTurn is one emitted unit of the extracted transcript.
// Text may be empty only when HTML is not. RowID is the originating
// list row; one assistant row can yield several turns.
type ConversationTurn struct {
	Entity Entity `json:"entity"`
	Text   string `json:"text"`
	HTML   string `json:"html"`
	RowID  int    `json:"rowId"`
}

// Fragment kinds as classified by the collection script. Anything
// rendered inside an assistant value that is neither markdown nor a
// confirmation widget (tool invocation parts, tool result parts) is
// reported as a tool fragment.
const (
	fragMarkdown     = "markdown"
	fragConfirmation = "confirmation"
)

// Row kinds.
const (
	rowKindUser      = "user"
	rowKindAssistant = "assistant"
)

type rawFragment struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
	HTML string `json:"html"`
}

// rawRow is an ephemeral snapshot of one rendered list row. It is
// produced fresh on every poll of the visible window and never mutated.
type rawRow struct {
	RowID     string        `json:"rowId"`
	Kind      string        `json:"kind"`
	Fragments []rawFragment `json:"fragments"`
}

// index returns the numeric data-index of the row, or false when the
// attribute is missing or malformed.
func (r rawRow) index() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(r.RowID))
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRow converts one row snapshot into zero or more typed turns.
//
// User rows coalesce all markdown fragments into a single turn. For
// assistant rows, contiguous markdown fragments buffer up and flush as
// one assistant turn whenever a non-markdown fragment interrupts the
// run, so [markdown A, tool X, markdown B] yields exactly three turns
// in that order. Tool fragments whose trimmed text is empty render no
// visible content and are dropped.
func parseRow(id int, row rawRow) []ConversationTurn {
	switch row.Kind {
	case rowKindUser:
		return parseUserRow(id, row)
	case rowKindAssistant:
		return parseAssistantRow(id, row)
	default:
		return nil
	}
}

func parseUserRow(id int, row rawRow) []ConversationTurn {
	var texts, htmls []string
	for _, f := range row.Fragments {
		if f.Kind != fragMarkdown {
			continue
		}
		if t := strings.TrimSpace(f.Text); t != "" {
			texts = append(texts, t)
		}
		if strings.TrimSpace(f.HTML) != "" {
			htmls = append(htmls, f.HTML)
		}
	}
	text := strings.TrimSpace(strings.Join(texts, "\n\n"))
	html := strings.TrimSpace(strings.Join(htmls, "\n\n"))
	if text == "" && html == "" {
		return nil
	}
	return []ConversationTurn{{Entity: EntityUser, Text: text, HTML: html, RowID: id}}
}

func parseAssistantRow(id int, row rawRow) []ConversationTurn {
	var out []ConversationTurn
	var textBuf, htmlBuf []string

	flush := func() {
		if len(textBuf) == 0 && len(htmlBuf) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(textBuf, "\n\n"))
		html := strings.TrimSpace(strings.Join(htmlBuf, "\n\n"))
		if text != "" || html != "" {
			out = append(out, ConversationTurn{Entity: EntityAssistant, Text: text, HTML: html, RowID: id})
		}
		textBuf, htmlBuf = nil, nil
	}

	for _, f := range row.Fragments {
		switch f.Kind {
		case fragMarkdown:
			if t := strings.TrimSpace(f.Text); t != "" {
				textBuf = append(textBuf, t)
			}
			if strings.TrimSpace(f.HTML) != "" {
				htmlBuf = append(htmlBuf, f.HTML)
			}
		case fragConfirmation:
			flush()
			text := strings.TrimSpace(f.Text)
			if text == "" {
				// Confirmation titles sometimes carry no text node; fall
				// back to the plain text of the widget markup.
				text = textFromHTML(f.HTML)
			}
			out = append(out, ConversationTurn{Entity: EntityConfirmation, Text: text, HTML: f.HTML, RowID: id})
		default:
			flush()
			if t := strings.TrimSpace(f.Text); t != "" {
				out = append(out, ConversationTurn{Entity: EntityTool, Text: t, HTML: f.HTML, RowID: id})
			}
		}
	}
	flush()
	return out
}
