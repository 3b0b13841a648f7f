package chat

import "fmt"

// Selectors for the versioned VS Code DOM this driver targets. These
// track one specific workbench layout; a redesign of the chat panel
// invalidates them wholesale rather than gradually.
const (
	selChatSession     = "div.interactive-session"
	selChatInput       = "div.chat-input-container"
	selSendButton      = "a.action-label.codicon.codicon-send"
	selResponseLoading = "div.chat-response-loading"
	selToolLoading     = "div.interactive-response div.chat-tool-invocation-part div.codicon-loading"
	selNotification    = "div.notifications-toasts.visible div.notification-list-item"
	selChatError       = "div.interactive-response.chat-most-recent-response div.chat-error-confirmation a.monaco-text-button"
	selChatList        = `div.monaco-list[aria-label="Chat"]`
	selContextList     = "div.context-view div.monaco-list"
	selPickerOption    = "div.context-view div.monaco-list div.monaco-list-row.action span.title"
	selMonacoButtons   = "a.monaco-button, button"

	// Confirmation buttons appear in two containers depending on whether
	// the prompt is a tool confirmation or a "continue iterating" nudge.
	selConfirmButtons = "div.chat-confirmation-widget-buttons a.monaco-button, div.chat-buttons a.monaco-button"

	trustButtonText = "Trust"
	tryAgainText    = "Try Again"

	rowSelectorFmt = `div.interactive-list > div.monaco-list[aria-label="Chat"] > div.monaco-scrollable-element > div.monaco-list-rows > div.monaco-list-row[data-index="%d"]`
)

// confirmLabels is the allow-list of confirmation button captions the
// monitor will click on its own.
var confirmLabels = []string{"Allow", "Continue", "Allow and Review"}

func rowSelector(index int) string {
	return fmt.Sprintf(rowSelectorFmt, index)
}

func pickerSelector(ariaLabel string) string {
	return fmt.Sprintf(`a.action-label[aria-label*=%q]`, ariaLabel)
}
