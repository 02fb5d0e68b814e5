package core

import (
	"strings"

	"medintake-chatbot/internal/llm"
	"medintake-chatbot/pkg"
)

// ConversationView is the upstream projection of a client history.  It is
// rebuilt from the full history on every request; nothing about the turn
// count is remembered between requests.
type ConversationView struct {
	Messages      []llm.Message
	UserTurnCount int
	LastUserText  string
}

// NewConversationView projects client turns onto upstream roles.  Turns
// without text are skipped: the browser client appends an empty bot
// placeholder before it calls the chat endpoint.
func NewConversationView(turns []pkg.ChatTurn) ConversationView {
	view := ConversationView{Messages: make([]llm.Message, 0, len(turns))}
	for _, t := range turns {
		if strings.TrimSpace(t.Message) == "" {
			continue
		}
		role := llm.RoleAssistant
		if t.IsUser() {
			role = llm.RoleUser
			view.UserTurnCount++
			view.LastUserText = t.Message
		}
		view.Messages = append(view.Messages, llm.Message{Role: role, Content: t.Message})
	}
	return view
}
