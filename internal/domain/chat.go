package domain

import "errors"

// Discourse roles understood by the vendor.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoChoices is returned by chat integrations when the provider answered
// without any completion choice.
var ErrNoChoices = errors.New("no choices in response")

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations. An ordered slice of ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
