package rpc

import "github.com/dmitrijs2005/llmgate/internal/server/models"

type Empty struct{}

type CompleteRequest struct {
	ConversationID string           `json:"conversation_id"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	Prompt         string           `json:"prompt"`
	Model          models.ModelSpec `json:"model"`
	BillTo         string           `json:"bill_to,omitempty"`
}

// CompleteEvent is one message of the Complete stream. The first event
// carries only RequestID, chunk events carry Chunk, and the last event
// carries Status.
type CompleteEvent struct {
	RequestID      string `json:"request_id,omitempty"`
	Chunk          string `json:"chunk,omitempty"`
	Status         string `json:"status,omitempty"`
	FinalMessageID string `json:"final_message_id,omitempty"`
	TokensCharged  int    `json:"tokens_charged,omitempty"`
	Error          string `json:"error,omitempty"`
}

type CancelRequest struct {
	RequestID string `json:"request_id"`
}

type BalanceRequest struct {
	// Scope is "user" (default) or "group".
	Scope string `json:"scope,omitempty"`
}

type BalanceResponse struct {
	Scope   string `json:"scope"`
	Balance int64  `json:"balance"`
}

type TopUpRequest struct {
	ScopeKind string `json:"scope_kind"`
	ScopeID   string `json:"scope_id"`
	Amount    int64  `json:"amount"`
	Note      string `json:"note,omitempty"`
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type ListConversationsResponse struct {
	Conversations []models.SidebarConversation `json:"conversations"`
}
