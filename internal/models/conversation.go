package models

import "time"

// ConversationType classifies a conversation at creation time.
type ConversationType string

const (
	ConversationGeneral     ConversationType = "general"
	ConversationLegalAdvice ConversationType = "legal_advice"
)

// Conversation is a continuing dialogue owned by a single user. It is only
// mutated by the conversation store on behalf of the orchestrator and is
// deleted exclusively through an explicit user action.
type Conversation struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Type            ConversationType `json:"conversation_type"`
	TotalTokensUsed int              `json:"total_tokens_used"`
	LegalContext    string           `json:"legal_context,omitempty"`
	ContextSummary  string           `json:"context_summary,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
