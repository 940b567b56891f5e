package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Immutable once persisted; ordered by
// creation time within its conversation.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageMetadata is the optional metadata bag attached to a message.
// Assistant messages always carry token usage, model identity, source
// provenance, confidence, citations and latency.
type MessageMetadata struct {
	TokensUsed       int         `json:"tokens_used,omitempty"`
	Model            string      `json:"model,omitempty"`
	SourcesUsed      []SourceRef `json:"sources_used,omitempty"`
	ConfidenceScore  float64     `json:"confidence_score,omitempty"`
	Citations        []Citation  `json:"citations,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
}

// SourceRef records that a knowledge source grounded a message, with the
// relevance it scored for the query.
type SourceRef struct {
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
}

// Citation is a legal reference extracted from generated text or carried over
// from a grounding source.
type Citation struct {
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
	Link      string  `json:"link,omitempty"`
}
