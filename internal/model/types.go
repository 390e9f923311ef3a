package model

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role that may be stored as a MemoryRecord.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Message is one entry of a transcript or an outbound prompt.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MemoryRecord is one stored conversational turn.
// Records are immutable once written; ordering within a conversation is CreatedAt.
type MemoryRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary is a compressed digest of pruned history.
type ConversationSummary struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Summary        string    `json:"summary"`
	MessagesCount  int       `json:"messagesCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UsageRecord is one logged turn for accounting.
type UsageRecord struct {
	UserID           string    `json:"userId"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	EstimatedCost    float64   `json:"estimatedCost"`
	ConversationID   string    `json:"conversationId"`
	Timestamp        time.Time `json:"timestamp"`
}

// RecallMatch pairs a stored record with its similarity to a recall query.
type RecallMatch struct {
	Record     MemoryRecord `json:"record"`
	Similarity float64      `json:"similarity"`
}

// PricingEntry is one row of the static pricing table. Rates are USD per 1000 tokens.
type PricingEntry struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	InputPer1K  float64 `json:"inputPer1K"`
	OutputPer1K float64 `json:"outputPer1K"`
}
