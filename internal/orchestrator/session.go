// Package orchestrator runs one conversational turn end to end: recall,
// prompt assembly, completion, accounting, persistence and pruning.
package orchestrator

import (
	"github.com/mycelian/mycelian-chat/internal/export"
	"github.com/mycelian/mycelian-chat/internal/model"
)

// Session is the caller-owned view of a conversation. HandleTurn never
// mutates the session it is given; it returns the successor.
type Session struct {
	UserID         string          `json:"userId"`
	ConversationID string          `json:"conversationId"`
	Transcript     []model.Message `json:"transcript"`
	TotalTokens    int             `json:"totalTokens"`
	TotalCost      float64         `json:"totalCost"`
	MemoryEnabled  bool            `json:"memoryEnabled"`
}

// NewSession starts an empty conversation with a fresh UUIDv4 id and memory on.
func NewSession(userID string) Session {
	return Session{
		UserID:         userID,
		ConversationID: export.NewConversationID(),
		MemoryEnabled:  true,
	}
}

func (s Session) clone() Session {
	s.Transcript = append([]model.Message(nil), s.Transcript...)
	return s
}
