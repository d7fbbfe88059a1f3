package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation statuses. Transitions between them are unrestricted: the
// dashboard operator (or the classifier) may move a conversation from any
// status to any other.
const (
	ConversationOpen      = "open"
	ConversationQualified = "qualified"
	ConversationClosed    = "closed"
)

// Conversation is a bounded interaction session with one contact. The
// partial unique index guarantees at most one open conversation per contact;
// concurrent webhook deliveries that both miss the existence check collide
// on the index and the loser re-reads the winner's row.
type Conversation struct {
	gorm.Model
	ContactID uint      `gorm:"not null;index;index:idx_conversations_contact_open,unique,where:status = 'open'" json:"contact_id"`
	Status    string    `gorm:"not null;default:'open';index" json:"status"`
	LastMsgAt time.Time `gorm:"not null;index" json:"last_msg_at"`

	// Relations
	Contact  Contact   `json:"contact"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

func IsValidConversationStatus(s string) bool {
	switch s {
	case ConversationOpen, ConversationQualified, ConversationClosed:
		return true
	}
	return false
}
