package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Delivery statuses for outbound messages. A row is persisted as soon as the
// operator sends, so "persisted" and "delivered" are tracked separately.
const (
	DeliveryPending   = "pending"
	DeliveryConfirmed = "confirmed"
	DeliveryFailed    = "failed"
)

// AISummary is the structured extraction the classifier attaches to a
// message. Every field is optional; empty strings mean "not extracted".
type AISummary struct {
	Address   string `json:"address,omitempty"`
	Timeline  string `json:"timeline,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Condition string `json:"condition,omitempty"`
	Price     string `json:"price,omitempty"`
}

// Merge overlays the non-empty fields of partial onto s, preserving keys the
// partial does not carry.
func (s *AISummary) Merge(partial AISummary) {
	if partial.Address != "" {
		s.Address = partial.Address
	}
	if partial.Timeline != "" {
		s.Timeline = partial.Timeline
	}
	if partial.Reason != "" {
		s.Reason = partial.Reason
	}
	if partial.Condition != "" {
		s.Condition = partial.Condition
	}
	if partial.Price != "" {
		s.Price = partial.Price
	}
}

func (s AISummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *AISummary) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported ai_summary column type %T", value)
	}
}

// Message is one inbound or outbound text event in a conversation. The
// ledger is append-only: rows are never mutated after insert except to merge
// an AI summary or to advance the delivery status of an outbound send.
// Thread order is reconstructed by sorting on CreatedAt, not insert order.
type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index" json:"conversation_id"`
	Direction      string `gorm:"not null" json:"direction"`
	Body           string `gorm:"type:text" json:"body"`

	AISummary *AISummary `gorm:"type:jsonb" json:"ai_summary,omitempty"`

	// Provider message id from the SMS relay, kept for dedup and audit.
	TwilioSID string `gorm:"index" json:"twilio_sid,omitempty"`

	// Outbound only; empty for inbound messages.
	DeliveryStatus  string `gorm:"index" json:"delivery_status,omitempty"`
	ForwardAttempts int    `gorm:"default:0" json:"-"`

	// Relations
	Conversation Conversation `json:"-"`
}
