package models

import "gorm.io/gorm"

// Contact maps a phone number to a stable identity. Contacts are created
// lazily by the ingestion path on the first message that references an
// unseen number and are never deleted.
type Contact struct {
	gorm.Model
	Phone     string `gorm:"not null;uniqueIndex" json:"phone"` // E.164
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	// Relations
	Conversations []Conversation `gorm:"foreignKey:ContactID" json:"conversations,omitempty"`
}
