package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead pipeline statuses. These are operator-facing labels, distinct from
// conversation lifecycle statuses.
const (
	LeadQualified   = "Qualified"
	LeadUnqualified = "Unqualified"
	LeadNoResponse  = "No Response"
	LeadBlocked     = "Blocked"
)

// Lead is a sales-pipeline record keyed by phone number. It is deliberately
// not foreign-keyed to Contact: leads can be bulk-imported before any
// conversation exists, and classification events arrive keyed by phone.
type Lead struct {
	gorm.Model
	Phone string `gorm:"not null;uniqueIndex" json:"phone"` // E.164
	Name  string `json:"name"`
	Email string `json:"email"`

	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`

	Status string `gorm:"default:'No Response'" json:"status"`

	// Set by the classification sink, last write wins.
	AITag                  string     `gorm:"index" json:"ai_tag"`
	AIClassificationReason string     `gorm:"type:text" json:"ai_classification_reason"`
	LastClassificationAt   *time.Time `json:"last_classification_at"`

	Source string `json:"source"` // csv, webhook, manual
	UserID *uint  `gorm:"index" json:"user_id,omitempty"`
}

func IsValidLeadStatus(s string) bool {
	switch s {
	case LeadQualified, LeadUnqualified, LeadNoResponse, LeadBlocked:
		return true
	}
	return false
}
