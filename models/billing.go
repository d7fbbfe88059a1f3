package models

import "gorm.io/gorm"

// Plan represents a subscription tier
type Plan struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"` // free, starter, grow
	Description string `json:"description"`

	PriceCents      int    `gorm:"not null" json:"price_cents"`
	BillingInterval string `gorm:"default:'monthly'" json:"billing_interval"` // monthly, yearly

	// Limits
	MonthlySMSLimit int `gorm:"default:500" json:"monthly_sms_limit"`
	MaxSeats        int `gorm:"default:1" json:"max_seats"`

	// For display purposes
	DisplayPrice string `gorm:"-" json:"display_price"` // e.g. "$49"
	IsPopular    bool   `gorm:"default:false" json:"is_popular"`

	StripePriceID string `json:"stripe_price_id"` // price_xxx from Stripe dashboard
}

// BillingEvent records processed Stripe webhook events for audit and to keep
// webhook handling idempotent (replays are skipped on the unique event id).
type BillingEvent struct {
	gorm.Model
	StripeEventID string `gorm:"not null;uniqueIndex" json:"stripe_event_id"`
	EventType     string `gorm:"not null;index" json:"event_type"`
	UserID        *uint  `gorm:"index" json:"user_id,omitempty"`
	Payload       string `gorm:"type:text" json:"-"`
}
