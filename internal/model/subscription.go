package model

import "time"

const (
	SubscriptionAuthorized = "authorized"
	SubscriptionPending    = "pending"
	SubscriptionPaused     = "paused"
	SubscriptionCancelled  = "cancelled"
)

// Subscription mirrors one Mercado Pago preapproval.
type Subscription struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SubscriptionView is a subscription joined with its owner's email, used by
// the admin listing.
type SubscriptionView struct {
	Subscription
	UserEmail string `json:"user_email"`
}
