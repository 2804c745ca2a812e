// Package model holds the domain entities persisted by the repository layer.
package model

import "time"

// Plan is the subscription state that gates paid features.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanActive Plan = "active"
)

// User is a seller account, keyed by the identity provider's subject id.
type User struct {
	ID             string    `json:"id"`
	ClerkUserID    string    `json:"clerk_user_id"`
	Email          string    `json:"email"`
	Plan           Plan      `json:"plan"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	NotifyEmail    string    `json:"notify_email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NotificationEmail is the address used by the email channel: the explicit
// notification address when set, otherwise the account email.
func (u *User) NotificationEmail() string {
	if u.NotifyEmail != "" {
		return u.NotifyEmail
	}
	return u.Email
}
