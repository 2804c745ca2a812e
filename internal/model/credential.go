package model

import "time"

// Credential binds a user to their Mercado Livre account. At most one per user.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	SellerID     string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NeedsRefresh reports whether the access token expires within margin of now.
// A zero expiry means the lifetime is unknown and the token is used as is.
func (c *Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(margin))
}
