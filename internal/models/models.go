package models

import "time"

// Subscription status values as stored by the backend.
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Profile represents a user profile row. The ID matches the identity
// provider's user UUID.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription represents a user's subscription record. The backend keeps
// at most one active record per user; this layer does not enforce that.
type Subscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	PaymentRef string    `json:"payment_reference"`
}

// DailyScanCount is the per-user, per-day scan counter. A missing row for a
// given date means zero scans that day.
type DailyScanCount struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Count  int    `json:"count"`
}

// PaymentInit holds everything the embedded checkout needs to launch.
type PaymentInit struct {
	Reference  string `json:"reference"`
	GatewayKey string `json:"gateway_key"`
	Email      string `json:"email"`
	Amount     int64  `json:"amount"`
}

// PaymentVerification is the backend's answer to a verify request. Success
// only ever comes from the backend's own call to the gateway.
type PaymentVerification struct {
	Success   bool       `json:"success"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Channel   string     `json:"channel,omitempty"`
}
