package models

import "time"

// User is an OAuth-backed identity stored in the master partition.
type User struct {
	UserID         string `json:"user_id"`
	Provider       string `json:"provider"` // "google" or "apple"
	ProviderUserID string `json:"-"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// Device is one registered client device. Upserted on every sign-in.
type Device struct {
	DeviceID   string `json:"device_id"`
	UserID     string `json:"user_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version,omitempty"`
	LastSeenAt int64  `json:"last_seen_at"`
	CreatedAt  int64  `json:"created_at"`
}

// Add-on type identifiers.
const (
	AddOnSync      = "sync"
	AddOnAI        = "ai"
	AddOnSupporter = "supporter"
)

// AddOn is an activated subscription feature for a user.
type AddOn struct {
	UserID        string `json:"-"`
	Type          string `json:"type"`
	Status        string `json:"status"` // "active", "cancelled", "expired"
	Platform      string `json:"platform"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"-"`
	PurchaseDate  int64  `json:"purchase_date"`
	ExpiresAt     *int64 `json:"expires_at,omitempty"`
	AutoRenew     bool   `json:"auto_renew"`
}

// Active reports whether the add-on currently grants its entitlement.
func (a *AddOn) Active(now time.Time) bool {
	if a.Status != "active" {
		return false
	}
	if a.ExpiresAt != nil && now.Unix() >= *a.ExpiresAt {
		return false
	}
	return true
}

// VerifiedReceipt is the outcome of store-side receipt verification,
// consumed when activating an add-on.
type VerifiedReceipt struct {
	Platform              string
	ProductID             string
	TransactionID         string
	OriginalTransactionID string
	PurchaseDate          int64
	ExpiresAt             *int64
	AutoRenew             bool
	AddOnType             string
}

// OAuthUserInfo is the identity returned by an OAuth token verifier.
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

// AuthResponse is returned from sign-in and refresh.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id"`
}

// AddOnsStatus reports all add-ons for a user.
type AddOnsStatus struct {
	UserID      string  `json:"user_id"`
	AddOns      []AddOn `json:"add_ons"`
	SyncEnabled bool    `json:"sync_enabled"`
	AIEnabled   bool    `json:"ai_enabled"`
}

// FeatureFlags is the boolean feature view clients gate UI on.
type FeatureFlags struct {
	Sync bool `json:"sync"`
	AI   bool `json:"ai"`
}
