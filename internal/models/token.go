package models

import "time"

// TokenTier identifies the browser storage tier a token was extracted
// from. Tiers have a fixed precedence: persistent beats session beats
// cookie beats url.
type TokenTier string

const (
	TokenTierPersistent TokenTier = "persistent"
	TokenTierSession    TokenTier = "session"
	TokenTierCookie     TokenTier = "cookie"
	TokenTierURL        TokenTier = "url"
)

// IsValid checks if the token tier is valid
func (t TokenTier) IsValid() bool {
	switch t {
	case TokenTierPersistent, TokenTierSession, TokenTierCookie, TokenTierURL:
		return true
	}
	return false
}

// String returns the string representation of the TokenTier
func (t TokenTier) String() string {
	return string(t)
}

// ExtractedToken is a session credential pulled out of browser storage
// after an authenticated login.
type ExtractedToken struct {
	Value       string    `json:"value"`       // The raw token string
	Tier        TokenTier `json:"tier"`        // Storage tier it came from
	Key         string    `json:"key"`         // Storage key or cookie name that held it
	ExtractedAt time.Time `json:"extractedAt"` // Extraction time
}
