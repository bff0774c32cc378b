package model

import "time"

// Credential is a bearer token issued by the extraction provider.
type Credential struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credential can still be used at now, keeping margin before expiry.
func (c *Credential) Valid(now time.Time, margin time.Duration) bool {
	if c == nil || c.Token == "" {
		return false
	}
	return now.Add(margin).Before(c.ExpiresAt)
}
