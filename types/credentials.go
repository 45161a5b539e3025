package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Credentials carries the optional auth token sent in set_auth_token and the
// session cookie pair required for custom (USER;/PUB;) indicators.
type Credentials struct {
	Token       string
	SessionID   string
	SessionSign string
}

// IsZero reports whether no credential material is present.
func (c Credentials) IsZero() bool {
	return c.Token == "" && c.SessionID == "" && c.SessionSign == ""
}

// HasCookie reports whether the session cookie pair is present.
func (c Credentials) HasCookie() bool {
	return c.SessionID != ""
}

// Cookie renders the session cookie header value, or "" without a session.
func (c Credentials) Cookie() string {
	if !c.HasCookie() {
		return ""
	}
	return fmt.Sprintf("sessionid=%s; sessionid_sign=%s", c.SessionID, c.SessionSign)
}

// Fingerprint returns a short stable hash of the credential material, used
// to partition the descriptor cache between auth contexts.
func (c Credentials) Fingerprint() string {
	if c.IsZero() {
		return "anon"
	}
	sum := sha256.Sum256([]byte(c.Token + "|" + c.SessionID + "|" + c.SessionSign))
	return hex.EncodeToString(sum[:8])
}
