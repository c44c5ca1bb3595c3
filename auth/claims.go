// Package auth issues and checks the local session token that the host UI
// carries on every write request. The token is an HS256 JWT in an HttpOnly
// cookie; its subject is the session id.
package auth

import "github.com/golang-jwt/jwt/v5"

// Issuer is the iss claim of livepage tokens.
const Issuer = "livepage"

// SessionClaims is the JWT claims structure of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	// Offline is set when the server runs without a real backend.
	Offline bool `json:"offline,omitempty"`
}

// SessionID returns the session id carried in the subject.
func (c *SessionClaims) SessionID() string { return c.Subject }

// NewSessionClaims returns claims for session id.
func NewSessionClaims(id string, offline bool) *SessionClaims {
	return &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id},
		Offline:          offline,
	}
}
