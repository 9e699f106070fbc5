package oauth2

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLifetime is assumed when a token response carries no expiry information
const DefaultLifetime = 5 * time.Minute

// Credential is one token response from the SirixDB token endpoint (a
// Keycloak realm in the reference deployment). Fields the server sends that
// are not modelled here are kept verbatim in Extra.
type Credential struct {
	AccessToken      string
	TokenType        string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresIn int64
	Scope            string
	SessionState     string
	NotBeforePolicy  int64
	// IssuedAt is stamped locally when the response is received
	IssuedAt time.Time
	// ExpiresAt is sent by some servers as epoch milliseconds, otherwise derived
	ExpiresAt time.Time
	Extra     map[string]json.RawMessage
}

// credentialJSON mirrors the wire names of Credential
type credentialJSON struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	NotBeforePolicy  int64  `json:"not-before-policy"`
	IssuedAt         int64  `json:"issued_at,omitempty"`
	ExpiresAt        int64  `json:"expires_at,omitempty"`
}

var knownCredentialFields = map[string]struct{}{
	"access_token":       {},
	"token_type":         {},
	"expires_in":         {},
	"refresh_token":      {},
	"refresh_expires_in": {},
	"scope":              {},
	"session_state":      {},
	"not-before-policy":  {},
	"issued_at":          {},
	"expires_at":         {},
}

// UnmarshalJSON decodes a token response, keeping unknown fields in Extra
func (c *Credential) UnmarshalJSON(data []byte) error {
	var known credentialJSON
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*c = Credential{
		AccessToken:      known.AccessToken,
		TokenType:        known.TokenType,
		ExpiresIn:        known.ExpiresIn,
		RefreshToken:     known.RefreshToken,
		RefreshExpiresIn: known.RefreshExpiresIn,
		Scope:            known.Scope,
		SessionState:     known.SessionState,
		NotBeforePolicy:  known.NotBeforePolicy,
	}
	if known.IssuedAt > 0 {
		c.IssuedAt = time.UnixMilli(known.IssuedAt)
	}
	if known.ExpiresAt > 0 {
		c.ExpiresAt = time.UnixMilli(known.ExpiresAt)
	}

	for key, raw := range all {
		if _, ok := knownCredentialFields[key]; ok {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[key] = raw
	}

	return nil
}

// MarshalJSON encodes the credential in the token endpoint's wire format
func (c Credential) MarshalJSON() ([]byte, error) {
	known := credentialJSON{
		AccessToken:      c.AccessToken,
		TokenType:        c.TokenType,
		ExpiresIn:        c.ExpiresIn,
		RefreshToken:     c.RefreshToken,
		RefreshExpiresIn: c.RefreshExpiresIn,
		Scope:            c.Scope,
		SessionState:     c.SessionState,
		NotBeforePolicy:  c.NotBeforePolicy,
	}
	if !c.IssuedAt.IsZero() {
		known.IssuedAt = c.IssuedAt.UnixMilli()
	}
	if !c.ExpiresAt.IsZero() {
		known.ExpiresAt = c.ExpiresAt.UnixMilli()
	}

	if len(c.Extra) == 0 {
		return json.Marshal(known)
	}

	data, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, raw := range c.Extra {
		if _, ok := knownCredentialFields[key]; ok {
			continue
		}
		merged[key] = raw
	}

	return json.Marshal(merged)
}

// Clone returns a deep copy
func (c Credential) Clone() Credential {
	clone := c
	if c.Extra != nil {
		clone.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for key, raw := range c.Extra {
			clone.Extra[key] = append(json.RawMessage(nil), raw...)
		}
	}
	return clone
}

// AuthorizationHeader returns "<token_type> <access_token>", defaulting the type to Bearer
func (c Credential) AuthorizationHeader() string {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return fmt.Sprintf("%s %s", tokenType, c.AccessToken)
}

// Lifetime returns how long the access token is valid from IssuedAt.
// expires_in wins, scaled by unit; then a server supplied expires_at; then
// the exp claim of a JWT access token; then DefaultLifetime.
func (c Credential) Lifetime(unit time.Duration) time.Duration {
	if c.ExpiresIn > 0 {
		if unit <= 0 {
			unit = time.Second
		}
		return time.Duration(c.ExpiresIn) * unit
	}

	if !c.ExpiresAt.IsZero() && !c.IssuedAt.IsZero() && c.ExpiresAt.After(c.IssuedAt) {
		return c.ExpiresAt.Sub(c.IssuedAt)
	}

	if claims, err := c.Claims(); err == nil {
		exp, err := claims.GetExpirationTime()
		if err == nil && exp != nil {
			start := c.IssuedAt
			if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
				start = iat.Time
			}
			if !start.IsZero() && exp.Time.After(start) {
				return exp.Time.Sub(start)
			}
		}
	}

	return DefaultLifetime
}

// Claims parses the access token as a JWT without verifying its signature.
// Use the result for metadata only.
func (c Credential) Claims() (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Subject returns the sub claim of a JWT access token, or "" for opaque tokens
func (c Credential) Subject() string {
	claims, err := c.Claims()
	if err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// ValidFor reports whether the credential is still valid margin from now
func (c Credential) ValidFor(margin time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) > margin
}

// stamp records receipt time and derives ExpiresAt when the server did not send one
func (c *Credential) stamp(now time.Time, unit time.Duration) {
	c.IssuedAt = now
	if c.ExpiresIn > 0 || c.ExpiresAt.IsZero() || !c.ExpiresAt.After(now) {
		c.ExpiresAt = now.Add(c.Lifetime(unit))
	}
	if c.TokenType == "" {
		c.TokenType = "Bearer"
	}
}
