// Package keycloak validates session tokens issued by a Keycloak realm and
// maps them onto the service's session identity. Keys come from the realm's
// JWKS endpoint; tokens must be RS256 signed.
package keycloak

import (
	"github.com/golang-jwt/jwt/v5"
)

// DefaultOrgClaim is the token claim that carries the session organization.
const DefaultOrgClaim = "org_id"

// Claims are the Keycloak claims the service reads. The organization claim
// name is configurable, so every claim is also kept in Extra.
type Claims struct {
	jwt.RegisteredClaims

	PreferredUsername string
	SessionState      string
	Azp               string

	Extra jwt.MapClaims
}

func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{Extra: m}
	c.Subject, _ = m.GetSubject()
	c.Issuer, _ = m.GetIssuer()
	c.Audience, _ = m.GetAudience()
	c.ExpiresAt, _ = m.GetExpirationTime()
	c.IssuedAt, _ = m.GetIssuedAt()
	c.PreferredUsername, _ = m["preferred_username"].(string)
	c.SessionState, _ = m["session_state"].(string)
	c.Azp, _ = m["azp"].(string)
	if sid, ok := m["sid"].(string); ok && c.SessionState == "" {
		c.SessionState = sid
	}
	return c
}

// UserID returns the subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// OrgID returns the string value of claim, or "" when absent. Keycloak
// user attributes mapped as multivalued arrive as a one-element array.
func (c *Claims) OrgID(claim string) string {
	switch v := c.Extra[claim].(type) {
	case string:
		return v
	case []any:
		if len(v) == 1 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// HasAudience reports whether aud names the token audience or the
// authorized party.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return c.Azp == aud
}
