// Package jwt provides JWT token generation and validation utilities.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when user_id is empty.
	ErrEmptyUserID = errors.New("user_id cannot be empty")
	// ErrEmptyOrgID is returned when org_id is empty.
	ErrEmptyOrgID = errors.New("org_id cannot be empty")
	// ErrInvalidTokenType is returned when token type is invalid.
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType represents the type of JWT token.
type TokenType string

const (
	// TokenTypeAccess is a short-lived session token.
	TokenTypeAccess TokenType = "access"
	// TokenTypeService is issued to operators and tooling.
	TokenTypeService TokenType = "service"
)

// Claims represents the JWT claims of a session. A session is bound to
// exactly one organization.
type Claims struct {
	UserID    string    `json:"uid"`
	OrgID     string    `json:"org"`
	SessionID string    `json:"sid,omitempty"`
	TokenType TokenType `json:"typ,omitempty"`

	jwt.RegisteredClaims
}

// TokenConfig holds the signing configuration.
type TokenConfig struct {
	Secret              string
	Issuer              string
	AccessTokenDuration time.Duration
}

// Generator handles JWT token generation and validation.
type Generator struct {
	config TokenConfig
	now    func() time.Time
}

// NewGenerator creates a new token generator.
func NewGenerator(config TokenConfig) *Generator {
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	return &Generator{config: config, now: time.Now}
}

// GenerateAccessToken creates a session token for userID in orgID.
func (g *Generator) GenerateAccessToken(userID, orgID string) (string, time.Time, error) {
	return g.generate(userID, orgID, TokenTypeAccess, g.config.AccessTokenDuration)
}

// GenerateServiceToken creates a token for tooling with an explicit lifetime.
func (g *Generator) GenerateServiceToken(userID, orgID string, ttl time.Duration) (string, time.Time, error) {
	return g.generate(userID, orgID, TokenTypeService, ttl)
}

func (g *Generator) generate(userID, orgID string, typ TokenType, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrEmptyUserID
	}
	if orgID == "" {
		return "", time.Time{}, ErrEmptyOrgID
	}

	now := g.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID:    userID,
		OrgID:     orgID,
		SessionID: uuid.New().String(),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token of any type.
func (g *Generator) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(tokenString, g.config.Secret)
	if err != nil {
		return nil, err
	}
	if g.config.Issuer != "" && claims.Issuer != g.config.Issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccessToken validates a session or service token.
func (g *Generator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := g.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	switch claims.TokenType {
	case TokenTypeAccess, TokenTypeService, "":
	default:
		return nil, ErrInvalidTokenType
	}
	if claims.UserID == "" || claims.OrgID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken parses and validates a token signed with secret.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseUnverified reads the claims of a token without checking its signature.
// Only tooling that already holds the token should use it.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.OrgID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
