package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_RoundTrip(t *testing.T) {
	g := NewGenerator(TokenConfig{Secret: "s3cret", Issuer: "authz", AccessTokenDuration: time.Minute})

	token, exp, err := g.GenerateAccessToken("u-1", "o-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := g.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "o-1", claims.OrgID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestGenerator_Rejections(t *testing.T) {
	g := NewGenerator(TokenConfig{Secret: "s3cret", Issuer: "authz", AccessTokenDuration: time.Minute})

	_, _, err := g.GenerateAccessToken("", "o-1")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	_, _, err = g.GenerateAccessToken("u-1", "")
	assert.ErrorIs(t, err, ErrEmptyOrgID)

	other := NewGenerator(TokenConfig{Secret: "different", Issuer: "authz"})
	token, _, err := other.GenerateAccessToken("u-1", "o-1")
	require.NoError(t, err)
	_, err = g.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewGenerator(TokenConfig{Secret: "s3cret", Issuer: "someone-else"})
	token, _, err = wrongIssuer.GenerateAccessToken("u-1", "o-1")
	require.NoError(t, err)
	_, err = g.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewGenerator(TokenConfig{Secret: "s3cret", Issuer: "authz"})
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = expired.GenerateAccessToken("u-1", "o-1")
	require.NoError(t, err)
	_, err = g.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = g.ValidateAccessToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{UserID: "u-1", OrgID: "o-1"}
	token := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims)
	signed, err := token.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(signed, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseUnverified(t *testing.T) {
	g := NewGenerator(TokenConfig{Secret: "s3cret", Issuer: "authz"})
	token, _, err := g.GenerateServiceToken("u-1", "o-1", time.Hour)
	require.NoError(t, err)

	claims, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "o-1", claims.OrgID)
	assert.Equal(t, TokenTypeService, claims.TokenType)

	_, err = ParseUnverified("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
