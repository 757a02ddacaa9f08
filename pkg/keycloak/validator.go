package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ehrconnect/authz/pkg/jwt"
)

var (
	// ErrJWKSUnavailable is returned when no key has been loaded yet.
	ErrJWKSUnavailable = errors.New("JWKS endpoint unavailable")
	// ErrKeyNotFound is returned when the key ID is not in the key set.
	ErrKeyNotFound = errors.New("key not found in JWKS")
	// ErrMissingOrg is returned when the token has no organization claim.
	ErrMissingOrg = errors.New("token has no organization claim")
)

// Config holds the realm settings.
type Config struct {
	JWKSURL  string
	Issuer   string
	Audience string // optional
	OrgClaim string // default DefaultOrgClaim

	HTTPTimeout time.Duration
	// MissRefetchInterval is the minimum gap between refetches triggered by
	// an unknown key ID.
	MissRefetchInterval time.Duration
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// Validator validates realm tokens against the cached key set.
type Validator struct {
	cfg        Config
	httpClient *http.Client
	misses     *rate.Limiter
	fetches    singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

// NewValidator creates a validator with an empty key set. Call Refresh
// before serving traffic.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("JWKS URL is required")
	}
	if cfg.OrgClaim == "" {
		cfg.OrgClaim = DefaultOrgClaim
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MissRefetchInterval <= 0 {
		cfg.MissRefetchInterval = 30 * time.Second
	}
	return &Validator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		misses:     rate.NewLimiter(rate.Every(cfg.MissRefetchInterval), 1),
		keys:       make(map[string]*rsa.PublicKey),
	}, nil
}

// Refresh fetches the key set and replaces the cached one. It returns the
// number of usable keys. On failure the previous keys stay in place.
func (v *Validator) Refresh(ctx context.Context) (int, error) {
	n, err, _ := v.fetches.Do("jwks", func() (any, error) {
		keys, err := v.fetch(ctx)
		if err != nil {
			return 0, err
		}
		v.mu.Lock()
		v.keys = keys
		v.lastFetch = time.Now()
		v.mu.Unlock()
		return len(keys), nil
	})
	return n.(int), err
}

func (v *Validator) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("JWKS contains no RSA signing keys")
	}
	return keys, nil
}

// Ping reports whether keys are loaded, for readiness probes.
func (v *Validator) Ping(context.Context) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.keys) == 0 {
		return ErrJWKSUnavailable
	}
	return nil
}

// LastRefresh returns the time of the last successful fetch.
func (v *Validator) LastRefresh() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastFetch
}

// key returns the key for kid. An unknown kid triggers a refetch, at most
// once per MissRefetchInterval, to pick up realm key rotation.
func (v *Validator) key(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	empty := len(v.keys) == 0
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	if !v.misses.Allow() {
		if empty {
			return nil, ErrJWKSUnavailable
		}
		return nil, ErrKeyNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.HTTPTimeout)
	defer cancel()
	if _, err := v.Refresh(ctx); err != nil && empty {
		return nil, ErrJWKSUnavailable
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Validate parses and verifies a realm token.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		gojwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(v.cfg.Issuer))
	}

	var keyErr error
	token, err := gojwt.ParseWithClaims(tokenString, gojwt.MapClaims{}, func(t *gojwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			keyErr = fmt.Errorf("%w: missing key ID", jwt.ErrInvalidToken)
			return nil, keyErr
		}
		key, err := v.key(kid)
		if err != nil {
			keyErr = err
		}
		return key, err
	}, opts...)
	if err != nil {
		switch {
		case keyErr != nil:
			return nil, keyErr
		case errors.Is(err, gojwt.ErrTokenExpired):
			return nil, jwt.ErrExpiredToken
		default:
			return nil, jwt.ErrInvalidToken
		}
	}

	mc, ok := token.Claims.(gojwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidToken
	}
	claims := claimsFromMap(mc)
	if v.cfg.Audience != "" && !claims.HasAudience(v.cfg.Audience) {
		return nil, fmt.Errorf("%w: audience", jwt.ErrInvalidToken)
	}
	return claims, nil
}

// ValidateAccessToken validates a realm token and maps it to a session. The
// user is the subject; the organization comes from the configured claim.
func (v *Validator) ValidateAccessToken(tokenString string) (*jwt.Claims, error) {
	claims, err := v.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	orgID := claims.OrgID(v.cfg.OrgClaim)
	if orgID == "" {
		return nil, ErrMissingOrg
	}
	return &jwt.Claims{
		UserID:           claims.UserID(),
		OrgID:            orgID,
		SessionID:        claims.SessionState,
		TokenType:        jwt.TokenTypeAccess,
		RegisteredClaims: claims.RegisteredClaims,
	}, nil
}

func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid exponent")
	}
	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
