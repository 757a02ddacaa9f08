package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/jwt"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Auth-related context keys - use logger.ContextKey for consistency.
const (
	UserIDKey = logger.ContextKeyUserID
	OrgIDKey  = logger.ContextKeyOrgID
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// TokenValidators tries each validator in order and accepts the first
// success. An expired token is reported as soon as a validator recognizes it.
type TokenValidators []TokenValidator

// ValidateAccessToken implements TokenValidator.
func (vs TokenValidators) ValidateAccessToken(token string) (*jwt.Claims, error) {
	err := jwt.ErrInvalidToken
	for _, v := range vs {
		claims, verr := v.ValidateAccessToken(token)
		if verr == nil {
			return claims, nil
		}
		if errors.Is(verr, jwt.ErrExpiredToken) {
			return nil, verr
		}
		err = verr
	}
	return nil, err
}

// =============================================================================
// Context Getters
// =============================================================================

// GetUserID extracts the session user from context.
func GetUserID(ctx context.Context) shared.ID {
	if id, ok := ctx.Value(UserIDKey).(shared.ID); ok {
		return id
	}
	return shared.ID{}
}

// GetOrgID extracts the session organization from context.
func GetOrgID(ctx context.Context) shared.ID {
	if id, ok := ctx.Value(OrgIDKey).(shared.ID); ok {
		return id
	}
	return shared.ID{}
}

// ContextWithIdentity stores the session identity in ctx.
func ContextWithIdentity(ctx context.Context, userID, orgID shared.ID) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// =============================================================================
// Authentication
// =============================================================================

// Auth authenticates requests with a bearer token. Browsers cannot set
// headers on WebSocket upgrades, so the token query parameter is accepted
// for upgrade requests only.
func Auth(validator TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				apierror.Unauthorized("").WriteJSON(w)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				log.Debug("token rejected",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				msg := "Invalid token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					msg = "Token has expired"
				}
				apierror.Unauthorized(msg).WriteJSON(w)
				return
			}

			userID, err := shared.IDFromString(claims.UserID)
			if err != nil {
				apierror.Unauthorized("Invalid token subject").WriteJSON(w)
				return
			}
			orgID, err := shared.IDFromString(claims.OrgID)
			if err != nil {
				apierror.Unauthorized("Invalid token organization").WriteJSON(w)
				return
			}

			ctx := ContextWithIdentity(r.Context(), userID, orgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}
