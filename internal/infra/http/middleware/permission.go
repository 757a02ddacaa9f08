package middleware

import (
	"context"
	"net/http"

	"github.com/ehrconnect/authz/pkg/apierror"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Headers naming the facility a request acts on.
const (
	HeaderLocationID   = "X-Location-ID"
	HeaderDepartmentID = "X-Department-ID"
)

// Authorizer is the server-side access check.
type Authorizer interface {
	Authorize(
		ctx context.Context,
		subject accesscontrol.Subject,
		required string,
		sctx scope.Context,
		opts accesscontrol.CheckOptions,
	) (accesscontrol.Decision, error)
}

// ScopeContext builds the check context of a request: the session
// organization, narrowed by the location and department headers when present.
func ScopeContext(r *http.Request) (scope.Context, error) {
	sctx := scope.OrgContext(GetOrgID(r.Context()))

	loc, err := shared.OptionalIDFromString(r.Header.Get(HeaderLocationID))
	if err != nil {
		return sctx, err
	}
	dep, err := shared.OptionalIDFromString(r.Header.Get(HeaderDepartmentID))
	if err != nil {
		return sctx, err
	}
	sctx.LocationID = loc
	sctx.DepartmentID = dep
	return sctx, nil
}

// RequirePermission denies the request unless the session holds required in
// the request's scope context. A check that cannot be evaluated is a denial.
func RequirePermission(authz Authorizer, required string, log *logger.Logger) func(http.Handler) http.Handler {
	return requirePermission(authz, required, accesscontrol.CheckOptions{}, log)
}

// RequireOrgPermission is RequirePermission for routes that are not location
// scoped; the accessible-locations gate is skipped.
func RequireOrgPermission(authz Authorizer, required string, log *logger.Logger) func(http.Handler) http.Handler {
	return requirePermission(authz, required, accesscontrol.CheckOptions{SkipLocationGate: true}, log)
}

func requirePermission(authz Authorizer, required string, opts accesscontrol.CheckOptions, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject := accesscontrol.Subject{UserID: GetUserID(ctx), OrgID: GetOrgID(ctx)}
			if subject.UserID.IsZero() {
				apierror.Unauthorized("").WriteJSON(w)
				return
			}

			sctx, err := ScopeContext(r)
			if err != nil {
				apierror.FromError(err).WriteJSONWithRequestID(w, GetRequestID(ctx))
				return
			}

			decision, err := authz.Authorize(ctx, subject, required, sctx, opts)
			if err != nil {
				log.Error("permission check failed",
					"permission", required,
					"user_id", subject.UserID,
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				apierror.ServiceUnavailable("Permission check unavailable").
					WriteJSONWithRequestID(w, GetRequestID(ctx))
				return
			}
			if !decision.Allowed {
				apierror.Denied(string(decision.Reason), decision.Message()).
					WriteJSONWithRequestID(w, GetRequestID(ctx))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
