package accesscontrol

import (
	"time"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

// Subject is who is asking: the user and the organization of their session.
type Subject struct {
	UserID shared.ID
	OrgID  shared.ID
}

// CheckOptions tune one call site.
type CheckOptions struct {
	// SkipLocationGate disables the accessible-locations gate for call sites
	// that are not location scoped.
	SkipLocationGate bool
}

// Engine evaluates access checks against an effective set.
// It performs no I/O and holds no mutable state, so it is safe for concurrent use
// and gives the same answer on the server and on a client holding a fetched set.
type Engine struct {
	scopes *scope.Resolver
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(scopes *scope.Resolver, opts ...EngineOption) *Engine {
	if scopes == nil {
		scopes = scope.NewResolver()
	}
	e := &Engine{scopes: scopes, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Scopes returns the scope resolver the engine uses.
func (e *Engine) Scopes() *scope.Resolver { return e.scopes }

// Authorize runs the gates in order; the first failing gate names the reason.
//  1. tenant: ctx.OrgID must be the session organization
//  2. location: a context location must be among the accessible locations
//  3. permission: some permission covering ctx must match required
func (e *Engine) Authorize(
	subject Subject,
	set *EffectivePermissionSet,
	required permission.Permission,
	ctx scope.Context,
	opts CheckOptions,
) Decision {
	if !ctx.OrgID.Equals(subject.OrgID) || ctx.OrgID.IsZero() {
		return Deny(ReasonOrgMismatch)
	}
	if set == nil || !set.UserID.Equals(subject.UserID) {
		return Deny(ReasonInsufficientPermission)
	}

	now := e.now()
	if ctx.LocationID != nil && !opts.SkipLocationGate {
		if !e.AccessibleLocations(set, ctx.OrgID).Contains(*ctx.LocationID) {
			return Deny(ReasonLocationDenied)
		}
	}

	if !permission.HasPermission(set.PermissionsFor(e.scopes, ctx, now), required) {
		return Deny(ReasonInsufficientPermission)
	}
	return Allow()
}

// AccessibleLocations returns the locations of orgID reachable from the set.
func (e *Engine) AccessibleLocations(set *EffectivePermissionSet, orgID shared.ID) scope.LocationSet {
	if set == nil {
		return scope.Only()
	}
	return scope.AccessibleLocations(e.scopes, set.Grants, orgID, e.now())
}
