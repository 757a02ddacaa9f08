package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

const tracerName = "github.com/ehrconnect/authz/internal/app"

// maxInheritanceDepth bounds how many parent hops are fetched while loading roles.
const maxInheritanceDepth = 8

// AuthorizationService answers effective-set, accessible-location and
// authorization queries. It is the authoritative evaluator.
type AuthorizationService struct {
	assignments assignment.Repository
	roles       role.Repository
	engine      *accesscontrol.Engine
	labels      assignment.Labeler
	cache       *PermissionCacheService
	versions    *PermissionVersionService
	tracer      trace.Tracer
	logger      *logger.Logger
	now         func() time.Time
}

// AuthorizationServiceOption is a functional option for AuthorizationService.
type AuthorizationServiceOption func(*AuthorizationService)

// WithAuthzCache caches effective sets in Redis.
func WithAuthzCache(c *PermissionCacheService) AuthorizationServiceOption {
	return func(s *AuthorizationService) { s.cache = c }
}

// WithAuthzVersions stamps effective sets with the user's generation.
func WithAuthzVersions(v *PermissionVersionService) AuthorizationServiceOption {
	return func(s *AuthorizationService) { s.versions = v }
}

// WithAuthzLabels resolves location and department names in assignment summaries.
func WithAuthzLabels(l assignment.Labeler) AuthorizationServiceOption {
	return func(s *AuthorizationService) { s.labels = l }
}

// WithAuthzClock overrides time.Now.
func WithAuthzClock(now func() time.Time) AuthorizationServiceOption {
	return func(s *AuthorizationService) { s.now = now }
}

// NewAuthorizationService creates a new AuthorizationService.
func NewAuthorizationService(
	assignments assignment.Repository,
	roles role.Repository,
	engine *accesscontrol.Engine,
	log *logger.Logger,
	opts ...AuthorizationServiceOption,
) *AuthorizationService {
	s := &AuthorizationService{
		assignments: assignments,
		roles:       roles,
		engine:      engine,
		tracer:      otel.Tracer(tracerName),
		logger:      log.With("service", "authorization"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the decision engine.
func (s *AuthorizationService) Engine() *accesscontrol.Engine { return s.engine }

// EffectiveSet returns the user's effective permission set.
func (s *AuthorizationService) EffectiveSet(ctx context.Context, userID shared.ID) (*accesscontrol.EffectivePermissionSet, error) {
	ctx, span := s.tracer.Start(ctx, "authz.EffectiveSet",
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	if userID.IsZero() {
		return nil, shared.NewValidationError("user id is required")
	}

	var (
		set *accesscontrol.EffectivePermissionSet
		err error
	)
	if s.cache != nil {
		set, err = s.cache.GetOrLoad(ctx, userID, func(ctx context.Context) (*accesscontrol.EffectivePermissionSet, error) {
			return s.compute(ctx, userID)
		})
	} else {
		set, err = s.compute(ctx, userID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "effective set")
		return nil, err
	}
	// A cached set may hold grants that expired after it was computed.
	set = set.ActiveAt(s.now())

	if s.versions != nil {
		set.Generation = s.versions.Get(ctx, userID)
	}
	span.SetAttributes(
		attribute.Int("authz.grants", len(set.Grants)),
		attribute.Int("authz.skipped", len(set.Skipped)),
	)
	return set, nil
}

// compute aggregates the set from the store.
func (s *AuthorizationService) compute(ctx context.Context, userID shared.ID) (*accesscontrol.EffectivePermissionSet, error) {
	start := time.Now()
	defer func() {
		metrics.EffectiveSetComputeDuration.Observe(time.Since(start).Seconds())
	}()

	assignments, err := s.assignments.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	roleIDs := make([]shared.ID, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID())
	}
	lookup, err := s.loadRoles(ctx, userID, roleIDs)
	if err != nil {
		return nil, err
	}

	set := accesscontrol.Aggregate(userID, assignments, lookup, s.labels, s.now())
	if n := len(set.Skipped); n > 0 {
		metrics.AssignmentsSkippedTotal.Add(float64(n))
		for _, sk := range set.Skipped {
			s.logger.Warn("skipped assignment while building effective set",
				"user_id", userID,
				"assignment_id", sk.AssignmentID,
				"role_id", sk.RoleID,
				"reason", sk.Reason,
			)
		}
	}
	return set, nil
}

// loadRoles fetches the given roles and their ancestors. Ancestors beyond
// maxInheritanceDepth are not fetched and resolve as missing parents.
func (s *AuthorizationService) loadRoles(ctx context.Context, userID shared.ID, ids []shared.ID) (accesscontrol.RoleMap, error) {
	lookup := accesscontrol.RoleMap{}
	pending := ids
	for depth := 0; len(pending) > 0 && depth < maxInheritanceDepth; depth++ {
		var want []shared.ID
		for _, id := range pending {
			if _, ok := lookup[id]; !ok {
				want = append(want, id)
			}
		}
		if len(want) == 0 {
			break
		}

		roles, err := s.roles.ListByIDs(ctx, want)
		if err != nil {
			return nil, fmt.Errorf("failed to load roles: %w", err)
		}
		lookup.Add(roles...)

		var parents []shared.ID
		for _, r := range roles {
			if pid := r.ParentID(); pid != nil {
				parents = append(parents, *pid)
			}
		}
		pending = parents
	}

	var truncated []shared.ID
	for _, id := range pending {
		if _, ok := lookup[id]; !ok {
			truncated = append(truncated, id)
		}
	}
	if len(truncated) > 0 {
		s.logger.Warn("role inheritance truncated",
			"user_id", userID,
			"max_depth", maxInheritanceDepth,
			"unloaded_role_ids", truncated,
		)
	}
	return lookup, nil
}

// AccessibleLocations returns the locations of orgID the user can reach.
func (s *AuthorizationService) AccessibleLocations(ctx context.Context, userID, orgID shared.ID) (scope.LocationSet, error) {
	set, err := s.EffectiveSet(ctx, userID)
	if err != nil {
		return scope.Only(), err
	}
	return s.engine.AccessibleLocations(set, orgID), nil
}

// Authorize decides whether subject may perform required in sctx.
// Denials are returned as a Decision; an error means the check could not be
// evaluated, and callers must treat it as a denial.
func (s *AuthorizationService) Authorize(
	ctx context.Context,
	subject accesscontrol.Subject,
	required string,
	sctx scope.Context,
	opts accesscontrol.CheckOptions,
) (accesscontrol.Decision, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "authz.Authorize",
		trace.WithAttributes(
			attribute.String("user.id", subject.UserID.String()),
			attribute.String("org.id", sctx.OrgID.String()),
			attribute.String("authz.permission", required),
		))
	defer span.End()

	perm, err := permission.New(required)
	if err != nil {
		span.RecordError(err)
		return accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission), err
	}

	var decision accesscontrol.Decision
	if sctx.OrgID.IsZero() || !sctx.OrgID.Equals(subject.OrgID) {
		decision = s.engine.Authorize(subject, nil, perm, sctx, opts)
	} else {
		set, err := s.EffectiveSet(ctx, subject.UserID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "effective set unavailable")
			return accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission), err
		}
		decision = s.engine.Authorize(subject, set, perm, sctx, opts)
	}

	s.record(decision, time.Since(start))
	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.reason", string(decision.Reason)),
	)
	if !decision.Allowed {
		s.logger.Info("authz denied",
			"user_id", subject.UserID,
			"org_id", sctx.OrgID,
			"permission", perm,
			"reason", decision.Reason,
		)
	}
	return decision, nil
}

func (s *AuthorizationService) record(d accesscontrol.Decision, elapsed time.Duration) {
	result := "allow"
	if !d.Allowed {
		result = "deny"
	}
	metrics.DecisionsTotal.WithLabelValues(result, string(d.Reason)).Inc()
	metrics.DecisionDuration.Observe(elapsed.Seconds())
}
