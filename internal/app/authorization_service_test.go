package app

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

func (f *fixture) grant(t *testing.T, user shared.ID, r shared.ID, level scope.Level, loc *shared.ID, expires *time.Time) *assignment.Assignment {
	t.Helper()
	a, err := f.grants.GrantRole(context.Background(), GrantRoleInput{
		OrgID:      orgG,
		UserID:     user,
		RoleID:     r,
		Scope:      level,
		LocationID: loc,
		ExpiresAt:  expires,
	})
	require.NoError(t, err)
	return a
}

func TestAuthorize_LocationScopedNurse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := shared.NewID()
	f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)

	subject := accesscontrol.Subject{UserID: user, OrgID: orgG}
	tests := []struct {
		name       string
		permission string
		sctx       scope.Context
		allowed    bool
		reason     accesscontrol.Reason
	}{
		{"read at own location", "patients:read", scope.OrgContext(orgG).AtLocation(locL1), true, accesscontrol.ReasonNone},
		{"missing permission", "patients:delete", scope.OrgContext(orgG).AtLocation(locL1), false, accesscontrol.ReasonInsufficientPermission},
		{"other location", "patients:read", scope.OrgContext(orgG).AtLocation(locL2), false, accesscontrol.ReasonLocationDenied},
		{"other org", "patients:read", scope.OrgContext(orgH), false, accesscontrol.ReasonOrgMismatch},
		{"department under own location", "patients:read", scope.OrgContext(orgG).AtLocation(locL1).InDepartment(depD1), true, accesscontrol.ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.authz.Authorize(ctx, subject, tt.permission, tt.sctx, accesscontrol.CheckOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAuthorize_OrgMismatchSkipsStore(t *testing.T) {
	f := newFixture(t)
	f.store.failReads = errStoreDown

	d, err := f.authz.Authorize(context.Background(),
		accesscontrol.Subject{UserID: shared.NewID(), OrgID: orgG},
		"patients:read", scope.OrgContext(orgH), accesscontrol.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, accesscontrol.ReasonOrgMismatch, d.Reason)
}

func TestAuthorize_Errors(t *testing.T) {
	f := newFixture(t)
	subject := accesscontrol.Subject{UserID: shared.NewID(), OrgID: orgG}

	d, err := f.authz.Authorize(context.Background(), subject, "patients", scope.OrgContext(orgG), accesscontrol.CheckOptions{})
	assert.True(t, shared.IsValidation(err))
	assert.False(t, d.Allowed)

	f.store.failReads = errStoreDown
	d, err = f.authz.Authorize(context.Background(), subject, "patients:read", scope.OrgContext(orgG), accesscontrol.CheckOptions{})
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, d.Allowed)
}

func TestAuthorize_GrantThenRevoke(t *testing.T) {
	f := newFixture(t, withRedis())
	ctx := context.Background()
	user := shared.NewID()
	subject := accesscontrol.Subject{UserID: user, OrgID: orgG}

	a := f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, nil)
	for _, p := range []string{"org:read", "staff:invite", "patients:read"} {
		d, err := f.authz.Authorize(ctx, subject, p, scope.OrgContext(orgG), accesscontrol.CheckOptions{})
		require.NoError(t, err)
		assert.True(t, d.Allowed, p)
	}
	assert.True(t, f.mr.Exists("eff_set:"+user.String()))

	_, err := f.grants.RevokeRole(ctx, orgG, a.ID(), nil)
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("eff_set:"+user.String()))

	d, err := f.authz.Authorize(ctx, subject, "org:read", scope.OrgContext(orgG), accesscontrol.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, accesscontrol.ReasonInsufficientPermission, d.Reason)
}

func TestAccessibleLocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orgWide := shared.NewID()
	f.grant(t, orgWide, f.admin.ID(), scope.LevelOrg, nil, nil)
	set, err := f.authz.AccessibleLocations(ctx, orgWide, orgG)
	require.NoError(t, err)
	assert.True(t, set.IsAll())

	twoSites := shared.NewID()
	f.grant(t, twoSites, f.nurse.ID(), scope.LevelLocation, &locL1, nil)
	f.grant(t, twoSites, f.nurse.ID(), scope.LevelLocation, &locL2, nil)
	set, err = f.authz.AccessibleLocations(ctx, twoSites, orgG)
	require.NoError(t, err)
	assert.False(t, set.IsAll())
	assert.ElementsMatch(t, []shared.ID{locL1, locL2}, set.IDs())

	set, err = f.authz.AccessibleLocations(ctx, twoSites, orgH)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestEffectiveSet_ExpiryAtReadTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := shared.NewID()
	f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, ptr(f.clock.Add(time.Hour)))

	set, err := f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, set.Permissions)

	f.advance(2 * time.Hour)
	for range 2 {
		set, err = f.authz.EffectiveSet(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, set.Permissions)
		assert.Empty(t, set.Grants)
	}
}

func TestEffectiveSet_ExpiryAtReadTime_Cached(t *testing.T) {
	f := newFixture(t, withRedis())
	ctx := context.Background()
	user := shared.NewID()
	f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, ptr(f.clock.Add(20*time.Second)))

	set, err := f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, set.Permissions)

	// the cached entry outlives the grant
	f.advance(30 * time.Second)
	set, err = f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, set.Permissions)
	assert.Empty(t, set.Grants)
	assert.Empty(t, set.Assignments)
	assert.Empty(t, set.ForOrg(orgG, f.clock).Permissions)

	decision, err := f.authz.Authorize(ctx, accesscontrol.Subject{UserID: user, OrgID: orgG}, "patients:read", scope.OrgContext(orgG), accesscontrol.CheckOptions{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestEffectiveSet_DeepInheritanceIsTruncatedAndLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a chain longer than maxInheritanceDepth; index 0 is the root
	var parent *shared.ID
	var leaf *role.Role
	for i := range maxInheritanceDepth + 2 {
		org := orgG
		r := role.Reconstruct(shared.NewID(), &org, fmt.Sprintf("tier_%d", i), "Tier", "", scope.LevelOrg,
			[]permission.Permission{permission.Permission(fmt.Sprintf("tier%d:read", i))}, nil,
			parent, false, false, f.clock, f.clock, nil)
		f.store.roles[r.ID()] = r
		id := r.ID()
		parent, leaf = &id, r
	}
	user := shared.NewID()
	f.grant(t, user, leaf.ID(), scope.LevelOrg, nil, nil)

	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Output: &buf})
	svc := NewAuthorizationService(fakeAssignmentRepo{f.store}, fakeRoleRepo{f.store}, accesscontrol.NewEngine(nil), log)

	set, err := svc.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.Contains(t, set.Permissions, permission.Permission(fmt.Sprintf("tier%d:read", maxInheritanceDepth+1)))
	assert.NotContains(t, set.Permissions, permission.Permission("tier0:read"))
	assert.Contains(t, buf.String(), "role inheritance truncated")
}

func TestEffectiveSet_CachedAndStamped(t *testing.T) {
	f := newFixture(t, withRedis())
	ctx := context.Background()
	user := shared.NewID()

	f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)
	set, err := f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), set.Generation)
	assert.Len(t, set.Grants, 1)
	require.Len(t, set.Assignments, 1)
	assert.Equal(t, "North Campus", set.Assignments[0].LocationLabel)

	// served from cache while the store is down
	f.store.failReads = errStoreDown
	set, err = f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.Len(t, set.Grants, 1)
	f.store.failReads = nil

	f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL2, nil)
	set, err = f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), set.Generation)
	assert.Len(t, set.Grants, 2)
}

func TestEffectiveSet_SkipsDanglingRole(t *testing.T) {
	f := newFixture(t)
	user := shared.NewID()
	f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)
	f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, nil)
	delete(f.store.roles, f.nurse.ID())

	set, err := f.authz.EffectiveSet(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, set.Grants, 1)
	assert.Len(t, set.Skipped, 1)
}

func TestEffectiveSet_RequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.authz.EffectiveSet(context.Background(), shared.ID{})
	assert.True(t, shared.IsValidation(err))
}
