package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/role"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func TestGrantRole_EmitsUserEvent(t *testing.T) {
	f := newFixture(t)
	user := shared.NewID()
	a := f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)

	events := f.events.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, event.TypeRoleAssigned, e.Type)
	assert.Equal(t, []string{event.UserKey(user)}, e.Keys())
	assert.Equal(t, a.ID().String(), e.ChangeData["assignmentId"])
	require.NoError(t, e.Validate())
}

func TestGrantRole_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	custom, err := f.roles.CreateRole(ctx, CreateRoleInput{OrgID: orgH, Key: "h_only", Name: "H only", ScopeLevel: "ORG"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input GrantRoleInput
		want  error
	}{
		{
			name:  "role narrower than scope allows",
			input: GrantRoleInput{RoleID: f.nurse.ID(), Scope: scope.LevelDepartment, DepartmentID: &depD1},
			want:  assignment.ErrScopeNotAllowed,
		},
		{
			name:  "location of another org",
			input: GrantRoleInput{RoleID: f.nurse.ID(), Scope: scope.LevelLocation, LocationID: &locL3},
			want:  shared.ErrTenantIsolation,
		},
		{
			name:  "unknown location",
			input: GrantRoleInput{RoleID: f.nurse.ID(), Scope: scope.LevelLocation, LocationID: ptr(shared.NewID())},
			want:  shared.ErrValidation,
		},
		{
			name:  "role of another org",
			input: GrantRoleInput{RoleID: custom.ID(), Scope: scope.LevelOrg},
			want:  role.ErrRoleNotFound,
		},
		{
			name:  "location scope without location",
			input: GrantRoleInput{RoleID: f.nurse.ID(), Scope: scope.LevelLocation},
			want:  shared.ErrValidation,
		},
		{
			name:  "expiry in the past",
			input: GrantRoleInput{RoleID: f.admin.ID(), Scope: scope.LevelOrg, ExpiresAt: ptr(f.clock.Add(-time.Minute))},
			want:  shared.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.input
			in.OrgID = orgG
			in.UserID = shared.NewID()
			_, err := f.grants.GrantRole(ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for _, e := range f.events.all() {
		assert.NotEqual(t, event.TypeRoleAssigned, e.Type)
	}
}

func TestGrantRole_DepartmentScope(t *testing.T) {
	f := newFixture(t)
	user := shared.NewID()
	a, err := f.grants.GrantRole(context.Background(), GrantRoleInput{
		OrgID: orgG, UserID: user, RoleID: f.surgeon.ID(), Scope: scope.LevelDepartment, DepartmentID: &depD1,
	})
	require.NoError(t, err)
	assert.Equal(t, scope.LevelDepartment, a.Scope())
}

func TestRevokeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := shared.NewID()
	admin := shared.NewID()
	a := f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)

	_, err := f.grants.RevokeRole(ctx, orgH, a.ID(), &admin)
	assert.ErrorIs(t, err, assignment.ErrAssignmentNotFound)

	revoked, err := f.grants.RevokeRole(ctx, orgG, a.ID(), &admin)
	require.NoError(t, err)
	assert.True(t, revoked.IsRevoked())
	assert.Equal(t, &admin, revoked.RevokedBy())

	events := f.events.all()
	last := events[len(events)-1]
	assert.Equal(t, event.TypeRoleRevoked, last.Type)
	assert.Equal(t, "revoked", last.ChangeData["reason"])
	assert.Equal(t, []string{event.UserKey(user)}, last.Keys())

	_, err = f.grants.RevokeRole(ctx, orgG, a.ID(), &admin)
	assert.ErrorIs(t, err, assignment.ErrAlreadyRevoked)
	assert.Len(t, f.events.all(), len(events))

	// the row is kept
	stored, err := fakeAssignmentRepo{f.store}.GetByID(ctx, a.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked())
}

func TestAssignmentListForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := shared.NewID()

	f.grant(t, user, f.nurse.ID(), scope.LevelLocation, &locL1, nil)
	f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, ptr(f.clock.Add(time.Minute)))
	_, err := f.grants.GrantRole(ctx, GrantRoleInput{
		OrgID: orgH, UserID: user, RoleID: f.nurse.ID(), Scope: scope.LevelLocation, LocationID: &locL3,
	})
	require.NoError(t, err)

	list, err := f.grants.ListForUser(ctx, orgG, user)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	f.advance(2 * time.Minute)
	list, err = f.grants.ListForUser(ctx, orgG, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "nurse", list[0].RoleKey)
	assert.Equal(t, "North Campus", list[0].LocationLabel)
}
