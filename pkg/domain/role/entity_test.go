package role

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func nurseDef() Definition {
	return Definition{
		Key:         "NURSE",
		Name:        "Nurse",
		ScopeLevel:  "location",
		Permissions: []string{"patients:read", "patients:edit", "observations:*"},
	}
}

func TestNew(t *testing.T) {
	org := shared.NewID()

	t.Run("valid", func(t *testing.T) {
		r, err := New(org, "triage_nurse", " Triage ", "", scope.LevelLocation, []string{"Patients:Read"})
		require.NoError(t, err)
		assert.Equal(t, "triage_nurse", r.Key())
		assert.Equal(t, "Triage", r.Name())
		assert.Equal(t, []permission.Permission{"patients:read"}, r.Permissions())
		assert.False(t, r.IsSystem())
		assert.True(t, r.BelongsTo(org))
		assert.False(t, r.BelongsTo(shared.NewID()))
	})

	invalid := []struct {
		name  string
		org   shared.ID
		key   string
		title string
		level scope.Level
		perms []string
	}{
		{"missing org", shared.ID{}, "k1", "n", scope.LevelOrg, nil},
		{"bad key", org, "Bad Key", "n", scope.LevelOrg, nil},
		{"missing name", org, "k1", " ", scope.LevelOrg, nil},
		{"bad level", org, "k1", "n", scope.Level("X"), nil},
		{"bad permission", org, "k1", "n", scope.LevelOrg, []string{"patients"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.org, tt.key, tt.title, "", tt.level, tt.perms)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestSystemRoleIsImmutable(t *testing.T) {
	r, err := NewSystem(nurseDef())
	require.NoError(t, err)

	assert.True(t, r.IsSystem())
	assert.Nil(t, r.OrgID())
	assert.Equal(t, SystemRoleID("nurse"), r.ID())
	assert.True(t, r.BelongsTo(shared.NewID()))

	assert.ErrorIs(t, r.SetPermissions([]string{"patients:read"}, nil), ErrCannotModifySystemRole)
	assert.ErrorIs(t, r.AddPermission("billing:read"), ErrCannotModifySystemRole)
	assert.ErrorIs(t, r.RemovePermission("patients:read"), ErrCannotModifySystemRole)
	assert.ErrorIs(t, r.UpdateDetails("x", ""), ErrCannotModifySystemRole)
	assert.ErrorIs(t, r.Tombstone(time.Now()), ErrCannotDeleteSystemRole)
}

func TestOrgOverride(t *testing.T) {
	sys, err := NewSystem(nurseDef())
	require.NoError(t, err)
	org := shared.NewID()

	o, err := NewOrgOverride(sys, org)
	require.NoError(t, err)
	assert.Equal(t, sys.Key(), o.Key())
	require.NotNil(t, o.ParentID())
	assert.Equal(t, sys.ID(), *o.ParentID())
	assert.False(t, o.IsModified())
	assert.Equal(t, sys.Permissions(), o.Apply(sys.Permissions()))

	require.NoError(t, o.SetPermissions([]string{"patients:read", "observations:*", "appointments:read"}, sys.Permissions()))
	assert.True(t, o.IsModified())
	assert.Equal(t, []permission.Permission{"appointments:read"}, o.Permissions())
	assert.Equal(t, []permission.Permission{"patients:edit"}, o.Removals())
	assert.ElementsMatch(t,
		[]permission.Permission{"patients:read", "observations:*", "appointments:read"},
		o.Apply(sys.Permissions()))

	// Back to the inherited set clears the divergence flag.
	require.NoError(t, o.SetPermissions(permission.Strings(sys.Permissions()), sys.Permissions()))
	assert.False(t, o.IsModified())

	_, err = NewOrgOverride(o, org)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAddRemovePermission(t *testing.T) {
	sys, _ := NewSystem(nurseDef())
	o, _ := NewOrgOverride(sys, shared.NewID())

	require.NoError(t, o.RemovePermission("patients:edit"))
	assert.NotContains(t, o.Apply(sys.Permissions()), permission.Permission("patients:edit"))
	assert.True(t, o.IsModified())

	require.NoError(t, o.AddPermission("PATIENTS:EDIT"))
	assert.Empty(t, o.Removals())
	assert.Contains(t, o.Apply(sys.Permissions()), permission.Permission("patients:edit"))

	assert.ErrorIs(t, o.AddPermission("bad"), shared.ErrValidation)
}

func TestTombstone(t *testing.T) {
	r, err := New(shared.NewID(), "temp", "Temp", "", scope.LevelOrg, nil)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, r.Tombstone(now))
	assert.True(t, r.IsDeleted())
	assert.ErrorIs(t, r.Tombstone(now), ErrRoleDeleted)
	assert.ErrorIs(t, r.AddPermission("patients:read"), ErrRoleDeleted)
}

func TestBuildSystemRoles(t *testing.T) {
	roles, err := BuildSystemRoles([]Definition{nurseDef(), {Key: "viewer", Name: "Viewer", ScopeLevel: "ORG"}})
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	_, err = BuildSystemRoles([]Definition{nurseDef(), nurseDef()})
	assert.ErrorIs(t, err, ErrRoleKeyExists)

	_, err = BuildSystemRoles([]Definition{{Key: "x1", Name: "X", ScopeLevel: "nowhere"}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
