package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func TestKeys(t *testing.T) {
	user, org := shared.NewID(), shared.NewID()

	e := ForUser(TypeRoleAssigned, user, org, map[string]any{"roleId": "r"})
	assert.Equal(t, []string{"user:" + user.String()}, e.Keys())
	require.NoError(t, e.Validate())

	o := ForOrg(TypeRoleUpdated, org, nil, []shared.ID{user})
	assert.Equal(t, []string{"org:" + org.String()}, o.Keys())
	assert.Equal(t, []shared.ID{user}, o.AffectedUserIDs())

	assert.Error(t, PermissionChange{Type: "nope", OrgID: &org}.Validate())
	assert.Error(t, PermissionChange{Type: TypeRoleDeleted}.Validate())
	assert.Nil(t, PermissionChange{Type: TypeRoleDeleted}.Keys())
}

func TestAffectedUserIDsSurvivesJSON(t *testing.T) {
	user, org := shared.NewID(), shared.NewID()
	o := ForOrg(TypeRoleDeleted, org, map[string]any{"roleId": "x"}, []shared.ID{user})

	data, err := json.Marshal(o)
	require.NoError(t, err)

	var back PermissionChange
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TypeRoleDeleted, back.Type)
	assert.Equal(t, []shared.ID{user}, back.AffectedUserIDs())
	assert.Equal(t, "x", back.ChangeData["roleId"])
}

func TestParseKey(t *testing.T) {
	id := shared.NewID()

	kind, got, err := ParseKey(UserKey(id))
	require.NoError(t, err)
	assert.Equal(t, "user", kind)
	assert.Equal(t, id, got)

	kind, _, err = ParseKey(OrgKey(id))
	require.NoError(t, err)
	assert.Equal(t, "org", kind)

	for _, bad := range []string{"", "user", "team:" + id.String(), "user:not-a-uuid"} {
		_, _, err := ParseKey(bad)
		assert.ErrorIs(t, err, shared.ErrValidation, bad)
	}
}
