package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Token
		wantErr bool
	}{
		{"resource and action", "patients:read", Token{Resource: "patients", Action: "read"}, false},
		{"with sub-action", "patients:read:own", Token{Resource: "patients", Action: "read", SubAction: "own"}, false},
		{"upper case normalized", "Patients:READ", Token{Resource: "patients", Action: "read"}, false},
		{"surrounding spaces trimmed", "  lab_results:approve ", Token{Resource: "lab_results", Action: "approve"}, false},
		{"bare wildcard", "*", Token{Resource: "*", Action: "*"}, false},
		{"full wildcard", "*:*", Token{Resource: "*", Action: "*"}, false},
		{"empty", "", Token{}, true},
		{"resource only", "patients", Token{}, true},
		{"empty resource", ":read", Token{}, true},
		{"empty action", "patients:", Token{}, true},
		{"empty sub-action", "patients:read:", Token{}, true},
		{"too many segments", "a:b:c:d", Token{}, true},
		{"inner space", "patients:re ad", Token{}, true},
		{"partial wildcard", "pat*:read", Token{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, shared.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		held     Permission
		required Permission
		want     bool
	}{
		{"*:*", "patients:read", true},
		{"*:*", "patients:read:own", true},
		{"*", "billing:edit", true},
		{"patients:*", "patients:read", true},
		{"patients:*", "patients:delete:bulk", true},
		{"other:*", "patients:read", false},
		{"*:read", "patients:read", true},
		{"*:read", "patients:edit", false},
		{"patients:read", "patients:read", true},
		{"patients:read", "patients:edit", false},
		{"PATIENTS:Read", "patients:READ", true},

		// An absent held sub-action acts as a wildcard at that level.
		{"patients:read", "patients:read:own", true},
		{"patients:read:*", "patients:read:own", true},
		{"patients:read:own", "patients:read:own", true},
		{"patients:read:own", "patients:read:all", false},
		{"patients:read:own", "patients:read", true},

		// Not symmetric.
		{"patients:read", "patients:*", false},

		// Malformed tokens never match.
		{"patients", "patients:read", false},
		{"patients:read", "patients", false},
		{"", "patients:read", false},
		{"patients:read", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.held)+"->"+string(tt.required), func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.held, tt.required))
		})
	}
}

func TestMatches_FullWildcardHoldsForAnyToken(t *testing.T) {
	for _, req := range []Permission{"a:b", "x:y:z", "*", "*:*", "garbage", ""} {
		assert.True(t, Matches(All, req), "required %q", req)
	}
}

func TestMatches_ResourceWildcardProperty(t *testing.T) {
	for _, res := range Resources() {
		for _, act := range Actions() {
			required := Permission(res + ":" + act)
			assert.True(t, Matches(Permission(res+":*"), required))
			if res != ResourcePlatform {
				assert.False(t, Matches("platform:*", required))
			}
		}
	}
}

func TestParseList(t *testing.T) {
	perms, err := ParseList([]string{"Patients:Read", "patients:read", "billing:*"})
	require.NoError(t, err)
	assert.Equal(t, []Permission{"patients:read", "billing:*"}, perms)

	_, err = ParseList([]string{"patients:read", "broken"})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestHasAnyHasAll(t *testing.T) {
	held := []Permission{"patients:read", "appointments:*"}

	assert.True(t, HasPermission(held, "appointments:create"))
	assert.True(t, HasAny(held, "billing:read", "patients:read"))
	assert.False(t, HasAny(held, "billing:read", "patients:edit"))
	assert.False(t, HasAny(held))

	assert.True(t, HasAll(held, "patients:read", "appointments:delete"))
	assert.False(t, HasAll(held, "patients:read", "patients:edit"))
	assert.True(t, HasAll(held))
}

func TestGroup(t *testing.T) {
	perms, ok := Group(GroupReportsView)
	require.True(t, ok)
	assert.Contains(t, perms, Permission("audit:read"))

	perms[0] = "tampered:entry"
	again, _ := Group(GroupReportsView)
	assert.Equal(t, Permission("reports:read"), again[0])

	_, ok = Group("NOPE")
	assert.False(t, ok)

	for _, name := range GroupNames() {
		perms, ok := Group(name)
		require.True(t, ok, name)
		for _, p := range perms {
			_, err := Parse(string(p))
			assert.NoError(t, err, "%s: %s", name, p)
		}
	}
}

func TestBuildMatrix(t *testing.T) {
	m := BuildMatrix([]Permission{"patients:*", "billing:read"})

	assert.True(t, m[ResourcePatients][ActionDelete])
	assert.True(t, m[ResourceBilling][ActionRead])
	assert.False(t, m[ResourceBilling][ActionEdit])
	assert.False(t, m[ResourceAudit][ActionRead])
	assert.Len(t, m, len(Resources()))
}

func TestFeatureMap(t *testing.T) {
	fm, err := ParseFeatureMap(map[string][]string{
		"staff.manage": {"staff:read", "Staff:Create"},
		"audit.view":   {"audit:read"},
		"empty":        {},
	})
	require.NoError(t, err)

	held := []Permission{"staff:*"}
	assert.True(t, fm.Allows(held, "staff.manage"))
	assert.False(t, fm.Allows(held, "audit.view"))
	// Undeclared and empty features fail open.
	assert.True(t, fm.Allows(nil, "never.registered"))
	assert.True(t, fm.Allows(nil, "empty"))
	assert.False(t, fm.Declared("empty"))
	assert.Equal(t, []string{"audit.view", "empty", "staff.manage"}, fm.Keys())

	clone := fm.Clone()
	clone["audit.view"][0] = "x:y"
	assert.Equal(t, Permission("audit:read"), fm["audit.view"][0])

	_, err = ParseFeatureMap(map[string][]string{"bad": {"nope"}})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}
