package assignment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func idPtr(id shared.ID) *shared.ID { return &id }

func TestNew_ScopeReferenceRule(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	loc := shared.NewID()
	dept := shared.NewID()
	base := Params{UserID: shared.NewID(), RoleID: shared.NewID(), OrgID: shared.NewID()}

	tests := []struct {
		name    string
		scope   scope.Level
		loc     *shared.ID
		dept    *shared.ID
		wantErr bool
	}{
		{"org", scope.LevelOrg, nil, nil, false},
		{"org with location", scope.LevelOrg, &loc, nil, true},
		{"location", scope.LevelLocation, &loc, nil, false},
		{"location without id", scope.LevelLocation, nil, nil, true},
		{"location with department", scope.LevelLocation, &loc, &dept, true},
		{"department", scope.LevelDepartment, nil, &dept, false},
		{"department without id", scope.LevelDepartment, nil, nil, true},
		{"department with location", scope.LevelDepartment, &loc, &dept, true},
		{"platform", scope.LevelPlatform, nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			p.Scope, p.LocationID, p.DepartmentID = tt.scope, tt.loc, tt.dept
			a, err := New(p, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, shared.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scope, a.Scope())
			assert.True(t, a.IsActive(now))
		})
	}
}

func TestNew_RequiresIDsAndFutureExpiry(t *testing.T) {
	now := time.Now()
	_, err := New(Params{UserID: shared.NewID(), OrgID: shared.NewID(), Scope: scope.LevelOrg}, now)
	assert.ErrorIs(t, err, shared.ErrValidation)

	past := now.Add(-time.Minute)
	_, err = New(Params{
		UserID: shared.NewID(), RoleID: shared.NewID(), OrgID: shared.NewID(),
		Scope: scope.LevelOrg, ExpiresAt: &past,
	}, now)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestIsActive_ExpiryIsLazyAndIdempotent(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	a, err := New(Params{
		UserID: shared.NewID(), RoleID: shared.NewID(), OrgID: shared.NewID(),
		Scope: scope.LevelOrg, ExpiresAt: &expires,
	}, now)
	require.NoError(t, err)

	assert.True(t, a.IsActive(now))
	assert.True(t, a.IsActive(expires.Add(-time.Nanosecond)))
	for i := 0; i < 3; i++ {
		assert.False(t, a.IsActive(expires))
		assert.True(t, a.IsExpired(expires.Add(time.Hour)))
	}
	assert.False(t, a.IsRevoked())
}

func TestRevoke(t *testing.T) {
	now := time.Now()
	a, err := New(Params{UserID: shared.NewID(), RoleID: shared.NewID(), OrgID: shared.NewID(), Scope: scope.LevelOrg}, now)
	require.NoError(t, err)

	admin := shared.NewID()
	require.NoError(t, a.Revoke(&admin, now))
	assert.True(t, a.IsRevoked())
	assert.False(t, a.IsActive(now))
	assert.Equal(t, admin, *a.RevokedBy())

	assert.ErrorIs(t, a.Revoke(&admin, now.Add(time.Second)), ErrAlreadyRevoked)
}

type labels map[shared.ID]string

func (l labels) LocationLabel(id shared.ID) string { return l[id] }
func (l labels) DepartmentLabel(id shared.ID) string { return l[id] }

func TestSummarize(t *testing.T) {
	loc := shared.NewID()
	a, err := New(Params{
		UserID: shared.NewID(), RoleID: shared.NewID(), OrgID: shared.NewID(),
		Scope: scope.LevelLocation, LocationID: idPtr(loc),
	}, time.Now())
	require.NoError(t, err)

	s := Summarize(a, "nurse", "Nurse", labels{loc: "North Clinic"})
	assert.Equal(t, "nurse", s.RoleKey)
	assert.Equal(t, "North Clinic", s.LocationLabel)
	assert.Empty(t, s.DepartmentLabel)

	s = Summarize(a, "nurse", "Nurse", nil)
	assert.Empty(t, s.LocationLabel)
}
