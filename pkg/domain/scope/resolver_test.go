package scope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/shared"
)

type binding struct {
	org       shared.ID
	level     Level
	location  *shared.ID
	dept      *shared.ID
	expiresAt *time.Time
}

func (b binding) OrgID() shared.ID { return b.org }
func (b binding) Scope() Level { return b.level }
func (b binding) LocationID() *shared.ID { return b.location }
func (b binding) DepartmentID() *shared.ID { return b.dept }
func (b binding) IsActive(now time.Time) bool {
	return b.expiresAt == nil || b.expiresAt.After(now)
}

func ptr(id shared.ID) *shared.ID { return &id }

var (
	orgA  = shared.MustIDFromString("aaaaaaaa-0000-0000-0000-000000000001")
	orgB  = shared.MustIDFromString("bbbbbbbb-0000-0000-0000-000000000001")
	loc1  = shared.MustIDFromString("10000000-0000-0000-0000-000000000001")
	loc2  = shared.MustIDFromString("10000000-0000-0000-0000-000000000002")
	dept1 = shared.MustIDFromString("20000000-0000-0000-0000-000000000001")
	dept2 = shared.MustIDFromString("20000000-0000-0000-0000-000000000002")
)

func TestResolver_Covers(t *testing.T) {
	r := NewResolver()

	orgWide := binding{org: orgA, level: LevelOrg}
	atLoc1 := binding{org: orgA, level: LevelLocation, location: ptr(loc1)}
	inDept1 := binding{org: orgA, level: LevelDepartment, dept: ptr(dept1)}

	tests := []struct {
		name string
		b    binding
		ctx  Context
		want bool
	}{
		{"org mismatch on org grant", orgWide, OrgContext(orgB), false},
		{"org mismatch on location grant", atLoc1, OrgContext(orgB).AtLocation(loc1), false},
		{"org grant covers org", orgWide, OrgContext(orgA), true},
		{"org grant covers location", orgWide, OrgContext(orgA).AtLocation(loc2), true},
		{"org grant covers department", orgWide, OrgContext(orgA).AtLocation(loc1).InDepartment(dept2), true},
		{"location grant without context location", atLoc1, OrgContext(orgA), true},
		{"location grant same location", atLoc1, OrgContext(orgA).AtLocation(loc1), true},
		{"location grant other location", atLoc1, OrgContext(orgA).AtLocation(loc2), false},
		{"department grant org-level check", inDept1, OrgContext(orgA), true},
		{"department grant same department", inDept1, OrgContext(orgA).InDepartment(dept1), true},
		{"department grant other department", inDept1, OrgContext(orgA).InDepartment(dept2), false},
		{"department grant location check without visibility", inDept1, OrgContext(orgA).AtLocation(loc1), false},
		{"platform level is never an assignment scope", binding{org: orgA, level: LevelPlatform}, OrgContext(orgA), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Covers(tt.b, tt.ctx))
		})
	}
}

func TestResolver_DepartmentLocationVisibility(t *testing.T) {
	dir := StaticDirectory{dept1: loc1}
	r := NewResolver(WithDepartmentLocationVisibility(true), WithDepartmentDirectory(dir))
	inDept1 := binding{org: orgA, level: LevelDepartment, dept: ptr(dept1)}
	inDept2 := binding{org: orgA, level: LevelDepartment, dept: ptr(dept2)}

	assert.True(t, r.Covers(inDept1, OrgContext(orgA).AtLocation(loc1)))
	assert.False(t, r.Covers(inDept1, OrgContext(orgA).AtLocation(loc2)))
	// Unknown department location stays closed.
	assert.False(t, r.Covers(inDept2, OrgContext(orgA).AtLocation(loc1)))
	// Tenant isolation still wins.
	assert.False(t, r.Covers(inDept1, OrgContext(orgB).AtLocation(loc1)))

	// The owning location is covered even when the context names another department.
	assert.True(t, r.Covers(inDept1, OrgContext(orgA).AtLocation(loc1).InDepartment(dept2)))
	assert.False(t, r.Covers(inDept1, OrgContext(orgA).AtLocation(loc2).InDepartment(dept2)))
	assert.False(t, r.Covers(inDept1, OrgContext(orgA).InDepartment(dept2)))

	off := NewResolver(WithDepartmentDirectory(dir))
	assert.False(t, off.Covers(inDept1, OrgContext(orgA).AtLocation(loc1).InDepartment(dept2)))
	assert.True(t, off.Covers(inDept1, OrgContext(orgA).AtLocation(loc1).InDepartment(dept1)))
}

func TestResolver_OrgScopeCoversEveryPair(t *testing.T) {
	r := NewResolver()
	orgWide := binding{org: orgA, level: LevelOrg}
	for _, loc := range []shared.ID{loc1, loc2} {
		for _, dept := range []shared.ID{dept1, dept2} {
			assert.True(t, r.Covers(orgWide, OrgContext(orgA).AtLocation(loc).InDepartment(dept)))
		}
	}
}

func TestAccessibleLocations(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	r := NewResolver(WithDepartmentDirectory(StaticDirectory{dept1: loc2}))

	t.Run("org grant yields all", func(t *testing.T) {
		set := AccessibleLocations(r, []binding{
			{org: orgA, level: LevelLocation, location: ptr(loc1)},
			{org: orgA, level: LevelOrg},
		}, orgA, now)
		assert.True(t, set.IsAll())
		assert.True(t, set.Contains(loc2))
	})

	t.Run("location grants are unioned", func(t *testing.T) {
		set := AccessibleLocations(r, []binding{
			{org: orgA, level: LevelLocation, location: ptr(loc1)},
			{org: orgA, level: LevelLocation, location: ptr(loc2)},
			{org: orgA, level: LevelLocation, location: ptr(loc1)},
		}, orgA, now)
		require.False(t, set.IsAll())
		assert.ElementsMatch(t, []shared.ID{loc1, loc2}, set.IDs())
	})

	t.Run("department grant contributes its location", func(t *testing.T) {
		set := AccessibleLocations(r, []binding{
			{org: orgA, level: LevelDepartment, dept: ptr(dept1)},
			{org: orgA, level: LevelDepartment, dept: ptr(dept2)},
		}, orgA, now)
		assert.Equal(t, []shared.ID{loc2}, set.IDs())
	})

	t.Run("expired and foreign grants ignored", func(t *testing.T) {
		set := AccessibleLocations(r, []binding{
			{org: orgA, level: LevelOrg, expiresAt: &past},
			{org: orgB, level: LevelOrg},
			{org: orgA, level: LevelLocation, location: ptr(loc1)},
		}, orgA, now)
		assert.False(t, set.IsAll())
		assert.Equal(t, []shared.ID{loc1}, set.IDs())
	})

	t.Run("nothing active", func(t *testing.T) {
		set := AccessibleLocations[binding](r, nil, orgA, now)
		assert.True(t, set.IsEmpty())
		assert.False(t, set.Contains(loc1))
	})
}

func TestLocationSetJSON(t *testing.T) {
	data, err := json.Marshal(All())
	require.NoError(t, err)
	assert.JSONEq(t, `{"all":true,"locations":null}`, string(data))

	data, err = json.Marshal(Only(loc1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"all":false,"locations":["`+loc1.String()+`"]}`, string(data))

	var back LocationSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Contains(loc1))
	assert.False(t, back.IsAll())
}

func TestCanAssignAt(t *testing.T) {
	tests := []struct {
		role, at Level
		want     bool
	}{
		{LevelPlatform, LevelOrg, true},
		{LevelPlatform, LevelLocation, false},
		{LevelOrg, LevelOrg, true},
		{LevelOrg, LevelLocation, false},
		{LevelLocation, LevelOrg, true},
		{LevelLocation, LevelLocation, true},
		{LevelLocation, LevelDepartment, false},
		{LevelDepartment, LevelDepartment, true},
		{LevelDepartment, LevelPlatform, false},
		{Level("BOGUS"), LevelOrg, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"@"+string(tt.at), func(t *testing.T) {
			assert.Equal(t, tt.want, CanAssignAt(tt.role, tt.at))
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" location ")
	require.NoError(t, err)
	assert.Equal(t, LevelLocation, l)

	_, err = ParseLevel("galaxy")
	assert.ErrorIs(t, err, shared.ErrValidation)
}
