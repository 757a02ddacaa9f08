package syncagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

var (
	orgG  = shared.MustIDFromString("aaaaaaaa-0000-0000-0000-00000000000a")
	locL1 = shared.MustIDFromString("11111111-0000-0000-0000-000000000001")
	locL2 = shared.MustIDFromString("11111111-0000-0000-0000-000000000002")
)

type fakeFetcher struct {
	mu       sync.Mutex
	set      *accesscontrol.EffectivePermissionSet
	features permission.FeatureMap
	err      error
	calls    int
}

func (f *fakeFetcher) FetchPermissions(ctx context.Context) (shared.ID, *accesscontrol.EffectivePermissionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return shared.ID{}, nil, f.err
	}
	set := *f.set
	return orgG, &set, nil
}

func (f *fakeFetcher) FetchFeatures(ctx context.Context) (permission.FeatureMap, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, "", f.err
	}
	return f.features, "v1", nil
}

func (f *fakeFetcher) serve(set *accesscontrol.EffectivePermissionSet, err error) {
	f.mu.Lock()
	f.set, f.err = set, err
	f.mu.Unlock()
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// nurseSet is a LOCATION-scoped nurse grant at L1.
func nurseSet(user shared.ID, perms ...permission.Permission) *accesscontrol.EffectivePermissionSet {
	return &accesscontrol.EffectivePermissionSet{
		UserID:      user,
		Permissions: perms,
		Grants: []accesscontrol.Grant{{
			AssignmentID: shared.NewID(),
			RoleID:       shared.NewID(),
			Org:          orgG,
			Level:        scope.LevelLocation,
			Location:     &locL1,
			Permissions:  perms,
		}},
	}
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func startAgent(t *testing.T, f *fakeFetcher, d *fakeDialer) *Agent {
	t.Helper()
	a := New(f, d,
		WithRefreshTimeout(time.Second),
		WithSubscriberOptions(WithBackoff(5*time.Millisecond)),
	)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Close)
	return a
}

func TestAgent_Queries(t *testing.T) {
	user := shared.NewID()
	f := &fakeFetcher{
		set: nurseSet(user, "patients:read", "patients:update"),
		features: permission.FeatureMap{
			"patients.chart": {"patients:read"},
			"billing.claims": {"claims:submit", "billing:*"},
		},
	}
	d := newFakeDialer()
	d.streams <- newFakeStream()
	a := startAgent(t, f, d)

	assert.True(t, a.HasPermission("patients:read"))
	assert.True(t, a.HasPermission("PATIENTS:READ"))
	assert.False(t, a.HasPermission("patients:delete"))
	assert.True(t, a.HasAnyPermission("patients:delete", "patients:update"))
	assert.False(t, a.HasAnyPermission())
	assert.True(t, a.HasAllPermissions("patients:read", "patients:update"))
	assert.False(t, a.HasAllPermissions("patients:read", "patients:delete"))

	assert.True(t, a.HasFeature("patients.chart"))
	assert.False(t, a.HasFeature("billing.claims"))
	// Undeclared features fail open.
	assert.True(t, a.HasFeature("reports.custom"))

	base := scope.OrgContext(orgG)
	assert.Equal(t, accesscontrol.Allow(), a.Authorize("patients:read", base.AtLocation(locL1), accesscontrol.CheckOptions{}))
	assert.Equal(t, accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission),
		a.Authorize("patients:delete", base.AtLocation(locL1), accesscontrol.CheckOptions{}))
	assert.Equal(t, accesscontrol.Deny(accesscontrol.ReasonLocationDenied),
		a.Authorize("patients:read", base.AtLocation(locL2), accesscontrol.CheckOptions{}))
	assert.Equal(t, accesscontrol.Deny(accesscontrol.ReasonOrgMismatch),
		a.Authorize("patients:read", scope.OrgContext(shared.NewID()), accesscontrol.CheckOptions{}))

	assert.Equal(t, []shared.ID{locL1}, a.AccessibleLocations().IDs())
}

func TestAgent_RevokeEventFlipsDecision(t *testing.T) {
	user := shared.NewID()
	f := &fakeFetcher{set: nurseSet(user, "patients:read")}
	d := newFakeDialer()
	stream := newFakeStream()
	d.streams <- stream
	a := startAgent(t, f, d)

	waitFor(t, func() bool { return a.Status().Connected })
	require.True(t, a.HasPermission("patients:read"))

	f.serve(&accesscontrol.EffectivePermissionSet{UserID: user}, nil)
	stream.events <- event.ForUser(event.TypeRoleRevoked, user, orgG, nil)

	waitFor(t, func() bool { return !a.HasPermission("patients:read") })
	assert.Equal(t, accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission),
		a.Authorize("patients:read", scope.OrgContext(orgG), accesscontrol.CheckOptions{}))
}

func TestAgent_ExpiredGrantStopsCounting(t *testing.T) {
	user := shared.NewID()
	clock := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	set := nurseSet(user, "patients:read")
	expires := clock.Add(time.Minute)
	set.Grants[0].Expires = &expires
	f := &fakeFetcher{
		set:      set,
		features: permission.FeatureMap{"patients.chart": {"patients:read"}},
	}
	d := newFakeDialer()
	d.streams <- newFakeStream()
	a := New(f, d, WithClock(now), WithSubscriberOptions(WithBackoff(5*time.Millisecond)))
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Close)

	require.True(t, a.HasPermission("patients:read"))
	require.True(t, a.HasFeature("patients.chart"))

	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()

	assert.False(t, a.HasPermission("patients:read"))
	assert.False(t, a.HasFeature("patients.chart"))
	assert.Empty(t, a.Assignments())
	assert.False(t, a.Authorize("patients:read", scope.OrgContext(orgG).AtLocation(locL1), accesscontrol.CheckOptions{}).Allowed)
}

func TestAgent_FailedRefetchKeepsLastKnownGood(t *testing.T) {
	user := shared.NewID()
	f := &fakeFetcher{set: nurseSet(user, "patients:read")}
	d := newFakeDialer()
	d.streams <- newFakeStream()
	a := startAgent(t, f, d)
	// Let the connect-triggered refetch finish first.
	waitFor(t, func() bool { return a.Generation() >= 2 })

	before := counterValue(t, staleCacheWarningsTotal)
	gen := a.Generation()

	f.serve(nil, errors.New("api unavailable"))
	err := a.Refresh(context.Background())
	require.Error(t, err)

	assert.True(t, a.HasPermission("patients:read"))
	assert.Equal(t, gen, a.Generation())
	assert.Equal(t, before+1, counterValue(t, staleCacheWarningsTotal))
	assert.Contains(t, a.Status().LastError, "api unavailable")

	f.serve(nurseSet(user, "patients:read", "patients:update"), nil)
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, gen+1, a.Generation())
	assert.Empty(t, a.Status().LastError)
	assert.True(t, a.HasPermission("patients:update"))
}

func TestAgent_RefetchesOnReconnect(t *testing.T) {
	user := shared.NewID()
	f := &fakeFetcher{set: nurseSet(user, "patients:read")}
	d := newFakeDialer()
	first := newFakeStream()
	d.streams <- first
	a := startAgent(t, f, d)
	waitFor(t, func() bool { return f.Calls() >= 2 })

	f.serve(nurseSet(user, "patients:read", "lab_orders:create"), nil)
	_ = first.Close()
	d.streams <- newFakeStream()

	waitFor(t, func() bool { return a.HasPermission("lab_orders:create") })
}

func TestAgent_StartFailsWithoutInitialFetch(t *testing.T) {
	f := &fakeFetcher{err: errors.New("unauthorized")}
	a := New(f, newFakeDialer())
	require.Error(t, a.Start(context.Background()))

	assert.Nil(t, a.Snapshot())
	assert.False(t, a.HasPermission("patients:read"))
	assert.False(t, a.HasFeature("anything"))
	assert.Equal(t, accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission),
		a.Authorize("patients:read", scope.OrgContext(orgG), accesscontrol.CheckOptions{}))
	a.Close()
}

func TestAgent_DegradedTransportKeepsAnswering(t *testing.T) {
	user := shared.NewID()
	f := &fakeFetcher{set: nurseSet(user, "patients:read")}
	d := newFakeDialer()
	d.setFail(true)

	a := New(f, d, WithSubscriberOptions(WithBackoff(time.Millisecond), WithMaxAttempts(2)))
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	waitFor(t, func() bool { return a.Status().Degraded })
	st := a.Status()
	assert.False(t, st.Connected)
	assert.True(t, a.HasPermission("patients:read"))
}
