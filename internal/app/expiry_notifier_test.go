package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

func TestExpiryNotifier_RunOnce(t *testing.T) {
	f := newFixture(t, withRedis())
	ctx := context.Background()
	user := shared.NewID()
	a := f.grant(t, user, f.admin.ID(), scope.LevelOrg, nil, ptr(f.clock.Add(time.Minute)))

	hints := &recorder{}
	n := NewExpiryNotifier(fakeAssignmentRepo{f.store}, hints, f.sync, ExpiryNotifierConfig{}, logger.NewNop())
	n.now = func() time.Time { return f.clock }

	count, err := n.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.authz.EffectiveSet(ctx, user)
	require.NoError(t, err)
	before := f.sync.Versions.Get(ctx, user)

	f.advance(2 * time.Minute)
	count, err = n.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	events := hints.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeRoleRevoked, events[0].Type)
	assert.Equal(t, "expired", events[0].ChangeData["reason"])
	assert.Equal(t, a.ID().String(), events[0].ChangeData["assignmentId"])
	assert.Equal(t, []string{event.UserKey(user)}, events[0].Keys())
	assert.Equal(t, before+1, f.sync.Versions.Get(ctx, user))
	assert.False(t, f.mr.Exists("eff_set:"+user.String()))

	// the window moved on
	f.advance(time.Minute)
	count, err = n.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// the row is still there, just inactive
	stored, err := fakeAssignmentRepo{f.store}.GetByID(ctx, a.ID())
	require.NoError(t, err)
	assert.False(t, stored.IsRevoked())
	assert.False(t, stored.IsActive(f.clock))
}

func TestExpiryNotifier_StartStop(t *testing.T) {
	n := NewExpiryNotifier(fakeAssignmentRepo{newStore()}, nil, nil, ExpiryNotifierConfig{Schedule: "not a schedule"}, logger.NewNop())
	assert.Error(t, n.Start())

	n = NewExpiryNotifier(fakeAssignmentRepo{newStore()}, nil, nil, ExpiryNotifierConfig{}, logger.NewNop())
	require.NoError(t, n.Start())
	require.NoError(t, n.Start())
	n.Stop()
	n.Stop()
}
