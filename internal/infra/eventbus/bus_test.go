package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/domain/shared"
)

func receive(t *testing.T, s *Subscription) event.PermissionChange {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	return event.PermissionChange{}
}

func TestBus_RoutesByKey(t *testing.T) {
	b := New(WithShards(4))
	alice, bob, org := shared.NewID(), shared.NewID(), shared.NewID()

	aliceSub := b.Subscribe(event.UserKey(alice), event.OrgKey(org))
	bobSub := b.Subscribe(event.UserKey(bob))
	defer aliceSub.Unsubscribe()
	defer bobSub.Unsubscribe()

	n := b.Publish(event.ForUser(event.TypeRoleAssigned, alice, org, nil))
	assert.Equal(t, 1, n)
	assert.Equal(t, event.TypeRoleAssigned, receive(t, aliceSub).Type)
	assert.Empty(t, bobSub.Events())

	n = b.Publish(event.ForOrg(event.TypeRoleUpdated, org, nil, []shared.ID{alice}))
	assert.Equal(t, 1, n)
	assert.Equal(t, event.TypeRoleUpdated, receive(t, aliceSub).Type)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	user := shared.NewID()
	s := b.Subscribe(event.UserKey(user), event.UserKey(user))
	assert.Equal(t, []string{event.UserKey(user)}, s.Keys())
	assert.Equal(t, 1, b.SubscriberCount(event.UserKey(user)))

	s.Unsubscribe()
	s.Unsubscribe()

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Zero(t, b.SubscriberCount(event.UserKey(user)))
	assert.Zero(t, b.Publish(event.ForUser(event.TypeRoleRevoked, user, shared.NewID(), nil)))
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New(WithBuffer(2))
	user, org := shared.NewID(), shared.NewID()
	s := b.Subscribe(event.UserKey(user))
	defer s.Unsubscribe()

	delivered := 0
	for i := 0; i < 5; i++ {
		delivered += b.Publish(event.ForUser(event.TypeRoleAssigned, user, org, nil))
	}
	assert.Equal(t, 2, delivered)
	assert.Len(t, s.Events(), 2)
}

func TestBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New()
	org := shared.NewID()
	key := event.OrgKey(org)

	var wg sync.WaitGroup
	subs := make([]*Subscription, 50)
	for i := range subs {
		subs[i] = b.Subscribe(key)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(event.ForOrg(event.TypeRoleUpdated, org, nil, nil))
			}
		}()
	}
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			s.Unsubscribe()
			s.Unsubscribe()
		}(s)
	}
	wg.Wait()

	assert.Zero(t, b.SubscriberCount(key))
}
