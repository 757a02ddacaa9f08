// Package eventbus routes permission change events to in-process subscribers
// keyed by user and organization.
package eventbus

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/pkg/domain/event"
)

const (
	DefaultShards = 32
	DefaultBuffer = 16
)

// Subscription receives events for a fixed set of routing keys.
type Subscription struct {
	id     uint64
	keys   []string
	ch     chan event.PermissionChange
	bus    *Bus
	once   sync.Once
	closed atomic.Bool
}

// Events returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan event.PermissionChange {
	return s.ch
}

// Keys returns the routing keys of the subscription.
func (s *Subscription) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Unsubscribe removes the subscription. Repeated calls are no-ops.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

type shard struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*Subscription
}

// Bus is a sharded registry of subscriptions. Publish never blocks: a
// subscriber whose buffer is full misses the event and the drop is counted.
type Bus struct {
	shards []*shard
	buffer int
	nextID atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.shards = make([]*shard, n)
		}
	}
}

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{shards: make([]*shard, DefaultShards), buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	for i := range b.shards {
		b.shards[i] = &shard{subs: make(map[string]map[uint64]*Subscription)}
	}
	return b
}

func (b *Bus) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// Subscribe registers interest in keys such as event.UserKey(id).
func (b *Bus) Subscribe(keys ...string) *Subscription {
	s := &Subscription{
		id:   b.nextID.Add(1),
		keys: dedupe(keys),
		ch:   make(chan event.PermissionChange, b.buffer),
		bus:  b,
	}
	for _, k := range s.keys {
		sh := b.shardFor(k)
		sh.mu.Lock()
		m, ok := sh.subs[k]
		if !ok {
			m = make(map[uint64]*Subscription)
			sh.subs[k] = m
		}
		m[s.id] = s
		sh.mu.Unlock()
	}
	metrics.EventSubscribers.Inc()
	return s
}

func (b *Bus) remove(s *Subscription) {
	for _, k := range s.keys {
		sh := b.shardFor(k)
		sh.mu.Lock()
		if m, ok := sh.subs[k]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(sh.subs, k)
			}
		}
		sh.mu.Unlock()
	}
	// Deliveries hold the shard read lock while sending, so once every shard
	// entry is gone no sender can touch the channel.
	s.closed.Store(true)
	close(s.ch)
	metrics.EventSubscribers.Dec()
}

// Publish delivers e to every subscription of its routing keys and returns the
// number of deliveries. A subscription listening on several of the keys gets
// the event once.
func (b *Bus) Publish(e event.PermissionChange) int {
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()

	delivered := 0
	seen := make(map[uint64]struct{})
	for _, k := range e.Keys() {
		sh := b.shardFor(k)
		sh.mu.RLock()
		for id, s := range sh.subs[k] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if s.closed.Load() {
				continue
			}
			select {
			case s.ch <- e:
				delivered++
				metrics.EventsDeliveredTotal.Inc()
			default:
				metrics.EventsDroppedTotal.Inc()
			}
		}
		sh.mu.RUnlock()
	}
	return delivered
}

// SubscriberCount returns the number of subscriptions on key.
func (b *Bus) SubscriberCount(key string) int {
	sh := b.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.subs[key])
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
