// Package syncagent keeps one session's view of its permissions current.
//
// An Agent fetches the effective permission set once, holds an event
// subscription open, and refetches the whole set whenever any change event
// arrives. Queries are answered from the cached set without I/O. A failed
// refetch keeps the last set that was fetched successfully.
package syncagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/domain/shared"
	"github.com/ehrconnect/authz/pkg/logger"
)

// DefaultRefreshTimeout bounds one authoritative refetch.
const DefaultRefreshTimeout = 5 * time.Second

// Snapshot is one authoritative fetch.
type Snapshot struct {
	OrgID           shared.ID
	Set             *accesscontrol.EffectivePermissionSet
	Features        permission.FeatureMap
	FeaturesVersion string
	// Generation increases by one with every successful fetch.
	Generation uint64
	FetchedAt  time.Time
}

// Status describes the agent for display, e.g. a reconnecting indicator.
type Status struct {
	State      State
	Connected  bool
	Degraded   bool
	Generation uint64
	FetchedAt  time.Time
	LastError  string
}

// Agent is the client side of permission sync for one session.
type Agent struct {
	fetcher        Fetcher
	subscriber     *Subscriber
	engine         *accesscontrol.Engine
	refreshTimeout time.Duration
	logger         *logger.Logger
	now            func() time.Time

	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	lastErr    atomic.Pointer[string]
	refresh    singleflight.Group

	// kick wakes the loop for a refetch after a (re)connect.
	kick chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

type agentConfig struct {
	refreshTimeout time.Duration
	engine         *accesscontrol.Engine
	logger         *logger.Logger
	now            func() time.Time
	subscriberOpts []SubscriberOption
}

// WithRefreshTimeout bounds each refetch.
func WithRefreshTimeout(d time.Duration) AgentOption {
	return func(c *agentConfig) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithEngine sets the engine used for advisory checks.
func WithEngine(e *accesscontrol.Engine) AgentOption {
	return func(c *agentConfig) {
		c.engine = e
	}
}

// WithLogger sets the logger of the agent and its subscriber.
func WithLogger(log *logger.Logger) AgentOption {
	return func(c *agentConfig) {
		c.logger = log
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AgentOption {
	return func(c *agentConfig) {
		c.now = now
	}
}

// WithSubscriberOptions passes options to the underlying Subscriber.
func WithSubscriberOptions(opts ...SubscriberOption) AgentOption {
	return func(c *agentConfig) {
		c.subscriberOpts = append(c.subscriberOpts, opts...)
	}
}

// New creates an Agent. Call Start to fetch and subscribe.
func New(fetcher Fetcher, dialer Dialer, opts ...AgentOption) *Agent {
	cfg := agentConfig{
		refreshTimeout: DefaultRefreshTimeout,
		logger:         logger.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.engine == nil {
		cfg.engine = accesscontrol.NewEngine(nil, accesscontrol.WithClock(cfg.now))
	}

	a := &Agent{
		fetcher:        fetcher,
		engine:         cfg.engine,
		refreshTimeout: cfg.refreshTimeout,
		logger:         cfg.logger.With("component", "sync_agent"),
		now:            cfg.now,
		kick:           make(chan struct{}, 1),
	}

	// The agent's hook goes last so callers cannot replace it.
	subOpts := append([]SubscriberOption{WithSubscriberLogger(cfg.logger)}, cfg.subscriberOpts...)
	subOpts = append(subOpts, OnConnect(a.wake))
	a.subscriber = NewSubscriber(dialer, subOpts...)
	return a
}

// Start performs the initial authoritative fetch and opens the subscription.
// It fails only when the initial fetch fails.
func (a *Agent) Start(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, a.refreshTimeout)
	defer cancel()

	features, version, err := a.fetcher.FetchFeatures(fctx)
	if err != nil {
		return err
	}
	orgID, set, err := a.fetcher.FetchPermissions(fctx)
	if err != nil {
		return err
	}
	a.store(orgID, set, features, version)

	runCtx, stop := context.WithCancel(ctx)
	a.cancel = stop
	if err := a.subscriber.Start(runCtx); err != nil {
		stop()
		return err
	}

	a.wg.Add(1)
	go a.loop(runCtx)
	return nil
}

// Close ends the subscription. Cached answers stay readable.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.subscriber.Close()
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
	})
}

func (a *Agent) wake() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// loop refetches on every event and after every connect, since events sent
// while disconnected are lost.
func (a *Agent) loop(ctx context.Context) {
	defer a.wg.Done()
	events := a.subscriber.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.logger.Debug("permission change received", "type", e.Type)
		case <-a.kick:
		}
		_ = a.Refresh(ctx)
	}
}

// Refresh refetches the effective set and replaces the cached one.
// Concurrent calls share one fetch. On failure the cached set is kept and
// the error returned.
func (a *Agent) Refresh(ctx context.Context) error {
	_, err, _ := a.refresh.Do("permissions", func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, a.refreshTimeout)
		defer cancel()

		orgID, set, err := a.fetcher.FetchPermissions(fctx)
		if err != nil {
			staleCacheWarningsTotal.Inc()
			refreshesTotal.WithLabelValues("error").Inc()
			msg := err.Error()
			a.lastErr.Store(&msg)
			a.logger.Warn("permission refetch failed, keeping previous set",
				"generation", a.generation.Load(),
				"error", err,
			)
			return nil, err
		}

		var (
			features permission.FeatureMap
			version  string
		)
		if prev := a.current.Load(); prev != nil {
			features, version = prev.Features, prev.FeaturesVersion
		}
		a.store(orgID, set, features, version)
		refreshesTotal.WithLabelValues("ok").Inc()
		return nil, nil
	})
	return err
}

// RefreshFeatures reloads the feature map.
func (a *Agent) RefreshFeatures(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, a.refreshTimeout)
	defer cancel()

	features, version, err := a.fetcher.FetchFeatures(fctx)
	if err != nil {
		return err
	}
	prev := a.current.Load()
	if prev == nil {
		return errors.New("refresh features before initial fetch")
	}
	next := *prev
	next.Features, next.FeaturesVersion = features, version
	a.current.Store(&next)
	return nil
}

func (a *Agent) store(orgID shared.ID, set *accesscontrol.EffectivePermissionSet, features permission.FeatureMap, version string) {
	if set == nil {
		set = &accesscontrol.EffectivePermissionSet{}
	}
	gen := a.generation.Add(1)
	a.current.Store(&Snapshot{
		OrgID:           orgID,
		Set:             set,
		Features:        features,
		FeaturesVersion: version,
		Generation:      gen,
		FetchedAt:       a.now(),
	})
	a.lastErr.Store(nil)
	a.logger.Debug("permission set replaced", "generation", gen, "permissions", len(set.Permissions))
}

// Snapshot returns the cached fetch, or nil before Start succeeded.
func (a *Agent) Snapshot() *Snapshot {
	return a.current.Load()
}

// Generation returns the number of successful fetches.
func (a *Agent) Generation() uint64 {
	return a.generation.Load()
}

// Status reports connection and freshness state.
func (a *Agent) Status() Status {
	st := Status{
		State:      a.subscriber.State(),
		Connected:  a.subscriber.IsConnected(),
		Degraded:   a.subscriber.Degraded(),
		Generation: a.generation.Load(),
	}
	if snap := a.current.Load(); snap != nil {
		st.FetchedAt = snap.FetchedAt
	}
	if msg := a.lastErr.Load(); msg != nil {
		st.LastError = *msg
	}
	return st
}

// Reconnect resumes a degraded subscription.
func (a *Agent) Reconnect() {
	a.subscriber.Reconnect()
}

func (a *Agent) held() []permission.Permission {
	snap := a.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Set.ActiveAt(a.now()).Permissions
}

func toPermissions(raw []string) []permission.Permission {
	out := make([]permission.Permission, len(raw))
	for i, r := range raw {
		out[i] = permission.Permission(r)
	}
	return out
}

// HasPermission reports whether the cached set satisfies required.
func (a *Agent) HasPermission(required string) bool {
	return permission.HasPermission(a.held(), permission.Permission(required))
}

// HasAnyPermission reports whether at least one of required is held.
func (a *Agent) HasAnyPermission(required ...string) bool {
	return permission.HasAny(a.held(), toPermissions(required)...)
}

// HasAllPermissions reports whether every one of required is held.
func (a *Agent) HasAllPermissions(required ...string) bool {
	return permission.HasAll(a.held(), toPermissions(required)...)
}

// HasFeature reports whether the feature is unlocked. A feature key that is
// not in the feature map is allowed; before the first fetch nothing is.
func (a *Agent) HasFeature(key string) bool {
	snap := a.current.Load()
	if snap == nil {
		return false
	}
	return snap.Features.Allows(snap.Set.ActiveAt(a.now()).Permissions, key)
}

// Assignments returns the cached assignment summaries.
func (a *Agent) Assignments() []assignment.Summary {
	snap := a.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Set.ActiveAt(a.now()).Assignments
}

// Authorize evaluates a check against the cached set. The answer is
// advisory; the server re-checks every state-changing request.
func (a *Agent) Authorize(required string, sctx scope.Context, opts accesscontrol.CheckOptions) accesscontrol.Decision {
	snap := a.current.Load()
	if snap == nil {
		return accesscontrol.Deny(accesscontrol.ReasonInsufficientPermission)
	}
	subject := accesscontrol.Subject{UserID: snap.Set.UserID, OrgID: snap.OrgID}
	return a.engine.Authorize(subject, snap.Set, permission.Permission(required), sctx, opts)
}

// AccessibleLocations returns the locations the cached set reaches in the
// session organization.
func (a *Agent) AccessibleLocations() scope.LocationSet {
	snap := a.current.Load()
	if snap == nil {
		return scope.Only()
	}
	return a.engine.AccessibleLocations(snap.Set, snap.OrgID)
}
