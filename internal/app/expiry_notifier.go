package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ehrconnect/authz/internal/metrics"
	"github.com/ehrconnect/authz/pkg/domain/assignment"
	"github.com/ehrconnect/authz/pkg/domain/event"
	"github.com/ehrconnect/authz/pkg/logger"
)

// ExpiryNotifierConfig holds configuration for the expiry notifier.
type ExpiryNotifierConfig struct {
	// Schedule is a cron spec (default: every minute).
	Schedule string

	// Lookback is the window covered by the first run after start (default: 10 minutes).
	Lookback time.Duration

	// RunTimeout bounds a single run (default: 30 seconds).
	RunTimeout time.Duration
}

// DefaultExpiryNotifierConfig returns default configuration.
func DefaultExpiryNotifierConfig() ExpiryNotifierConfig {
	return ExpiryNotifierConfig{
		Schedule:   "@every 1m",
		Lookback:   10 * time.Minute,
		RunTimeout: 30 * time.Second,
	}
}

// ExpiryNotifier publishes a role_revoked hint for every assignment whose
// expiry passed since the previous run. Expiry itself is evaluated at read
// time; the notifier only tells connected clients to refetch. Expired rows
// are left in place.
type ExpiryNotifier struct {
	assignments assignment.Repository
	events      EventPublisher
	sync        *PermissionSync
	config      ExpiryNotifierConfig
	logger      *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	cron    *cron.Cron
}

// NewExpiryNotifier creates a new ExpiryNotifier.
func NewExpiryNotifier(
	assignments assignment.Repository,
	events EventPublisher,
	ps *PermissionSync,
	cfg ExpiryNotifierConfig,
	log *logger.Logger,
) *ExpiryNotifier {
	def := DefaultExpiryNotifierConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	return &ExpiryNotifier{
		assignments: assignments,
		events:      events,
		sync:        ps,
		config:      cfg,
		logger:      log.With("component", "expiry_notifier"),
		now:         time.Now,
	}
}

// Start schedules the notifier.
func (n *ExpiryNotifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cron != nil {
		return nil
	}
	if n.lastRun.IsZero() {
		n.lastRun = n.now().Add(-n.config.Lookback)
	}

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{n.logger}), cron.SkipIfStillRunning(cronLogger{n.logger})))
	if _, err := c.AddFunc(n.config.Schedule, n.tick); err != nil {
		return fmt.Errorf("invalid expiry schedule %q: %w", n.config.Schedule, err)
	}
	c.Start()
	n.cron = c

	n.logger.Info("expiry notifier started", "schedule", n.config.Schedule)
	return nil
}

// Stop stops the schedule and waits for a running pass to finish.
func (n *ExpiryNotifier) Stop() {
	n.mu.Lock()
	c := n.cron
	n.cron = nil
	n.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	n.logger.Info("expiry notifier stopped")
}

func (n *ExpiryNotifier) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.RunTimeout)
	defer cancel()
	if _, err := n.RunOnce(ctx); err != nil {
		n.logger.Error("expiry notifier run failed", "error", err)
	}
}

// RunOnce publishes hints for assignments that expired in (lastRun, now] and
// advances lastRun. A failed run leaves the window open for the next one.
func (n *ExpiryNotifier) RunOnce(ctx context.Context) (int, error) {
	n.mu.Lock()
	from := n.lastRun
	n.mu.Unlock()

	to := n.now()
	if from.IsZero() {
		from = to.Add(-n.config.Lookback)
	}
	if !to.After(from) {
		return 0, nil
	}

	expired, err := n.assignments.ListExpiredBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	for _, a := range expired {
		n.sync.Touch(ctx, a.UserID())
		data := assignmentData(a, "expired")
		data["expiresAt"] = a.ExpiresAt().UTC().Format(time.RFC3339)
		emit(ctx, n.events, n.logger, event.ForUser(event.TypeRoleRevoked, a.UserID(), a.OrgID(), data))
		metrics.ExpiryHintsTotal.Inc()
	}

	n.mu.Lock()
	n.lastRun = to
	n.mu.Unlock()

	if len(expired) > 0 {
		n.logger.Info("expiry hints published", "count", len(expired), "from", from, "to", to)
	}
	return len(expired), nil
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
