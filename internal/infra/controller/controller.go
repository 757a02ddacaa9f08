// Package controller runs periodic reconcile loops that keep in-memory
// authorization state in line with its sources: the facility directory and
// the policy document.
//
// Each controller runs in its own goroutine. A failed reconcile is logged and
// counted and the loop carries on; the previous state stays in place.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ehrconnect/authz/pkg/logger"
)

// Controller is one reconcile loop.
type Controller interface {
	Name() string
	Interval() time.Duration

	// Reconcile must be idempotent. It returns the number of items it
	// processed.
	Reconcile(ctx context.Context) (int, error)
}

// Manager runs registered controllers until its context ends.
type Manager struct {
	controllers []Controller
	logger      *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewManager creates a new controller manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{logger: log.With("component", "controller_manager")}
}

// Register adds a controller. It panics once the manager runs.
func (m *Manager) Register(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		panic("cannot register controllers while manager is running")
	}
	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered", "name", c.Name(), "interval", c.Interval().String())
}

// Names returns the registered controller names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.controllers))
	for i, c := range m.controllers {
		names[i] = c.Name()
	}
	return names
}

// Run reconciles every controller once, then on its interval, until ctx is
// done.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("controller manager already running")
	}
	m.running = true
	controllers := append([]Controller(nil), m.controllers...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.logger.Info("starting controller manager", "controller_count", len(controllers))

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, c)
		}()
	}
	wg.Wait()

	m.logger.Info("controller manager stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context, c Controller) {
	name := c.Name()
	controllerRunning.WithLabelValues(name).Set(1)
	defer controllerRunning.WithLabelValues(name).Set(0)

	m.ReconcileOnce(ctx, c)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReconcileOnce(ctx, c)
		}
	}
}

// ReconcileOnce runs one reconcile of c bounded by its interval.
func (m *Manager) ReconcileOnce(ctx context.Context, c Controller) {
	name := c.Name()
	rctx, cancel := context.WithTimeout(ctx, c.Interval())
	defer cancel()

	start := time.Now()
	count, err := c.Reconcile(rctx)
	duration := time.Since(start)

	recordReconcile(name, count, duration, err)
	if err != nil {
		m.logger.Error("controller reconcile failed",
			"name", name,
			"duration", duration,
			"error", err,
		)
		return
	}
	m.logger.Debug("controller reconcile completed",
		"name", name,
		"items_processed", count,
		"duration", duration,
	)
}
