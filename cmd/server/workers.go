package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/internal/infra/controller"
	"github.com/ehrconnect/authz/internal/infra/jobs"
	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/pkg/keycloak"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Workers holds the background loops that run next to the HTTP server.
type Workers struct {
	config   *config.Config
	log      *logger.Logger
	redis    *redis.Client
	services *Services

	controllers *controller.Manager
	jobWorker   *jobs.Worker // nil when disabled
	stopPool    func()
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Repos    *Repositories
	Redis    *redis.Client
	Services *Services
	Realm    *keycloak.Validator // nil when realm tokens are disabled
}

// NewWorkers creates the background workers.
func NewWorkers(deps *WorkerDeps) *Workers {
	cfg := deps.Config
	svc := deps.Services

	w := &Workers{
		config:      cfg,
		log:         deps.Log,
		redis:       deps.Redis,
		services:    svc,
		controllers: controller.NewManager(deps.Log),
	}
	w.controllers.Register(controller.NewFacilityController(svc.Facilities, deps.Repos.Facility, cfg.Authz.FacilityRefreshInterval))
	w.controllers.Register(controller.NewPolicyController(svc.Features, cfg.Authz.FeatureRefreshInterval))
	if deps.Realm != nil {
		w.controllers.Register(controller.NewKeySetController(deps.Realm, cfg.Auth.KeycloakRefreshInterval))
	}

	if cfg.Worker.Enabled {
		w.jobWorker = jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Concurrency:   cfg.Worker.Concurrency,
		}, svc.Role, deps.Log)
	}
	return w
}

// Start subscribes to cross-instance events, then launches every loop on g.
// Loops stop when ctx ends.
func (w *Workers) Start(ctx context.Context, g *errgroup.Group) error {
	svc := w.services

	if err := svc.Notifier.StartListener(ctx); err != nil {
		return fmt.Errorf("permission notifier: %w", err)
	}
	if err := svc.Expiry.Start(); err != nil {
		return err
	}
	w.stopPool = redis.StartPoolStatsCollector(ctx, w.redis, 15*time.Second)

	g.Go(func() error {
		svc.Hub.Run(ctx)
		return nil
	})
	g.Go(func() error { return w.controllers.Run(ctx) })
	if w.jobWorker != nil {
		g.Go(func() error { return w.jobWorker.Run(ctx) })
	}

	w.log.Info("workers started",
		"controllers", w.controllers.Names(),
		"job_worker", w.jobWorker != nil,
	)
	return nil
}

// Stop stops the loops that are not bound to the run context.
func (w *Workers) Stop() {
	w.services.Expiry.Stop()
	if w.stopPool != nil {
		w.stopPool()
	}
	w.log.Info("workers stopped")
}
