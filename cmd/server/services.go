package main

import (
	"context"
	"fmt"

	"github.com/ehrconnect/authz/internal/app"
	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/internal/infra/eventbus"
	"github.com/ehrconnect/authz/internal/infra/jobs"
	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/internal/infra/websocket"
	"github.com/ehrconnect/authz/internal/policy"
	"github.com/ehrconnect/authz/pkg/domain/accesscontrol"
	"github.com/ehrconnect/authz/pkg/domain/facility"
	"github.com/ehrconnect/authz/pkg/domain/scope"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Services holds the application services and the in-process plumbing they
// share.
type Services struct {
	Bus        *eventbus.Bus
	Notifier   *redis.PermissionNotifier
	Hub        *websocket.Hub
	Facilities *facility.Live
	Sync       *app.PermissionSync
	Jobs       *jobs.Client // nil when the worker is disabled

	Features      *app.FeatureService
	Authorization *app.AuthorizationService
	Role          *app.RoleService
	Assignment    *app.AssignmentService
	Expiry        *app.ExpiryNotifier
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	Repos       *Repositories
	RedisClient *redis.Client
}

// NewServices wires the services, loads the policy document and seeds the
// system roles it defines.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	s := &Services{
		Bus: eventbus.New(
			eventbus.WithShards(cfg.Events.Shards),
			eventbus.WithBuffer(cfg.Events.SubscriberBuffer),
		),
		Facilities: facility.NewLive(nil),
	}
	s.Notifier = redis.NewPermissionNotifier(deps.RedisClient, cfg.Events.Channel, s.Bus, log)
	s.Hub = websocket.NewHub(s.Bus, log,
		websocket.WithMaxConnectionsPerUser(cfg.WebSocket.MaxConnectionsPerUser),
	)

	if err := s.Facilities.Reload(ctx, repos.Facility); err != nil {
		log.Warn("initial facility load failed, starting with an empty directory", "error", err)
	}

	cache, err := app.NewPermissionCacheService(deps.RedisClient, cfg.Authz.CacheTTL, log)
	if err != nil {
		return nil, fmt.Errorf("permission cache: %w", err)
	}
	versions := app.NewPermissionVersionService(deps.RedisClient, log)
	s.Sync = &app.PermissionSync{Cache: cache, Versions: versions}

	engine := accesscontrol.NewEngine(scope.NewResolver(
		scope.WithDepartmentLocationVisibility(cfg.Authz.DepartmentLocationVisibility),
		scope.WithDepartmentDirectory(s.Facilities),
	))

	s.Authorization = app.NewAuthorizationService(repos.Assignment, repos.Role, engine, log,
		app.WithAuthzCache(cache),
		app.WithAuthzVersions(versions),
		app.WithAuthzLabels(s.Facilities),
	)

	roleOpts := []app.RoleServiceOption{
		app.WithRoleEvents(s.Notifier),
		app.WithRolePermissionSync(s.Sync),
	}
	if cfg.Worker.Enabled {
		s.Jobs = jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		}, log)
		roleOpts = append(roleOpts, app.WithRoleMembersInvalidator(s.Jobs, cfg.Authz.InlineInvalidationLimit))
	}
	s.Role = app.NewRoleService(repos.Role, log, roleOpts...)

	s.Assignment = app.NewAssignmentService(repos.Assignment, repos.Role, log,
		app.WithAssignmentEvents(s.Notifier),
		app.WithAssignmentPermissionSync(s.Sync),
		app.WithAssignmentFacilities(s.Facilities),
	)

	s.Expiry = app.NewExpiryNotifier(repos.Assignment, s.Notifier, s.Sync, app.ExpiryNotifierConfig{
		Schedule: cfg.Authz.ExpirySchedule,
		Lookback: cfg.Authz.ExpiryLookback,
	}, log)

	source, err := policy.NewSource(ctx, cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy source: %w", err)
	}
	doc, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if _, err := s.Role.SeedSystemRoles(ctx, doc); err != nil {
		return nil, fmt.Errorf("seed system roles: %w", err)
	}

	s.Features = app.NewFeatureService(source, log)
	if _, err := s.Features.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load feature map: %w", err)
	}
	return s, nil
}

// Close releases the job client.
func (s *Services) Close() error {
	if s.Jobs == nil {
		return nil
	}
	return s.Jobs.Close()
}
