// Command server runs the authorization API: effective permission sets,
// authorization checks, role and assignment management, and the change event
// WebSocket feed.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/internal/infra/http"
	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/internal/infra/http/routes"
	"github.com/ehrconnect/authz/internal/infra/postgres"
	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/internal/infra/tracing"
	"github.com/ehrconnect/authz/pkg/jwt"
	"github.com/ehrconnect/authz/pkg/keycloak"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json")
	routeMethod = flag.String("route-method", "", "Filter routes by HTTP method")
	routePath   = flag.String("route-path", "", "Filter routes containing this path")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	shutdownTracing, err := tracing.Setup(ctx, cfg.App, cfg.Tracing, log)
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.AutoMigrate {
		n, err := db.Migrate(ctx, log)
		if err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
		log.Info("migrations applied", "count", n)
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos := NewRepositories(db)

	services, err := NewServices(ctx, &ServiceDeps{
		Config:      cfg,
		Log:         log,
		Repos:       repos,
		RedisClient: redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	defer closeWithLog(services, "job client", log)
	log.Info("services initialized")

	// ==========================================================================
	// HTTP
	// ==========================================================================
	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.JWTIssuer,
		AccessTokenDuration: cfg.Auth.AccessTokenDuration,
	})
	validators := middleware.TokenValidators{tokens}

	var realm *keycloak.Validator
	if cfg.Auth.KeycloakEnabled() {
		realm, err = keycloak.NewValidator(keycloak.Config{
			JWKSURL:  cfg.Auth.KeycloakJWKSURL,
			Issuer:   cfg.Auth.KeycloakIssuer,
			Audience: cfg.Auth.KeycloakAudience,
			OrgClaim: cfg.Auth.KeycloakOrgClaim,
		})
		if err != nil {
			log.Error("failed to configure keycloak", "error", err)
			return 1
		}
		// The key set controller retries; readiness reports missing keys.
		if n, err := realm.Refresh(ctx); err != nil {
			log.Warn("initial JWKS fetch failed", "error", err)
		} else {
			log.Info("keycloak keys loaded", "keys", n)
		}
		validators = append(validators, realm)
	}

	handlers := NewHandlers(&HandlerDeps{
		Config:    cfg,
		Log:       log,
		Validator: validator.New(),
		DB:        db,
		Redis:     redisClient,
		Services:  services,
		Realm:     realm,
	})

	server := http.NewServer(cfg, log)
	routes.Register(server.Router(), handlers, routes.Deps{
		Tokens:     validators,
		Authorizer: services.Authorization,
		Log:        log,
	})

	if *showRoutes {
		list := http.CollectRoutes(server.Router(), http.RouteFilters{Method: *routeMethod, Path: *routePath})
		if err := http.PrintRoutes(os.Stdout, list, *routeFormat); err != nil {
			return 1
		}
		return 0
	}

	// ==========================================================================
	// Run
	// ==========================================================================
	workers := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Repos:    repos,
		Redis:    redisClient,
		Services: services,
		Realm:    realm,
	})

	g, gctx := errgroup.WithContext(ctx)
	if err := workers.Start(gctx, g); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	log.Info("application started", "http_addr", cfg.Server.Addr())

	err = g.Wait()
	workers.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("application stopped with error", "error", err)
		return 1
	}
	log.Info("application stopped")
	return 0
}

func initLogger(cfg *config.Config) *logger.Logger {
	sampling := logger.DefaultSamplingConfig()
	sampling.Enabled = cfg.Log.SamplingEnabled
	log := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Sampling: sampling,
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
