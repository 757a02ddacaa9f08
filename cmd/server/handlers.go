package main

import (
	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/internal/infra/http/handler"
	"github.com/ehrconnect/authz/internal/infra/http/routes"
	"github.com/ehrconnect/authz/internal/infra/postgres"
	"github.com/ehrconnect/authz/internal/infra/redis"
	"github.com/ehrconnect/authz/internal/infra/websocket"
	"github.com/ehrconnect/authz/pkg/keycloak"
	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config    *config.Config
	Log       *logger.Logger
	Validator *validator.Validator
	DB        *postgres.DB
	Redis     *redis.Client
	Services  *Services
	Realm     *keycloak.Validator // nil when realm tokens are disabled
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	svc := deps.Services
	log := deps.Log

	checks := []handler.HealthHandlerOption{
		handler.WithDatabase(deps.DB),
		handler.WithRedis(deps.Redis),
	}
	if deps.Realm != nil {
		checks = append(checks, handler.WithCheck("jwks", deps.Realm))
	}

	return routes.Handlers{
		Health:     handler.NewHealthHandler(checks...),
		Authz:      handler.NewAuthzHandler(svc.Authorization, svc.Features, deps.Validator, log),
		Role:       handler.NewRoleHandler(svc.Role, deps.Validator, log),
		Assignment: handler.NewAssignmentHandler(svc.Assignment, deps.Validator, log),
		WebSocket:  websocket.NewHandler(svc.Hub, deps.Config.WebSocket.AllowedOrigins, log),
	}
}
