// Package routes registers the HTTP routes of the authorization API.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/ehrconnect/authz/internal/infra/http"
	"github.com/ehrconnect/authz/internal/infra/http/handler"
	"github.com/ehrconnect/authz/internal/infra/http/middleware"
	"github.com/ehrconnect/authz/internal/infra/websocket"
	"github.com/ehrconnect/authz/pkg/domain/permission"
	"github.com/ehrconnect/authz/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health     *handler.HealthHandler
	Authz      *handler.AuthzHandler
	Role       *handler.RoleHandler
	Assignment *handler.AssignmentHandler
	WebSocket  *websocket.Handler // nil disables /api/v1/ws
}

// Deps are what route-level middleware needs.
type Deps struct {
	Tokens     middleware.TokenValidator
	Authorizer middleware.Authorizer
	Log        *logger.Logger
}

// Register registers all application routes.
func Register(router Router, h Handlers, d Deps) {
	registerHealthRoutes(router, h.Health)

	auth := Middleware(middleware.Auth(d.Tokens, d.Log))
	require := func(p permission.Permission) Middleware {
		return middleware.RequireOrgPermission(d.Authorizer, p.String(), d.Log)
	}

	registerAuthzRoutes(router, h.Authz, auth, require)
	registerRoleRoutes(router, h.Role, auth, require)
	registerAssignmentRoutes(router, h.Assignment, auth, require)

	if h.WebSocket != nil {
		router.GET("/api/v1/ws", h.WebSocket.ServeWS, auth)
	}
}

func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.Handle(http.MethodGet, "/metrics", promhttp.Handler())
}

// registerAuthzRoutes registers the caller's own permission data. Any
// authenticated session may read its own set.
func registerAuthzRoutes(router Router, h *handler.AuthzHandler, auth Middleware, require func(permission.Permission) Middleware) {
	router.GET("/api/v1/me/permissions", h.MyPermissions, auth)
	router.GET("/api/v1/me/locations", h.MyLocations, auth)
	router.POST("/api/v1/authorize", h.Authorize, auth)
	router.GET("/api/v1/features", h.Features, auth)
	router.GET("/api/v1/permissions/matrix", h.Matrix, auth, require(permission.PermissionsRead))
}

func registerRoleRoutes(router Router, h *handler.RoleHandler, auth Middleware, require func(permission.Permission) Middleware) {
	router.Group("/api/v1/roles", func(r Router) {
		r.GET("/", h.List, require(permission.RolesRead))
		r.POST("/", h.Create, require(permission.RolesCreate))
		r.GET("/{id}", h.Get, require(permission.RolesRead))
		r.PUT("/{id}/permissions", h.UpdatePermissions, require(permission.RolesEdit))
		r.DELETE("/{id}", h.Delete, require(permission.RolesDelete))
	}, auth)
}

func registerAssignmentRoutes(router Router, h *handler.AssignmentHandler, auth Middleware, require func(permission.Permission) Middleware) {
	router.Group("/api/v1/assignments", func(r Router) {
		r.POST("/", h.Grant, require(permission.StaffEdit))
		r.POST("/{id}/revoke", h.Revoke, require(permission.StaffEdit))
	}, auth)

	router.GET("/api/v1/users/{id}/assignments", h.ListForUser, auth, require(permission.StaffRead))
}
