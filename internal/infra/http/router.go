package http

import (
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is the routing surface handlers are registered on. Route-level
// middleware is applied in order, the first one outermost.
type Router interface {
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PUT(path string, handler http.HandlerFunc, middlewares ...Middleware)
	DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Handle mounts a plain http.Handler, e.g. the metrics exporter.
	Handle(method, path string, handler http.Handler)

	// Group registers routes under prefix with group-wide middleware.
	Group(prefix string, fn func(Router), middlewares ...Middleware)

	// Use adds middleware to every route registered afterwards.
	Use(middlewares ...Middleware)

	Handler() http.Handler

	// Walk visits every registered route.
	Walk(fn func(method, path string, handler http.Handler) error) error
}

// Chain applies middlewares to a handler, the first one outermost.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
