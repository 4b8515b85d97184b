// Package router assembles the gin engines of the agent API and the
// reference store RPC API.
package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts registrars under a versioned prefix such as /api/v1 or /rpc/v1
type Router struct {
	engine     *gin.Engine
	basePath   string
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version segment (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithBasePath sets the first path segment (e.g., "api", "rpc")
func WithBasePath(base string) RouterOption {
	return func(r *Router) {
		r.basePath = base
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		basePath:   "api",
		apiVersion: "v1",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Prefix returns the path every registrar is mounted under
func (r *Router) Prefix() string {
	return "/" + r.basePath + "/" + r.apiVersion
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	group := r.engine.Group(r.Prefix())
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(group)
	}
}
