// Package router assembles the ops HTTP engine
package router

import (
	"time"

	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/interfaces/http/handler"
	"github.com/delivery/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	registrars []RouteRegistrar
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine) *Router {
	return &Router{engine: engine}
}

// Register adds a RouteRegistrar to be registered by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes at the engine root
func (r *Router) Setup() {
	root := &r.engine.RouterGroup
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(root)
	}
	var base handler.BaseHandler
	r.engine.NoRoute(base.NoRoute)
}

// Options configures the middleware chain
type Options struct {
	Logger         *zap.Logger
	ServiceName    string
	Tracing        bool
	Meter          metric.Meter
	RequestTimeout time.Duration
}

// NewEngine builds a gin engine with the standard middleware chain and the given routes
func NewEngine(opts Options, registrars ...RouteRegistrar) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.Tracing(middleware.TracingConfig{ServiceName: opts.ServiceName, Enabled: opts.Tracing}),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(opts.Meter, opts.Meter != nil),
		middleware.Secure(),
		middleware.Timeout(opts.RequestTimeout),
	)

	r := NewRouter(engine)
	for _, registrar := range registrars {
		r.Register(registrar)
	}
	r.Setup()
	return engine
}
