package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artisan-market/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Group names a route group mounted under the API prefix.
type Group string

const (
	GroupCart     Group = "cart"
	GroupOrders   Group = "orders"
	GroupCoupons  Group = "coupons"
	GroupShows    Group = "shows"
	GroupTickets  Group = "tickets"
	GroupAdmin    Group = "admin"
	GroupWebhooks Group = "webhooks"
	GroupInternal Group = "internal"
)

// groups lists every group in mount order. Groups without a registrar answer 501.
var groups = []Group{
	GroupCart,
	GroupOrders,
	GroupCoupons,
	GroupShows,
	GroupTickets,
	GroupAdmin,
	GroupWebhooks,
	GroupInternal,
}

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

type groupConfig struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler
	groups      map[Group]*groupConfig
}

func (cfg *routerConfig) group(name Group) *groupConfig {
	g, ok := cfg.groups[name]
	if !ok {
		g = &groupConfig{}
		cfg.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: probes and metrics at the root, every group under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout: defaultTimeout,
		groups:  make(map[Group]*groupConfig, len(groups)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(defaultAPIPrefix, func(api chi.Router) {
		for _, name := range groups {
			name := name
			g := cfg.group(name)
			api.Route("/"+string(name), func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware, run after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds each request's context. Non-positive values keep the default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes the Prometheus scrape endpoint at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithRoutes mounts reg under /api/v1/<group>.
func WithRoutes(group Group, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(group).registrar = reg
	}
}

// WithGroupMiddleware guards one group, for example webhooks behind signature checks.
// It applies even when the group has no registrar.
func WithGroupMiddleware(group Group, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(group)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, group Group) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", string(group)+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
