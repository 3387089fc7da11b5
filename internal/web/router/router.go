// Package router serves the registered JSON:API resources over chi.
//
// Every resource type gets the same endpoints:
//
//	GET    /{type}                              collection
//	POST   /{type}                              create
//	GET    /{type}/{id}                         object
//	PATCH  /{type}/{id}                         update
//	DELETE /{type}/{id}                         delete
//	GET    /{type}/{id}/{field}                 related object or collection
//	GET    /{type}/{id}/relationships/{field}   relationship linkage
//	POST   /{type}/{id}/relationships/{field}   add to a relationship
//	PATCH  /{type}/{id}/relationships/{field}   replace a relationship
//	DELETE /{type}/{id}/relationships/{field}   remove from a relationship
//
// Each request runs in its own unit of work.
package router

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/conduit-lang/jsonapi/internal/jsonapi/datalayer"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/querystring"
	"github.com/conduit-lang/jsonapi/internal/jsonapi/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/hooks"
	"github.com/conduit-lang/jsonapi/internal/orm/query"
	ormschema "github.com/conduit-lang/jsonapi/internal/orm/schema"
	"github.com/conduit-lang/jsonapi/internal/orm/session"
	"github.com/conduit-lang/jsonapi/internal/web/middleware"
	"github.com/conduit-lang/jsonapi/internal/web/request"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Option configures a Router
type Option func(*Router)

// WithLogger sets the logger used by the router, its middleware and the data layers
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueryConfig sets the limits applied to query strings
func WithQueryConfig(cfg querystring.Config) Option {
	return func(r *Router) {
		r.queryConfig = cfg
	}
}

// WithPrefix mounts every route under prefix, e.g. "/api"
func WithPrefix(prefix string) Option {
	return func(r *Router) {
		r.prefix = "/" + strings.Trim(prefix, "/")
		if r.prefix == "/" {
			r.prefix = ""
		}
	}
}

// WithResourceHooks sets the data layer hooks of one resource type
func WithResourceHooks(typ string, h datalayer.Hooks) Option {
	return func(r *Router) {
		r.resourceHooks[typ] = h
	}
}

// WithModelHooks sets the commit hooks of every unit of work
func WithModelHooks(reg *hooks.Registry) Option {
	return func(r *Router) {
		r.modelHooks = reg
	}
}

// WithMiddleware appends middleware run before the JSON:API handlers
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(r *Router) {
		r.extra = append(r.extra, m...)
	}
}

// Router manages HTTP routing using chi framework
type Router struct {
	mux     chi.Router
	db      *sql.DB
	dialect query.Dialect
	models  *ormschema.Registry
	schemas *schema.Registry

	queryConfig   querystring.Config
	queries       *querystring.Parser
	bodies        *request.Parser
	resourceHooks map[string]datalayer.Hooks
	modelHooks    *hooks.Registry
	extra         []middleware.Middleware
	logger        *zap.Logger
	prefix        string
}

// RouteInfo describes one registered route
type RouteInfo struct {
	Method  string
	Pattern string
}

// New creates a router serving every schema of schemas with a model binding
func New(db *sql.DB, dialect query.Dialect, models *ormschema.Registry, schemas *schema.Registry, opts ...Option) *Router {
	r := &Router{
		mux:           chi.NewRouter(),
		db:            db,
		dialect:       dialect,
		models:        models,
		schemas:       schemas,
		queryConfig:   querystring.DefaultConfig(),
		bodies:        request.NewParser(),
		resourceHooks: make(map[string]datalayer.Hooks),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queries = querystring.NewParser(schemas, r.queryConfig)

	base := middleware.NewChain(
		middleware.RequestID(),
		middleware.Logging(r.logger),
		middleware.Recovery(r.logger),
		middleware.ContentNegotiation(),
	).Extend(r.extra...)

	r.mux.Use(base.Middlewares()...)
	r.mux.NotFound(notFound)
	r.mux.MethodNotAllowed(methodNotAllowed)
	if r.prefix == "" {
		r.registerRoutes(r.mux)
	} else {
		r.mux.Route(r.prefix, r.registerRoutes)
	}
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Routes returns the registered routes
func (r *Router) Routes() []RouteInfo {
	var routes []RouteInfo
	chi.Walk(r.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, RouteInfo{Method: method, Pattern: strings.TrimSuffix(route, "/")})
		return nil
	})
	return routes
}

// newSession opens the unit of work of one request
func (r *Router) newSession() *session.Session {
	opts := []session.Option{session.WithLogger(r.logger)}
	if r.modelHooks != nil {
		opts = append(opts, session.WithHooks(r.modelHooks))
	}
	return session.New(r.db, r.dialect, r.models, opts...)
}

// dataLayer builds the data layer of resource type s over sess
func (r *Router) dataLayer(sess *session.Session, s *schema.Schema) (*datalayer.DataLayer, error) {
	opts := []datalayer.Option{datalayer.WithLogger(r.logger)}
	if h, ok := r.resourceHooks[s.Type]; ok {
		opts = append(opts, datalayer.WithHooks(h))
	}
	return datalayer.New(sess, s, r.schemas, opts...)
}
