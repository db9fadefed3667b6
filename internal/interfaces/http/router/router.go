package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar adds routes to the versioned API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// API is the versioned surface, /api/<version>, and the middleware every
// route under it runs. Routes registered on the engine directly stay outside.
type API struct {
	version    string
	middleware []gin.HandlerFunc
}

// NewAPI describes /api/<version>; an empty version means v1
func NewAPI(version string, middleware ...gin.HandlerFunc) API {
	if version == "" {
		version = "v1"
	}
	return API{version: version, middleware: middleware}
}

// Prefix is the path all versioned routes share
func (a API) Prefix() string {
	return "/api/" + a.version
}

// Mount registers every registrar under Prefix
func (a API) Mount(engine *gin.Engine, registrars ...RouteRegistrar) {
	group := engine.Group(a.Prefix(), a.middleware...)
	for _, r := range registrars {
		r.RegisterRoutes(group)
	}
}

// Resource is the route table of one resource collection, e.g. /budgets
type Resource struct {
	prefix string
	guards []gin.HandlerFunc
	routes []endpoint
}

type endpoint struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func NewResource(prefix string) *Resource {
	return &Resource{prefix: prefix}
}

// With adds middleware that runs only for this resource's routes
func (r *Resource) With(guards ...gin.HandlerFunc) *Resource {
	r.guards = append(r.guards, guards...)
	return r
}

func (r *Resource) GET(p string, h ...gin.HandlerFunc) *Resource  { return r.add(http.MethodGet, p, h) }
func (r *Resource) POST(p string, h ...gin.HandlerFunc) *Resource { return r.add(http.MethodPost, p, h) }
func (r *Resource) PUT(p string, h ...gin.HandlerFunc) *Resource  { return r.add(http.MethodPut, p, h) }

func (r *Resource) add(method, p string, handlers []gin.HandlerFunc) *Resource {
	r.routes = append(r.routes, endpoint{method: method, path: p, handlers: handlers})
	return r
}

func (r *Resource) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(r.prefix, r.guards...)
	for _, e := range r.routes {
		group.Handle(e.method, e.path, e.handlers...)
	}
}

// Endpoints lists the table as "METHOD /prefix/path", relative to the API prefix
func (r *Resource) Endpoints() []string {
	out := make([]string, len(r.routes))
	for i, e := range r.routes {
		full := r.prefix
		if e.path != "" {
			full = path.Join(r.prefix, e.path)
		}
		out[i] = e.method + " " + full
	}
	return out
}

// Resources registers several tables as one
type Resources []*Resource

func (rs Resources) RegisterRoutes(rg *gin.RouterGroup) {
	for _, r := range rs {
		r.RegisterRoutes(rg)
	}
}

func (rs Resources) Endpoints() []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Endpoints()...)
	}
	return out
}
