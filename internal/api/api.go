// Package api wires the front door and the admin surface.  One root
// handler classifies every request by Host header: the apex serves the
// JSON admin API, a recognised subdomain forwards into the tenant cache,
// anything else is a 404 at the edge.
package api

import (
	"time"

	"github.com/yanizio/platformx/internal/auth"
	"github.com/yanizio/platformx/internal/backup"
	"github.com/yanizio/platformx/internal/config"
	"github.com/yanizio/platformx/internal/deploy"
	"github.com/yanizio/platformx/internal/envstore"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/hostparse"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/requestinfo"
	"github.com/yanizio/platformx/internal/settings"
	"github.com/yanizio/platformx/internal/tenant"
	"github.com/yanizio/platformx/internal/webhook"
)

// Deps collect every collaborator the handlers touch.
type Deps struct {
	Cfg      *config.Config
	Parser   *hostparse.Parser
	Registry *registry.Registry
	Cache    *tenant.Cache
	Counter  *tenant.Counter
	Env      *envstore.Store
	Settings *settings.Store
	Events   *eventlog.Logger
	Hooks    *webhook.Dispatcher
	Pipeline *deploy.Pipeline
	Backups  *backup.Engine
	Auth     *auth.Manager
	Enricher *requestinfo.Enricher
}

// Server owns the handler tree.
type Server struct {
	Deps
	requestTimeout time.Duration
}

// NewServer builds a Server from its dependencies.
func NewServer(d Deps) *Server {
	return &Server{Deps: d, requestTimeout: d.Cfg.HTTP.RequestTimeout}
}
