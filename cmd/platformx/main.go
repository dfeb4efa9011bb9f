// Command platformx boots the multi-tenant hosting front door.
//
// Startup sequence:
//  1. Load configuration (conf/.env, conf/platformx.yaml, PLATFORMX_* env).
//  2. Install the global zap logger with its rotating file sink.
//  3. Open the control-plane database.
//  4. Construct the stores, the tenant cache, the deploy pipeline, the
//     backup engine, and (in development) the file watcher.
//  5. Serve one HTTP listener: apex host → admin API, subdomains → tenants.
//  6. On SIGINT/SIGTERM run the supervisor's orderly shutdown.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/api"
	"github.com/yanizio/platformx/internal/auth"
	"github.com/yanizio/platformx/internal/backup"
	"github.com/yanizio/platformx/internal/config"
	"github.com/yanizio/platformx/internal/database"
	"github.com/yanizio/platformx/internal/deploy"
	"github.com/yanizio/platformx/internal/envstore"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/hostparse"
	"github.com/yanizio/platformx/internal/keymutex"
	"github.com/yanizio/platformx/internal/logger"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/requestinfo"
	"github.com/yanizio/platformx/internal/server"
	"github.com/yanizio/platformx/internal/settings"
	"github.com/yanizio/platformx/internal/supervisor"
	"github.com/yanizio/platformx/internal/tenant"
	"github.com/yanizio/platformx/internal/vault"
	"github.com/yanizio/platformx/internal/watcher"
	"github.com/yanizio/platformx/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	flush, err := logger.Init(cfg.Paths.Root, cfg.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer flush()

	if err := run(cfg); err != nil {
		zap.L().Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	// Control-plane database.
	db, err := database.OpenWithOptions(cfg.Database.GlobalDSN, cfg.Database.MaxOpenGlobal, 5)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, dir := range []string{cfg.Paths.AppsRoot, cfg.Paths.Backups, cfg.Paths.Uploads, cfg.Paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// Optional Vault client for encrypted settings.
	var vcli *vault.Client
	if vault.Enabled() {
		vcli, err = vault.New(context.Background(), zap.S().Debugf)
		if err != nil {
			return err
		}
	}

	// Stores and the per-slug lock map shared by cache and registry.
	locks := keymutex.New()
	reg := registry.New(db, cfg.Paths.AppsRoot, locks)
	events := eventlog.New(db, cfg.Paths.Logs)
	set := settings.New(db, vcli)
	hooks := webhook.New(events, cfg.Webhooks.Timeout, cfg.Webhooks.Enabled)

	// The cache, env store, and watcher are mutually referential; wire them
	// through late-bound closures.
	var cache *tenant.Cache
	evict := func(slug string) {
		if cache != nil {
			cache.Evict(slug)
		}
	}

	env := envstore.New(cfg.Paths.AppsRoot, evict)

	var watch *watcher.Watcher
	if cfg.WatchEnabled() {
		watch, err = watcher.New(cfg.Watch.Debounce, evict)
		if err != nil {
			return err
		}
		zap.L().Info("file watching enabled")
	}

	cache = tenant.New(reg, env, events, locks, watch, tenant.Options{
		TenantDSNBase: cfg.Database.TenantDSNBase,
		MaxOpenPerApp: cfg.Database.MaxOpenPerApp,
		MaxIdlePerApp: cfg.Database.MaxIdlePerApp,
		IdleTTL:       cfg.Cache.IdleTTL,
		MaxEntries:    cfg.Cache.MaxEntries,
		Dev:           cfg.Development,
	})
	reg.SetEvictFunc(cache.Evict)

	counter := tenant.NewCounter(reg.AddRequests)

	pipeline := deploy.New(reg, set, events, hooks, cache.Evict, deploy.Options{
		UploadsDir:      cfg.Paths.Uploads,
		MaxArchiveBytes: cfg.Deploy.MaxArchiveBytes,
		BuildTimeout:    cfg.Deploy.BuildTimeout,
		InstallTimeout:  cfg.Deploy.InstallTimeout,
		CloneTimeout:    cfg.Deploy.CloneTimeout,
	})

	backups := backup.New(cfg.Paths.Backups, reg, events, cache.Evict)

	authMgr := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL,
		cfg.Auth.AdminUser, cfg.Auth.AdminPassword)

	enricher := requestinfo.New(cfg.Paths.GeoIPDB)
	defer enricher.Close()

	apiServer := api.NewServer(api.Deps{
		Cfg:      cfg,
		Parser:   hostparse.New(cfg.HTTP.Apex),
		Registry: reg,
		Cache:    cache,
		Counter:  counter,
		Env:      env,
		Settings: set,
		Events:   events,
		Hooks:    hooks,
		Pipeline: pipeline,
		Backups:  backups,
		Auth:     authMgr,
		Enricher: enricher,
	})

	srv := server.New(cfg.HTTP.ListenAddr, apiServer.Handler())

	sup := supervisor.New(cache, counter, watch, srv, supervisor.Options{
		SweepInterval: cfg.Cache.SweepInterval,
		UploadsDir:    cfg.Paths.Uploads,
		ShutdownGrace: cfg.HTTP.ShutdownGrace,
	})
	if err := sup.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("listening",
			zap.String("addr", cfg.HTTP.ListenAddr),
			zap.String("apex", cfg.HTTP.Apex))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		zap.L().Info("signal received", zap.String("signal", s.String()))
	}

	sup.Stop()
	return nil
}
