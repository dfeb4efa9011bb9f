// Typed configuration model for PlatformX.
//
// These structs define the shape of the configuration tree that
// internal/config/loader.go builds from three overlay layers:
//
//   - optional `.env`                             – dotenv values,
//   - `conf/platformx.yaml`                       – primary static file,
//   - `PLATFORMX_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with "vault:" is resolved through the Vault
// client before unmarshalling, so the model never stores Vault URIs, only
// plain strings.  Validation happens immediately after unmarshal; the
// process fails fast if required fields are missing.
//
// Struct tags use `koanf:"…"`; Koanf ignores `yaml` tags unless configured
// otherwise.  The Paths block is filled at runtime and must not be set from
// YAML.
package config

import "time"

// HTTP holds front-door tunables.
type HTTP struct {
	ListenAddr     string        `koanf:"listen_addr" validate:"required,hostname_port"`
	Apex           string        `koanf:"apex" validate:"required,hostname"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace"`
}

// Database holds the control-plane DSN and the per-tenant DSN template.
// The tenant template must contain a %s placeholder for the namespace.
type Database struct {
	GlobalDSN     string `koanf:"global_dsn" validate:"required"`
	TenantDSNBase string `koanf:"tenant_dsn_base" validate:"required,contains=%s"`
	MaxOpenGlobal int    `koanf:"max_open_global"`
	MaxOpenPerApp int    `koanf:"max_open_per_app"`
	MaxIdlePerApp int    `koanf:"max_idle_per_app"`
}

// Auth holds the admin API credentials and JWT signing material.
type Auth struct {
	JWTSecret     string        `koanf:"jwt_secret" validate:"required,min=16"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
	AdminUser     string        `koanf:"admin_user" validate:"required"`
	AdminPassword string        `koanf:"admin_password" validate:"required"`
}

// Cache holds tenant-cache tunables.
type Cache struct {
	IdleTTL       time.Duration `koanf:"idle_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	MaxEntries    int           `koanf:"max_entries"`
}

// Deploy holds build-pipeline tunables.
type Deploy struct {
	MaxArchiveBytes int64         `koanf:"max_archive_bytes"`
	BuildTimeout    time.Duration `koanf:"build_timeout"`
	InstallTimeout  time.Duration `koanf:"install_timeout"`
	CloneTimeout    time.Duration `koanf:"clone_timeout"`
}

// Watch holds file-watcher settings.  Watching defaults on in development
// and off in production.
type Watch struct {
	Enabled  *bool         `koanf:"enabled"`
	Debounce time.Duration `koanf:"debounce"`
}

// Webhooks holds the dispatcher switch and delivery timeout.
type Webhooks struct {
	Enabled bool          `koanf:"enabled"`
	Timeout time.Duration `koanf:"timeout"`
}

// Paths is resolved at runtime, never set in YAML or env.  Root is
// PLATFORMX_ROOT or discovered; the rest are derived from it.
type Paths struct {
	Root     string
	AppsRoot string
	Backups  string
	Uploads  string
	Logs     string
	GeoIPDB  string
}

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	Development bool     `koanf:"development"`
	HTTP        HTTP     `koanf:"http"`
	Database    Database `koanf:"database"`
	Auth        Auth     `koanf:"auth"`
	Cache       Cache    `koanf:"cache"`
	Deploy      Deploy   `koanf:"deploy"`
	Watch       Watch    `koanf:"watch"`
	Webhooks    Webhooks `koanf:"webhooks"`
	Paths       Paths    `koanf:"-"`
}

// WatchEnabled resolves the tri-state watch switch: explicit setting wins,
// otherwise development mode decides.
func (c *Config) WatchEnabled() bool {
	if c.Watch.Enabled != nil {
		return *c.Watch.Enabled
	}
	return c.Development
}

// applyDefaults fills zero values after unmarshal so YAML stays minimal.
func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":5000"
	}
	if c.HTTP.Apex == "" {
		c.HTTP.Apex = "platformx.localhost"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownGrace == 0 {
		c.HTTP.ShutdownGrace = 30 * time.Second
	}
	if c.Database.MaxOpenGlobal == 0 {
		c.Database.MaxOpenGlobal = 15
	}
	if c.Database.MaxOpenPerApp == 0 {
		c.Database.MaxOpenPerApp = 5
	}
	if c.Database.MaxIdlePerApp == 0 {
		c.Database.MaxIdlePerApp = 2
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Cache.IdleTTL == 0 {
		c.Cache.IdleTTL = 15 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 10 * time.Minute
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 100
	}
	if c.Deploy.MaxArchiveBytes == 0 {
		c.Deploy.MaxArchiveBytes = 50 << 20
	}
	if c.Deploy.BuildTimeout == 0 {
		c.Deploy.BuildTimeout = 10 * time.Minute
	}
	if c.Deploy.InstallTimeout == 0 {
		c.Deploy.InstallTimeout = 5 * time.Minute
	}
	if c.Deploy.CloneTimeout == 0 {
		c.Deploy.CloneTimeout = 3 * time.Minute
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 300 * time.Millisecond
	}
	if c.Webhooks.Timeout == 0 {
		c.Webhooks.Timeout = 5 * time.Second
	}
}
