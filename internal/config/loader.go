// Configuration loader with optional Vault support.
//
// Load() builds one immutable Config struct from three layers (highest
// precedence last):
//
//  1. Optional `.env` — `<root>/conf/.env`, then working-directory fallback.
//  2. `conf/platformx.yaml`.
//  3. Environment variables prefixed `PLATFORMX_`, where `__` maps to "."
//     (e.g., PLATFORMX_HTTP__LISTEN_ADDR → http.listen_addr).
//
// Any string value that begins with the prefix "vault:" is treated as a
// Vault URI of the form `vault:<secret-path>#<key>` and is resolved through
// internal/vault before unmarshalling.  When VAULT_ADDR is not configured a
// "vault:" value aborts startup rather than leaking the literal URI into a
// secret position.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	platvault "github.com/yanizio/platformx/internal/vault"
)

var current atomic.Pointer[Config]

// rootDir resolves PLATFORMX_ROOT or climbs directories until
// conf/platformx.yaml is found, falling back to the executable layout.
func rootDir() string {
	if r := os.Getenv("PLATFORMX_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "platformx.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

// Load reads .env, YAML, env overrides, resolves Vault URIs, validates, and
// caches Config.  It is safe for concurrent use.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	if err := godotenv.Load(filepath.Join(root, "conf", ".env")); err != nil {
		_ = godotenv.Load()
	}

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "platformx.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
	}

	// Env overrides: PLATFORMX_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("PLATFORMX_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "PLATFORMX_")
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	if err := resolveVaultURIs(context.Background(), k); err != nil {
		zap.S().Errorw("config vault resolve failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.applyDefaults()
	cfg.Paths = Paths{
		Root:     root,
		AppsRoot: filepath.Join(root, "apps"),
		Backups:  filepath.Join(root, "backups"),
		Uploads:  filepath.Join(root, "uploads", "tmp"),
		Logs:     filepath.Join(root, "logs"),
		GeoIPDB:  os.Getenv("GEOIP_DB"),
	}

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"apex", cfg.HTTP.Apex,
		"development", cfg.Development,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// Get returns the last loaded Config, or nil before Load.
func Get() *Config { return current.Load() }

// resolveVaultURIs replaces every "vault:path#key" string in-place.  The
// Vault client is constructed lazily on the first URI so installs without
// Vault never open a connection.
func resolveVaultURIs(ctx context.Context, k *koanf.Koanf) error {
	const prefix = "vault:"

	var cli *platvault.Client
	keys := k.Keys() // snapshot to avoid concurrent mutation
	for _, key := range keys {
		val, ok := k.Get(key).(string)
		if !ok || !strings.HasPrefix(val, prefix) {
			continue
		}

		if cli == nil {
			if !platvault.Enabled() {
				return fmt.Errorf("config key %q uses %q but VAULT_ADDR is not set", key, val)
			}
			c, err := platvault.New(ctx, zap.S().Debugf)
			if err != nil {
				return err
			}
			cli = c
		}

		body := strings.TrimPrefix(val, prefix)
		parts := strings.SplitN(body, "#", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid vault URI %q (want vault:path#key)", val)
		}

		plain, err := cli.GetKV(ctx, parts[0], parts[1], 10*time.Minute)
		if err != nil {
			return err
		}
		_ = k.Set(key, plain)
	}
	return nil
}
