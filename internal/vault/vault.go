// Package vault wraps the HashiCorp Vault Go SDK behind a small KV-v2
// client used to resolve secret-valued configuration (values written as
// "vault:<path>#<key>") and encrypted platform settings.
//
// The wrapper adds background token renewal and per-key caching with a TTL
// so hot paths never block on the Vault HTTP API.  Construction is optional:
// when VAULT_ADDR is unset the platform runs without Vault and any
// "vault:" value is a configuration error.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// Client is safe for concurrent use.  Create once at startup and inject it.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	cacheMu sync.RWMutex
	cache   map[string]cached // canonical path#key → value + expiry
}

type cached struct {
	val string
	exp time.Time
}

// Enabled reports whether the environment points at a Vault server.
func Enabled() bool { return os.Getenv("VAULT_ADDR") != "" }

// New constructs a Vault client and starts a background token-renewal loop
// tied to ctx.
//
// Environment expectations:
//
//	VAULT_ADDR   scheme and host of the Vault server.
//	VAULT_TOKEN  initial token.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	c := &Client{
		api:   apiCli,
		logFn: logFn,
		cache: make(map[string]cached),
	}

	go c.renewLoop(ctx)

	return c, nil
}

// GetKV fetches a single key from a KV-v2 secret.  If ttl > 0 the result is
// cached for that duration.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}

	canonical := secretPath + "#" + key

	if ttl > 0 {
		c.cacheMu.RLock()
		if cv, ok := c.cache[canonical]; ok && time.Now().Before(cv.exp) {
			c.cacheMu.RUnlock()
			return cv.val, nil
		}
		c.cacheMu.RUnlock()
	}

	sec, err := c.api.KVv2("secret").Get(ctx, trimMount(secretPath))
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", secretPath, err)
	}
	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("vault secret %s has no key %q", secretPath, key)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s key %q is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.cacheMu.Lock()
		c.cache[canonical] = cached{val: val, exp: time.Now().Add(ttl)}
		c.cacheMu.Unlock()
	}
	return val, nil
}

// trimMount strips a leading "secret/" so callers may pass either the full
// logical path or the KV-v2 relative one.
func trimMount(p string) string {
	const mount = "secret/"
	if len(p) > len(mount) && p[:len(mount)] == mount {
		return p[len(mount):]
	}
	return p
}

// renewLoop keeps the token alive.  Renewal failures are logged and retried;
// a revoked token surfaces on the next GetKV call.
func (c *Client) renewLoop(ctx context.Context) {
	t := time.NewTicker(15 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0); err != nil {
				c.logFn("vault token renew failed: %v", err)
			}
		}
	}
}
