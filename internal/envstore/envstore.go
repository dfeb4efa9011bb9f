// Package envstore manages the per-tenant `.env` file at
// <appsRoot>/<slug>/.env.  Keys must match ^[A-Z_][A-Z0-9_]*$; values are
// preserved verbatim, except that a value containing whitespace or '#' is
// quoted on write.  Every successful write evicts the tenant's cache entry
// before returning, so no in-flight load can observe a half-applied
// environment.
//
// Reading uses godotenv, the same parser the platform boot path uses for
// its own .env, so quoting and escaping behave identically in both places.
package envstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yanizio/platformx/internal/apperr"
)

var keyRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// ValidKey reports whether k is an acceptable env var name.
func ValidKey(k string) bool { return keyRe.MatchString(k) }

// Store reads and writes tenant .env files.
type Store struct {
	appsRoot string
	evict    func(slug string)
}

// New builds a Store.  evict is called after every successful write; pass
// the tenant cache's Evict.
func New(appsRoot string, evict func(slug string)) *Store {
	if evict == nil {
		evict = func(string) {}
	}
	return &Store{appsRoot: appsRoot, evict: evict}
}

func (s *Store) path(slug string) string {
	return filepath.Join(s.appsRoot, slug, ".env")
}

// Load returns the tenant's env map; an absent file yields an empty map.
func (s *Store) Load(slug string) (map[string]string, error) {
	m, err := godotenv.Read(s.path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, apperr.EnvFailure(err)
	}
	return m, nil
}

// Save replaces the whole file with vars.  Keys are validated and written
// in sorted order so repeated saves are byte-stable.
func (s *Store) Save(slug string, vars map[string]string) error {
	for k := range vars {
		if !ValidKey(k) {
			return apperr.New(apperr.CodeInvalidEnvKey, "invalid env key", 400).
				WithDetail("key", k)
		}
	}

	dir := filepath.Dir(s.path(slug))
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return apperr.AppNotFound(slug)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(vars[k]))
		b.WriteByte('\n')
	}

	if err := writeAtomic(s.path(slug), []byte(b.String())); err != nil {
		return apperr.EnvFailure(err)
	}
	s.evict(slug)
	return nil
}

// Merge unions patch into the current file; patch wins on conflict.
func (s *Store) Merge(slug string, patch map[string]string) error {
	cur, err := s.Load(slug)
	if err != nil {
		return err
	}
	for k, v := range patch {
		cur[k] = v
	}
	return s.Save(slug, cur)
}

// DeleteKeys removes the named keys; unknown keys are ignored.
func (s *Store) DeleteKeys(slug string, keys []string) error {
	cur, err := s.Load(slug)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(cur, k)
	}
	return s.Save(slug, cur)
}

// DeleteFile removes the .env file entirely.
func (s *Store) DeleteFile(slug string) error {
	err := os.Remove(s.path(slug))
	if err != nil && !os.IsNotExist(err) {
		return apperr.EnvFailure(err)
	}
	s.evict(slug)
	return nil
}

// encodeValue quotes values containing whitespace or '#'.  Trailing
// whitespace would otherwise be silently eaten by the parser, so quoting
// also normalises it away up front.
func encodeValue(v string) string {
	v = strings.TrimRight(v, " \t")
	if strings.ContainsAny(v, " \t#\"\n") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

// writeAtomic writes via a temp file + rename so readers never observe a
// torn .env.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
