// Package codescan inspects a candidate tenant backend entry file for
// patterns that would let the tenant bind its own listening socket, which
// conflicts with the front door's ownership of the port.
//
// The scanner strips line and block comments before matching, but not
// string literals: the forbidden tokens rarely occur inside strings, and
// the reference behaviour accepts that false-positive surface.  Rejected
// patterns:
//
//   - a `.listen(` invocation on `app`, `server`, or `express`
//   - `createServer` reached through the http/https namespaces
//
// Both the build pipeline and the tenant cache call Check; the cache scans
// again at load time as defense in depth.  Verdicts are memoised in an LRU
// keyed by (path, size, mtime) so repeated loads of an unchanged entry file
// cost one map hit.
package codescan

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/yanizio/platformx/internal/cache"
)

// Result carries the verdict for one file.
type Result struct {
	Valid  bool
	Reason string
}

var forbidden = []struct {
	re     *regexp.Regexp
	reason string
}{
	{
		re:     regexp.MustCompile(`\b(?:app|server|express)\s*\.\s*listen\s*\(`),
		reason: "app must not call listen(); the platform owns the port",
	},
	{
		re:     regexp.MustCompile(`\b(?:http|https)\s*\.\s*createServer\s*\(`),
		reason: "app must not create a raw HTTP server",
	},
	{
		re:     regexp.MustCompile(`\brequire\s*\(\s*['"](?:http|https)['"]\s*\)\s*\.\s*createServer\s*\(`),
		reason: "app must not create a raw HTTP server",
	},
}

// Scan checks raw source text after removing comments.
func Scan(source string) Result {
	stripped := stripComments(source)
	for _, f := range forbidden {
		if f.re.MatchString(stripped) {
			return Result{Valid: false, Reason: f.reason}
		}
	}
	return Result{Valid: true}
}

// stripComments removes // line comments and /* */ block comments.  String
// literals are left intact on purpose; see the package comment.
func stripComments(src string) string {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		if src[i] == '/' && i+1 < len(src) {
			switch src[i+1] {
			case '/':
				for i < len(src) && src[i] != '\n' {
					i++
				}
				continue
			case '*':
				i += 2
				for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
					i++
				}
				i += 2
				if i > len(src) {
					i = len(src)
				}
				continue
			}
		}
		out = append(out, src[i])
		i++
	}
	return string(out)
}

// Checker memoises Scan verdicts per file.
type Checker struct {
	mu  sync.Mutex
	lru *cache.LRU
}

type fileKey struct {
	path  string
	size  int64
	mtime int64
}

// NewChecker builds a Checker with room for a few thousand verdicts.
func NewChecker() *Checker {
	return &Checker{lru: cache.New(4096)}
}

// CheckFile scans the file at path, consulting the verdict cache first.
func (c *Checker) CheckFile(path string) (Result, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat entry file: %w", err)
	}
	key := fileKey{path: path, size: st.Size(), mtime: st.ModTime().UnixNano()}

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return v.(Result), nil
	}
	c.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read entry file: %w", err)
	}
	res := Scan(string(raw))

	c.mu.Lock()
	c.lru.Add(key, res)
	c.mu.Unlock()
	return res, nil
}
