// Package hostparse splits an incoming Host header into the platform apex
// or a tenant slug.  The front door calls Parse on every request; anything
// that is neither the apex nor a well-formed `<slug>.<apex>` subdomain is
// rejected at the edge with a 404.
package hostparse

import (
	"strings"

	"github.com/yanizio/platformx/internal/registry"
)

// Kind tags a parse result.
type Kind int

const (
	Reject Kind = iota
	Platform
	App
)

// Result is the outcome of parsing one Host header.
type Result struct {
	Kind Kind
	Slug string // set only when Kind == App
}

// Parser holds the configured apex, pre-lowered.
type Parser struct {
	apex string
}

// New builds a Parser for the given apex host, e.g. "platformx.localhost".
func New(apex string) *Parser {
	return &Parser{apex: strings.ToLower(apex)}
}

// Parse strips the port, lowercases, and classifies the host.
func (p *Parser) Parse(host string) Result {
	host = strings.ToLower(stripPort(host))

	if host == p.apex {
		return Result{Kind: Platform}
	}

	suffix := "." + p.apex
	if !strings.HasSuffix(host, suffix) {
		return Result{Kind: Reject}
	}

	slug := strings.TrimSuffix(host, suffix)
	if !registry.ValidSlug(slug) {
		return Result{Kind: Reject}
	}
	return Result{Kind: App, Slug: slug}
}

// stripPort removes the :port suffix from Host when present.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
