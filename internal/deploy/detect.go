// Kind and build-output detection.
//
// The pipeline inspects the staged tree's package.json (dependencies,
// devDependencies, scripts) plus the presence of recognised entry files and
// applies the heuristics in priority order:
//
//  1. meta-framework (next/nuxt)                         → fullstack
//  2. frontend library AND a server library              → fullstack
//  3. frontend library AND a build script                → frontend
//  4. server library or an entry file                    → backend
//  5. build script with no framework marker              → frontend
//  6. otherwise                                          → backend
package deploy

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/yanizio/platformx/internal/registry"
)

var (
	metaFrameworks = []string{"next", "nuxt"}
	frontendLibs   = []string{"react", "vue", "@angular/core", "svelte"}
	serverLibs     = []string{"express"}
)

// packageJSON is the subset of package.json the pipeline cares about.
type packageJSON struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// readPackageJSON returns the parsed manifest or nil when absent/garbled.
func readPackageJSON(dir string) *packageJSON {
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}
	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil
	}
	return &pkg
}

func (p *packageJSON) hasDep(name string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

func (p *packageJSON) hasAnyDep(names []string) bool {
	for _, n := range names {
		if p.hasDep(n) {
			return true
		}
	}
	return false
}

func (p *packageJSON) hasBuildScript() bool {
	if p == nil {
		return false
	}
	_, ok := p.Scripts["build"]
	return ok
}

// detectKind applies the heuristic table to the staged tree.
func detectKind(dir string) string {
	pkg := readPackageJSON(dir)

	hasEntry := findEntryFile(dir) != ""
	isMeta := pkg.hasAnyDep(metaFrameworks)
	isFrontend := pkg.hasAnyDep(frontendLibs)
	isServer := pkg.hasAnyDep(serverLibs)
	hasBuild := pkg.hasBuildScript()

	switch {
	case isMeta:
		return registry.KindFullstack
	case isFrontend && isServer:
		return registry.KindFullstack
	case isFrontend && hasBuild:
		return registry.KindFrontend
	case isServer || hasEntry:
		return registry.KindBackend
	case hasBuild:
		return registry.KindFrontend
	default:
		return registry.KindBackend
	}
}

// findEntryFile returns the first recognised backend entry inside dir, or "".
func findEntryFile(dir string) string {
	for _, cand := range registry.EntryCandidates {
		if st, err := os.Stat(filepath.Join(dir, cand)); err == nil && !st.IsDir() {
			return cand
		}
	}
	return ""
}

// buildOutputCandidates are probed in order when the deployer did not name
// a build output directory; the first one containing an index.html wins.
var buildOutputCandidates = []string{"dist", "build", "out", ".next", "public", "www", "_site"}

func detectBuildOutput(dir string) string {
	for _, cand := range buildOutputCandidates {
		if _, err := os.Stat(filepath.Join(dir, cand, "index.html")); err == nil {
			return cand
		}
	}
	return ""
}
