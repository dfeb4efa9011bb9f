// Dependency policy.  A small table marks packages that must not (or
// should not) appear in tenant manifests.  Error severity fails the
// deploy; warn severity lets it proceed with a logged warning.
package deploy

// Severity levels for policy hits.
const (
	SeverityError = "error"
	SeverityWarn  = "warn"
)

// PolicyHit reports one flagged dependency.
type PolicyHit struct {
	Package  string `json:"package"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

var depPolicy = map[string]PolicyHit{
	// Process managers and clustering conflict with the platform owning
	// the tenant lifecycle.
	"pm2":     {Severity: SeverityError, Reason: "process managers are not allowed inside tenants"},
	"forever": {Severity: SeverityError, Reason: "process managers are not allowed inside tenants"},
	"nodemon": {Severity: SeverityWarn, Reason: "dev watcher is useless in production deploys"},

	// Known-abandoned packages.
	"request": {Severity: SeverityWarn, Reason: "deprecated; use fetch or axios"},
	"node-uuid": {
		Severity: SeverityWarn, Reason: "deprecated; use uuid",
	},
}

// checkDependencyPolicy scans the manifest against the table.
func checkDependencyPolicy(pkg *packageJSON) []PolicyHit {
	if pkg == nil {
		return nil
	}
	var hits []PolicyHit
	for name := range pkg.Dependencies {
		if hit, ok := depPolicy[name]; ok {
			hit.Package = name
			hits = append(hits, hit)
		}
	}
	for name := range pkg.DevDependencies {
		if hit, ok := depPolicy[name]; ok {
			hit.Package = name
			hits = append(hits, hit)
		}
	}
	return hits
}

// policyBlocks reports whether any hit is error severity.
func policyBlocks(hits []PolicyHit) (PolicyHit, bool) {
	for _, h := range hits {
		if h.Severity == SeverityError {
			return h, true
		}
	}
	return PolicyHit{}, false
}
