// Package deploy turns an uploaded archive or a cloned repository into a
// loadable tenant.  Both ingestion modes share one pipeline: stage →
// extract/clone → detect → validate → build → install → atomic move into
// the apps root → registry upsert → events and webhooks.
//
// Failure semantics: any error cleans up the staging directory; a new
// tenant leaves no registry row behind, while an existing tenant keeps its
// prior tree and row but is flagged status=error with the failure recorded.
//
// The per-slug mutex is held for registry and filesystem mutation but
// dropped around the external tool invocations (build, install, clone),
// which run against the staging directory and can exceed the admin request
// timeout.
package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/codescan"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/metrics"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/settings"
	"github.com/yanizio/platformx/internal/webhook"
)

// Options configure a Pipeline.
type Options struct {
	UploadsDir      string
	MaxArchiveBytes int64
	BuildTimeout    time.Duration
	InstallTimeout  time.Duration
	CloneTimeout    time.Duration
}

// Pipeline executes deploys.  Construct once and share.
type Pipeline struct {
	reg      *registry.Registry
	settings *settings.Store
	events   *eventlog.Logger
	hooks    *webhook.Dispatcher
	scanner  *codescan.Checker
	evict    func(slug string)

	uploadsDir     string
	maxArchive     int64
	buildTimeout   time.Duration
	installTimeout time.Duration
	cloneTimeout   time.Duration
}

// New builds a Pipeline.  evict is the tenant cache's Evict.
func New(reg *registry.Registry, set *settings.Store, events *eventlog.Logger,
	hooks *webhook.Dispatcher, evict func(slug string), opts Options) *Pipeline {

	if opts.MaxArchiveBytes <= 0 {
		opts.MaxArchiveBytes = 50 << 20
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 10 * time.Minute
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = 5 * time.Minute
	}
	if opts.CloneTimeout <= 0 {
		opts.CloneTimeout = 3 * time.Minute
	}
	return &Pipeline{
		reg:            reg,
		settings:       set,
		events:         events,
		hooks:          hooks,
		scanner:        codescan.NewChecker(),
		evict:          evict,
		uploadsDir:     opts.UploadsDir,
		maxArchive:     opts.MaxArchiveBytes,
		buildTimeout:   opts.BuildTimeout,
		installTimeout: opts.InstallTimeout,
		cloneTimeout:   opts.CloneTimeout,
	}
}

// ArchiveParams carry one upload deploy.
type ArchiveParams struct {
	Slug           string
	File           io.Reader
	Size           int64
	Filename       string
	EntryPath      string
	Kind           string
	BuildOutputDir string
	ProxyMap       []registry.ProxyRule
}

// GitParams carry one git import.
type GitParams struct {
	Slug      string
	RepoURL   string
	Branch    string
	EntryPath string
	Kind      string
	Token     string // overrides the stored github.token setting
}

// DeployArchive ingests an uploaded zip.
func (p *Pipeline) DeployArchive(ctx context.Context, params ArchiveParams) (*registry.Tenant, error) {
	if err := registry.CheckSlug(params.Slug); err != nil {
		return nil, err
	}

	stage, err := p.newStage(params.Slug)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	archivePath, err := p.saveUpload(stage, params.File, params.Size, params.Filename)
	if err != nil {
		return nil, p.fail(ctx, params.Slug, eventlog.EventArchiveUpload, err)
	}

	tree := filepath.Join(stage, "tree")
	if err := os.MkdirAll(tree, 0o755); err != nil {
		return nil, p.fail(ctx, params.Slug, eventlog.EventArchiveUpload, apperr.FSFailure(err))
	}
	if err := extractZip(archivePath, tree); err != nil {
		return nil, p.fail(ctx, params.Slug, eventlog.EventArchiveUpload, err)
	}
	_ = os.Remove(archivePath)
	if err := flattenSingleDir(tree); err != nil {
		return nil, p.fail(ctx, params.Slug, eventlog.EventArchiveUpload, apperr.FSFailure(err))
	}

	t, err := p.finalize(ctx, finalizeParams{
		slug:           params.Slug,
		tree:           tree,
		source:         registry.SourceArchive,
		event:          eventlog.EventArchiveUpload,
		entryPath:      params.EntryPath,
		kind:           params.Kind,
		buildOutputDir: params.BuildOutputDir,
		proxyMap:       params.ProxyMap,
	})
	if err != nil {
		metrics.DeploysTotal.WithLabelValues("archive", "failure").Inc()
		return nil, err
	}
	metrics.DeploysTotal.WithLabelValues("archive", "success").Inc()
	return t, nil
}

// DeployGit ingests a repository clone.
func (p *Pipeline) DeployGit(ctx context.Context, params GitParams) (*registry.Tenant, error) {
	if err := registry.CheckSlug(params.Slug); err != nil {
		return nil, err
	}
	if err := validateRepoURL(params.RepoURL); err != nil {
		return nil, err
	}

	token := params.Token
	if token == "" && p.settings != nil {
		token = p.settings.GetString(ctx, "github.token", "")
	}
	cloneURL := injectToken(params.RepoURL, token)

	stage, err := p.newStage(params.Slug)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	tree := filepath.Join(stage, "tree")
	if err := p.clone(ctx, cloneURL, params.Branch, tree); err != nil {
		metrics.DeploysTotal.WithLabelValues("git", "failure").Inc()
		return nil, p.fail(ctx, params.Slug, eventlog.EventGitImport, err)
	}

	t, err := p.finalize(ctx, finalizeParams{
		slug:      params.Slug,
		tree:      tree,
		source:    registry.SourceGit,
		event:     eventlog.EventGitImport,
		entryPath: params.EntryPath,
		kind:      params.Kind,
		repoURL:   params.RepoURL,
		branch:    params.Branch,
	})
	if err != nil {
		metrics.DeploysTotal.WithLabelValues("git", "failure").Inc()
		return nil, err
	}
	metrics.DeploysTotal.WithLabelValues("git", "success").Inc()
	return t, nil
}

// GitUpdate fast-forwards a git-imported tenant in place and rebuilds when
// the kind requires it.
func (p *Pipeline) GitUpdate(ctx context.Context, slug, branch string) (*registry.Tenant, error) {
	rec, err := p.reg.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Source != registry.SourceGit {
		return nil, apperr.New(apperr.CodeNotGitImport,
			"app was not created by git import", 400).WithDetail("slug", slug)
	}
	if branch == "" {
		branch = rec.Branch
	}
	if branch == "" {
		branch = "main"
	}

	token := ""
	if p.settings != nil {
		token = p.settings.GetString(ctx, "github.token", "")
	}
	cloneURL := injectToken(rec.RepoURL, token)
	dir := p.reg.Dir(slug)

	// The fetch runs against the live tree under the slug lock so no load
	// observes a half-fetched directory; the build and install below run
	// without the lock, and the cache entry is evicted at the end.
	locks := p.reg.Locks()
	locks.Lock(slug)
	err = p.fastForward(ctx, dir, cloneURL, branch)
	locks.Unlock(slug)
	if err != nil {
		p.reg.SetError(ctx, slug, apperr.From(err).Message)
		p.events.Log(ctx, slug, eventlog.EventError, "error", "git update failed", nil)
		p.hooks.Dispatch(rec.WebhookURL, webhook.EventError, slug,
			map[string]any{"stage": "git-update"})
		return nil, err
	}

	if rec.Kind == registry.KindFrontend || rec.Kind == registry.KindFullstack {
		if pkg := readPackageJSON(dir); pkg.hasBuildScript() {
			if err := p.runBuild(ctx, dir); err != nil {
				p.reg.SetError(ctx, slug, apperr.From(err).Message)
				p.hooks.Dispatch(rec.WebhookURL, webhook.EventBuildFailed, slug, nil)
				return nil, err
			}
			p.hooks.Dispatch(rec.WebhookURL, webhook.EventBuildCompleted, slug, nil)
		}
	}
	if rec.Kind == registry.KindBackend || rec.Kind == registry.KindFullstack {
		if err := p.runInstall(ctx, dir); err != nil {
			p.reg.SetError(ctx, slug, apperr.From(err).Message)
			return nil, err
		}
	}

	now := time.Now()
	rec.Branch = branch
	rec.LastError = ""
	rec.Status = registry.StatusActive
	rec.LastDeployedAt.Time, rec.LastDeployedAt.Valid = now, true
	if err := p.reg.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	p.evict(slug)

	p.events.Log(ctx, slug, eventlog.EventRedeploy, "info",
		"git update deployed", map[string]any{"branch": branch})
	p.hooks.Dispatch(rec.WebhookURL, webhook.EventUpdated, slug,
		map[string]any{"branch": branch})
	return p.reg.Get(ctx, slug)
}

// Redeploy re-runs the build and install steps against the live tree and
// reloads the tenant.  Git-imported tenants fast-forward first.
func (p *Pipeline) Redeploy(ctx context.Context, slug string) (*registry.Tenant, error) {
	rec, err := p.reg.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Source == registry.SourceGit {
		return p.GitUpdate(ctx, slug, "")
	}

	dir := p.reg.Dir(slug)
	pkg := readPackageJSON(dir)

	if (rec.Kind == registry.KindFrontend || rec.Kind == registry.KindFullstack) && pkg.hasBuildScript() {
		if err := p.runBuild(ctx, dir); err != nil {
			p.reg.SetError(ctx, slug, apperr.From(err).Message)
			p.hooks.Dispatch(rec.WebhookURL, webhook.EventBuildFailed, slug, nil)
			return nil, err
		}
		p.hooks.Dispatch(rec.WebhookURL, webhook.EventBuildCompleted, slug, nil)
	}
	if rec.Kind == registry.KindBackend || rec.Kind == registry.KindFullstack {
		if err := p.runInstall(ctx, dir); err != nil {
			p.reg.SetError(ctx, slug, apperr.From(err).Message)
			return nil, err
		}
	}

	p.reg.ClearError(ctx, slug)
	p.reg.MarkDeployed(ctx, slug, time.Now())
	p.evict(slug)

	p.events.Log(ctx, slug, eventlog.EventRedeploy, "info", "redeploy complete", nil)
	p.hooks.Dispatch(rec.WebhookURL, webhook.EventUpdated, slug, nil)
	return p.reg.Get(ctx, slug)
}

//
// shared tail of both ingest paths
//

type finalizeParams struct {
	slug           string
	tree           string
	source         string
	event          string
	entryPath      string
	kind           string
	buildOutputDir string
	proxyMap       []registry.ProxyRule
	repoURL        string
	branch         string
}

func (p *Pipeline) finalize(ctx context.Context, fp finalizeParams) (*registry.Tenant, error) {
	pkg := readPackageJSON(fp.tree)

	kind := fp.kind
	if kind == "" {
		kind = detectKind(fp.tree)
	} else if !registry.ValidKind(kind) {
		return nil, p.fail(ctx, fp.slug, fp.event,
			apperr.Invalid("unknown kind").WithDetail("kind", kind))
	}

	entryPath := fp.entryPath
	if entryPath == "" && kind != registry.KindFrontend {
		entryPath = findEntryFile(fp.tree)
		if entryPath == "" {
			return nil, p.fail(ctx, fp.slug, fp.event,
				apperr.Invalid("no backend entry file found"))
		}
	}

	// Forbidden-pattern scan before anything expensive runs.
	if kind != registry.KindFrontend {
		res, err := p.scanner.CheckFile(filepath.Join(fp.tree, entryPath))
		if err != nil {
			return nil, p.fail(ctx, fp.slug, fp.event, apperr.FSFailure(err))
		}
		if !res.Valid {
			return nil, p.fail(ctx, fp.slug, fp.event, apperr.ForbiddenCode(res.Reason))
		}
	}

	// Dependency policy.
	hits := checkDependencyPolicy(pkg)
	if hit, blocked := policyBlocks(hits); blocked {
		return nil, p.fail(ctx, fp.slug, fp.event,
			apperr.Invalid("forbidden dependency "+hit.Package).WithDetail("reason", hit.Reason))
	}
	for _, h := range hits {
		zap.L().Warn("deprecated dependency in deploy",
			zap.String("slug", fp.slug), zap.String("package", h.Package),
			zap.String("reason", h.Reason))
	}

	// Build and install run against the staging tree, outside the slug lock.
	if (kind == registry.KindFrontend || kind == registry.KindFullstack) && pkg.hasBuildScript() {
		if err := p.runBuild(ctx, fp.tree); err != nil {
			p.dispatchForSlug(ctx, fp.slug, webhook.EventBuildFailed, nil)
			return nil, p.fail(ctx, fp.slug, fp.event, err)
		}
		p.dispatchForSlug(ctx, fp.slug, webhook.EventBuildCompleted, nil)
	}
	if kind == registry.KindBackend || kind == registry.KindFullstack {
		if err := p.runInstall(ctx, fp.tree); err != nil {
			return nil, p.fail(ctx, fp.slug, fp.event, err)
		}
	}

	outDir := fp.buildOutputDir
	if outDir == "" && (kind == registry.KindFrontend || kind == registry.KindFullstack) {
		outDir = detectBuildOutput(fp.tree)
	}

	// Registry and filesystem mutation under the slug lock.
	locks := p.reg.Locks()
	locks.Lock(fp.slug)
	defer locks.Unlock(fp.slug)

	existing, err := p.reg.Get(ctx, fp.slug)
	isNew := false
	if err != nil {
		if apperr.From(err).Code != apperr.CodeAppNotFound {
			return nil, err
		}
		isNew = true
	}

	p.evict(fp.slug)

	if err := p.swapIn(fp.slug, fp.tree); err != nil {
		if !isNew {
			p.reg.SetError(ctx, fp.slug, apperr.From(err).Message)
		}
		return nil, p.fail(ctx, fp.slug, fp.event, err)
	}

	now := time.Now()
	t := &registry.Tenant{
		Slug:      fp.slug,
		Name:      fp.slug,
		Status:    registry.StatusActive,
		Kind:      kind,
		EntryPath: entryPath,
		Source:    fp.source,
		RepoURL:   fp.repoURL,
		Branch:    fp.branch,
	}
	if pkg != nil && pkg.Name != "" {
		t.Name = pkg.Name
	}
	if existing != nil {
		t.Name = existing.Name
		t.WebhookURL = existing.WebhookURL
		t.RequestCount = existing.RequestCount
		if fp.proxyMap == nil {
			t.ProxyMapJSON = existing.ProxyMapJSON
		}
	}
	if fp.proxyMap != nil {
		t.SetProxyMap(fp.proxyMap)
	}
	t.BuildOutputDir = outDir
	t.LastDeployedAt.Time, t.LastDeployedAt.Valid = now, true

	if err := p.reg.Upsert(ctx, t); err != nil {
		if !isNew {
			p.reg.SetError(ctx, fp.slug, apperr.From(err).Message)
		}
		return nil, err
	}

	event := eventlog.EventDeploy
	hook := webhook.EventDeployed
	if !isNew {
		event = eventlog.EventRedeploy
		hook = webhook.EventUpdated
	}
	p.events.Log(ctx, fp.slug, event, "info", "deploy complete",
		map[string]any{"kind": kind, "source": fp.source})
	p.hooks.Dispatch(t.WebhookURL, hook, fp.slug,
		map[string]any{"kind": kind, "source": fp.source})

	return p.reg.Get(ctx, fp.slug)
}

// swapIn atomically replaces the live tree with the staged one, restoring
// the old tree when the final rename fails.
func (p *Pipeline) swapIn(slug, tree string) error {
	liveDir := p.reg.Dir(slug)
	oldDir := liveDir + ".old"

	if err := os.MkdirAll(filepath.Dir(liveDir), 0o755); err != nil {
		return apperr.FSFailure(err)
	}

	hadOld := false
	if _, err := os.Stat(liveDir); err == nil {
		_ = os.RemoveAll(oldDir)
		if err := os.Rename(liveDir, oldDir); err != nil {
			return apperr.FSFailure(err)
		}
		hadOld = true
	}

	if err := os.Rename(tree, liveDir); err != nil {
		if hadOld {
			_ = os.Rename(oldDir, liveDir)
		}
		return apperr.FSFailure(err)
	}
	if hadOld {
		// Preserve the previous .env across redeploys; archives rarely
		// carry one and operators expect their variables to survive.
		oldEnv := filepath.Join(oldDir, ".env")
		newEnv := filepath.Join(liveDir, ".env")
		if _, err := os.Stat(newEnv); os.IsNotExist(err) {
			if _, err := os.Stat(oldEnv); err == nil {
				_ = os.Rename(oldEnv, newEnv)
			}
		}
		_ = os.RemoveAll(oldDir)
	}
	return nil
}

// newStage creates uploads/tmp/<slug>-<unix-ms>.
func (p *Pipeline) newStage(slug string) (string, error) {
	stage := filepath.Join(p.uploadsDir, fmt.Sprintf("%s-%d", slug, time.Now().UnixMilli()))
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return "", apperr.FSFailure(err)
	}
	return stage, nil
}

// fail records the deploy failure for existing tenants and passes err
// through so handlers report it.  New tenants leave no trace; the staging
// dir is removed by the deferred cleanup.
func (p *Pipeline) fail(ctx context.Context, slug, event string, err error) error {
	ae := apperr.From(err)
	p.events.Log(ctx, slug, eventlog.EventError, "error",
		event+" failed: "+ae.Message, nil)
	if existing, getErr := p.reg.Get(ctx, slug); getErr == nil {
		p.reg.SetError(ctx, slug, ae.Message)
		p.hooks.Dispatch(existing.WebhookURL, webhook.EventError, slug,
			map[string]any{"stage": event})
	}
	return err
}

// dispatchForSlug resolves the webhook URL for slug when a row exists.
func (p *Pipeline) dispatchForSlug(ctx context.Context, slug, event string, data map[string]any) {
	if rec, err := p.reg.Get(ctx, slug); err == nil {
		p.hooks.Dispatch(rec.WebhookURL, event, slug, data)
	}
}

//
// external tools
//

func (p *Pipeline) runBuild(ctx context.Context, dir string) error {
	if err := p.runNpm(ctx, dir, p.buildTimeout, "run", "build"); err != nil {
		return apperr.Wrap(apperr.CodeBuildFailed, "build failed", 500, err)
	}
	return nil
}

func (p *Pipeline) runInstall(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "package.json")); os.IsNotExist(err) {
		return nil // nothing to install
	}
	if err := p.runNpm(ctx, dir, p.installTimeout, "install", "--omit=dev", "--no-audit", "--no-fund"); err != nil {
		return apperr.Wrap(apperr.CodeInstallFailed, "dependency install failed", 500, err)
	}
	return nil
}

func (p *Pipeline) runNpm(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "npm", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("npm %s timed out after %s", args[0], timeout)
		}
		tail := out
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("npm %s: %w: %s", args[0], err, string(tail))
	}
	return nil
}
