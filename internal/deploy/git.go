// Git ingestion: URL validation, provider token injection, shallow clone,
// and fast-forward updates for tenants created by git import.
package deploy

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yanizio/platformx/internal/apperr"
)

var allowedSchemes = []string{"https://", "http://", "git://", "git@"}

// tokenHosts are providers whose clone URLs accept an embedded token.
var tokenHosts = map[string]string{
	"github.com":    "x-access-token",
	"gitlab.com":    "oauth2",
	"bitbucket.org": "x-token-auth",
}

// validateRepoURL accepts the schemes the platform clones from.
func validateRepoURL(repoURL string) error {
	for _, prefix := range allowedSchemes {
		if strings.HasPrefix(repoURL, prefix) {
			return nil
		}
	}
	return apperr.BadRepoURL(repoURL)
}

// injectToken embeds a provider token into an https clone URL.  Non-https
// URLs and unknown hosts pass through untouched.
func injectToken(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return repoURL
	}
	user, ok := tokenHosts[strings.ToLower(u.Hostname())]
	if !ok {
		return repoURL
	}
	u.User = url.UserPassword(user, token)
	return u.String()
}

// clone shallow-clones the repository branch into dest and strips the
// history directory so the tenant tree carries no credentials.
func (p *Pipeline) clone(ctx context.Context, repoURL, branch, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cloneTimeout)
	defer cancel()

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dest)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return apperr.Wrap(apperr.CodeCloneFailed, "git clone timed out", 500, ctx.Err())
		}
		return apperr.CloneFailed(fmt.Errorf("%w: %s", err, sanitizeGitOutput(out, repoURL)))
	}

	return os.RemoveAll(filepath.Join(dest, ".git"))
}

// fastForward updates an existing working tree to the tip of branch.  The
// tree was cloned without history, so this is a fresh fetch of one commit
// whose files are then force-checked-out over the working tree.
func (p *Pipeline) fastForward(ctx context.Context, dir, repoURL, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cloneTimeout)
	defer cancel()

	run := func(args ...string) error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %w: %s", args[0], err, sanitizeGitOutput(out, repoURL))
		}
		return nil
	}

	// Re-init because the history directory is stripped after every ingest.
	if err := run("init", "--quiet"); err != nil {
		return apperr.Wrap(apperr.CodeUpdateFailed, "git update failed", 500, err)
	}
	defer os.RemoveAll(filepath.Join(dir, ".git"))

	if err := run("fetch", "--depth", "1", repoURL, branch); err != nil {
		return apperr.Wrap(apperr.CodeUpdateFailed, "git update failed", 500, err)
	}
	if err := run("checkout", "--force", "FETCH_HEAD", "--", "."); err != nil {
		return apperr.Wrap(apperr.CodeUpdateFailed, "git update failed", 500, err)
	}
	return nil
}

// sanitizeGitOutput keeps diagnostics useful while never echoing an
// embedded token back to the operator.
func sanitizeGitOutput(out []byte, repoURL string) string {
	s := string(out)
	if u, err := url.Parse(repoURL); err == nil && u.User != nil {
		s = strings.ReplaceAll(s, u.User.String()+"@", "")
	}
	if len(s) > 1024 {
		s = s[:1024]
	}
	return strings.TrimSpace(s)
}
