// Package repos syncs configured remote repositories into the Warehouse
// and compiles the manifest each one carries.
//
// Every repo lives on disk under a layout derived from its reverse-DNS id:
// "com.example.x" checks out into "<repos-dir>/com/example/x/@repo/". A
// working tree that already exists is fetched and moved to the remote
// branch head (remote wins on conflict); anything else is cloned
// recursively.
package repos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/internal/warehouse/manifest"
)

// CheckoutDirName is the leaf directory each repo checks out into.
const CheckoutDirName = "@repo"

// DirFor maps a reverse-DNS repo id onto its checkout directory.
func DirFor(reposDir, repoID string) string {
	segments := strings.Split(repoID, ".")
	return filepath.Join(append(append([]string{reposDir}, segments...), CheckoutDirName)...)
}

// EnsureLayout creates the checkout directory for every configured repo.
func EnsureLayout(reposDir string, specs map[string]config.RepoSpec) error {
	for repoID := range specs {
		dir := DirFor(reposDir, repoID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create repo directory %s: %w", dir, err)
		}
	}
	return nil
}

// Sync clones or updates every configured repo, then compiles each repo's
// manifest. Per-repo failures accumulate; the call fails only when every
// configured repo failed. The returned map holds the compiled manifest per
// repo id for the repos that succeeded.
func Sync(ctx context.Context, reposDir string, specs map[string]config.RepoSpec) (map[string]manifest.Manifest, error) {
	manifests := make(map[string]manifest.Manifest)
	var failures []error
	updated := 0

	log.Info().Int("repos", len(specs)).Msg("Running updates on configured repos")

	for repoID, spec := range specs {
		repoName := repoID
		if spec.Name != "" {
			repoName = fmt.Sprintf("%s (%s)", spec.Name, repoID)
		}

		dir := DirFor(reposDir, repoID)
		changed, err := syncOne(ctx, dir, spec)
		if err != nil {
			log.Error().Str("repo", repoName).Err(err).Msg("Repo sync failed")
			failures = append(failures, fmt.Errorf("%s: %w", repoID, err))
			continue
		}
		if changed {
			updated++
		}

		m, err := loadManifest(dir)
		if err != nil {
			log.Error().Str("repo", repoName).Err(err).Msg("Manifest compile failed")
			failures = append(failures, fmt.Errorf("%s: %w", repoID, err))
			continue
		}
		if m != nil {
			manifests[repoID] = *m
			log.Debug().Str("repo", repoName).Msg("Loaded manifest")
		}
	}

	if len(specs) > 0 && len(failures) == len(specs) {
		return nil, errors.Join(append([]error{errors.New("all configured repos failed to sync")}, failures...)...)
	}
	if len(failures) > 0 {
		log.Warn().Int("failed", len(failures)).Msg("Some repos failed to sync or compile")
	}
	if updated > 0 {
		log.Info().Int("updated", updated).Msg("Updated repos")
	}

	return manifests, nil
}

// syncOne brings one checkout up to date. Reports whether the working tree
// changed.
func syncOne(ctx context.Context, dir string, spec config.RepoSpec) (bool, error) {
	auth := authFor(spec)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return update(ctx, dir, spec, auth)
	}

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:               spec.Src,
		ReferenceName:     plumbing.NewBranchReferenceName(spec.Branch),
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
		Auth:              auth,
	})
	if err != nil {
		return false, fmt.Errorf("clone %s: %w", spec.Src, err)
	}
	log.Info().Str("dir", dir).Str("src", spec.Src).Msg("Repo cloned")
	return true, nil
}

// update fetches the configured branch and moves the working tree to the
// remote head. The checkout is forced, so on divergence the remote side
// wins file conflicts.
func update(ctx context.Context, dir string, spec config.RepoSpec, auth *githttp.BasicAuth) (bool, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("open repo: %w", err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, fmt.Errorf("fetch: %w", err)
	}

	remoteRef, err := repo.Reference(
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, spec.Branch), true)
	if err != nil {
		return false, fmt.Errorf("resolve remote branch %s: %w", spec.Branch, err)
	}

	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Hash() == remoteRef.Hash() {
		return false, nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: remoteRef.Hash(), Force: true}); err != nil {
		return false, fmt.Errorf("checkout %s: %w", remoteRef.Hash(), err)
	}

	commit, err := repo.CommitObject(remoteRef.Hash())
	if err == nil {
		log.Info().Str("dir", dir).Str("commit", commit.Hash.String()).Msg("Repo updated")
	}
	return true, nil
}

func authFor(spec config.RepoSpec) *githttp.BasicAuth {
	if spec.Creds == nil {
		return nil
	}
	username := spec.Creds.Username
	if username == "" {
		// Token-only schemes still require a non-empty username over HTTP.
		username = "git"
	}
	return &githttp.BasicAuth{Username: username, Password: spec.Creds.Key}
}

// loadManifest compiles the manifest at the repo root. A repo without a
// manifest is legal and yields nil.
func loadManifest(dir string) (*manifest.Manifest, error) {
	path := filepath.Join(dir, manifest.ManifestFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var spec manifest.Spec
	if err := manifest.ParseJSONC(content, &spec); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	compiled, report := manifest.Compile(spec, path)
	if err := report.Err(); err != nil {
		for _, fieldErr := range report.Errors {
			log.Error().Str("field", fieldErr.Field).Str("here", fieldErr.Here).Err(fieldErr.Err).Msg("Manifest field failed to compile")
		}
		return nil, fmt.Errorf("compile manifest %s: %w", path, err)
	}
	return &compiled, nil
}
