// Package sync brings a local checkout of an external repository to a pinned
// revision and bootstraps it.
//
// The engine is not safe for concurrent use against the same working copy.
// Callers that may run in parallel must serialize runs themselves, for
// example with a file lock next to the checkout.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/vcpkgsync/internal/bootstrap"
	"github.com/schaermu/vcpkgsync/internal/config"
	"github.com/schaermu/vcpkgsync/internal/git"
	"github.com/schaermu/vcpkgsync/internal/manifest"
)

// Engine orchestrates the synchronization process
type Engine struct {
	cfg       *config.Config
	git       git.Client
	bootstrap bootstrap.Runner
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, gitClient git.Client, runner bootstrap.Runner, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		git:       gitClient,
		bootstrap: runner,
		logger:    logger,
		now:       time.Now,
	}
}

// Run reads the pinned revision from the manifest and synchronizes the
// configured checkout to it.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	rev, err := manifest.ReadRevision(e.cfg.ManifestPath(), e.cfg.Paths.BaselineKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned revision: %w", err)
	}

	return e.Synchronize(ctx, Target{RemoteURL: e.cfg.Repo.URL, Revision: rev}, e.cfg.CheckoutDir())
}

// run carries the per-invocation state of a synchronization
type run struct {
	*Engine
	log     *slog.Logger
	target  Target
	dir     string
	shallow bool
}

// Synchronize guarantees on success that dir holds a clean checkout of
// target.Revision. The bootstrap step runs exactly once unless the checkout
// was already current and bootstrapped.
func (e *Engine) Synchronize(ctx context.Context, target Target, dir string) (*Outcome, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		Engine: e,
		log:    e.logger.With("repo", target.RemoteURL, "revision", target.Revision, "dir", dir),
		target: target,
		dir:    dir,
	}

	wc, err := e.git.Inspect(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect working copy: %w", err)
	}
	r.shallow = wc.Shallow

	if wc.Present() && wc.Origin != "" && wc.Origin != target.RemoteURL {
		wc.State = git.StateInvalid
		wc.Reason = fmt.Sprintf("origin is %s", wc.Origin)
	}

	state := r.classify(ctx, wc)
	r.log.Info("inspected working copy", "state", state.String(), "head", wc.Head)

	if state == CopyAtRevision {
		stamp, err := loadStamp(StampPath(dir))
		if err != nil {
			r.log.Warn("failed to read bootstrap stamp (will bootstrap again)", "error", err)
		}
		if stamp != nil && stamp.Commit == wc.Head {
			r.log.Info("working copy already at pinned revision", "commit", wc.Head)
			return &Outcome{Result: AlreadyCurrent, Revision: target.Revision, Commit: wc.Head}, nil
		}
		r.log.Info("working copy at pinned revision but not bootstrapped")
		return r.finish(ctx, wc.Head)
	}

	if err := r.prepare(ctx, wc); err != nil {
		return nil, err
	}

	if err := r.checkout(ctx); err != nil {
		return nil, err
	}

	commit, err := r.verify(ctx)
	if err != nil {
		return nil, err
	}

	return r.finish(ctx, commit)
}

// classify maps the inspected working copy onto its state relative to the
// target. Branch names never count as current since the remote may have moved.
func (r *run) classify(ctx context.Context, wc git.WorkingCopy) CopyState {
	switch wc.State {
	case git.StateAbsent:
		return CopyAbsent
	case git.StateInvalid:
		return CopyInvalid
	case git.StateDirty:
		return CopyDirty
	}

	rev := r.target.Revision
	if git.IsHashLike(rev) {
		if strings.HasPrefix(wc.Head, strings.ToLower(rev)) {
			return CopyAtRevision
		}
		return CopyClean
	}

	commit, err := r.git.ResolveRevision(ctx, wc.Path, "refs/tags/"+rev)
	if err == nil && commit == wc.Head {
		return CopyAtRevision
	}
	return CopyClean
}

// prepare makes sure a repository exists at dir and that the target revision
// has been fetched into it, as far as the remote allows.
func (r *run) prepare(ctx context.Context, wc git.WorkingCopy) error {
	switch wc.State {
	case git.StateInvalid:
		r.log.Warn("working copy is unusable, discarding it", "reason", wc.Reason)
		if err := os.RemoveAll(r.dir); err != nil {
			return fmt.Errorf("failed to remove unusable working copy: %w", err)
		}
		if err := r.clone(ctx, r.cfg.ShallowClone()); err != nil {
			return err
		}
	case git.StateAbsent:
		if err := r.clone(ctx, r.cfg.ShallowClone()); err != nil {
			return err
		}
	}

	return r.fetchRevision(ctx)
}

// clone creates the working copy. A failed shallow clone is retried as a full one.
func (r *run) clone(ctx context.Context, shallow bool) error {
	if shallow {
		r.log.Info("cloning repository", "depth", 1)
		err := r.git.Clone(ctx, r.target.RemoteURL, r.dir, 1)
		if err == nil {
			r.shallow = true
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("shallow clone failed, performing full clone", "error", err)
		if err := os.RemoveAll(r.dir); err != nil {
			return fmt.Errorf("failed to remove partial clone: %w", err)
		}
	}

	r.log.Info("cloning repository")
	if err := r.git.Clone(ctx, r.target.RemoteURL, r.dir, 0); err != nil {
		return fmt.Errorf("failed to clone %s: %w", r.target.RemoteURL, err)
	}
	r.shallow = false
	return nil
}

// fetchRevision fetches just the target, falling back to the full history.
// Fetch failures are absorbed; checkout decides whether the revision arrived.
func (r *run) fetchRevision(ctx context.Context) error {
	opts := git.FetchOptions{Ref: r.target.Revision}
	if r.shallow {
		opts.Depth = 1
	}

	r.log.Info("fetching pinned revision", "shallow", r.shallow)
	err := r.git.Fetch(ctx, r.dir, opts)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.log.Warn("targeted fetch of pinned revision failed, fetching full history", "error", err)
	return r.fetchAll(ctx)
}

// fetchAll unshallows the copy if needed and fetches every ref and tag.
func (r *run) fetchAll(ctx context.Context) error {
	if r.shallow {
		if err := r.git.Fetch(ctx, r.dir, git.FetchOptions{Unshallow: true}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("failed to unshallow working copy", "error", err)
		} else {
			r.shallow = false
		}
	}

	if err := r.git.Fetch(ctx, r.dir, git.FetchOptions{Tags: true}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("failed to fetch all refs", "error", err)
	}
	return nil
}

// forceClean discards local modifications and untracked files
func (r *run) forceClean(ctx context.Context) error {
	if err := r.git.ResetHard(ctx, r.dir); err != nil {
		return fmt.Errorf("failed to reset working copy: %w", err)
	}
	if err := r.git.Clean(ctx, r.dir); err != nil {
		return fmt.Errorf("failed to clean working copy: %w", err)
	}
	return nil
}

// checkout puts the tree at the target revision, escalating through a full
// fetch, a remote existence check, a fresh full clone and finally the
// configured fallback branches.
func (r *run) checkout(ctx context.Context) error {
	rev := r.target.Revision

	if err := r.forceClean(ctx); err != nil {
		return err
	}

	r.log.Info("checking out pinned revision")
	err := r.git.Checkout(ctx, r.dir, rev)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.log.Warn("checkout of pinned revision failed, fetching all refs and retrying", "error", err)
	if err := r.fetchAll(ctx); err != nil {
		return err
	}
	if err = r.git.Checkout(ctx, r.dir, rev); err == nil {
		return nil
	}
	checkoutErr := err

	if err := r.ensureRemoteHasRevision(ctx); err != nil {
		return err
	}

	r.log.Warn("pinned revision exists on remote but checkout failed, re-cloning working copy", "error", checkoutErr)
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("failed to remove working copy: %w", err)
	}
	if err := r.clone(ctx, false); err != nil {
		return err
	}
	if err := r.fetchAll(ctx); err != nil {
		return err
	}
	if err := r.forceClean(ctx); err != nil {
		return err
	}
	if err = r.git.Checkout(ctx, r.dir, rev); err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	checkoutErr = err

	if len(r.cfg.Sync.FallbackBranches) > 0 {
		r.log.Warn("pinned revision could not be checked out after re-clone", "error", checkoutErr)
	}
	for _, branch := range r.cfg.Sync.FallbackBranches {
		r.log.Warn("falling back to branch", "branch", branch)
		if err := r.git.Checkout(ctx, r.dir, branch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("fallback branch checkout failed", "branch", branch, "error", err)
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to checkout %s: %w", rev, checkoutErr)
}

// ensureRemoteHasRevision fails with a RevisionNotFoundError when neither the
// remote advertises the revision nor the fully fetched copy contains it.
// An unreachable remote is not proof of absence.
func (r *run) ensureRemoteHasRevision(ctx context.Context) error {
	exists, err := r.git.RemoteHasRevision(ctx, r.target.RemoteURL, r.target.Revision)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("could not query remote for pinned revision", "error", err)
		return nil
	}
	if exists {
		return nil
	}

	if _, err := r.git.ResolveRevision(ctx, r.dir, r.target.Revision); err == nil {
		return nil
	}

	r.log.Error("pinned revision not found on remote")
	return &RevisionNotFoundError{Remote: r.target.RemoteURL, Revision: r.target.Revision}
}

// verify asserts that HEAD is the commit the target resolves to
func (r *run) verify(ctx context.Context) (string, error) {
	head, err := r.git.ResolveRevision(ctx, r.dir, "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	want, err := r.git.ResolveRevision(ctx, r.dir, r.target.Revision)
	if err == nil && want == head {
		r.log.Info("checked out pinned revision", "commit", head)
		return head, nil
	}

	if r.cfg.Sync.AllowRevisionMismatch {
		r.log.Warn("checked out revision does not match pinned revision, continuing as configured", "commit", head)
		return head, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: HEAD is %s and %s does not resolve", ErrRevisionMismatch, head, r.target.Revision)
	}
	return "", fmt.Errorf("%w: HEAD is %s, %s is %s", ErrRevisionMismatch, head, r.target.Revision, want)
}

// finish runs the bootstrap step and records it
func (r *run) finish(ctx context.Context, commit string) (*Outcome, error) {
	r.log.Info("running bootstrap", "commit", commit)
	if err := r.bootstrap.Run(ctx, r.dir); err != nil {
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	stamp := &Stamp{Revision: r.target.Revision, Commit: commit, BootstrappedAt: r.now().UTC()}
	if err := saveStamp(StampPath(r.dir), stamp); err != nil {
		r.log.Warn("failed to write bootstrap stamp", "error", err)
	}

	r.log.Info("synchronization completed", "commit", commit)
	return &Outcome{Result: Synchronized, Revision: r.target.Revision, Commit: commit, Bootstrapped: true}, nil
}

// loadStamp returns nil without error when no stamp exists
func loadStamp(path string) (*Stamp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var stamp Stamp
	if err := json.Unmarshal(data, &stamp); err != nil {
		return nil, err
	}
	return &stamp, nil
}

// saveStamp writes the stamp atomically
func saveStamp(path string, stamp *Stamp) error {
	data, err := json.MarshalIndent(stamp, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".vcpkgsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
