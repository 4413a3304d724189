package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/vcpkgsync/internal/git"
)

// fakeRemote models the repository behind the remote URL.
type fakeRemote struct {
	url      string
	history  []string          // every commit, oldest first
	branches map[string]string // branch name -> tip
	tags     map[string]string // tag name -> commit
	head     string            // default branch
}

func newFakeRemote(url string, history ...string) *fakeRemote {
	return &fakeRemote{
		url:      url,
		history:  history,
		branches: map[string]string{"master": history[len(history)-1]},
		tags:     map[string]string{},
		head:     "master",
	}
}

func (r *fakeRemote) hasCommit(hash string) bool {
	for _, c := range r.history {
		if c == hash {
			return true
		}
	}
	return false
}

func (r *fakeRemote) isTip(hash string) bool {
	for _, c := range r.branches {
		if c == hash {
			return true
		}
	}
	for _, c := range r.tags {
		if c == hash {
			return true
		}
	}
	return false
}

// fakeCopy models a local working copy.
type fakeCopy struct {
	head    string
	dirty   bool
	invalid bool
	shallow bool
	origin  string
	objects map[string]bool
}

// fakeGit implements git.Client against a fakeRemote.
type fakeGit struct {
	remote *fakeRemote
	copies map[string]*fakeCopy
	calls  []string

	failShallowClone bool
	failCheckout     map[string]int // rev -> remaining failures
	lsRemoteErr      error
}

func newFakeGit(remote *fakeRemote) *fakeGit {
	return &fakeGit{
		remote:       remote,
		copies:       map[string]*fakeCopy{},
		failCheckout: map[string]int{},
	}
}

func (f *fakeGit) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// mutations returns the recorded calls that change the working copy.
func (f *fakeGit) mutations() []string {
	var out []string
	for _, c := range f.calls {
		for _, prefix := range []string{"clone", "fetch", "checkout", "reset", "clean"} {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (f *fakeGit) Inspect(_ context.Context, dir string) (git.WorkingCopy, error) {
	f.record("inspect")
	wc := git.WorkingCopy{Path: dir}
	c, ok := f.copies[dir]
	switch {
	case !ok:
		wc.State = git.StateAbsent
	case c.invalid:
		wc.State = git.StateInvalid
		wc.Reason = "not a git repository"
	default:
		wc.Head = c.head
		wc.Shallow = c.shallow
		wc.Origin = c.origin
		wc.State = git.StateClean
		if c.dirty {
			wc.State = git.StateDirty
		}
	}
	return wc, nil
}

func (f *fakeGit) Clone(_ context.Context, url, dir string, depth int) error {
	f.record("clone --depth %d", depth)
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return err
	}
	if url != f.remote.url {
		return errors.New("repository not found")
	}
	if depth > 0 && f.failShallowClone {
		return errors.New("shallow clone refused")
	}

	tip := f.remote.branches[f.remote.head]
	c := &fakeCopy{head: tip, shallow: depth > 0, origin: url, objects: map[string]bool{tip: true}}
	if depth == 0 {
		for _, h := range f.remote.history {
			c.objects[h] = true
		}
	}
	f.copies[dir] = c
	return nil
}

func (f *fakeGit) Fetch(_ context.Context, dir string, opts git.FetchOptions) error {
	f.record("%s", strings.Join(opts.Args(), " "))
	c := f.copies[dir]

	switch {
	case opts.Ref != "":
		hash := f.resolveRemote(opts.Ref)
		if hash == "" {
			return fmt.Errorf("couldn't find remote ref %s", opts.Ref)
		}
		if opts.Depth > 0 && !f.remote.isTip(hash) {
			return fmt.Errorf("upload-pack: not our ref %s", hash)
		}
		c.objects[hash] = true
	case opts.Unshallow:
		if !c.shallow {
			return errors.New("--unshallow on a complete repository does not make sense")
		}
		for _, h := range f.remote.history {
			c.objects[h] = true
		}
		c.shallow = false
	default:
		for _, h := range f.remote.branches {
			c.objects[h] = true
		}
		for _, h := range f.remote.tags {
			c.objects[h] = true
		}
	}
	return nil
}

func (f *fakeGit) resolveRemote(rev string) string {
	if h, ok := f.remote.branches[rev]; ok {
		return h
	}
	if h, ok := f.remote.tags[rev]; ok {
		return h
	}
	if f.remote.hasCommit(rev) {
		return rev
	}
	return ""
}

func (f *fakeGit) resolveLocal(c *fakeCopy, rev string) string {
	switch {
	case rev == "HEAD":
		return c.head
	case strings.HasPrefix(rev, "origin/"):
		if h, ok := f.remote.branches[strings.TrimPrefix(rev, "origin/")]; ok && c.objects[h] {
			return h
		}
	case strings.HasPrefix(rev, "refs/tags/"):
		if h, ok := f.remote.tags[strings.TrimPrefix(rev, "refs/tags/")]; ok && c.objects[h] {
			return h
		}
	default:
		if h := f.resolveRemote(rev); h != "" && c.objects[h] {
			return h
		}
	}
	return ""
}

func (f *fakeGit) Checkout(_ context.Context, dir, rev string) error {
	f.record("checkout %s", rev)
	if n := f.failCheckout[rev]; n > 0 {
		f.failCheckout[rev] = n - 1
		return fmt.Errorf("error: pathspec '%s' did not match", rev)
	}

	c := f.copies[dir]
	h := f.resolveLocal(c, rev)
	if h == "" {
		return fmt.Errorf("error: pathspec '%s' did not match", rev)
	}
	c.head = h
	return nil
}

func (f *fakeGit) ResetHard(_ context.Context, dir string) error {
	f.record("reset --hard")
	f.copies[dir].dirty = false
	return nil
}

func (f *fakeGit) Clean(_ context.Context, dir string) error {
	f.record("clean -fdx")
	f.copies[dir].dirty = false
	return nil
}

func (f *fakeGit) ResolveRevision(_ context.Context, dir, rev string) (string, error) {
	f.record("rev-parse %s", rev)
	c, ok := f.copies[dir]
	if !ok {
		return "", git.ErrUnknownRevision
	}
	if h := f.resolveLocal(c, rev); h != "" {
		return h, nil
	}
	return "", fmt.Errorf("%w: %s", git.ErrUnknownRevision, rev)
}

func (f *fakeGit) RemoteHasRevision(_ context.Context, url, rev string) (bool, error) {
	f.record("ls-remote %s", rev)
	if f.lsRemoteErr != nil {
		return false, f.lsRemoteErr
	}
	if url != f.remote.url {
		return false, errors.New("repository not found")
	}
	h := f.resolveRemote(rev)
	return h != "" && (h != rev || f.remote.isTip(h)), nil
}

// fakeBootstrap implements bootstrap.Runner.
type fakeBootstrap struct {
	calls int
	dirs  []string
	err   error
}

func (b *fakeBootstrap) Run(_ context.Context, dir string) error {
	b.calls++
	b.dirs = append(b.dirs, dir)
	return b.err
}
