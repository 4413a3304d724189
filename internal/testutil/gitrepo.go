// Package testutil provides git repository fixtures for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is a local repository standing in for a remote
type Repo struct {
	t   testing.TB
	Dir string
}

// NewRepo creates a repository with an initial commit on branch.
func NewRepo(t testing.TB, branch string) *Repo {
	t.Helper()
	requireGit(t)

	r := &Repo{t: t, Dir: t.TempDir()}
	r.Git("init", "-b", branch, r.Dir)
	r.Git("-C", r.Dir, "config", "user.email", "test@test.com")
	r.Git("-C", r.Dir, "config", "user.name", "Test")
	// Allow clients to fetch commits that are not ref tips
	r.Git("-C", r.Dir, "config", "uploadpack.allowReachableSHA1InWant", "true")
	r.Git("-C", r.Dir, "config", "uploadpack.allowAnySHA1InWant", "true")
	r.Commit("README.md", "initial\n", "Initial commit")
	return r
}

// URL returns a file:// URL so shallow clones of the repo are honoured
func (r *Repo) URL() string {
	return "file://" + filepath.ToSlash(r.Dir)
}

// Commit creates or overwrites name with content, commits it and returns the commit hash.
func (r *Repo) Commit(name, content, msg string) string {
	r.t.Helper()
	path := filepath.Join(r.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		r.t.Fatal(err)
	}
	r.Git("-C", r.Dir, "add", name)
	r.Git("-C", r.Dir, "commit", "-m", msg)
	return r.Head()
}

// Tag creates a lightweight tag at HEAD
func (r *Repo) Tag(name string) {
	r.t.Helper()
	r.Git("-C", r.Dir, "tag", name)
}

// Head returns the commit hash of HEAD
func (r *Repo) Head() string {
	r.t.Helper()
	return r.Git("-C", r.Dir, "rev-parse", "HEAD")
}

// Git runs git with args and returns trimmed stdout, failing the test on error.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	return Git(r.t, args...)
}

// Git runs git with args and returns trimmed combined output
func Git(t testing.TB, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func requireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}
