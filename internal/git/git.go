package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Client provides the version control operations needed to pin a working copy
type Client interface {
	// Inspect reports the state of the working copy at dir without modifying it
	Inspect(ctx context.Context, dir string) (WorkingCopy, error)
	// Clone clones url into dir. A positive depth makes the clone shallow.
	Clone(ctx context.Context, url, dir string, depth int) error
	// Fetch fetches from origin into the working copy at dir
	Fetch(ctx context.Context, dir string, opts FetchOptions) error
	// Checkout forces the tree at dir to rev
	Checkout(ctx context.Context, dir, rev string) error
	// ResetHard discards tracked modifications
	ResetHard(ctx context.Context, dir string) error
	// Clean removes untracked and ignored files
	Clean(ctx context.Context, dir string) error
	// ResolveRevision returns the commit hash rev points at in dir
	ResolveRevision(ctx context.Context, dir, rev string) (string, error)
	// RemoteHasRevision reports whether the remote advertises rev as a ref or ref target
	RemoteHasRevision(ctx context.Context, url, rev string) (bool, error)
}

// FetchOptions controls a fetch from origin
type FetchOptions struct {
	// Ref limits the fetch to a single ref or commit; empty fetches all refs.
	Ref string
	// Depth truncates history when positive.
	Depth int
	// Unshallow converts a shallow repository into a complete one.
	Unshallow bool
	// Tags also fetches all tags.
	Tags bool
}

// Args renders the options as git fetch arguments
func (o FetchOptions) Args() []string {
	args := []string{"fetch"}
	if o.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(o.Depth))
	}
	if o.Unshallow {
		args = append(args, "--unshallow")
	}
	if o.Tags {
		args = append(args, "--tags")
	}
	args = append(args, "origin")
	if o.Ref != "" {
		args = append(args, o.Ref)
	}
	return args
}

// ShellClient implements Client by shelling out to the git command.
// Read-only inspection and remote listing go through go-git.
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// Clone clones the repository, creating the parent directory when needed
func (c *ShellClient) Clone(ctx context.Context, url, dir string, depth int) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, url, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = parent
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}

	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// Fetch fetches from origin using the remote URL configured in the clone
func (c *ShellClient) Fetch(ctx context.Context, dir string, opts FetchOptions) error {
	url, err := c.originURL(ctx, dir)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, opts.Args()...)...)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}

	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

// Checkout checks out rev, detaching HEAD for commits and tags. rev is always
// taken as a revision, never as a path in the tree.
// Strategy:
// 1. Try direct checkout (works for local branches, tags, commit hashes)
// 2. If that fails, try as a remote branch (origin/rev)
// A branch checkout is then reset to its remote tracking branch so a stale
// local branch does not shadow freshly fetched commits.
func (c *ShellClient) Checkout(ctx context.Context, dir, rev string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", rev, "--")
	if err := c.runCommand(cmd); err != nil {
		if strings.HasPrefix(rev, "origin/") {
			return fmt.Errorf("git checkout failed for ref %q: %w", rev, err)
		}
		remoteRef := "origin/" + rev
		cmd = exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", remoteRef, "--")
		if err := c.runCommand(cmd); err != nil {
			return fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", rev, err)
		}
		return nil
	}

	if c.hasRemoteBranch(ctx, dir, rev) {
		resetCmd := exec.CommandContext(ctx, "git", "-C", dir, "reset", "--hard", "origin/"+rev)
		if err := c.runCommand(resetCmd); err != nil {
			return fmt.Errorf("git reset to origin/%s failed: %w", rev, err)
		}
	}
	return nil
}

// ResetHard resets tracked files to HEAD
func (c *ShellClient) ResetHard(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "reset", "--hard")
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git reset failed: %w", err)
	}
	return nil
}

// Clean removes untracked files and directories, including ignored ones
func (c *ShellClient) Clean(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "clean", "-fdx")
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clean failed: %w", err)
	}
	return nil
}

// ResolveRevision resolves rev to a commit hash. Branch names resolve through
// their remote tracking branch first.
func (c *ShellClient) ResolveRevision(ctx context.Context, dir, rev string) (string, error) {
	candidates := []string{rev}
	if rev != "HEAD" && !IsHashLike(rev) && !strings.HasPrefix(rev, "origin/") && !strings.HasPrefix(rev, "refs/") {
		candidates = []string{"refs/remotes/origin/" + rev, rev}
	}

	for _, candidate := range candidates {
		cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--verify", "--quiet", candidate+"^{commit}")
		output, err := cmd.Output()
		if err == nil {
			return strings.TrimSpace(string(output)), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
}

// ErrUnknownRevision is returned when a revision does not resolve locally
var ErrUnknownRevision = errors.New("revision not found in working copy")

func (c *ShellClient) hasRemoteBranch(ctx context.Context, dir, branch string) bool {
	if strings.HasPrefix(branch, "origin/") || strings.HasPrefix(branch, "refs/") {
		return false
	}
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	return cmd.Run() == nil
}

func (c *ShellClient) originURL(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "get-url", "origin")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git remote get-url failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	// Never block a build on an interactive credential prompt
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	// SSH authentication
	if c.sshKeyFile != "" && isSSHURL(url) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := c.readToken()
		if err != nil {
			return err
		}

		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "VCPKGSYNC_GIT_TOKEN="+token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$VCPKGSYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

func (c *ShellClient) readToken() (string, error) {
	token, err := os.ReadFile(c.httpsTokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read HTTPS token file: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
