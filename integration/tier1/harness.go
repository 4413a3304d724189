//go:build integration

package tier1

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const (
	binaryName     = "vcpkgsync"
	bootstrapLog   = "bootstrap.log"
	defaultTimeout = 5 * time.Minute
)

// bootstrapScript records every invocation with its arguments and working directory
const bootstrapScript = `#!/bin/sh
echo "$(pwd) $*" >> "$VCPKGSYNC_TEST_BOOTSTRAP_LOG"
`

// Harness builds the vcpkgsync binary and runs it inside a scratch project
type Harness struct {
	t          *testing.T
	binary     string
	ProjectDir string
	RemoteDir  string
	logPath    string
}

// NewHarness creates a new test harness with an empty project and remote
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	return &Harness{
		t:          t,
		binary:     filepath.Join(root, "bin", binaryName),
		ProjectDir: filepath.Join(root, "project"),
		RemoteDir:  filepath.Join(root, "remote"),
		logPath:    filepath.Join(root, bootstrapLog),
	}
}

// BuildBinary compiles the CLI from the project root
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building %s from %s", h.binary, projectRoot)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/vcpkgsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// InitRemote creates the upstream repository with a bootstrap script on master
func (h *Harness) InitRemote(ctx context.Context) {
	h.t.Helper()
	if err := os.MkdirAll(h.RemoteDir, 0755); err != nil {
		h.t.Fatalf("mkdir remote: %v", err)
	}
	h.MustGit(ctx, h.RemoteDir, "init", "-b", "master")
	h.MustGit(ctx, h.RemoteDir, "config", "user.email", "test@example.com")
	h.MustGit(ctx, h.RemoteDir, "config", "user.name", "Test")
	h.MustGit(ctx, h.RemoteDir, "config", "uploadpack.allowAnySHA1InWant", "true")
	h.CommitRemote(ctx, "bootstrap-vcpkg.sh", bootstrapScript, "Add bootstrap script")
}

// CommitRemote writes a file in the remote and commits it, returning the new HEAD
func (h *Harness) CommitRemote(ctx context.Context, name, content, msg string) string {
	h.t.Helper()
	h.WriteFile(filepath.Join(h.RemoteDir, name), content, 0755)
	h.MustGit(ctx, h.RemoteDir, "add", name)
	h.MustGit(ctx, h.RemoteDir, "commit", "-m", msg)
	out := h.MustGit(ctx, h.RemoteDir, "rev-parse", "HEAD")
	return strings.TrimSpace(out)
}

// RemoteURL returns the file:// URL of the remote repository
func (h *Harness) RemoteURL() string {
	return "file://" + filepath.ToSlash(h.RemoteDir)
}

// WriteProject writes the manifest pinning revision and a config pointing at the remote
func (h *Harness) WriteProject(revision string) {
	h.t.Helper()
	manifest := fmt.Sprintf(`{
  // pinned registry state
  "name": "demo",
  "dependencies": ["fmt"],
  "builtin-baseline": %q,
}
`, revision)
	h.WriteFile(filepath.Join(h.ProjectDir, "vcpkg.json"), manifest, 0644)

	config := fmt.Sprintf("repo:\n  url: %q\n", h.RemoteURL())
	h.WriteFile(filepath.Join(h.ProjectDir, "vcpkgsync.yaml"), config, 0644)
}

// Run executes the binary inside the project directory
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.ProjectDir
	cmd.Env = append(os.Environ(), "VCPKGSYNC_TEST_BOOTSTRAP_LOG="+h.logPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("run failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("vcpkgsync failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// MustGit runs git in dir and fails the test on error
func (h *Harness) MustGit(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		h.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

// WriteFile writes a file, creating parent directories
func (h *Harness) WriteFile(path, content string, mode os.FileMode) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// FileExists checks if a regular file exists
func (h *Harness) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CheckoutDir returns the default checkout location inside the project
func (h *Harness) CheckoutDir() string {
	return filepath.Join(h.ProjectDir, "Build", "vcpkg")
}

// ReadBootstrapLog reads and parses the bootstrap invocation log
func (h *Harness) ReadBootstrapLog() ([]BootstrapLogEntry, error) {
	h.t.Helper()
	content, err := os.ReadFile(h.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []BootstrapLogEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// Parse: "/tmp/.../Build/vcpkg -disableMetrics"
		fields := strings.Fields(line)
		entries = append(entries, BootstrapLogEntry{
			Dir:  fields[0],
			Args: fields[1:],
		})
	}

	return entries, scanner.Err()
}

// ClearBootstrapLog truncates the bootstrap invocation log
func (h *Harness) ClearBootstrapLog() error {
	h.t.Helper()
	err := os.Remove(h.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// BootstrapLogEntry represents one recorded bootstrap invocation
type BootstrapLogEntry struct {
	Dir  string
	Args []string
}

// String returns a human-readable representation
func (e BootstrapLogEntry) String() string {
	return fmt.Sprintf("%s: bootstrap-vcpkg.sh %s", e.Dir, strings.Join(e.Args, " "))
}

// ContainsArg checks if the entry contains a specific argument anywhere
func (e BootstrapLogEntry) ContainsArg(arg string) bool {
	for _, a := range e.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
