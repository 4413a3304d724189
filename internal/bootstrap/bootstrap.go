package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Runner finalizes a synchronized checkout
type Runner interface {
	// Run executes the bootstrap step inside dir
	Run(ctx context.Context, dir string) error
}

// ScriptRunner implements Runner by executing the bootstrap script shipped
// inside the checkout
type ScriptRunner struct {
	script string
	args   []string
	goos   string
	stdout io.Writer
	stderr io.Writer
}

// NewScriptRunner creates a runner for the script base name (without
// extension). Output is streamed to stdout and stderr.
func NewScriptRunner(script string, args []string, stdout, stderr io.Writer) *ScriptRunner {
	return &ScriptRunner{
		script: script,
		args:   args,
		goos:   runtime.GOOS,
		stdout: stdout,
		stderr: stderr,
	}
}

// ScriptName returns the platform-specific script file name
func ScriptName(base, goos string) string {
	if goos == "windows" {
		return base + ".bat"
	}
	return base + ".sh"
}

// ScriptPath returns the absolute script path inside dir
func (r *ScriptRunner) ScriptPath(dir string) string {
	return filepath.Join(dir, ScriptName(r.script, r.goos))
}

// Run executes the bootstrap script. Failures are not retried.
func (r *ScriptRunner) Run(ctx context.Context, dir string) error {
	path := r.ScriptPath(dir)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("bootstrap script not found: %s", path)
		}
		return fmt.Errorf("failed to stat bootstrap script: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, r.args...)
	cmd.Dir = dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bootstrap script %s failed: %w", path, err)
	}
	return nil
}
