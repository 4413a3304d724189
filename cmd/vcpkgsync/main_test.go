package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/vcpkgsync/internal/sync"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// resetFlags restores the package-level flag variables after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	origCfgFile, origManifest, origBuildDir := cfgFile, manifestPath, buildDir
	t.Cleanup(func() {
		cfgFile = origCfgFile
		manifestPath = origManifest
		buildDir = origBuildDir
	})
	cfgFile, manifestPath, buildDir = "", "", ""
}

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	resetFlags(t)

	tmpDir := t.TempDir()
	configContent := []byte(`repo:
  url: "https://github.com/example/vcpkg.git"
paths:
  manifest: "cpp/vcpkg.json"
  build_dir: "out"
sync:
  shallow: false
`)
	cfgPath := filepath.Join(tmpDir, "vcpkgsync.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	cfg, err := loadConfig(quietLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.Repo.URL != "https://github.com/example/vcpkg.git" {
		t.Errorf("Repo.URL = %s", cfg.Repo.URL)
	}
	if got, want := cfg.ManifestPath(), filepath.Join(tmpDir, "cpp", "vcpkg.json"); got != want {
		t.Errorf("ManifestPath() = %s, want %s", got, want)
	}
	if got, want := cfg.CheckoutDir(), filepath.Join(tmpDir, "out", "vcpkg"); got != want {
		t.Errorf("CheckoutDir() = %s, want %s", got, want)
	}
	if cfg.ShallowClone() {
		t.Error("ShallowClone() = true, want false")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	resetFlags(t)

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := loadConfig(quietLogger())
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	resetFlags(t)
	wd := t.TempDir()
	t.Chdir(wd)

	// The default config file is optional
	cfg, err := loadConfig(quietLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if got, want := cfg.ManifestPath(), filepath.Join(wd, "vcpkg.json"); got != want {
		t.Errorf("ManifestPath() = %s, want %s", got, want)
	}
	if got, want := cfg.CheckoutDir(), filepath.Join(wd, "Build", "vcpkg"); got != want {
		t.Errorf("CheckoutDir() = %s, want %s", got, want)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetFlags(t)
	wd := t.TempDir()
	t.Chdir(wd)

	manifestPath = "sub/vcpkg.json"
	buildDir = "/tmp/vcpkgsync-build"

	cfg, err := loadConfig(quietLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if got, want := cfg.ManifestPath(), filepath.Join(wd, "sub", "vcpkg.json"); got != want {
		t.Errorf("ManifestPath() = %s, want %s", got, want)
	}
	if got, want := cfg.CheckoutDir(), filepath.Join("/tmp/vcpkgsync-build", "vcpkg"); got != want {
		t.Errorf("CheckoutDir() = %s, want %s", got, want)
	}
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Build", "vcpkg.lock")

	unlock, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock() error = %v", err)
	}

	if _, err := acquireLock(path); err == nil {
		t.Fatal("expected error while the lock is held")
	} else if !strings.Contains(err.Error(), "another vcpkgsync run") {
		t.Errorf("unexpected error: %v", err)
	}

	unlock()

	unlockAgain, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock() after unlock error = %v", err)
	}
	unlockAgain()
}

func TestPrintError(t *testing.T) {
	t.Run("revision not found", func(t *testing.T) {
		var buf bytes.Buffer
		err := &sync.RevisionNotFoundError{
			Remote:   "https://github.com/microsoft/vcpkg.git",
			Revision: "abc1234",
		}
		printError(&buf, err)

		out := buf.String()
		for _, want := range []string{"not found", "https://github.com/microsoft/vcpkg.git", "abc1234", "builtin-baseline"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("other error", func(t *testing.T) {
		var buf bytes.Buffer
		printError(&buf, errors.New("boom"))
		if got := buf.String(); got != "Error: boom\n" {
			t.Errorf("output = %q", got)
		}
	})
}

func TestRootCmdRejectsArguments(t *testing.T) {
	if err := rootCmd.Args(rootCmd, []string{"extra"}); err == nil {
		t.Error("expected error for positional arguments")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
