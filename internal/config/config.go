package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRepoURL is the upstream vcpkg repository
const DefaultRepoURL = "https://github.com/microsoft/vcpkg.git"

// DisableMetricsFlag is passed to the bootstrap script unless overridden
const DisableMetricsFlag = "-disableMetrics"

// Config represents the complete vcpkgsync configuration
type Config struct {
	Repo      RepoConfig      `yaml:"repo"`
	Paths     PathsConfig     `yaml:"paths"`
	Sync      SyncConfig      `yaml:"sync"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Auth      AuthConfig      `yaml:"auth"`

	// baseDir anchors relative paths. It is the directory holding the
	// config file, or the working directory when defaults are used.
	baseDir string
}

// RepoConfig configures the Git repository source
type RepoConfig struct {
	URL string `yaml:"url"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	Manifest     string `yaml:"manifest"`
	BaselineKey  string `yaml:"baseline_key"`
	BuildDir     string `yaml:"build_dir"`
	CheckoutName string `yaml:"checkout_name"`
}

// SyncConfig configures synchronization behavior
type SyncConfig struct {
	Shallow               *bool    `yaml:"shallow"`
	FallbackBranches      []string `yaml:"fallback_branches"`
	AllowRevisionMismatch bool     `yaml:"allow_revision_mismatch"`
}

// BootstrapConfig configures the bootstrap script invocation
type BootstrapConfig struct {
	Script string   `yaml:"script"`
	Args   []string `yaml:"args"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// Default returns a configuration with every default applied, anchored at baseDir.
func Default(baseDir string) *Config {
	cfg := &Config{baseDir: baseDir}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file.
// When optional is true and the file does not exist, defaults anchored at
// the current working directory are returned instead.
func Load(path string, optional bool) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			wd, wdErr := os.Getwd()
			if wdErr != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", wdErr)
			}
			return Default(wd), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(abs)

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Paths.Manifest = os.ExpandEnv(c.Paths.Manifest)
	c.Paths.BuildDir = os.ExpandEnv(c.Paths.BuildDir)
	c.Paths.CheckoutName = os.ExpandEnv(c.Paths.CheckoutName)
	c.Bootstrap.Script = os.ExpandEnv(c.Bootstrap.Script)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	for i, b := range c.Sync.FallbackBranches {
		c.Sync.FallbackBranches[i] = os.ExpandEnv(b)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.URL == "" {
		c.Repo.URL = DefaultRepoURL
	}
	if c.Paths.Manifest == "" {
		c.Paths.Manifest = "vcpkg.json"
	}
	if c.Paths.BaselineKey == "" {
		c.Paths.BaselineKey = "builtin-baseline"
	}
	if c.Paths.BuildDir == "" {
		c.Paths.BuildDir = "Build"
	}
	if c.Paths.CheckoutName == "" {
		c.Paths.CheckoutName = "vcpkg"
	}
	if c.Sync.Shallow == nil {
		shallow := true
		c.Sync.Shallow = &shallow
	}
	// An explicit empty list disables branch fallback; only nil gets defaults.
	if c.Sync.FallbackBranches == nil {
		c.Sync.FallbackBranches = []string{"origin/master", "origin/main"}
	}
	if c.Bootstrap.Script == "" {
		c.Bootstrap.Script = "bootstrap-vcpkg"
	}
	if c.Bootstrap.Args == nil {
		c.Bootstrap.Args = []string{DisableMetricsFlag}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}
	if c.Paths.Manifest == "" {
		return fmt.Errorf("paths.manifest is required")
	}
	if c.Paths.BuildDir == "" {
		return fmt.Errorf("paths.build_dir is required")
	}

	// The checkout lives directly below the build dir
	if c.Paths.CheckoutName == "" || c.Paths.CheckoutName == "." || c.Paths.CheckoutName == ".." ||
		strings.ContainsAny(c.Paths.CheckoutName, `/\`) {
		return fmt.Errorf("paths.checkout_name must be a plain directory name: %q", c.Paths.CheckoutName)
	}

	if c.Bootstrap.Script == "" {
		return fmt.Errorf("bootstrap.script is required")
	}
	if strings.ContainsAny(c.Bootstrap.Script, `/\`) {
		return fmt.Errorf("bootstrap.script must be a file name inside the checkout: %q", c.Bootstrap.Script)
	}

	for _, b := range c.Sync.FallbackBranches {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("sync.fallback_branches must not contain empty entries")
		}
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	return nil
}

// resolve anchors p at the config base directory unless it is absolute
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// ManifestPath returns the path of the manifest holding the pinned revision
func (c *Config) ManifestPath() string {
	return c.resolve(c.Paths.Manifest)
}

// BuildDir returns the build output directory
func (c *Config) BuildDir() string {
	return c.resolve(c.Paths.BuildDir)
}

// CheckoutDir returns the path where the repository is checked out
func (c *Config) CheckoutDir() string {
	return filepath.Join(c.BuildDir(), c.Paths.CheckoutName)
}

// LockFilePath returns the path of the lock guarding the checkout
func (c *Config) LockFilePath() string {
	return filepath.Join(c.BuildDir(), c.Paths.CheckoutName+".lock")
}

// ShallowClone reports whether clones and targeted fetches start shallow
func (c *Config) ShallowClone() bool {
	return c.Sync.Shallow == nil || *c.Sync.Shallow
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
