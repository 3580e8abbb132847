package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for cn.
type Config struct {
	// Confluence instance settings.
	BaseURL  string `env:"CONFLUENCE_BASE_URL"`
	Email    string `env:"CONFLUENCE_EMAIL"`
	APIToken string `env:"CONFLUENCE_API_TOKEN"`

	// Space to sync. Used to initialize a directory that has no mapping
	// file yet; once a mapping exists, the mapping's space wins.
	SpaceKey string `env:"CN_SPACE_KEY"`

	// Directory the space is mirrored into. Defaults to the current
	// working directory.
	SyncDir string `env:"CN_SYNC_DIR"`

	// Force makes a push override a remote version conflict, discarding
	// intervening remote changes.
	Force bool `env:"CN_FORCE" envDefault:"false"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.SyncDir == "" {
		cfg.SyncDir = "."
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve SyncDir to an absolute path at startup. Downstream code uses
	// it for path traversal checks, which rely on string prefix comparison
	// and only work reliably with absolute paths.
	absDir, err := filepath.Abs(cfg.SyncDir)
	if err != nil {
		return nil, fmt.Errorf("resolving sync dir to absolute path: %w", err)
	}

	cfg.SyncDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("CONFLUENCE_BASE_URL is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CONFLUENCE_BASE_URL must be an absolute URL")
	}

	if c.Email == "" {
		return fmt.Errorf("CONFLUENCE_EMAIL is required")
	}

	if c.APIToken == "" {
		return fmt.Errorf("CONFLUENCE_API_TOKEN is required")
	}

	return nil
}

// NormalizedBaseURL returns the base URL without a trailing slash, so
// request paths can be appended without doubling separators.
func (c *Config) NormalizedBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
