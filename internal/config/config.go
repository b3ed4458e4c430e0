// Package config loads workspace configuration.
//
// A workspace is a directory holding a sync.toml manifest; the manifest
// locates the record store root and the backend settings. Environment
// variables prefixed BRSYNC_ override manifest values, so secrets (CRM
// token, webhook secret) never need to live in the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix for overrides, e.g.
// BRSYNC_CRM_TOKEN.
const EnvPrefix = "BRSYNC"

// ManifestName is the workspace manifest file name.
const ManifestName = "sync.toml"

// Config is the full workspace configuration.
type Config struct {
	// Dir is the workspace directory the config was loaded from. Not set
	// from the manifest.
	Dir string `toml:"-"`

	// RecordsDir is the file store root, relative to Dir unless absolute.
	RecordsDir string `toml:"records_dir"`

	// Policy is the default conflict resolution policy: manual,
	// prefer_local, or prefer_remote.
	Policy string `toml:"policy"`

	Sync      SyncConfig      `toml:"sync"`
	KV        KVConfig        `toml:"kv"`
	CRM       CRMConfig       `toml:"crm"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Audit     AuditConfig     `toml:"audit"`
	Resolver  ResolverConfig  `toml:"resolver"`
}

// SyncConfig tunes the coordinator's retry behavior.
type SyncConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BackoffMS   int `toml:"backoff_ms"`
}

// Backoff returns the base backoff as a duration.
func (s SyncConfig) Backoff() time.Duration {
	return time.Duration(s.BackoffMS) * time.Millisecond
}

// KVConfig configures the embedded KV backend.
type KVConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// CRMConfig configures the CRM REST backend.
type CRMConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	Token     string `toml:"token"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// Timeout returns the per-call deadline as a duration.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// DashboardConfig configures the WebSocket dashboard and webhook receiver.
type DashboardConfig struct {
	Port          int    `toml:"port"`
	WebhookSecret string `toml:"webhook_secret"`
}

// AuditConfig configures the conflict audit log.
type AuditConfig struct {
	Path string `toml:"path"`
}

// ResolverConfig configures the merge-suggestion assistant.
type ResolverConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
}

// Default returns the configuration used when no manifest exists.
func Default(dir string) *Config {
	return &Config{
		Dir:        dir,
		RecordsDir: "records",
		Policy:     "manual",
		Sync: SyncConfig{
			MaxAttempts: 3,
			BackoffMS:   100,
		},
		KV: KVConfig{
			Enabled: true,
			Path:    "kv.db",
		},
		CRM: CRMConfig{
			TimeoutMS: 10000,
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
		Audit: AuditConfig{
			Path: "conflicts.jsonl",
		},
		Resolver: ResolverConfig{
			Model: "claude-sonnet-4-5",
		},
	}
}

// Load reads the workspace configuration from dir, layering the manifest
// (if present) and environment overrides on top of the defaults.
func Load(dir string) (*Config, error) {
	cfg := Default(dir)

	path := filepath.Join(dir, ManifestName)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.Dir = dir

	applyEnv(cfg)

	switch cfg.Policy {
	case "manual", "prefer_local", "prefer_remote":
	default:
		return nil, fmt.Errorf("unknown policy %q in %s", cfg.Policy, path)
	}
	if cfg.RecordsDir == "" {
		return nil, fmt.Errorf("records_dir cannot be empty")
	}

	cfg.RecordsDir = cfg.resolve(cfg.RecordsDir)
	cfg.KV.Path = cfg.resolve(cfg.KV.Path)
	cfg.Audit.Path = cfg.resolve(cfg.Audit.Path)
	return cfg, nil
}

// resolve anchors a relative path at the workspace directory.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// applyEnv overlays BRSYNC_* environment variables.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("policy"); s != "" {
		cfg.Policy = s
	}
	if s := v.GetString("records.dir"); s != "" {
		cfg.RecordsDir = s
	}
	if s := v.GetString("kv.path"); s != "" {
		cfg.KV.Path = s
	}
	if s := v.GetString("crm.base.url"); s != "" {
		cfg.CRM.BaseURL = s
		cfg.CRM.Enabled = true
	}
	if s := v.GetString("crm.token"); s != "" {
		cfg.CRM.Token = s
	}
	if s := v.GetString("webhook.secret"); s != "" {
		cfg.Dashboard.WebhookSecret = s
	}
	if n := v.GetInt("dashboard.port"); n != 0 {
		cfg.Dashboard.Port = n
	}
}

// Discover walks up from start looking for a directory containing the
// workspace manifest. When none is found, start itself is returned, so a
// bare directory works with pure defaults.
func Discover(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}
	for probe := dir; ; {
		if _, err := os.Stat(filepath.Join(probe, ManifestName)); err == nil {
			return probe, nil
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return dir, nil
		}
		probe = parent
	}
}
