package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy != "manual" {
		t.Errorf("Policy = %s, want manual", cfg.Policy)
	}
	if cfg.RecordsDir != filepath.Join(dir, "records") {
		t.Errorf("RecordsDir = %s", cfg.RecordsDir)
	}
	if !cfg.KV.Enabled || cfg.KV.Path != filepath.Join(dir, "kv.db") {
		t.Errorf("KV = %+v", cfg.KV)
	}
	if cfg.CRM.Enabled {
		t.Error("CRM should be disabled by default")
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Sync.MaxAttempts)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
records_dir = "state"
policy = "prefer_local"

[sync]
max_attempts = 5
backoff_ms = 250

[kv]
enabled = false

[crm]
enabled = true
base_url = "https://crm.example.com/api"
timeout_ms = 5000

[dashboard]
port = 9090

[resolver]
enabled = true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy != "prefer_local" {
		t.Errorf("Policy = %s", cfg.Policy)
	}
	if cfg.RecordsDir != filepath.Join(dir, "state") {
		t.Errorf("RecordsDir = %s", cfg.RecordsDir)
	}
	if cfg.Sync.MaxAttempts != 5 || cfg.Sync.BackoffMS != 250 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.KV.Enabled {
		t.Error("KV should be disabled by the manifest")
	}
	if !cfg.CRM.Enabled || cfg.CRM.BaseURL != "https://crm.example.com/api" {
		t.Errorf("CRM = %+v", cfg.CRM)
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("Port = %d", cfg.Dashboard.Port)
	}
	if !cfg.Resolver.Enabled {
		t.Error("Resolver should be enabled by the manifest")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `policy = "manual"`)

	t.Setenv("BRSYNC_POLICY", "prefer_remote")
	t.Setenv("BRSYNC_CRM_TOKEN", "tok-from-env")
	t.Setenv("BRSYNC_WEBHOOK_SECRET", "hunter2")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy != "prefer_remote" {
		t.Errorf("Policy = %s, want env override", cfg.Policy)
	}
	if cfg.CRM.Token != "tok-from-env" {
		t.Errorf("Token = %s", cfg.CRM.Token)
	}
	if cfg.Dashboard.WebhookSecret != "hunter2" {
		t.Errorf("WebhookSecret = %s", cfg.Dashboard.WebhookSecret)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `policy = "newest_wins"`)
	if _, err := Load(dir); err == nil {
		t.Fatal("Load accepted an unknown policy")
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `policy = "manual"`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	found, err := Discover(nested)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found != root {
		t.Errorf("Discover = %s, want %s", found, root)
	}

	// No manifest anywhere above: fall back to the start directory.
	bare := t.TempDir()
	found, err = Discover(bare)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found != bare {
		t.Errorf("Discover = %s, want %s", found, bare)
	}
}
