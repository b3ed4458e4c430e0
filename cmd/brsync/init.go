package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackroad/statesync/internal/config"
	"github.com/blackroad/statesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a workspace in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		path := filepath.Join(dir, config.ManifestName)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		manifest := `# brsync workspace manifest.
# Environment variables prefixed BRSYNC_ override these values.

records_dir = "records"
policy = "manual"            # manual | prefer_local | prefer_remote

[sync]
max_attempts = 3
backoff_ms = 100

[kv]
enabled = true
path = "kv.db"

[crm]
enabled = false
# base_url = "https://crm.example.com/api/v1"
# Token via BRSYNC_CRM_TOKEN, not here.

[dashboard]
port = 8080
# Webhook secret via BRSYNC_WEBHOOK_SECRET.

[audit]
path = "conflicts.jsonl"

[resolver]
enabled = false
`
		if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Join(dir, "records"), 0o755); err != nil {
			return fmt.Errorf("failed to create records dir: %w", err)
		}

		fmt.Printf("%s initialized workspace in %s\n", ui.RenderPass("✓"), dir)
		fmt.Println(ui.RenderMuted("edit sync.toml to enable backends, then: brsync sync"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
