// Command brsync manages a multi-backend synchronized state workspace.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackroad/statesync/internal/audit"
	"github.com/blackroad/statesync/internal/config"
	"github.com/blackroad/statesync/internal/store"
	"github.com/blackroad/statesync/internal/store/crmstore"
	"github.com/blackroad/statesync/internal/store/filestore"
	"github.com/blackroad/statesync/internal/store/kvstore"
	"github.com/blackroad/statesync/internal/syncer"
	"github.com/blackroad/statesync/internal/taskqueue"
)

var rootCmd = &cobra.Command{
	Use:   "brsync",
	Short: "Synchronize state records and tasks across backends",
	Long: `brsync keeps a file-backed record store, an embedded KV cache, and an
optional CRM backend in agreement, and runs a conflict-safe task queue on
top of them.

The workspace is the nearest ancestor directory containing sync.toml;
without one, the current directory with default settings is used.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// workspace bundles everything a command needs, built from the discovered
// configuration.
type workspace struct {
	cfg      *config.Config
	coord    *syncer.Coordinator
	queue    *taskqueue.Queue
	auditLog *audit.Log
	kv       *kvstore.KVStore
}

// openWorkspace builds the coordinator stack for the discovered
// workspace. Pass an event sink to stream coordinator events (the serve
// command feeds the dashboard this way); nil is fine.
func openWorkspace(events func(syncer.Event)) (*workspace, error) {
	dir, err := config.Discover(".")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(cfg.RecordsDir)
	if err != nil {
		return nil, err
	}

	w := &workspace{cfg: cfg}

	var secondaries []store.Store
	if cfg.KV.Enabled {
		kv, err := kvstore.Open(cfg.KV.Path)
		if err != nil {
			return nil, err
		}
		w.kv = kv
		secondaries = append(secondaries, kv)
	}
	if cfg.CRM.Enabled {
		crm, err := crmstore.New(crmstore.Config{
			BaseURL:  cfg.CRM.BaseURL,
			APIToken: cfg.CRM.Token,
			Timeout:  cfg.CRM.Timeout(),
		})
		if err != nil {
			w.Close()
			return nil, err
		}
		secondaries = append(secondaries, crm)
	}

	w.auditLog = audit.Open(cfg.Audit.Path)

	coord, err := syncer.New(syncer.Config{
		Primary:     files,
		Secondaries: secondaries,
		Policy:      syncer.Policy(cfg.Policy),
		MaxAttempts: cfg.Sync.MaxAttempts,
		BaseBackoff: cfg.Sync.Backoff(),
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Audit:       w.auditLog,
		EventSink:   events,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	w.coord = coord
	w.queue = taskqueue.New(coord, log.New(os.Stderr, "[queue] ", log.LstdFlags))
	return w, nil
}

// Close releases backend resources. Safe on a partially built workspace.
func (w *workspace) Close() {
	if w.coord != nil {
		_ = w.coord.Close()
	}
	if w.kv != nil {
		_ = w.kv.Close()
	}
	if w.auditLog != nil {
		_ = w.auditLog.Close()
	}
}
