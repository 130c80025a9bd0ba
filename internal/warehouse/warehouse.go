// Package warehouse owns the on-disk state of a CloverHub deployment: the
// data directory, the config.jsonc record, the synced repository
// checkouts and their compiled manifests, and the optional local state
// database.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/internal/warehouse/db"
	"github.com/reboot-codes/cloverhub/internal/warehouse/manifest"
	"github.com/reboot-codes/cloverhub/internal/warehouse/repos"
)

// Host is the kind-URL host that addresses Warehouse events.
const Host = "warehouse.clover.reboot-codes.com"

// ConfigFileName is the top-level configuration file under the data dir.
const ConfigFileName = "config.jsonc"

const defaultConfigTemplate = `// CloverHub configuration.
// Repos are keyed by reverse-DNS id; each syncs into repos/<id-as-path>/@repo/.
`

// Setup prepares the data directory, loads configuration into the store,
// syncs every configured repo, and compiles their manifests. An error here
// is fatal for the whole process: the hub cannot run without its data dir.
func Setup(ctx context.Context, dataDir string, s *store.Store) error {
	log.Debug().Str("data_dir", dataDir).Msg("Setting up Warehouse")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	cfg, err := loadOrCreateConfig(filepath.Join(dataDir, ConfigFileName))
	if err != nil {
		return err
	}
	s.SetConfig(cfg)
	log.Debug().Int("repos", len(cfg.Repos)).Msg("Loaded config")

	reposDir := filepath.Join(dataDir, "repos")
	if err := os.MkdirAll(reposDir, 0o755); err != nil {
		return fmt.Errorf("create repos directory: %w", err)
	}
	if err := repos.EnsureLayout(reposDir, cfg.Repos); err != nil {
		return fmt.Errorf("update repo directory structure: %w", err)
	}

	manifests, err := repos.Sync(ctx, reposDir, cfg.Repos)
	if err != nil {
		return fmt.Errorf("download and register repos: %w", err)
	}
	for repoID, m := range manifests {
		s.PutRepo(repoID, m)
	}
	log.Info().Int("repos", s.RepoCount()).Msg("Loaded repos")

	return nil
}

// loadOrCreateConfig reads config.jsonc, writing the defaults on first
// boot.
func loadOrCreateConfig(path string) (config.File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults, err := manifest.MarshalJSONC(config.DefaultFile(), defaultConfigTemplate)
		if err != nil {
			return config.File{}, fmt.Errorf("render default config: %w", err)
		}
		if err := os.WriteFile(path, defaults, 0o644); err != nil {
			return config.File{}, fmt.Errorf("create config file: %w", err)
		}
		log.Info().Str("path", path).Msg("Wrote default config")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return config.File{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg config.File
	if err := manifest.ParseJSONC(content, &cfg); err != nil {
		return config.File{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Run is the Warehouse subsystem main. It opens the local state database
// and persists fabric events addressed to the warehouse.
func Run(ctx context.Context, ipc evtbuzz.SubsystemIPC, s *store.Store, dataDir string) {
	log.Info().Msg("Starting Warehouse...")

	var handle *sql.DB
	dbPath := filepath.Join(dataDir, "db.sqlite")
	handle, err := db.Open(ctx, dbPath)
	if err != nil {
		log.Error().Str("path", dbPath).Err(err).Msg("Failed to access db file; event audit disabled")
		handle = nil
	} else {
		defer handle.Close()
		if err := db.RecordBoot(ctx, handle, time.Now()); err != nil {
			log.Warn().Err(err).Msg("Failed to record boot")
		}
	}

	statusMsg := s.NewMessage(ipc.User, "clover://"+Host+"/status", "finished-init")
	select {
	case ipc.Outbox <- statusMsg:
	case <-ctx.Done():
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Buttoning up storage...")
			log.Info().Msg("Warehouse has stopped")
			return
		case msg, ok := <-ipc.Inbox:
			if !ok {
				return
			}
			u, err := url.Parse(msg.Kind)
			if err != nil || u.Host != Host {
				continue
			}
			log.Debug().Str("kind", msg.Kind).Msg("Processing Warehouse event")
			if handle != nil {
				if err := db.RecordEvent(ctx, handle, msg.ID, msg.Author, msg.Kind, msg.Message); err != nil {
					log.Warn().Str("id", msg.ID).Err(err).Msg("Failed to persist event")
				}
			}
		}
	}
}
