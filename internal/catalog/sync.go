package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"aala/internal/config"
	"aala/internal/storage"
	"aala/internal/tables"
)

const syncInterval = 24 * time.Hour

// SyncService keeps a local copy of the published reference tables.
type SyncService struct {
	db     *storage.DB
	client *Client
	cfg    config.Config
}

type SyncResult struct {
	Path      string
	Version   string
	Updated   bool
	Skipped   bool
	Countries int
	Aliases   int
}

func NewSyncService(db *storage.DB, cfg config.Config) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg), cfg: cfg}
}

// Sync downloads the tables unless the last sync is recent and force is
// false. An unchanged remote copy only refreshes the sync timestamp.
func (s *SyncService) Sync(ctx context.Context, force bool) (SyncResult, error) {
	target := s.TargetPath()
	result := SyncResult{Path: target}

	if !force {
		last, err := s.db.GetMetadata("tables.last_sync")
		if err != nil {
			return result, err
		}
		if last != nil {
			if parsed, err := time.Parse(time.RFC3339, *last); err == nil && time.Since(parsed) < syncInterval {
				result.Skipped = true
				return result, nil
			}
		}
	}

	etag := ""
	if _, err := os.Stat(target); err == nil {
		stored, err := s.db.GetMetadata("tables.etag")
		if err != nil {
			return result, err
		}
		if stored != nil {
			etag = *stored
		}
	}

	fetched, err := s.client.FetchTables(ctx, etag)
	if err != nil {
		return result, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if fetched.NotModified {
		return result, s.db.SetMetadata("tables.last_sync", now)
	}

	if err := writeFileAtomic(target, fetched.Raw); err != nil {
		return result, err
	}

	sum := sha256.Sum256(fetched.Raw)
	meta := map[string]string{
		"tables.version":   fetched.Tables.Version,
		"tables.sha256":    hex.EncodeToString(sum[:]),
		"tables.path":      target,
		"tables.etag":      fetched.ETag,
		"tables.last_sync": now,
	}
	for key, value := range meta {
		if err := s.db.SetMetadata(key, value); err != nil {
			return result, err
		}
	}

	result.Updated = true
	result.Version = fetched.Tables.Version
	result.Countries = len(fetched.Tables.Countries)
	result.Aliases = len(fetched.Tables.ManufacturerAliases)
	return result, nil
}

func (s *SyncService) TargetPath() string {
	return TablesPath(s.cfg)
}

// TablesPath is TABLES_PATH, or tables.yaml under the output directory.
func TablesPath(cfg config.Config) string {
	if cfg.TablesPath != "" {
		return cfg.TablesPath
	}
	return filepath.Join(cfg.OutputDir, "tables.yaml")
}

// LoadTables reads the synced tables. Without TABLES_PATH and before the
// first sync the embedded defaults are used.
func LoadTables(cfg config.Config) (*tables.Tables, error) {
	path := TablesPath(cfg)
	if cfg.TablesPath == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return tables.Default()
		}
	}
	return tables.Load(path)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
