package database

import (
	"fmt"
	"os"
	"path/filepath"

	"cubeo/internal/config"
)

// dbFileName is the corpus database file inside data_dir.
const dbFileName = "corpus.db"

// NewStoreFromConfig opens a SQLiteStore based on the database config type
// and migrates its schema.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		path = filepath.Join(cfg.DataDir, dbFileName)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
