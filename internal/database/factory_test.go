package database

import (
	"os"
	"path/filepath"
	"testing"

	"cubeo/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewStoreFromConfig(cfg)

		if err != nil {
			t.Errorf("NewStoreFromConfig() unexpected error: %v", err)
			return
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "db")
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: dataDir,
		}
		got, err := NewStoreFromConfig(cfg)

		if err != nil {
			t.Errorf("NewStoreFromConfig() unexpected error: %v", err)
			return
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dataDir, "corpus.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewStoreFromConfig(cfg)

		if err == nil {
			t.Error("NewStoreFromConfig() expected error for missing data_dir, got nil")
		}

		if got != nil {
			t.Error("NewStoreFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewStoreFromConfig(cfg)

		if err == nil {
			t.Error("NewStoreFromConfig() expected error for unknown type, got nil")
		}

		if got != nil {
			t.Error("NewStoreFromConfig() should return nil on error")
			got.Close()
		}
	})
}
