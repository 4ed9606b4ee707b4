package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/cubeo")
	original.Remote = RemoteConfig{
		Type:         "s3",
		S3Bucket:     "corpus-bucket",
		S3Prefix:     "pamiwa",
		S3Region:     "us-east-1",
		PollInterval: 2 * time.Minute,
	}
	original.Translator = TranslatorConfig{Type: "http", BaseURL: "https://mt.example.org", Timeout: 45 * time.Second}
	original.Resolver.CacheTTL = 72 * time.Hour

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Remote.S3Bucket != "corpus-bucket" {
		t.Errorf("Remote.S3Bucket = %q, want %q", got.Remote.S3Bucket, "corpus-bucket")
	}
	if got.Remote.PollInterval != 2*time.Minute {
		t.Errorf("Remote.PollInterval = %v, want %v", got.Remote.PollInterval, 2*time.Minute)
	}
	if got.Translator.Timeout != 45*time.Second {
		t.Errorf("Translator.Timeout = %v, want %v", got.Translator.Timeout, 45*time.Second)
	}
	if got.Resolver.CacheTTL != 72*time.Hour {
		t.Errorf("Resolver.CacheTTL = %v, want %v", got.Resolver.CacheTTL, 72*time.Hour)
	}
	if got.Sync.StaleAfter != 6*time.Hour {
		t.Errorf("Sync.StaleAfter = %v, want %v", got.Sync.StaleAfter, 6*time.Hour)
	}
}

func TestManager_Read_DurationStrings(t *testing.T) {
	input := `
base_dir = "/srv/cubeo"

[database]
type = "memory"

[remote]
type = "memory"

[sync]
stale_after = "90m"
`
	m := &Manager{}
	got, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Sync.StaleAfter != 90*time.Minute {
		t.Errorf("Sync.StaleAfter = %v, want %v", got.Sync.StaleAfter, 90*time.Minute)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/cubeo")

	if cfg.BaseDir != "/data/cubeo" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/cubeo")
	}
	if cfg.LogDir != "/data/cubeo/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/cubeo/log")
	}
	if cfg.Database.DataDir != "/data/cubeo/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/cubeo/db")
	}
	if cfg.Review.PrivateKeyPath != "/data/cubeo/keys/reviewer.key" {
		t.Errorf("Review.PrivateKeyPath = %q, want %q", cfg.Review.PrivateKeyPath, "/data/cubeo/keys/reviewer.key")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sqlite without data_dir", func(c *Config) { c.Database.DataDir = "" }, "data_dir required"},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }, "unknown type"},
		{"filesystem remote without root", func(c *Config) { c.Remote.FSRoot = "" }, "fs_root required"},
		{"s3 remote without bucket", func(c *Config) { c.Remote = RemoteConfig{Type: "s3"} }, "s3_bucket required"},
		{"http translator without url", func(c *Config) { c.Translator.Type = "http" }, "base_url required"},
		{"unknown translator", func(c *Config) { c.Translator.Type = "grpc" }, "unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(t.TempDir())
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CUBEO_TRANSLATOR_TYPE", "http")
	t.Setenv("CUBEO_TRANSLATOR_URL", "http://localhost:8000")
	t.Setenv("CUBEO_SYNC_STALE_AFTER", "12h")

	cfg := NewConfig("/data/cubeo")
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Translator.Type != "http" {
		t.Errorf("Translator.Type = %q, want %q", cfg.Translator.Type, "http")
	}
	if cfg.Translator.BaseURL != "http://localhost:8000" {
		t.Errorf("Translator.BaseURL = %q, want %q", cfg.Translator.BaseURL, "http://localhost:8000")
	}
	if cfg.Sync.StaleAfter != 12*time.Hour {
		t.Errorf("Sync.StaleAfter = %v, want %v", cfg.Sync.StaleAfter, 12*time.Hour)
	}
	// Fields without a variable keep their values.
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cubeo.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cubeo.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("reads file and applies environment", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "cubeo.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		t.Setenv("CUBEO_SUBMITTER_ID", "maestra-ana")

		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if got.Corrections.SubmitterID != "maestra-ana" {
			t.Errorf("Corrections.SubmitterID = %q, want %q", got.Corrections.SubmitterID, "maestra-ana")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/path/cubeo.toml")
		if err == nil {
			t.Fatal("Load() expected error for missing file")
		}
	})
}
