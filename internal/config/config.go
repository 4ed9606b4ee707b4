package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents the main configuration for cubeo.
type Config struct {
	BaseDir     string            `toml:"base_dir" env:"CUBEO_HOME"`
	LogDir      string            `toml:"log_dir" env:"CUBEO_LOG_DIR"`
	LogLevel    string            `toml:"log_level" env:"CUBEO_LOG_LEVEL"` // "debug", "info" (default), "warn", "error"
	Database    DatabaseConfig    `toml:"database"`
	Remote      RemoteConfig      `toml:"remote"`
	Translator  TranslatorConfig  `toml:"translator"`
	Resolver    ResolverConfig    `toml:"resolver"`
	Sync        SyncConfig        `toml:"sync"`
	Corrections CorrectionsConfig `toml:"corrections"`
	Review      ReviewConfig      `toml:"review"`
}

// DatabaseConfig represents configuration for the local corpus database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" env:"CUBEO_DATABASE_TYPE"`                   // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty" env:"CUBEO_DATABASE_DATA_DIR"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the remote corpus.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type" env:"CUBEO_REMOTE_TYPE"` // "memory", "filesystem", or "s3"

	// PollInterval is how often polling backends look for changes.
	PollInterval time.Duration `toml:"poll_interval,omitempty" env:"CUBEO_REMOTE_POLL_INTERVAL"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty" env:"CUBEO_REMOTE_S3_BUCKET"`
	S3Prefix string `toml:"s3_prefix,omitempty" env:"CUBEO_REMOTE_S3_PREFIX"`
	S3Region string `toml:"s3_region,omitempty" env:"CUBEO_REMOTE_S3_REGION"`
	// S3Endpoint points at an S3-compatible service; path-style addressing is used.
	S3Endpoint string `toml:"s3_endpoint,omitempty" env:"CUBEO_REMOTE_S3_ENDPOINT"`
	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" env:"CUBEO_REMOTE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" env:"CUBEO_REMOTE_S3_SECRET_ACCESS_KEY"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" env:"CUBEO_REMOTE_FS_ROOT"`
}

// TranslatorConfig represents configuration for the remote translation model.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type TranslatorConfig struct {
	Type    string        `toml:"type" env:"CUBEO_TRANSLATOR_TYPE"` // "http" or "none"
	BaseURL string        `toml:"base_url,omitempty" env:"CUBEO_TRANSLATOR_URL"`
	Timeout time.Duration `toml:"timeout,omitempty" env:"CUBEO_TRANSLATOR_TIMEOUT"`
}

// ResolverConfig tunes the translation pipeline. Zero values select the
// built-in defaults.
type ResolverConfig struct {
	SimilarityThreshold float64       `toml:"similarity_threshold,omitempty" env:"CUBEO_SIMILARITY_THRESHOLD"`
	HybridThreshold     float64       `toml:"hybrid_threshold,omitempty" env:"CUBEO_HYBRID_THRESHOLD"`
	MaxSimilar          int           `toml:"max_similar,omitempty"`
	CacheTTL            time.Duration `toml:"cache_ttl,omitempty" env:"CUBEO_CACHE_TTL"`
	LengthGuard         float64       `toml:"length_guard,omitempty"`
	DisableLengthGuard  bool          `toml:"disable_length_guard,omitempty"`
}

// SyncConfig tunes corpus synchronization.
type SyncConfig struct {
	BatchSize  int           `toml:"batch_size,omitempty"`
	StaleAfter time.Duration `toml:"stale_after,omitempty" env:"CUBEO_SYNC_STALE_AFTER"`
}

// CorrectionsConfig configures correction handling.
type CorrectionsConfig struct {
	ReportThreshold int    `toml:"report_threshold,omitempty"`
	SubmitterID     string `toml:"submitter_id,omitempty" env:"CUBEO_SUBMITTER_ID"`
}

// ReviewConfig holds paths to the reviewer's age key pair.
type ReviewConfig struct {
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a Config rooted at baseDir with a local sqlite
// database, a filesystem remote and no translation model.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Remote: RemoteConfig{
			Type:         "filesystem",
			FSRoot:       filepath.Join(baseDir, "corpus"),
			PollInterval: 30 * time.Second,
		},
		Translator: TranslatorConfig{
			Type:    "none",
			Timeout: 60 * time.Second,
		},
		Sync: SyncConfig{
			StaleAfter: 6 * time.Hour,
		},
		Review: ReviewConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "reviewer.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "reviewer.key"),
		},
	}
}

// Validate checks the tagged unions for missing fields.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database: data_dir required for type sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("database: unknown type %q", c.Database.Type)
	}

	switch c.Remote.Type {
	case "memory":
	case "filesystem":
		if c.Remote.FSRoot == "" {
			return fmt.Errorf("remote: fs_root required for type filesystem")
		}
	case "s3":
		if c.Remote.S3Bucket == "" {
			return fmt.Errorf("remote: s3_bucket required for type s3")
		}
	default:
		return fmt.Errorf("remote: unknown type %q", c.Remote.Type)
	}

	switch c.Translator.Type {
	case "", "none":
	case "http":
		if c.Translator.BaseURL == "" {
			return fmt.Errorf("translator: base_url required for type http")
		}
	default:
		return fmt.Errorf("translator: unknown type %q", c.Translator.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the config file and applies CUBEO_* environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields of cfg from CUBEO_* environment variables.
// Unset variables leave the field unchanged.
func ApplyEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}
	return nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
