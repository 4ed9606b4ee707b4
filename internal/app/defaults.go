package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the default on-disk locations used before a config file exists.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	CorpusDir  string
}

// DefaultPaths resolves the default locations. Lookup order:
//   - config: CUBEO_CONFIG_PATH, $XDG_CONFIG_HOME/cubeo/config.toml, ~/.config/cubeo/config.toml
//   - data:   CUBEO_HOME, $XDG_DATA_HOME/cubeo, ~/.local/share/cubeo
func DefaultPaths() (Paths, error) {
	configPath := os.Getenv("CUBEO_CONFIG_PATH")
	if configPath == "" {
		dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
		if err != nil {
			return Paths{}, err
		}
		configPath = filepath.Join(dir, "cubeo", "config.toml")
	}

	baseDir := os.Getenv("CUBEO_HOME")
	if baseDir == "" {
		dir, err := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
		if err != nil {
			return Paths{}, err
		}
		baseDir = filepath.Join(dir, "cubeo")
	}

	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		CorpusDir:  filepath.Join(baseDir, "corpus"),
	}, nil
}

// xdgDir returns $env when it is an absolute path, otherwise ~/fallback.
// Relative XDG values are ignored, as the XDG spec requires.
func xdgDir(env, fallback string) (string, error) {
	if dir := os.Getenv(env); filepath.IsAbs(dir) {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, fallback), nil
}
