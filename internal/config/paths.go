package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns ~/.crawjud, or $CRAWJUD_HOME when set.
func GetUserConfigDir() (string, error) {
	if dir := os.Getenv("CRAWJUD_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".crawjud"), nil
}

func EnsureConfigDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// DataStorePath is the encrypted key-value file.
func (c *Config) DataStorePath() string {
	return filepath.Join(c.Dir, "dataStore.ec")
}

// DBPath is the local execution history database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Dir, "crawjud.db")
}

// DownloadDir is where execution archives are written by default.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.Dir, "downloads")
}
