// Package apphome locates and prepares the memoscribe home directory, which
// holds the config, database, logs and the drop, capture and transcript folders.
package apphome

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ErrNotInitialized is returned when the home directory has no config yet.
var ErrNotInitialized = errors.New("memoscribe is not initialized (run memoscribe init)")

// EnvHome overrides the home directory.
const EnvHome = "MEMOSCRIBE_HOME"

// Well-known files within the home directory.
const (
	ConfigFile   = "config.json"
	SettingsFile = "settings.json"
	EnvFile      = ".env"
	PIDFile      = "memoscribe.pid"
)

// Folders created by Init, relative to the home directory.
const (
	TranscriptsDir = "transcripts"
	InputDir       = "input"
	CaptureDir     = "recordings"
	DBDir          = "db"
	LogsDir        = "logs"
	ModelsDir      = "models"
	WorkDir        = "work"
)

// Default returns the platform home directory, ignoring the environment.
func Default() (string, error) {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Memoscribe"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memoscribe"), nil
}

// Dir returns the home directory: MEMOSCRIBE_HOME when set, otherwise Default.
func Dir() (string, error) {
	if env := os.Getenv(EnvHome); env != "" {
		return filepath.Abs(env)
	}
	return Default()
}

// IsInitialized reports whether path holds a readable config file.
func IsInitialized(path string) bool {
	data, err := os.ReadFile(filepath.Join(path, ConfigFile))
	if err != nil {
		return false
	}
	var config map[string]interface{}
	return json.Unmarshal(data, &config) == nil
}

// Find returns the home directory, or ErrNotInitialized if it has no config.
func Find() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if !IsInitialized(dir) {
		return "", ErrNotInitialized
	}
	return dir, nil
}

// PIDPath returns the service PID file path within home.
func PIDPath(home string) string {
	return filepath.Join(home, PIDFile)
}
