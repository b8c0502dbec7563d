package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TechnicallyShaun/memoscribe/internal/apphome"
	"github.com/TechnicallyShaun/memoscribe/internal/domain"
)

// Settings are user preferences changed at runtime, stored as <home>/settings.json.
type Settings struct {
	Language domain.LanguageMode `json:"language"`
}

// LoadSettings reads the settings file. A missing file yields defaults.
func LoadSettings(home string) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(home, apphome.SettingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Language: domain.LanguageAuto}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes the settings file atomically.
func SaveSettings(home string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(home, apphome.SettingsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
