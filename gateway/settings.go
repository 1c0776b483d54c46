package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailored-agentic-units/gateway/security"
)

// Settings is the durable slice of gateway state: the security posture and
// the active provider/model selection. Sessions and allow-always memos are
// deliberately absent; they never touch disk.
type Settings struct {
	SecurityMode             security.Mode `json:"security_mode"`
	SpicyModeEnabled         bool          `json:"spicy_mode_enabled"`
	SpicyMaxObedienceEnabled bool          `json:"spicy_max_obedience_enabled"`
	Provider                 string        `json:"provider"`
	Model                    string        `json:"model,omitempty"`
	ReasoningEffort          string        `json:"reasoning_effort,omitempty"`
}

// SettingsStore persists Settings. The setters update memory first, then
// write through the store, and roll back when the write fails.
type SettingsStore interface {
	Save(s Settings) error
	Load() (Settings, bool, error)
}

type fileSettings struct {
	path string
}

// NewFileSettings creates a SettingsStore backed by one JSON file.
func NewFileSettings(path string) SettingsStore {
	return &fileSettings{path: path}
}

// Save writes the settings through a temp file and a rename, so a crash
// mid-write never leaves a torn settings file.
func (f *fileSettings) Save(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Load reads the settings file. The second return is false when no file
// exists yet.
func (f *fileSettings) Load() (Settings, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, false, nil
		}
		return Settings{}, false, fmt.Errorf("load settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, false, fmt.Errorf("parse settings: %w", err)
	}
	return s, true, nil
}
