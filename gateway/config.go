package gateway

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailored-agentic-units/gateway/security"
)

const (
	defaultProvider     = "appserver"
	defaultSettingsFile = "settings.json"
)

// Config holds initialization parameters for the gateway and its
// subsystems.
type Config struct {
	Security     security.Config `json:"security"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Effort       string          `json:"reasoning_effort,omitempty"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	SettingsPath string          `json:"settings_path,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Security: security.Config{
			Mode:           security.ModeSafe,
			ShellAllowlist: security.DefaultShellAllowlist,
		},
		Provider: defaultProvider,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Security.Mode != "" {
		c.Security.Mode = source.Security.Mode
	}
	if source.Security.WorkspaceRoot != "" {
		c.Security.WorkspaceRoot = source.Security.WorkspaceRoot
	}
	if source.Security.StateDir != "" {
		c.Security.StateDir = source.Security.StateDir
	}
	if len(source.Security.ShellAllowlist) > 0 {
		c.Security.ShellAllowlist = source.Security.ShellAllowlist
	}
	if source.Security.SpicyMaxObedience {
		c.Security.SpicyMaxObedience = true
	}

	if source.Provider != "" {
		c.Provider = source.Provider
	}
	if source.Model != "" {
		c.Model = source.Model
	}
	if source.Effort != "" {
		c.Effort = source.Effort
	}
	if source.SystemPrompt != "" {
		c.SystemPrompt = source.SystemPrompt
	}
	if source.SettingsPath != "" {
		c.SettingsPath = source.SettingsPath
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
