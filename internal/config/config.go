// Package config loads the server-side settings file (.aiconfig.yaml next
// to the executable): editor port, logging, autosave schedule, audit
// database and provider bindings.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var exeDirCache string

func getExecutableDir() string {
	if exeDirCache != "" {
		return exeDirCache
	}
	execPath, err := os.Executable()
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		exeDirCache = "."
		return exeDirCache
	}
	exeDirCache = filepath.Dir(execPath)
	return exeDirCache
}

type Config struct {
	Editor    EditorConfig     `yaml:"editor"`
	Logging   LoggingConfig    `yaml:"logging"`
	Providers []ProviderConfig `yaml:"providers,omitempty"`
}

type EditorConfig struct {
	Port int `yaml:"port"`
	// Autosave is a cron expression for periodic saves of path-bound
	// sessions; empty disables autosave.
	Autosave string `yaml:"autosave,omitempty"`
	// AuditDB is the SQLite file recording editor-driven runs; empty
	// disables the audit log.
	AuditDB string `yaml:"audit_db,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProviderConfig overrides credentials or endpoints for one provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Editor: EditorConfig{
			Port:     8080,
			Autosave: "@every 5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func ConfigPath() string {
	return filepath.Join(getExecutableDir(), ".aiconfig.yaml")
}

// Load reads the settings file, falling back to defaults when absent.
func Load() (*Config, error) {
	return LoadFromPath(ConfigPath())
}

// LoadFromPath reads a settings file from an explicit location.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath(), data, 0600)
}
