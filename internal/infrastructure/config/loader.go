// Package config loads and persists the YAML configuration file and
// assembles the merged per-call provider configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const (
	configFormatVersion = "1"
	envConfigPath       = "STMGW_CONFIG"
)

// FileLoader reads and writes ~/.stmgw/config.yaml. The STMGW_CONFIG
// environment variable overrides the location.
type FileLoader struct {
	path string
}

// NewFileLoader resolves the config path. An explicit path wins over the
// environment override.
func NewFileLoader(path string) (*FileLoader, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".stmgw", "config.yaml")
	}
	return &FileLoader{path: path}, nil
}

// Path returns the resolved config file location.
func (l *FileLoader) Path() string {
	return l.path
}

// Load reads the configuration, writing the defaults on first run. Missing
// fields are hydrated so callers never see zero values for settings that
// have defaults.
func (l *FileLoader) Load(ctx context.Context) (domain.Config, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := l.Save(cfg); err != nil {
			return domain.Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}
	hydrateDefaults(&cfg)
	return cfg, nil
}

// Save writes the configuration atomically via a sibling temp file.
func (l *FileLoader) Save(cfg domain.Config) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func defaultConfig() domain.Config {
	cfg := domain.Config{}
	hydrateDefaults(&cfg)
	return cfg
}

func hydrateDefaults(cfg *domain.Config) {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = configFormatVersion
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = domain.ProviderOpenAICompat
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gpt-4o-mini"
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 2048
	}
	if cfg.AI.TimeoutMS == 0 {
		cfg.AI.TimeoutMS = 60_000
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:8791"
	}
	if cfg.Permissions.PromptMode == "" {
		cfg.Permissions.PromptMode = "terminal"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if cfg.Permissions.AuditDir == "" {
		cfg.Permissions.AuditDir = filepath.Join(home, ".stmgw", "audit")
	}
	if cfg.Permissions.RulesDB == "" {
		cfg.Permissions.RulesDB = filepath.Join(home, ".stmgw", "rules.db")
	}
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
