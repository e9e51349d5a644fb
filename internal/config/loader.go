package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name.
const DefaultConfigFile = ".scrapling"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile reads a YAML configuration file. A missing file returns
// ErrConfigNotFound; callers decide whether that matters.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}
	return &cf, nil
}

// FindConfigFile returns the first existing file among configPath (when
// given, it is the only candidate), ./.scrapling, ~/.scrapling and
// $XDG_CONFIG_HOME/scrapling/config.yaml. It returns "" when none exists.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load builds a Config from defaults, the config file and the environment.
// An explicit configPath that does not exist is an error; a missing default
// file is not.
func Load(configPath string) (*Config, error) {
	cfg := NewConfig()

	path := FindConfigFile(configPath)
	if path == "" && configPath != "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}
	if path != "" {
		file, err := LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
		cfg.ConfigFilePath = path
		cfg.Sites = file
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
