package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	SystemPath    string `yaml:"systemPath"`
	ProjectHash   string `yaml:"projectHash"`
	MinimumFreeGB int    `yaml:"minimumFreeGB"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queueSize"`
	LogLevel      string `yaml:"logLevel"`
	// GCIntervalMinutes enables periodic compaction when > 0.
	GCIntervalMinutes int `yaml:"gcIntervalMinutes"`
	// Repositories maps repository IDs to working copy paths.
	Repositories map[string]string `yaml:"repositories"`
}

func (c Config) GarbageCollectionInterval() time.Duration {
	return time.Duration(c.GCIntervalMinutes) * time.Minute
}

// GetConfig reads the YAML file at path and fills in defaults. A missing
// file yields the defaults.
func GetConfig(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if config.SystemPath == "" {
		config.SystemPath = defaultSystemPath()
	}

	if config.ProjectHash == "" {
		config.ProjectHash = "default"
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.Repositories == nil {
		config.Repositories = map[string]string{}
	}

	return config, nil
}

func defaultSystemPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".branchpoints"
	}
	return filepath.Join(home, ".branchpoints")
}
