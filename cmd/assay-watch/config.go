package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config drives the watcher. Values come from the yaml file, with
// ASSAY_BASE_URL and ASSAY_API_KEY environment overrides so secrets can stay
// out of the file.
type Config struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Device     string   `yaml:"device"`
	Width      int      `yaml:"width"`
	Height     int      `yaml:"height"`
	FPS        int      `yaml:"fps"`
	ICEServers []string `yaml:"ice_servers"`
	LogLevel   string   `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:8000",
		Width:    1280,
		Height:   720,
		FPS:      15,
		LogLevel: "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// run on defaults plus env
	case err != nil:
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if v := os.Getenv("ASSAY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("ASSAY_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if cfg.BaseURL == "" {
		return cfg, errors.New("base_url is required")
	}
	if cfg.FPS <= 0 {
		return cfg, fmt.Errorf("fps must be positive, got %d", cfg.FPS)
	}
	return cfg, nil
}
