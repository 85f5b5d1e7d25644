package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the gateway.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// Scheduling
	Sessions             int `json:"sessions" yaml:"sessions" toml:"sessions"`
	MaxOutstanding       int `json:"max_outstanding" yaml:"max_outstanding" toml:"max_outstanding"`
	MaxLoadedModels      int `json:"max_loaded_models" yaml:"max_loaded_models" toml:"max_loaded_models"`
	RequestTimeoutSec    int `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec"`
	LoadTimeoutSec       int `json:"load_timeout_sec" yaml:"load_timeout_sec" toml:"load_timeout_sec"`
	FirstTokenTimeoutSec int `json:"first_token_timeout_sec" yaml:"first_token_timeout_sec" toml:"first_token_timeout_sec"`

	// Backend runtime process
	BackendBin  string   `json:"backend_bin" yaml:"backend_bin" toml:"backend_bin"`
	BackendArgs []string `json:"backend_args" yaml:"backend_args" toml:"backend_args"`
	BackendHost string   `json:"backend_host" yaml:"backend_host" toml:"backend_host"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
