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

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	ToolBin       string `json:"tool_bin" yaml:"tool_bin" toml:"tool_bin"`
	Python        string `json:"python" yaml:"python" toml:"python"`
	WorkRoot      string `json:"work_root" yaml:"work_root" toml:"work_root"`
	ModelCacheDir string `json:"model_cache_dir" yaml:"model_cache_dir" toml:"model_cache_dir"`
	Device        string `json:"device" yaml:"device" toml:"device"`
	TimeoutSec    int    `json:"timeout_sec" yaml:"timeout_sec" toml:"timeout_sec"`
	KeepWorkspace bool   `json:"keep_workspace" yaml:"keep_workspace" toml:"keep_workspace"`
	LogLevel      string `json:"log_level" yaml:"log_level" toml:"log_level"`
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
