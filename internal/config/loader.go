package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the bridge config at path. ${VAR} references are replaced from
// the environment before parsing, so secrets such as the journal password
// can stay out of the file. Unset variables expand to "".
func Load(path string) (*BridgeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parse(os.ExpandEnv(string(raw)))
}

// LoadWithDefaults is Load followed by filling every unset option, such as
// the 30s reconnect interval and the 600s bid expiration.
func LoadWithDefaults(path string) (*BridgeConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate is what cmd/bridge calls: load, fill defaults, then reject
// a config the bridge cannot start with (bad remote URL, inverted ping
// timings, an enabled journal without a database).
func LoadAndValidate(path string) (*BridgeConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func parse(doc string) (*BridgeConfig, error) {
	cfg := &BridgeConfig{}
	if err := yaml.Unmarshal([]byte(doc), cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}
