package scalpscan

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/biotinker/scalpscan/scanmesh"
)

// Config is the full configuration tree for a scanning session.
type Config struct {
	Mesh       scanmesh.Config  `yaml:"mesh"`
	Controller ControllerConfig `yaml:"controller"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() Config {
	return Config{
		Mesh:       scanmesh.DefaultConfig(),
		Controller: DefaultControllerConfig(),
		Recovery:   DefaultRecoveryConfig(),
		Monitor:    DefaultMonitorConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults, so a partial file
// only overrides what it names. Duration fields accept strings like "33ms".
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.ApplyOverrides(raw); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}
	return &cfg, nil
}

// ApplyOverrides decodes a loosely-typed override map onto the config,
// for runtime tuning through command extras.
func (c *Config) ApplyOverrides(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build override decoder: %w", err)
	}
	if err := dec.Decode(overrides); err != nil {
		return fmt.Errorf("decode overrides: %w", err)
	}
	return nil
}
