package app

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"torrentsession/internal/domain"
)

// LoadSessionConfiguration reads session settings from a YAML file. Keys
// missing from the file keep their defaults. Environment variables in path
// are expanded.
//
// An empty path returns the defaults.
func LoadSessionConfiguration(path string) (domain.SessionConfiguration, error) {
	cfg := domain.DefaultSessionConfiguration()
	if path == "" {
		return cfg, nil
	}

	contents, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return cfg, fmt.Errorf("read session config: %w", err)
	}
	if err := yaml.UnmarshalStrict(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteSessionConfiguration stores cfg as YAML, the format read by
// LoadSessionConfiguration.
func WriteSessionConfiguration(path string, cfg domain.SessionConfiguration) error {
	if path == "" {
		return errors.New("no session config path specified")
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(os.ExpandEnv(path), out, 0o644)
}
