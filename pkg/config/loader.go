package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound indicates the override file was not found — not fatal,
// the built-in baseline is used as-is.
var ErrConfigNotFound = os.ErrNotExist

// Load reads "skillforge.yaml" from configDir (if present), expands
// ${ENV_VAR} references, merges it over the built-in Defaults(), and
// validates the result. Grounded on tarsy's config.Initialize pipeline:
// load -> expand env -> parse -> merge -> validate.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(configDir, "skillforge.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if verr := NewValidator(cfg).ValidateAll(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	expanded := ExpandEnv(raw)

	var override Config
	if err := yaml.Unmarshal(expanded, &override); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging %s into defaults: %w", path, err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ExpandEnv expands ${VAR} and $VAR references using the standard library,
// exactly as tarsy's pkg/config/envexpand.go does.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
