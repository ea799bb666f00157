package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SeedKey is one provisioned key in a seed file
type SeedKey struct {
	Code string `yaml:"code"`
	Role string `yaml:"role"`
}

type seedFile struct {
	Keys []SeedKey `yaml:"keys"`
}

// LoadSeedFile reads the keys listed in a YAML seed file:
//
//	keys:
//	  - code: PREMIUM-AAAA
//	    role: premium
func LoadSeedFile(path string) ([]SeedKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, k := range f.Keys {
		if k.Code == "" || k.Role == "" {
			return nil, fmt.Errorf("seed key %d in %s: code and role are required", i, path)
		}
	}

	return f.Keys, nil
}
