package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig matches the structure of secrets/<mode>.yaml
type SecretConfig struct {
	Signer struct {
		PrivateKey string `yaml:"private_key"`
	} `yaml:"signer"`
}

// LoadSecretConfig loads the signer key from a separate yaml file.
// It returns error if file is missing (Fail Fast).
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var cfg SecretConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}

	return &cfg, nil
}

// ResolveSignerKey returns the signer key from the environment/config, or
// from signer.secrets_path when set. Empty means no key is configured.
func (c *Config) ResolveSignerKey() (string, error) {
	if c.Signer.PrivateKey != "" {
		return c.Signer.PrivateKey, nil
	}
	if c.Signer.SecretsPath == "" {
		return "", nil
	}
	sec, err := LoadSecretConfig(c.Signer.SecretsPath)
	if err != nil {
		return "", err
	}
	return sec.Signer.PrivateKey, nil
}
