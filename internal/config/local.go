package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoOverride is a per-repository override of a subset of Config,
// read directly from a ".sharesync.yaml" file in the repo's working
// directory rather than through viper. This lets one machine hold
// several repos synced against different Share servers (or under
// different tokens) without juggling multiple global config files.
type RepoOverride struct {
	ServerURL string `yaml:"server-url"`
	AuthToken string `yaml:"auth-token"`
}

// LoadRepoOverride reads ".sharesync.yaml" from dir. A missing file is not
// an error — it returns a zero-value RepoOverride, meaning "no override."
func LoadRepoOverride(dir string) (*RepoOverride, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".sharesync.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return &RepoOverride{}, nil
		}
		return nil, fmt.Errorf("config: read repo override: %w", err)
	}
	var o RepoOverride
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("config: parse repo override: %w", err)
	}
	return &o, nil
}

// Apply layers a non-empty RepoOverride field over cfg, returning a new
// Config. The original is left untouched.
func (o *RepoOverride) Apply(cfg *Config) *Config {
	merged := *cfg
	if o.ServerURL != "" {
		merged.ServerURL = o.ServerURL
	}
	if o.AuthToken != "" {
		merged.AuthToken = o.AuthToken
	}
	return &merged
}
