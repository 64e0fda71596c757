// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

package hosts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the client-side configuration file. It names the compile
// targets and the local directories the dispatch machinery uses.
type Config struct {
	// Hosts are compile-target specifications, tried in order by the
	// caller's retry policy.
	Hosts []string `yaml:"hosts"`

	// LockDir holds the admission-lock slot files.
	LockDir string `yaml:"lock_dir"`

	// Slots bounds concurrent local preprocessing.
	Slots int `yaml:"slots"`

	// StateDir receives monitor phase notes; empty disables notes.
	StateDir string `yaml:"state_dir"`

	// SecretFile is the shared secret for hosts with the auth option.
	SecretFile string `yaml:"secret_file"`

	// TunnelCommand overrides the default tunnel template. The
	// {target} placeholder expands to host or user@host.
	TunnelCommand []string `yaml:"tunnel_command"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LockDir: "/tmp/distcc-locks",
		Slots:   2,
	}
}

// Load reads a YAML configuration file and resolves its host
// specifications. Unset fields keep their Default values.
func Load(path string) (Config, []*Definition, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if config.Slots < 1 {
		return config, nil, fmt.Errorf("config %s: slots must be positive", path)
	}

	definitions, err := config.Definitions()
	if err != nil {
		return config, nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, definitions, nil
}

// Definitions parses every host specification in the config, applying
// the tunnel command override.
func (c Config) Definitions() ([]*Definition, error) {
	definitions := make([]*Definition, 0, len(c.Hosts))
	for _, spec := range c.Hosts {
		definition, err := ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		if definition.Mode == ModeTunnel && len(c.TunnelCommand) > 0 {
			definition.TunnelCommand = expandTunnelCommand(c.TunnelCommand, definition)
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}
