// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package plugins discovers user-supplied Lua plugins and dispatches
// suffix-tagged queries into sandboxed scripting states.
package plugins

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml"
)

// Metadata mirrors a plugin's meta.toml file.
type Metadata struct {
	Plugin      PluginInfo  `toml:"plugin"`
	Permissions Permissions `toml:"permissions"`
}

// PluginInfo identifies the plugin and its dispatch suffix.
type PluginInfo struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Suffix  string `toml:"suffix"`
	Enabled bool   `toml:"enabled"`
	Timeout int    `toml:"timeout"`
}

// Permissions gate the host API surface a plugin state receives.
type Permissions struct {
	Network        bool     `toml:"network"`
	AllowedDomains []string `toml:"allowed_domains"`
	CacheRead      bool     `toml:"cache_read"`
	CacheWrite     bool     `toml:"cache_write"`
	UserAgent      string   `toml:"user_agent"`
	EnvVars        []string `toml:"env_vars"`
}

// LoadMetadata reads and validates one meta.toml. The suffix comes back
// uppercased and must begin with a dash.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", path, err)
	}

	var meta Metadata
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", path, err)
	}

	if meta.Plugin.Name == "" {
		return nil, fmt.Errorf("%s is missing the plugin name", path)
	}
	meta.Plugin.Suffix = strings.ToUpper(meta.Plugin.Suffix)
	if !strings.HasPrefix(meta.Plugin.Suffix, "-") {
		return nil, fmt.Errorf("plugin %s has a suffix not beginning with a dash", meta.Plugin.Name)
	}
	if meta.Plugin.Timeout <= 0 {
		meta.Plugin.Timeout = 5
	}
	return &meta, nil
}
