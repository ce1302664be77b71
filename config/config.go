// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"
)

// Upstream WHOIS endpoints used by the referral pipeline.
const (
	IANAWhoisServer = "whois.iana.org"
	IANAWhoisPort   = 43

	DefaultWhoisServer = "whois.ripe.net"
	DefaultWhoisPort   = 43

	RADBWhoisServer = "whois.radb.net"
	RADBWhoisPort   = 43
)

// DN42 registry mirror settings.
const (
	DN42RegistryURL  = "https://git.pysio.online/pysio/mirrors-dn42.git"
	DN42RegistryPath = "cache/dn42_registry_git"
	DN42RawBaseURL   = "https://git.pysio.online/pysio/mirrors-dn42/-/raw/master/data"
)

// Filesystem locations for the persistent stores.
const (
	IANACachePath      = "cache/iana_cache"
	DN42StorePath      = "cache/dn42_registry"
	PluginCachePath    = "cache/plugins"
	PeeringDBCachePath = "cache/peeringdb"
	ICPCachePath       = "cache/icp"
	SSHHistoryPath     = "cache/ssh_history"
	SSHHostKeyPath     = "cache/ssh/ssh_host_key"
)

const (
	// MaxResponseSize caps how much is read from any upstream WHOIS server.
	MaxResponseSize = 1_000_000
	// MaxQueryLength bounds a single RFC 3912 request line.
	MaxQueryLength = 900

	IANACacheTTL       = 7 * 24 * time.Hour
	OnlineCacheTTL     = 24 * time.Hour
	SSHHistoryTTL      = 30 * 24 * time.Hour
	SSHHistoryPerIPCap = 100
	SSHIdleTimeout     = time.Hour
)

// Config holds the runtime options recognized by the server. The zero value
// is not usable; obtain one from Default and override from the CLI.
type Config struct {
	Host           string
	Port           int
	WebPort        int
	SSHPort        int
	MaxConnections int
	Timeout        time.Duration
	DumpTraffic    bool
	DumpDir        string
	Debug          bool
	Trace          bool
	UseBlocking    bool
	PatchesDir     string
	PluginsDir     string
	PluginsEnvFile string
}

// Default returns the option set documented for the CLI.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           43,
		WebPort:        8080,
		SSHPort:        2222,
		MaxConnections: 100,
		Timeout:        10 * time.Second,
		DumpDir:        "dumps",
		PatchesDir:     "patches",
		PluginsDir:     "plugins",
		PluginsEnvFile: ".plugins.env",
	}
}

// PrivateIPv4Ranges are the IPv4 blocks routed to the DN42 registry instead
// of the public WHOIS tree.
var PrivateIPv4Ranges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"100.64.0.0/10",
	"127.0.0.0/8",
}

// PrivateIPv6Ranges are the IPv6 equivalents.
var PrivateIPv6Ranges = []string{
	"fc00::/7",
	"fd00::/8",
	"fe80::/10",
	"::1/128",
	"2001:db8::/32",
}
