// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"fmt"
	"sort"
	"strings"
)

// descAttributes are the registry attributes worth surfacing in a summary.
var descAttributes = []string{
	"as-name", "netname", "descr", "country", "admin-c", "tech-c", "mnt-by", "remarks",
}

// Desc condenses a DN42 object into its descriptive attributes.
func (c *Client) Desc(base string) (string, error) {
	if c.dn42 == nil {
		return "% Description lookup requires the DN42 registry\n", nil
	}

	raw, err := c.dn42.QueryRaw(base)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return fmt.Sprintf("%% No registry object found for %s\n", base), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Description of %s\n", base)

	var found bool
	for _, line := range strings.Split(raw, "\n") {
		key, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		for _, attr := range descAttributes {
			if strings.TrimSpace(key) == attr {
				b.WriteString(line + "\n")
				found = true
				break
			}
		}
	}

	if !found {
		b.WriteString("% Object carries no descriptive attributes\n")
	}
	return b.String(), nil
}

// Email surfaces the contact addresses attached to a DN42 object.
func (c *Client) Email(base string) (string, error) {
	if c.dn42 == nil {
		return "% Email lookup requires the DN42 registry\n", nil
	}

	raw, err := c.dn42.QueryRaw(base)
	if err != nil {
		return "", err
	}
	if raw == "" {
		return fmt.Sprintf("%% No registry object found for %s\n", base), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Contact addresses for %s\n", base)

	var found bool
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "e-mail", "contact", "abuse-mailbox":
			fmt.Fprintf(&b, "%-15s %s\n", strings.TrimSpace(key)+":", strings.TrimSpace(value))
			found = true
		}
	}

	if !found {
		b.WriteString("% No contact addresses on record\n")
	}
	return b.String(), nil
}

// HelpText lists the recognized query suffixes and bare keywords. The
// aliases -TRACEROUTE and -MINECRAFT are not listed separately.
func HelpText() string {
	suffixes := []string{
		"-EMAIL registry contacts", "-BGPTOOL bgp.tools lookup", "-GEO geolocation",
		"-RIRGEO RIR-registered location", "-PREFIXES announced prefixes", "-RADB RADB lookup",
		"-IRR IRR Explorer", "-LG looking glass", "<prefix>-<asn>-RPKI origin validation",
		"-MANRS MANRS participation", "-DNS record lookup", "-TRACE traceroute",
		"-SSL certificate details", "-CRT certificate transparency", "-MC Minecraft server",
		"-MCU Minecraft profile", "-STEAM Steam app", "-STEAMSEARCH Steam search",
		"-IMDB IMDb title", "-IMDBSEARCH IMDb search", "-ACGC anime characters",
		"-AUR Arch AUR", "-DEBIAN Debian packages", "-UBUNTU Ubuntu packages",
		"-NIXOS NixOS packages", "-OPENSUSE openSUSE packages", "-OPENWRT OpenWrt packages",
		"-NPM npm packages", "-PYPI PyPI packages", "-CARGO crates.io packages",
		"-MODRINTH Modrinth projects", "-CURSEFORGE CurseForge search", "-GITHUB GitHub lookup",
		"-WIKIPEDIA Wikipedia summary", "-LYRIC lyrics", "-DESC registry description",
		"-PEERINGDB PeeringDB network", "-ICP ICP filing", "-NTP time server check",
		"HELP this text", "MEAL random meal", "MEALCN random Chinese meal",
	}
	sort.Strings(suffixes)

	var b strings.Builder
	b.WriteString("% Akaere NetWorks Whois Server\n")
	b.WriteString("% Append a suffix to a query to select a backend:\n%\n")
	for _, s := range suffixes {
		fmt.Fprintf(&b, "%%   %s\n", s)
	}
	b.WriteString("%\n% Plain domains, IPs and ASNs follow IANA referrals;\n")
	b.WriteString("% private resources resolve against the DN42 registry.\n")
	return b.String()
}
