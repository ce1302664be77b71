// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package query turns a raw WHOIS request line into a typed query for the
// dispatcher. Analysis is pure string and address parsing; no I/O happens
// here.
package query

import (
	"net/netip"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Kind discriminates the typed query union.
type Kind int

const (
	KindUnknown Kind = iota
	KindDomain
	KindIPv4
	KindIPv6
	KindCIDR
	KindASN
	KindService
	KindPlugin
)

// Service identifies the backend a suffix-dispatched query is routed to.
type Service string

const (
	SvcEmail       Service = "EMAIL"
	SvcBGPTool     Service = "BGPTOOL"
	SvcGeo         Service = "GEO"
	SvcRIRGeo      Service = "RIRGEO"
	SvcPrefixes    Service = "PREFIXES"
	SvcRADB        Service = "RADB"
	SvcIRR         Service = "IRR"
	SvcLG          Service = "LG"
	SvcRPKI        Service = "RPKI"
	SvcMANRS       Service = "MANRS"
	SvcDNS         Service = "DNS"
	SvcTrace       Service = "TRACE"
	SvcSSL         Service = "SSL"
	SvcCRT         Service = "CRT"
	SvcMinecraft   Service = "MC"
	SvcMCUser      Service = "MCU"
	SvcSteam       Service = "STEAM"
	SvcSteamSearch Service = "STEAMSEARCH"
	SvcIMDB        Service = "IMDB"
	SvcIMDBSearch  Service = "IMDBSEARCH"
	SvcACGC        Service = "ACGC"
	SvcAUR         Service = "AUR"
	SvcDebian      Service = "DEBIAN"
	SvcUbuntu      Service = "UBUNTU"
	SvcNixOS       Service = "NIXOS"
	SvcOpenSUSE    Service = "OPENSUSE"
	SvcOpenWrt     Service = "OPENWRT"
	SvcNPM         Service = "NPM"
	SvcPyPI        Service = "PYPI"
	SvcCargo       Service = "CARGO"
	SvcModrinth    Service = "MODRINTH"
	SvcCurseForge  Service = "CURSEFORGE"
	SvcGitHub      Service = "GITHUB"
	SvcWikipedia   Service = "WIKIPEDIA"
	SvcLyric       Service = "LYRIC"
	SvcDesc        Service = "DESC"
	SvcPeeringDB   Service = "PEERINGDB"
	SvcICP         Service = "ICP"
	SvcNTP         Service = "NTP"
	SvcMeal        Service = "MEAL"
	SvcMealCN      Service = "MEALCN"
	SvcHelp        Service = "HELP"
)

// Type is the analyzed form of one request line.
type Type struct {
	Kind Kind
	// Raw is the query exactly as received.
	Raw string
	// Base is the payload with any recognized suffix removed. For Domain,
	// ASN and Unknown it carries the full value; the ASN payload is
	// uppercased, everything else keeps its original casing.
	Base string
	// Addr is set for IPv4, IPv6 and CIDR queries. For CIDR it is the
	// first address of the network.
	Addr netip.Addr
	// Prefix is set for CIDR queries.
	Prefix netip.Prefix
	// Service is set for KindService.
	Service Service
	// PluginSuffix is the uppercase registered suffix for KindPlugin,
	// including the leading dash.
	PluginSuffix string
	// RPKIPrefix and RPKIASN carry the two halves of an RPKI query.
	RPKIPrefix string
	RPKIASN    string
}

// suffixes maps the recognized dash suffix (without the dash) to its
// service. Aliases map to the same service as their long form.
var suffixes = map[string]Service{
	"EMAIL":       SvcEmail,
	"BGPTOOL":     SvcBGPTool,
	"GEO":         SvcGeo,
	"RIRGEO":      SvcRIRGeo,
	"PREFIXES":    SvcPrefixes,
	"RADB":        SvcRADB,
	"IRR":         SvcIRR,
	"LG":          SvcLG,
	"MANRS":       SvcMANRS,
	"DNS":         SvcDNS,
	"TRACEROUTE":  SvcTrace,
	"TRACE":       SvcTrace,
	"SSL":         SvcSSL,
	"CRT":         SvcCRT,
	"MINECRAFT":   SvcMinecraft,
	"MCU":         SvcMCUser,
	"MC":          SvcMinecraft,
	"STEAMSEARCH": SvcSteamSearch,
	"STEAM":       SvcSteam,
	"IMDBSEARCH":  SvcIMDBSearch,
	"IMDB":        SvcIMDB,
	"ACGC":        SvcACGC,
	"AUR":         SvcAUR,
	"DEBIAN":      SvcDebian,
	"UBUNTU":      SvcUbuntu,
	"NIXOS":       SvcNixOS,
	"OPENSUSE":    SvcOpenSUSE,
	"OPENWRT":     SvcOpenWrt,
	"NPM":         SvcNPM,
	"PYPI":        SvcPyPI,
	"CARGO":       SvcCargo,
	"MODRINTH":    SvcModrinth,
	"CURSEFORGE":  SvcCurseForge,
	"GITHUB":      SvcGitHub,
	"WIKIPEDIA":   SvcWikipedia,
	"LYRIC":       SvcLyric,
	"DESC":        SvcDesc,
	"PEERINGDB":   SvcPeeringDB,
	"ICP":         SvcICP,
	"NTP":         SvcNTP,
	"MEALCN":      SvcMealCN,
	"MEAL":        SvcMeal,
	"HELP":        SvcHelp,
}

// orderedSuffixes holds the suffix names longest first, so -STEAMSEARCH wins
// over -STEAM and -TRACEROUTE over -TRACE.
var orderedSuffixes = func() []string {
	names := make([]string, 0, len(suffixes))
	for name := range suffixes {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

// bareKeywords are accepted without a base, e.g. a plain "HELP" query.
var bareKeywords = map[string]Service{
	"HELP":   SvcHelp,
	"MEAL":   SvcMeal,
	"MEALCN": SvcMealCN,
}

var domainRE = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

var pluginSuffixes struct {
	sync.RWMutex
	set map[string]struct{}
}

// RegisterPluginSuffix makes the analyzer recognize suffix (uppercase, with
// leading dash) as a plugin dispatch target.
func RegisterPluginSuffix(suffix string) {
	suffix = strings.ToUpper(suffix)

	pluginSuffixes.Lock()
	defer pluginSuffixes.Unlock()

	if pluginSuffixes.set == nil {
		pluginSuffixes.set = make(map[string]struct{})
	}
	pluginSuffixes.set[suffix] = struct{}{}
}

// UnregisterPluginSuffix removes a previously registered plugin suffix.
func UnregisterPluginSuffix(suffix string) {
	pluginSuffixes.Lock()
	defer pluginSuffixes.Unlock()
	delete(pluginSuffixes.set, strings.ToUpper(suffix))
}

func matchPluginSuffix(upper string) (string, bool) {
	pluginSuffixes.RLock()
	defer pluginSuffixes.RUnlock()

	for suffix := range pluginSuffixes.set {
		if strings.HasSuffix(upper, suffix) && len(upper) > len(suffix) {
			return suffix, true
		}
	}
	return "", false
}

// Analyze classifies one trimmed request line. It always returns a value;
// anything unrecognized comes back as KindUnknown with the original text.
func Analyze(q string) Type {
	unknown := Type{Kind: KindUnknown, Raw: q, Base: q}

	if q == "" || strings.ContainsAny(q, " \t") {
		return unknown
	}
	upper := strings.ToUpper(q)

	// RPKI queries carry two payloads: <prefix>-<asn>-RPKI.
	if strings.HasSuffix(upper, "-RPKI") {
		base := q[:len(q)-len("-RPKI")]

		if dash := strings.LastIndex(base, "-"); dash > 0 {
			prefixPart := base[:dash]
			asnPart := base[dash+1:]

			if isAllDigits(asnPart) {
				if p, err := netip.ParsePrefix(prefixPart); err == nil {
					return Type{Kind: KindService, Raw: q, Service: SvcRPKI,
						Base: base, RPKIPrefix: p.String(), RPKIASN: asnPart}
				}
				if a, err := netip.ParseAddr(prefixPart); err == nil {
					bits := "/32"
					if a.Is6() {
						bits = "/128"
					}
					return Type{Kind: KindService, Raw: q, Service: SvcRPKI,
						Base: base, RPKIPrefix: prefixPart + bits, RPKIASN: asnPart}
				}
			}
		}
		return unknown
	}

	if svc, ok := bareKeywords[upper]; ok {
		return Type{Kind: KindService, Raw: q, Service: svc}
	}

	for _, name := range orderedSuffixes {
		if strings.HasSuffix(upper, "-"+name) && len(q) > len(name)+1 {
			return Type{
				Kind:    KindService,
				Raw:     q,
				Service: suffixes[name],
				Base:    q[:len(q)-len(name)-1],
			}
		}
	}

	if suffix, ok := matchPluginSuffix(upper); ok {
		return Type{
			Kind:         KindPlugin,
			Raw:          q,
			PluginSuffix: suffix,
			Base:         q[:len(q)-len(suffix)],
		}
	}

	if strings.HasSuffix(strings.ToLower(q), ".dn42") {
		return Type{Kind: KindDomain, Raw: q, Base: q}
	}

	// DN42 person and maintainer handles go through the unknown path so the
	// dispatcher tries the registry first.
	if strings.HasSuffix(upper, "-DN42") || strings.HasSuffix(upper, "-MNT") {
		return unknown
	}

	if addr, err := netip.ParseAddr(q); err == nil {
		kind := KindIPv4
		if !addr.Is4() {
			kind = KindIPv6
		}
		return Type{Kind: kind, Raw: q, Base: q, Addr: addr}
	}

	if prefix, err := netip.ParsePrefix(q); err == nil {
		return Type{Kind: KindCIDR, Raw: q, Base: q,
			Addr: prefix.Masked().Addr(), Prefix: prefix}
	}

	if strings.HasPrefix(upper, "AS") && len(q) > 2 && isAllDigits(q[2:]) {
		return Type{Kind: KindASN, Raw: q, Base: upper}
	}

	if domainRE.MatchString(q) {
		return Type{Kind: KindDomain, Raw: q, Base: q}
	}

	return unknown
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
