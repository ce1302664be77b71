// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package dn42 serves lookups against a locally mirrored DN42 registry.
// Objects live in the KV store under <objtype>/<name> keys, populated either
// from a git mirror or fetched on demand over HTTPS.
package dn42

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Object types recognized in the registry tree.
const (
	typeInetnum    = "inetnum"
	typeInet6num   = "inet6num"
	typeRoute      = "route"
	typeRoute6     = "route6"
	typeAutNum     = "aut-num"
	typePerson     = "person"
	typeMntner     = "mntner"
	typeSchema     = "schema"
	typeOrg        = "organisation"
	typeTincKeyset = "tinc-keyset"
	typeTincKey    = "tinc-key"
	typeRouteSet   = "route-set"
	typeASBlock    = "as-block"
	typeASSet      = "as-set"
	typeDNS        = "dns"
)

// objectTypes lists every subdirectory the git populator walks.
var objectTypes = []string{
	typeInetnum, typeInet6num, typeRoute, typeRoute6, typeAutNum,
	typePerson, typeMntner, typeSchema, typeOrg, typeTincKeyset,
	typeTincKey, typeRouteSet, typeASBlock, typeASSet, typeDNS,
}

// fetcher resolves one registry object by type and normalized name. The
// second result is false when the object does not exist.
type fetcher interface {
	Fetch(objType, name string) (string, bool, error)
}

// NormalizeASN maps short DN42 ASN forms onto the AS424242 space: 1 to 4
// digits are zero-padded into AS424242NNNN, longer numbers pass through.
func NormalizeASN(q string) (string, bool) {
	s := strings.ToUpper(q)
	s = strings.TrimPrefix(s, "AS")

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return "", false
	}

	digits := strconv.FormatUint(n, 10)
	switch len(digits) {
	case 1:
		return "AS424242000" + digits, true
	case 2:
		return "AS42424200" + digits, true
	case 3:
		return "AS4242420" + digits, true
	case 4:
		return "AS424242" + digits, true
	default:
		return "AS" + digits, true
	}
}

// findNetwork performs the longest-prefix match: starting at queryMask and
// walking toward /0, probe <subdir>/<network>/<mask> until a stored object
// matches. It returns the matched network name.
func findNetwork(f fetcher, subdir string, addr netip.Addr, queryMask int) (string, string, bool) {
	for mask := queryMask; mask >= 0; mask-- {
		prefix, err := addr.Prefix(mask)
		if err != nil {
			continue
		}

		name := fmt.Sprintf("%s/%d", prefix.Addr(), mask)
		if content, ok, err := f.Fetch(subdir, name); err == nil && ok {
			return name, content, true
		}
	}
	return "", "", false
}

// Lookup answers one DN42 query against a backing fetcher.
type Lookup struct {
	f fetcher
}

// Query returns the framed response: a literal query header followed by the
// matched content or a 404 marker.
func (l *Lookup) Query(q string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%% Query: %s\n", q)

	if resp, ok := l.routeQuery(q); ok {
		b.WriteString(resp)
	} else if content, ok := l.objectQuery(q); ok {
		b.WriteString(content)
	} else {
		b.WriteString("% 404 Not Found\n")
	}
	return b.String()
}

// QueryRaw returns just the matched object body, or empty when nothing
// matches. Service backends use this form.
func (l *Lookup) QueryRaw(q string) string {
	if addr, mask, v4, ok := parseIPQuery(q); ok {
		subdir := typeInet6num
		if v4 {
			subdir = typeInetnum
		}
		if _, content, ok := findNetwork(l.f, subdir, addr, mask); ok {
			return content
		}
		return ""
	}
	if content, ok := l.objectQuery(q); ok {
		return content
	}
	return ""
}

// routeQuery handles IP and CIDR input: the address object first, then the
// covering route object.
func (l *Lookup) routeQuery(q string) (string, bool) {
	addr, mask, v4, ok := parseIPQuery(q)
	if !ok {
		return "", false
	}

	numType, routeType := typeInet6num, typeRoute6
	if v4 {
		numType, routeType = typeInetnum, typeRoute
	}

	var b strings.Builder
	if _, content, ok := findNetwork(l.f, numType, addr, mask); ok {
		b.WriteString(content)
	} else {
		fmt.Fprintf(&b, "%% 404 - %s not found\n", numType)
	}

	b.WriteString("% Relevant route object:\n")

	if _, content, ok := findNetwork(l.f, routeType, addr, mask); ok {
		b.WriteString(content)
	} else {
		fmt.Fprintf(&b, "%% 404 - %s not found\n", routeType)
	}
	return b.String(), true
}

// objectQuery dispatches named objects by their key shape; first match wins.
func (l *Lookup) objectQuery(q string) (string, bool) {
	upper := strings.ToUpper(q)

	if asn, ok := NormalizeASN(upper); ok {
		if content, ok := l.fetch(typeAutNum, asn); ok {
			return content, true
		}
	}
	if strings.HasSuffix(upper, "-DN42") {
		if content, ok := l.fetch(typePerson, upper); ok {
			return content, true
		}
	}
	if strings.HasSuffix(upper, "-MNT") {
		if content, ok := l.fetch(typeMntner, upper); ok {
			return content, true
		}
	}
	if strings.HasSuffix(upper, "-SCHEMA") {
		if content, ok := l.fetch(typeSchema, upper); ok {
			return content, true
		}
	}
	if strings.HasPrefix(upper, "ORG-") {
		if content, ok := l.fetch(typeOrg, upper); ok {
			return content, true
		}
	}
	if strings.HasPrefix(upper, "SET-") && strings.HasSuffix(upper, "-TINC") {
		if content, ok := l.fetch(typeTincKeyset, upper); ok {
			return content, true
		}
	}
	if strings.HasSuffix(upper, "-TINC") && !strings.HasPrefix(upper, "SET-") {
		if content, ok := l.fetch(typeTincKey, upper); ok {
			return content, true
		}
	}
	if strings.HasPrefix(upper, "RS-") {
		if content, ok := l.fetch(typeRouteSet, upper); ok {
			return content, true
		}
	}
	if strings.HasPrefix(upper, "AS") && strings.Contains(upper, "-AS") {
		if content, ok := l.fetch(typeASBlock, upper); ok {
			return content, true
		}
	}
	if strings.HasPrefix(upper, "AS") && !allDigits(upper[2:]) {
		if content, ok := l.fetch(typeASSet, upper); ok {
			return content, true
		}
	}
	if content, ok := l.fetch(typeDNS, strings.ToLower(q)); ok {
		return content, true
	}
	return "", false
}

func (l *Lookup) fetch(objType, name string) (string, bool) {
	content, ok, err := l.f.Fetch(objType, name)
	if err != nil || !ok {
		return "", false
	}
	return content, true
}

// parseIPQuery accepts a bare address or CIDR and returns the address, the
// starting mask for the LPM walk and the family.
func parseIPQuery(q string) (netip.Addr, int, bool, bool) {
	if prefix, err := netip.ParsePrefix(q); err == nil {
		addr := prefix.Masked().Addr()
		return addr, prefix.Bits(), addr.Is4(), true
	}
	if addr, err := netip.ParseAddr(q); err == nil {
		mask := 128
		if addr.Is4() {
			mask = 32
		}
		return addr, mask, addr.Is4(), true
	}
	return netip.Addr{}, 0, false, false
}

func allDigits(s string) bool {
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
