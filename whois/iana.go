// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package whois

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/storage"
)

// Referral is one cached IANA answer. At most one of the three block ranges
// is set; a referral whose block contains a lookup key counts as a hit even
// when it was stored under a different cache key.
type Referral struct {
	WhoisServer string `json:"whois_server"`
	Description string `json:"description"`
	CachedAt    int64  `json:"cached_at"`

	ASBlockStart *uint32 `json:"as_block_start,omitempty"`
	ASBlockEnd   *uint32 `json:"as_block_end,omitempty"`

	IPv4BlockStart *netip.Addr `json:"ipv4_block_start,omitempty"`
	IPv4BlockEnd   *netip.Addr `json:"ipv4_block_end,omitempty"`

	IPv6BlockStart *netip.Addr `json:"ipv6_block_start,omitempty"`
	IPv6BlockEnd   *netip.Addr `json:"ipv6_block_end,omitempty"`
}

func newReferral(server, description string) *Referral {
	return &Referral{
		WhoisServer: server,
		Description: description,
		CachedAt:    time.Now().Unix(),
	}
}

func (r *Referral) expired() bool {
	return time.Now().Unix()-r.CachedAt > int64(config.IANACacheTTL.Seconds())
}

func (r *Referral) containsASN(asn uint32) bool {
	return r.ASBlockStart != nil && r.ASBlockEnd != nil &&
		asn >= *r.ASBlockStart && asn <= *r.ASBlockEnd
}

func (r *Referral) containsAddr(addr netip.Addr) bool {
	if addr.Is4() && r.IPv4BlockStart != nil && r.IPv4BlockEnd != nil {
		return addr.Compare(*r.IPv4BlockStart) >= 0 && addr.Compare(*r.IPv4BlockEnd) <= 0
	}
	if addr.Is6() && r.IPv6BlockStart != nil && r.IPv6BlockEnd != nil {
		return addr.Compare(*r.IPv6BlockStart) >= 0 && addr.Compare(*r.IPv6BlockEnd) <= 0
	}
	return false
}

// cacheKey computes where a referral lives: its block key when IANA returned
// a block range, the fallback key otherwise.
func (r *Referral) cacheKey(fallback string) string {
	switch {
	case r.ASBlockStart != nil && r.ASBlockEnd != nil:
		return fmt.Sprintf("asn_block_%d_%d", *r.ASBlockStart, *r.ASBlockEnd)
	case r.IPv4BlockStart != nil && r.IPv4BlockEnd != nil:
		return fmt.Sprintf("ipv4_block_%s_%s", *r.IPv4BlockStart, *r.IPv4BlockEnd)
	case r.IPv6BlockStart != nil && r.IPv6BlockEnd != nil:
		return fmt.Sprintf("ipv6_block_%s_%s", *r.IPv6BlockStart, *r.IPv6BlockEnd)
	default:
		return fallback
	}
}

var (
	referRE    = regexp.MustCompile(`(?i)refer:\s*([^\r\n\s]+)`)
	whoisRE    = regexp.MustCompile(`(?i)whois:\s*([^\r\n\s]+)`)
	asBlockRE  = regexp.MustCompile(`(?i)as-block:\s*(\d+)-(\d+)`)
	inetnumRE  = regexp.MustCompile(`(?i)inetnum:\s*([0-9.]+)\s*-\s*([0-9.]+)`)
	inet6numRE = regexp.MustCompile(`(?i)inet6num:\s*([0-9a-fA-F:]+)/(\d+)`)
	descPats   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)organisation:\s*([^\r\n]+)`),
		regexp.MustCompile(`(?i)organization:\s*([^\r\n]+)`),
		regexp.MustCompile(`(?i)descr:\s*([^\r\n]+)`),
		regexp.MustCompile(`(?i)description:\s*([^\r\n]+)`),
	}
)

// IANACache resolves the authoritative WHOIS server for a resource, keeping
// answers in the KV store for seven days with range-aware keys.
type IANACache struct {
	store  *storage.Store
	log    *slog.Logger
	rlimit ratelimit.Limiter
}

// NewIANACache wires the cache onto an open store.
func NewIANACache(store *storage.Store, logger *slog.Logger) *IANACache {
	return &IANACache{
		store:  store,
		log:    logger.With("name", "iana-cache"),
		rlimit: ratelimit.New(2, ratelimit.WithoutSlack),
	}
}

// GetWhoisServer returns the authoritative server for query, consulting the
// block caches, then the fallback key, then IANA itself. An empty string
// means no referral exists.
func (c *IANACache) GetWhoisServer(ctx context.Context, query string) string {
	if asn, ok := extractASN(query); ok {
		if server := c.findServerForASN(asn); server != "" {
			return server
		}
	}
	if addr, ok := extractAddr(query); ok {
		if server := c.findServerForAddr(addr); server != "" {
			return server
		}
	}

	key := fallbackKey(query)
	var ref Referral
	if found, err := c.store.GetJSON(key, &ref); err != nil {
		c.log.Warn("failed to read the referral cache", "key", key, "err", err)
	} else if found {
		if !ref.expired() {
			c.log.Debug("referral cache hit", "query", query, "server", ref.WhoisServer)
			return ref.WhoisServer
		}
		_ = c.store.Delete(key)
	}

	ref2, err := c.queryIANA(ctx, query)
	if err != nil {
		c.log.Error("IANA query failed", "query", query, "err", err)
		return ""
	}
	if ref2 == nil {
		return ""
	}

	if err := c.store.PutJSON(ref2.cacheKey(key), ref2); err != nil {
		c.log.Warn("failed to cache the IANA referral", "query", query, "err", err)
	}
	return ref2.WhoisServer
}

// RefreshOnFailure evicts every cached entry covering query and asks IANA
// again. Callers treat an empty result as the signal to try further
// fallbacks.
func (c *IANACache) RefreshOnFailure(ctx context.Context, query string) string {
	if asn, ok := extractASN(query); ok {
		c.evictBlocks("asn_block_", func(ref *Referral) bool { return ref.containsASN(asn) })
	}
	if addr, ok := extractAddr(query); ok {
		prefix := "ipv4_block_"
		if addr.Is6() {
			prefix = "ipv6_block_"
		}
		c.evictBlocks(prefix, func(ref *Referral) bool { return ref.containsAddr(addr) })
	}

	key := fallbackKey(query)
	_ = c.store.Delete(key)

	ref, err := c.queryIANA(ctx, query)
	if err != nil || ref == nil {
		if err != nil {
			c.log.Error("IANA refresh failed", "query", query, "err", err)
		}
		return ""
	}

	if err := c.store.PutJSON(ref.cacheKey(key), ref); err != nil {
		c.log.Warn("failed to cache the refreshed referral", "query", query, "err", err)
	}
	return ref.WhoisServer
}

// ClearExpired removes every referral past its TTL and returns the count.
func (c *IANACache) ClearExpired() int {
	var stale []string

	_ = c.store.Iterate("", func(key string, value []byte) bool {
		var ref Referral
		if found, err := c.store.GetJSON(key, &ref); err == nil && found && ref.expired() {
			stale = append(stale, key)
		}
		return true
	})

	for _, key := range stale {
		_ = c.store.Delete(key)
	}
	if len(stale) > 0 {
		c.log.Debug("cleared expired referrals", "count", len(stale))
	}
	return len(stale)
}

func (c *IANACache) findServerForASN(asn uint32) string {
	var server string

	_ = c.store.Iterate("asn_block_", func(key string, value []byte) bool {
		var ref Referral
		if found, err := c.store.GetJSON(key, &ref); err == nil && found {
			if !ref.expired() && ref.containsASN(asn) {
				server = ref.WhoisServer
				return false
			}
		}
		return true
	})
	return server
}

func (c *IANACache) findServerForAddr(addr netip.Addr) string {
	prefix := "ipv4_block_"
	if addr.Is6() {
		prefix = "ipv6_block_"
	}

	var server string
	_ = c.store.Iterate(prefix, func(key string, value []byte) bool {
		var ref Referral
		if found, err := c.store.GetJSON(key, &ref); err == nil && found {
			if !ref.expired() && ref.containsAddr(addr) {
				server = ref.WhoisServer
				return false
			}
		}
		return true
	})
	return server
}

func (c *IANACache) evictBlocks(prefix string, covers func(*Referral) bool) {
	var doomed []string

	_ = c.store.Iterate(prefix, func(key string, value []byte) bool {
		var ref Referral
		if found, err := c.store.GetJSON(key, &ref); err == nil && found && covers(&ref) {
			doomed = append(doomed, key)
		}
		return true
	})

	for _, key := range doomed {
		c.log.Debug("evicting block referral", "key", key)
		_ = c.store.Delete(key)
	}
}

func (c *IANACache) queryIANA(ctx context.Context, query string) (*Referral, error) {
	c.rlimit.Take()
	c.log.Debug("querying IANA", "query", query)

	resp, err := Query(ctx, query, config.IANAWhoisServer, config.IANAWhoisPort)
	if err != nil {
		return nil, err
	}
	return parseIANAResponse(resp), nil
}

// parseIANAResponse extracts the referral and any block range from an IANA
// answer. A nil result means the response named no server at all.
func parseIANAResponse(resp string) *Referral {
	var server string
	if m := referRE.FindStringSubmatch(resp); m != nil {
		server = m[1]
	} else if m := whoisRE.FindStringSubmatch(resp); m != nil {
		server = m[1]
	} else {
		return nil
	}

	ref := newReferral(server, extractDescription(resp))

	if m := asBlockRE.FindStringSubmatch(resp); m != nil {
		start, err1 := strconv.ParseUint(m[1], 10, 32)
		end, err2 := strconv.ParseUint(m[2], 10, 32)
		if err1 == nil && err2 == nil {
			s, e := uint32(start), uint32(end)
			ref.ASBlockStart, ref.ASBlockEnd = &s, &e
			return ref
		}
	}

	if m := inetnumRE.FindStringSubmatch(resp); m != nil {
		start, err1 := netip.ParseAddr(m[1])
		end, err2 := netip.ParseAddr(m[2])
		if err1 == nil && err2 == nil && start.Is4() && end.Is4() {
			ref.IPv4BlockStart, ref.IPv4BlockEnd = &start, &end
			return ref
		}
	}

	if m := inet6numRE.FindStringSubmatch(resp); m != nil {
		start, err1 := netip.ParseAddr(m[1])
		bits, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil && start.Is6() && bits <= 128 {
			end := ipv6BlockEnd(start, bits)
			ref.IPv6BlockStart, ref.IPv6BlockEnd = &start, &end
			return ref
		}
	}

	return ref
}

func extractDescription(resp string) string {
	for _, re := range descPats {
		if m := re.FindStringSubmatch(resp); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return "IANA referral"
}

// ipv6BlockEnd computes the last address of start/bits.
func ipv6BlockEnd(start netip.Addr, bits int) netip.Addr {
	b := start.As16()

	for i := bits; i < 128; i++ {
		b[i/8] |= 1 << (7 - i%8)
	}
	return netip.AddrFrom16(b)
}

func extractASN(query string) (uint32, bool) {
	s := strings.ToUpper(query)
	s = strings.TrimPrefix(s, "AS")

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func extractAddr(query string) (netip.Addr, bool) {
	if addr, err := netip.ParseAddr(query); err == nil {
		return addr, true
	}
	if prefix, err := netip.ParsePrefix(query); err == nil {
		return prefix.Masked().Addr(), true
	}
	return netip.Addr{}, false
}

// fallbackKey buckets non-block referrals: /8 for IPv4, /32 for IPv6, the
// ASN itself, the TLD for domains, the lowercased text otherwise.
func fallbackKey(query string) string {
	if addr, err := netip.ParseAddr(query); err == nil {
		return addrKey(addr)
	}
	if prefix, err := netip.ParsePrefix(query); err == nil {
		return addrKey(prefix.Masked().Addr())
	}
	if asn, ok := extractASN(query); ok {
		return fmt.Sprintf("asn_%d", asn)
	}
	if i := strings.LastIndex(query, "."); i >= 0 && i < len(query)-1 {
		return "domain_" + strings.ToLower(query[i+1:])
	}
	return "other_" + strings.ToLower(query)
}

func addrKey(addr netip.Addr) string {
	if addr.Is4() {
		return fmt.Sprintf("ipv4_%d", addr.As4()[0])
	}
	seg := addr.As16()
	return fmt.Sprintf("ipv6_%x_%x",
		uint16(seg[0])<<8|uint16(seg[1]), uint16(seg[2])<<8|uint16(seg[3]))
}
