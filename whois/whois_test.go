// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package whois

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akaere-networks/whois-server/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWhoisServer runs a one-shot RFC 3912 responder and returns its port.
func startWhoisServer(t *testing.T, respond func(query string) string) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1024)
				n, _ := c.Read(buf)
				q := strings.TrimSpace(string(buf[:n]))
				_, _ = c.Write([]byte(respond(q)))
			}(conn)
		}
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestQueryReadsToEOF(t *testing.T) {
	port := startWhoisServer(t, func(q string) string {
		return "domain: " + q + "\nstatus: ACTIVE\n"
	})

	resp, err := Query(context.Background(), "example.com", "127.0.0.1", port)
	require.NoError(t, err)
	assert.Contains(t, resp, "domain: example.com")
}

func TestQueryEmptyResponseIsAnError(t *testing.T) {
	port := startWhoisServer(t, func(string) string { return "" })

	_, err := Query(context.Background(), "example.com", "127.0.0.1", port)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestQueryConnectionRefused(t *testing.T) {
	_, err := QueryWithTimeout(context.Background(), "x", "127.0.0.1", 1, time.Second)
	assert.Error(t, err)
}

func TestParseIANAResponseReferAndASBlock(t *testing.T) {
	ref := parseIANAResponse("as-block:     213404-214427\nrefer:        whois.ripe.net\n")
	require.NotNil(t, ref)
	assert.Equal(t, "whois.ripe.net", ref.WhoisServer)
	require.NotNil(t, ref.ASBlockStart)
	assert.Equal(t, uint32(213404), *ref.ASBlockStart)
	assert.Equal(t, uint32(214427), *ref.ASBlockEnd)

	assert.True(t, ref.containsASN(213404))
	assert.True(t, ref.containsASN(213500))
	assert.True(t, ref.containsASN(214427))
	assert.False(t, ref.containsASN(213403))
	assert.False(t, ref.containsASN(214428))
}

func TestParseIANAResponseWhoisFallbackAndDescription(t *testing.T) {
	ref := parseIANAResponse("organisation: RIPE NCC\nwhois:        whois.ripe.net\n")
	require.NotNil(t, ref)
	assert.Equal(t, "whois.ripe.net", ref.WhoisServer)
	assert.Equal(t, "RIPE NCC", ref.Description)

	assert.Nil(t, parseIANAResponse("% nothing useful here\n"))
}

func TestParseIANAResponseIPv4Block(t *testing.T) {
	ref := parseIANAResponse("refer: whois.apnic.net\ninetnum: 1.0.0.0 - 1.255.255.255\n")
	require.NotNil(t, ref)
	require.NotNil(t, ref.IPv4BlockStart)

	assert.True(t, ref.containsAddr(netip.MustParseAddr("1.1.1.1")))
	assert.False(t, ref.containsAddr(netip.MustParseAddr("2.0.0.0")))
}

func TestParseIANAResponseIPv6Block(t *testing.T) {
	ref := parseIANAResponse("refer: whois.ripe.net\ninet6num: 2a00::/12\n")
	require.NotNil(t, ref)
	require.NotNil(t, ref.IPv6BlockStart)

	assert.True(t, ref.containsAddr(netip.MustParseAddr("2a07:1::1")))
	assert.False(t, ref.containsAddr(netip.MustParseAddr("2c00::1")))
}

func TestIPv6BlockEnd(t *testing.T) {
	end := ipv6BlockEnd(netip.MustParseAddr("2001:db8::"), 32)
	assert.Equal(t, "2001:db8:ffff:ffff:ffff:ffff:ffff:ffff", end.String())
}

func TestFallbackKey(t *testing.T) {
	assert.Equal(t, "ipv4_1", fallbackKey("1.1.1.1"))
	assert.Equal(t, "ipv4_8", fallbackKey("8.8.8.8"))
	assert.Equal(t, "ipv4_192", fallbackKey("192.0.2.0/24"))
	assert.Equal(t, "asn_64512", fallbackKey("AS64512"))
	assert.Equal(t, "asn_1234", fallbackKey("1234"))
	assert.Equal(t, "domain_com", fallbackKey("example.com"))
	assert.Equal(t, "domain_online", fallbackKey("test.online"))
	assert.Equal(t, "other_foo", fallbackKey("FOO"))
}

func TestBlockCacheHitWithoutNetwork(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cache := NewIANACache(store, testLogger())

	// Seed the cache the way a first AS213606 query would.
	ref := parseIANAResponse("as-block: 213404-214427\nrefer: whois.ripe.net\n")
	require.NoError(t, store.PutJSON(ref.cacheKey("asn_213606"), ref))

	// A different ASN inside the same block must hit without touching
	// the network: the IANA endpoint is unreachable from here.
	server := cache.GetWhoisServer(context.Background(), "AS213500")
	assert.Equal(t, "whois.ripe.net", server)
}

func TestExpiredReferralIsIgnored(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	cache := NewIANACache(store, testLogger())

	ref := parseIANAResponse("as-block: 1000-2000\nrefer: whois.arin.net\n")
	ref.CachedAt -= 8 * 24 * 3600
	require.NoError(t, store.PutJSON(ref.cacheKey(""), ref))

	assert.Empty(t, cache.findServerForASN(1500))
	assert.Equal(t, 1, cache.ClearExpired())
}

func TestShouldTryRADBFallback(t *testing.T) {
	assert.True(t, shouldTryRADBFallback("% No entries found\n", "192.0.2.0/24"))
	assert.True(t, shouldTryRADBFallback(
		"line one here\nline two here\nThis ASN block is not managed by the RIPE NCC\nmore data\nmore data\n", "AS1"))

	full := strings.Repeat("inetnum: 192.0.2.0 - 192.0.2.255\nnetname: TEST\ncountry: ZZ\n", 3) +
		"route: 192.0.2.0/24\norigin: AS64500\nsource: TEST\n"
	assert.False(t, shouldTryRADBFallback(full, "192.0.2.0/24"))
}

func TestIsMeaningfulResponse(t *testing.T) {
	thin := "% header\n\nroute: 10.0.0.0/8\n"
	assert.False(t, isMeaningfulResponse(thin, "10.0.0.0/8"))

	rich := "route:      192.0.2.0/24\ndescr:      documentation prefix for testing things\n" +
		"origin:     AS64500\nmnt-by:     MAINT-TEST\nsource:     RADB\nnotify:     noc@example.com\n" +
		"remarks:    contains plenty of substance to pass the length threshold easily\n"
	assert.True(t, isMeaningfulResponse(rich, "192.0.2.0/24"))
}

func TestQueryWithIANAReferralUsesRADBOnThinPrimary(t *testing.T) {
	// The primary returns a not-found notice; RADB returns a full route
	// object. The engine must return the RADB body alone.
	radbBody := "route:      192.0.2.0/24\ndescr:      documentation space for route testing\n" +
		"origin:     AS64500\nmnt-by:     MAINT-TEST\nsource:     RADB\n" +
		"remarks:    this response carries enough characters to be meaningful here\n"

	primaryPort := startWhoisServer(t, func(string) string { return "% No entries found\n" })
	radbPort := startWhoisServer(t, func(string) string { return radbBody })

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	engine := NewEngine(NewIANACache(store, testLogger()), testLogger())

	resp, err := engine.queryChain(context.Background(), "192.0.2.0/24",
		"127.0.0.1", primaryPort, "127.0.0.1", radbPort)
	require.NoError(t, err)
	assert.Equal(t, radbBody, resp)
}
