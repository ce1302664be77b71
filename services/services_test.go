// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akaere-networks/whois-server/storage"
)

type stubRegistry map[string]string

func (s stubRegistry) QueryRaw(q string) (string, error) {
	return s[q], nil
}

func newTestClient(t *testing.T, registry RegistryQuerier) *Client {
	t.Helper()

	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = 5 * time.Second

	return &Client{
		http: retryablehttp.NewClient(opts),
		dn42: registry,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestFormatBGPToolsResponse(t *testing.T) {
	raw := "AS      | IP       | BGP Prefix | CC | Registry | Allocated  | AS Name\n" +
		"13335   | 1.1.1.1  | 1.1.1.0/24 | US | ARIN     | 2010-07-14 | Cloudflare, Inc.\n"

	out := formatBGPToolsResponse("1.1.1.1", raw)
	assert.Contains(t, out, "% BGP.Tools data for 1.1.1.1")
	assert.Contains(t, out, "prefix:         1.1.1.0/24")
	assert.Contains(t, out, "as-name:        Cloudflare, Inc.")
	assert.NotContains(t, out, "ASAS")

	empty := formatBGPToolsResponse("x", "short | line\n")
	assert.Contains(t, empty, "% No data returned by bgp.tools")
}

func TestRenderJSONStableAndBounded(t *testing.T) {
	var b strings.Builder
	renderJSON(&b, "", map[string]interface{}{
		"zeta":  "last",
		"alpha": map[string]interface{}{"inner": 1.0},
		"list":  []interface{}{"a", "b"},
		"nada":  nil,
	}, 0)

	out := b.String()
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"))
	assert.Contains(t, out, "inner:")
	assert.Contains(t, out, "list[0]:")
	assert.NotContains(t, out, "nada")
}

func TestDescFiltersAttributes(t *testing.T) {
	c := newTestClient(t, stubRegistry{
		"AS4242420000": "aut-num:        AS4242420000\n" +
			"as-name:        TEST-AS\n" +
			"descr:          a test network\n" +
			"auth:           pgp-fingerprint ABCDEF\n" +
			"mnt-by:         TEST-MNT\n",
	})

	out, err := c.Desc("AS4242420000")
	require.NoError(t, err)
	assert.Contains(t, out, "as-name:        TEST-AS")
	assert.Contains(t, out, "descr:          a test network")
	assert.NotContains(t, out, "pgp-fingerprint")
}

func TestDescMissingObject(t *testing.T) {
	c := newTestClient(t, stubRegistry{})

	out, err := c.Desc("AS4242429999")
	require.NoError(t, err)
	assert.Contains(t, out, "% No registry object found")
}

func TestEmailExtractsContacts(t *testing.T) {
	c := newTestClient(t, stubRegistry{
		"FOO-DN42": "person:         Foo\ne-mail:         foo@example.dn42\nnic-hdl:        FOO-DN42\n",
	})

	out, err := c.Email("FOO-DN42")
	require.NoError(t, err)
	assert.Contains(t, out, "e-mail:         foo@example.dn42")
	assert.NotContains(t, out, "nic-hdl")
}

func TestHelpTextListsSuffixes(t *testing.T) {
	out := HelpText()
	assert.Contains(t, out, "-BGPTOOL")
	assert.Contains(t, out, "-RPKI")
	assert.Contains(t, out, "-PEERINGDB")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.True(t, strings.HasPrefix(line, "%"), "help line %q must be a comment", line)
	}
}

func TestJSONLookupRendersDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "ripgrep", "version": "14.1.0"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	out, err := c.jsonLookup(context.Background(),
		endpoint{title: "crates.io package", url: func(string) string { return srv.URL }}, "ripgrep")
	require.NoError(t, err)
	assert.Contains(t, out, "% crates.io package: ripgrep")
	assert.Contains(t, out, "name:")
	assert.Contains(t, out, "ripgrep")
}

func TestJSONLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, nil)
	out, err := c.jsonLookup(context.Background(),
		endpoint{title: "npm package", url: func(string) string { return srv.URL }}, "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "no results for missing")
}

func TestPeeringDBUsesCache(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	c := newTestClient(t, nil)
	c.pdbCache = store

	entry := peeringDBCacheEntry{Body: "% cached body\n", CachedAt: time.Now().Unix()}
	require.NoError(t, store.PutJSON("pdb_net_8075", &entry))

	out, err := c.PeeringDB(context.Background(), "AS8075")
	require.NoError(t, err)
	assert.Equal(t, "% cached body\n", out)
}

func TestRenderPeeringDBNet(t *testing.T) {
	out := renderPeeringDBNet(&peeringDBNet{
		Name: "Example Net", ASN: 64500, InfoType: "NSP",
		InfoPrefixes4: 120, InfoPrefixes6: 40, PolicyGeneral: "Open",
	})
	assert.Contains(t, out, "name:           Example Net")
	assert.Contains(t, out, "asn:            AS64500")
	assert.Contains(t, out, "peering-policy: Open")
}
