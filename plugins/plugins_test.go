// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePlugin(t *testing.T, root, dir, meta, script string) {
	t.Helper()

	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "meta.toml"), []byte(meta), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "init.lua"), []byte(script), 0o644))
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := NewRegistry(store, testLogger())
	t.Cleanup(r.Close)
	return r, t.TempDir()
}

const echoMeta = `
[plugin]
name = "echo"
version = "1.0.0"
suffix = "-ECHO"
enabled = true
timeout = 5

[permissions]
network = false
cache_read = false
cache_write = false
`

const echoScript = `
function handle_query(q)
    return "echo: " .. q
end
`

func TestLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[plugin]
name = "weather"
version = "0.1.0"
suffix = "-weather"
enabled = true
timeout = 7

[permissions]
network = true
allowed_domains = ["api.open-meteo.com"]
cache_read = true
cache_write = true
user_agent = "whois-weather/0.1"
env_vars = ["API_KEY"]
`), 0o644))

	meta, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "weather", meta.Plugin.Name)
	assert.Equal(t, "-WEATHER", meta.Plugin.Suffix)
	assert.Equal(t, 7, meta.Plugin.Timeout)
	assert.True(t, meta.Permissions.Network)
	assert.Equal(t, []string{"api.open-meteo.com"}, meta.Permissions.AllowedDomains)
	assert.Equal(t, "whois-weather/0.1", meta.Permissions.UserAgent)
}

func TestLoadMetadataRejectsBadSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[plugin]
name = "bad"
suffix = "NODASH"
enabled = true
`), 0o644))

	_, err := LoadMetadata(path)
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".plugins.env")
	require.NoError(t, os.WriteFile(path, []byte(`
# a comment
API_KEY=secret123
QUOTED="with spaces"
SINGLE='also quoted'
BROKEN LINE
EMPTY=
`), 0o644))

	vars := LoadEnvFile(path)
	assert.Equal(t, "secret123", vars["API_KEY"])
	assert.Equal(t, "with spaces", vars["QUOTED"])
	assert.Equal(t, "also quoted", vars["SINGLE"])
	assert.Equal(t, "", vars["EMPTY"])
	assert.NotContains(t, vars, "BROKEN LINE")

	assert.Empty(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestDispatchEcho(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "echo", echoMeta, echoScript)

	require.Equal(t, 1, r.Load(dir, ""))

	out := r.Dispatch("-ECHO", "Berlin")
	assert.Equal(t, "echo: Berlin", out)

	// The suffix is visible to the query analyzer.
	qt := query.Analyze("Berlin-ECHO")
	assert.Equal(t, query.KindPlugin, qt.Kind)
}

func TestDisabledPluginIsSkipped(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "off", strings.Replace(echoMeta, "enabled = true", "enabled = false", 1), echoScript)

	assert.Zero(t, r.Load(dir, ""))
}

func TestMissingHandleQueryIsSkipped(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "broken", echoMeta, `x = 1`)

	assert.Zero(t, r.Load(dir, ""))
}

func TestDuplicateSuffixKeepsFirst(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "a-first", echoMeta, `function handle_query(q) return "first" end`)
	writePlugin(t, dir, "b-second", echoMeta, `function handle_query(q) return "second" end`)

	assert.Equal(t, 1, r.Load(dir, ""))
	assert.Equal(t, "first", r.Dispatch("-ECHO", "x"))
}

func TestSandboxHasNoOSAccess(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "probe", echoMeta, `
function handle_query(q)
    if os ~= nil then return "os leaked" end
    if io ~= nil then return "io leaked" end
    if dofile ~= nil then return "dofile leaked" end
    return "clean"
end
`)

	require.Equal(t, 1, r.Load(dir, ""))
	assert.Equal(t, "clean", r.Dispatch("-ECHO", "x"))
}

func TestInitRunsOnce(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "counter", echoMeta, `
calls = 0
function init() calls = calls + 1 end
function handle_query(q) return tostring(calls) end
`)

	require.Equal(t, 1, r.Load(dir, ""))
	assert.Equal(t, "1", r.Dispatch("-ECHO", "x"))
	assert.Equal(t, "1", r.Dispatch("-ECHO", "x"))
}

func TestHTTPGetHonorsAllowedDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	meta := `
[plugin]
name = "weather"
version = "1.0.0"
suffix = "-WEATHER"
enabled = true
timeout = 5

[permissions]
network = true
allowed_domains = ["api.open-meteo.com"]
`
	script := `
function handle_query(q)
    local ok, err = pcall(function() http_get("https://evil.example/x") end)
    if ok then return "request unexpectedly allowed" end
    return "blocked: " .. tostring(err)
end
`
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "weather", meta, script)
	require.Equal(t, 1, r.Load(dir, ""))

	out := r.Dispatch("-WEATHER", "Berlin")
	assert.Contains(t, out, "blocked:")
	assert.Contains(t, out, "evil.example")
}

func TestHTTPGetFetchesAllowedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`hello`))
	}))
	defer srv.Close()

	// An empty allowed_domains list permits any host.
	meta := `
[plugin]
name = "fetcher"
version = "1.0.0"
suffix = "-FETCH"
enabled = true
timeout = 5

[permissions]
network = true
`
	script := `
local json = require("json")
function handle_query(q)
    local raw = http_get(q)
    local resp = json.decode(raw)
    return "status=" .. tostring(resp.status) .. " body=" .. resp.body
end
`
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "fetcher", meta, script)
	require.Equal(t, 1, r.Load(dir, ""))

	out := r.Dispatch("-FETCH", srv.URL)
	assert.Equal(t, "status=200 body=hello", out)
}

func TestNetworkDeniedMeansNoHTTPGet(t *testing.T) {
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "nonet", echoMeta, `
function handle_query(q)
    if http_get == nil then return "no network" end
    return "network leaked"
end
`)

	require.Equal(t, 1, r.Load(dir, ""))
	assert.Equal(t, "no network", r.Dispatch("-ECHO", "x"))
}

func TestCacheRoundTrip(t *testing.T) {
	meta := `
[plugin]
name = "cachy"
version = "1.0.0"
suffix = "-CACHY"
enabled = true
timeout = 5

[permissions]
cache_read = true
cache_write = true
`
	script := `
function handle_query(q)
    local hit = cache_get("k")
    if hit ~= nil then return "hit: " .. hit end
    cache_set("k", q, 60)
    return "miss"
end
`
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "cachy", meta, script)
	require.Equal(t, 1, r.Load(dir, ""))

	assert.Equal(t, "miss", r.Dispatch("-CACHY", "value1"))
	assert.Equal(t, "hit: value1", r.Dispatch("-CACHY", "value2"))
}

func TestEnvVarInjection(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".plugins.env")
	require.NoError(t, os.WriteFile(envFile, []byte("API_KEY=sk-test\nOTHER=hidden\n"), 0o644))

	meta := `
[plugin]
name = "envy"
version = "1.0.0"
suffix = "-ENVY"
enabled = true
timeout = 5

[permissions]
env_vars = ["API_KEY"]
`
	script := `
function handle_query(q)
    if env == nil then return "no env" end
    if env.OTHER ~= nil then return "leak" end
    return "key=" .. tostring(env.API_KEY)
end
`
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "envy", meta, script)
	require.Equal(t, 1, r.Load(dir, envFile))

	assert.Equal(t, "key=sk-test", r.Dispatch("-ENVY", "x"))
}

func TestPluginTimeout(t *testing.T) {
	meta := strings.Replace(echoMeta, "timeout = 5", "timeout = 1", 1)
	script := `
function handle_query(q)
    while true do end
end
`
	r, dir := newTestRegistry(t)
	writePlugin(t, dir, "spin", meta, script)
	require.Equal(t, 1, r.Load(dir, ""))

	out := r.Dispatch("-ECHO", "x")
	assert.Contains(t, out, "Plugin echo:")
	assert.Contains(t, out, "timed out")
}
