// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"
	lua "github.com/yuin/gopher-lua"
)

const (
	httpRequestTimeout = 5 * time.Second
	defaultCacheTTL    = 3600
	maxPluginBody      = 1 << 20
)

// registerAPI injects the permission-gated host functions into a plugin
// state. Logging is always available; http_get and the cache calls exist
// only when the metadata grants them.
func (p *Plugin) registerAPI(L *lua.LState) {
	L.SetGlobal("log_info", L.NewFunction(p.logFn("info")))
	L.SetGlobal("log_warn", L.NewFunction(p.logFn("warn")))
	L.SetGlobal("log_error", L.NewFunction(p.logFn("error")))

	if p.meta.Permissions.Network {
		L.SetGlobal("http_get", L.NewFunction(p.httpGet))
	}
	if p.meta.Permissions.CacheRead {
		L.SetGlobal("cache_get", L.NewFunction(p.cacheGet))
	}
	if p.meta.Permissions.CacheWrite {
		L.SetGlobal("cache_set", L.NewFunction(p.cacheSet))
	}

	if len(p.meta.Permissions.EnvVars) > 0 {
		env := L.NewTable()
		for _, name := range p.meta.Permissions.EnvVars {
			if value, ok := p.env[name]; ok {
				env.RawSetString(name, lua.LString(value))
			}
		}
		L.SetGlobal("env", env)
	}
}

func (p *Plugin) logFn(level string) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		switch level {
		case "warn":
			p.log.Warn(msg, "plugin", p.meta.Plugin.Name)
		case "error":
			p.log.Error(msg, "plugin", p.meta.Plugin.Name)
		default:
			p.log.Info(msg, "plugin", p.meta.Plugin.Name)
		}
		return 0
	}
}

// httpGet performs a bounded GET on behalf of the script and returns a JSON
// string with the status and body. The URL host must sit inside the
// plugin's allowed domain list unless the list is empty.
func (p *Plugin) httpGet(L *lua.LState) int {
	rawURL := L.CheckString(1)

	host, err := extractHost(rawURL)
	if err != nil {
		L.RaiseError("invalid url: %v", err)
		return 0
	}
	if !p.domainAllowed(host) {
		L.RaiseError("domain %s is not in the plugin's allowed list", host)
		return 0
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		L.RaiseError("failed to build the request: %v", err)
		return 0
	}
	if p.meta.Permissions.UserAgent != "" {
		req.Header.Set("User-Agent", p.meta.Permissions.UserAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		L.RaiseError("request failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPluginBody))
	if err != nil {
		L.RaiseError("failed to read the response: %v", err)
		return 0
	}

	out, _ := json.Marshal(map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(body),
	})
	L.Push(lua.LString(out))
	return 1
}

func (p *Plugin) domainAllowed(host string) bool {
	if len(p.meta.Permissions.AllowedDomains) == 0 {
		return true
	}
	for _, domain := range p.meta.Permissions.AllowedDomains {
		if strings.EqualFold(host, domain) {
			return true
		}
	}
	return false
}

func extractHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return u.Hostname(), nil
}

type cacheEntry struct {
	Value   string `json:"value"`
	Expires int64  `json:"expires"`
}

func (p *Plugin) cacheKey(key string) string {
	return "plugin:" + p.meta.Plugin.Name + ":" + key
}

func (p *Plugin) cacheGet(L *lua.LState) int {
	key := L.CheckString(1)

	var entry cacheEntry
	found, err := p.store.GetJSON(p.cacheKey(key), &entry)
	if err != nil || !found || time.Now().Unix() > entry.Expires {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(entry.Value))
	return 1
}

func (p *Plugin) cacheSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)

	ttl := int64(defaultCacheTTL)
	if L.GetTop() >= 3 {
		ttl = int64(L.CheckInt(3))
	}

	entry := cacheEntry{Value: value, Expires: time.Now().Unix() + ttl}
	if err := p.store.PutJSON(p.cacheKey(key), &entry); err != nil {
		p.log.Warn("plugin cache write failed", "plugin", p.meta.Plugin.Name, "err", err)
	}
	return 0
}
