// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"
	lua "github.com/yuin/gopher-lua"

	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/storage"
)

// Plugin is one loaded script with its state. Scripting runtimes are not
// re-entrant, so concurrent queries to the same plugin serialize on mu.
type Plugin struct {
	mu         sync.Mutex
	meta       *Metadata
	state      *lua.LState
	env        map[string]string
	store      *storage.Store
	httpClient *retryablehttp.Client
	log        *slog.Logger
}

// Name returns the plugin's declared name.
func (p *Plugin) Name() string {
	return p.meta.Plugin.Name
}

// Suffix returns the uppercase dispatch suffix, dash included.
func (p *Plugin) Suffix() string {
	return p.meta.Plugin.Suffix
}

// Registry holds every loaded plugin keyed by suffix.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	store   *storage.Store
	log     *slog.Logger
}

// NewRegistry wires the registry onto the plugin cache store.
func NewRegistry(store *storage.Store, logger *slog.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
		store:   store,
		log:     logger.With("name", "plugins"),
	}
}

// Load scans dir for plugin directories carrying both meta.toml and
// init.lua, instantiates their states and registers their suffixes with
// the query analyzer. A broken plugin is skipped, never fatal.
func (r *Registry) Load(dir, envFile string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn("failed to list the plugins directory", "dir", dir, "err", err)
		}
		return 0
	}

	envVars := LoadEnvFile(envFile)

	var loaded int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		metaPath := filepath.Join(pluginDir, "meta.toml")
		initPath := filepath.Join(pluginDir, "init.lua")

		if _, err := os.Stat(metaPath); err != nil {
			continue
		}
		if _, err := os.Stat(initPath); err != nil {
			continue
		}

		plugin, err := r.load(metaPath, initPath, envVars)
		if err != nil {
			r.log.Warn("skipping a plugin", "dir", entry.Name(), "err", err)
			continue
		}
		if plugin == nil {
			continue
		}

		if r.register(plugin) {
			loaded++
		}
	}

	r.log.Info("plugins loaded", "count", loaded)
	return loaded
}

// load builds one plugin: metadata, sandboxed state, host API, script
// execution and the handle_query contract check. A nil plugin with nil
// error means the plugin is disabled.
func (r *Registry) load(metaPath, initPath string, envVars map[string]string) (*Plugin, error) {
	meta, err := LoadMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	if !meta.Plugin.Enabled {
		r.log.Debug("plugin disabled", "name", meta.Plugin.Name)
		return nil, nil
	}

	env := make(map[string]string, len(meta.Permissions.EnvVars))
	for _, name := range meta.Permissions.EnvVars {
		if value, ok := envVars[name]; ok {
			env[name] = value
		}
	}

	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = httpRequestTimeout

	p := &Plugin{
		meta:       meta,
		env:        env,
		store:      r.store,
		httpClient: retryablehttp.NewClient(opts),
		log:        r.log,
	}

	L := newSandboxedState()
	p.registerAPI(L)

	if err := L.DoFile(initPath); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute init.lua: %v", err)
	}

	if L.GetGlobal("handle_query").Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("plugin %s defines no handle_query function", meta.Plugin.Name)
	}

	if initFn := L.GetGlobal("init"); initFn.Type() == lua.LTFunction {
		if err := L.CallByParam(lua.P{Fn: initFn, NRet: 0, Protect: true}); err != nil {
			L.Close()
			return nil, fmt.Errorf("plugin %s init failed: %v", meta.Plugin.Name, err)
		}
	}

	p.state = L
	return p, nil
}

func (r *Registry) register(p *Plugin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	suffix := p.Suffix()
	if _, exists := r.plugins[suffix]; exists {
		r.log.Warn("duplicate plugin suffix, skipping",
			"suffix", suffix, "plugin", p.Name())
		p.state.Close()
		return false
	}

	r.plugins[suffix] = p
	query.RegisterPluginSuffix(suffix)
	r.log.Info("plugin registered", "name", p.Name(),
		"suffix", suffix, "version", p.meta.Plugin.Version)
	return true
}

// Get returns the plugin registered under suffix.
func (r *Registry) Get(suffix string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[suffix]
	return p, ok
}

// Dispatch runs handle_query(base) on the plugin owning suffix, bounded by
// the plugin's timeout. Failures come back as an error string, never an
// error: the caller ships them to the client as-is.
func (r *Registry) Dispatch(suffix, base string) string {
	p, ok := r.Get(suffix)
	if !ok {
		return fmt.Sprintf("%% Error: no plugin registered for %s\n", suffix)
	}

	result, err := p.HandleQuery(base)
	if err != nil {
		return fmt.Sprintf("Plugin %s: %v", p.Name(), err)
	}
	return result
}

// HandleQuery invokes the script's handle_query under the per-plugin lock
// and deadline. The context cancel aborts the Lua VM mid-run.
func (p *Plugin) HandleQuery(base string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timeout := time.Duration(p.meta.Plugin.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	L := p.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("handle_query"),
		NRet:    1,
		Protect: true,
	}, lua.LString(base))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("timed out after %s", timeout)
		}
		return "", err
	}

	ret := L.Get(-1)
	L.Pop(1)

	if ret.Type() != lua.LTString {
		return "", fmt.Errorf("handle_query returned %s, want string", ret.Type())
	}
	return string(ret.(lua.LString)), nil
}

// Close tears down every plugin state.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for suffix, p := range r.plugins {
		query.UnregisterPluginSuffix(suffix)
		p.state.Close()
		delete(r.plugins, suffix)
	}
}
