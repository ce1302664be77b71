// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package dn42

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/robfig/cron"

	"github.com/akaere-networks/whois-server/storage"
)

// Manager selects the platform backend and owns the sync schedule. Windows
// has no reliable git + LMDB-style stack, so it fetches registry files on
// demand; everything else mirrors the registry locally.
type Manager struct {
	lookup *Lookup
	git    *GitBackend
	online *OnlineBackend
	cron   *cron.Cron
	log    *slog.Logger
}

// NewManager picks the backend for the current platform.
func NewManager(store *storage.Store, logger *slog.Logger) *Manager {
	m := &Manager{
		cron: cron.New(),
		log:  logger.With("name", "dn42"),
	}

	if runtime.GOOS == "windows" {
		m.online = NewOnlineBackend(store, logger)
		m.lookup = &Lookup{f: m.online}
		m.log.Info("using the online registry backend", "platform", runtime.GOOS)
	} else {
		m.git = NewGitBackend(store, logger)
		m.lookup = &Lookup{f: m.git}
		m.log.Info("using the git registry backend", "platform", runtime.GOOS)
	}
	return m
}

// Start performs the initial sync and schedules the hourly mirror update
// and the daily cache cleanup. Sync failures are logged; queries keep
// serving the previous snapshot.
func (m *Manager) Start() {
	if m.git != nil {
		go func() {
			if err := m.git.Sync(); err != nil {
				m.log.Error("initial registry sync failed", "err", err)
			}
		}()

		_ = m.cron.AddFunc("@hourly", func() {
			if err := m.git.Sync(); err != nil {
				m.log.Error("scheduled registry sync failed", "err", err)
			}
		})
	}
	if m.online != nil {
		_ = m.cron.AddFunc("@daily", func() {
			m.online.CleanupCache()
		})
	}
	m.cron.Start()
}

// Stop halts the sync schedule.
func (m *Manager) Stop() {
	m.cron.Stop()
}

// Query answers one DN42 lookup with the framed response format.
func (m *Manager) Query(q string) (string, error) {
	if m.lookup == nil {
		return "", fmt.Errorf("DN42 backend not initialized")
	}
	return m.lookup.Query(q), nil
}

// QueryRaw answers with just the object body, empty when unmatched.
func (m *Manager) QueryRaw(q string) (string, error) {
	if m.lookup == nil {
		return "", fmt.Errorf("DN42 backend not initialized")
	}
	return m.lookup.QueryRaw(q), nil
}
