// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package dn42

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/storage"
)

// GitBackend mirrors the registry with a depth-1 clone and bulk-populates
// the KV store, one transaction per object type so readers never wait on a
// full import.
type GitBackend struct {
	store *storage.Store
	path  string
	url   string
	log   *slog.Logger
}

// NewGitBackend wires the backend onto an open store and a checkout path.
func NewGitBackend(store *storage.Store, logger *slog.Logger) *GitBackend {
	return &GitBackend{
		store: store,
		path:  config.DN42RegistryPath,
		url:   config.DN42RegistryURL,
		log:   logger.With("name", "dn42-git"),
	}
}

// Fetch reads one object from the store. Network names carry literal
// slashes in keys; no sanitization happens here.
func (g *GitBackend) Fetch(objType, name string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}

	value, err := g.store.Get(objType + "/" + name)
	if err != nil {
		return "", false, err
	}
	if value == nil {
		return "", false, nil
	}
	return string(value), true, nil
}

// Sync brings the checkout up to date and re-populates the store. Errors
// are returned for logging but leave the previous snapshot serving.
func (g *GitBackend) Sync() error {
	if err := g.syncRepository(); err != nil {
		return err
	}
	return g.populate()
}

func (g *GitBackend) syncRepository() error {
	repo, err := git.PlainOpen(g.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		g.log.Info("cloning the DN42 registry mirror", "url", g.url, "path", g.path)

		if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
			return fmt.Errorf("failed to create the registry parent directory: %v", err)
		}
		_, err = git.PlainClone(g.path, false, &git.CloneOptions{URL: g.url, Depth: 1})
		if err != nil {
			return fmt.Errorf("git clone failed: %v", err)
		}
		return nil
	}
	if err != nil {
		// A directory that is not a repository gets removed and cloned
		// fresh right away.
		g.log.Warn("removing a non-repository checkout", "path", g.path, "err", err)
		if rmErr := os.RemoveAll(g.path); rmErr != nil {
			return fmt.Errorf("failed to remove the broken checkout: %v", rmErr)
		}
		_, err = git.PlainClone(g.path, false, &git.CloneOptions{URL: g.url, Depth: 1})
		if err != nil {
			return fmt.Errorf("git clone failed: %v", err)
		}
		return nil
	}

	g.log.Info("updating the DN42 registry mirror", "path", g.path)

	if err := repo.Fetch(&git.FetchOptions{RemoteName: "origin", Depth: 1}); err != nil &&
		!errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("git fetch failed: %v", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open the worktree: %v", err)
	}

	for _, branch := range []string{"origin/master", "origin/main"} {
		hash, err := repo.ResolveRevision(plumbing.Revision(branch))
		if err != nil {
			continue
		}
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: *hash}); err != nil {
			return fmt.Errorf("git reset to %s failed: %v", branch, err)
		}
		return nil
	}
	return errors.New("neither origin/master nor origin/main resolves")
}

// populate walks data/<objtype>/* and writes every object under
// <objtype>/<name>, restoring the slashes that filenames encode as
// underscores.
func (g *GitBackend) populate() error {
	dataDir := filepath.Join(g.path, "data")

	var total int
	for _, objType := range objectTypes {
		dir := filepath.Join(dataDir, objType)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to list %s: %v", dir, err)
		}

		batch := make(map[string][]byte, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				g.log.Warn("failed to read a registry object", "file", entry.Name(), "err", err)
				continue
			}

			name := strings.ReplaceAll(entry.Name(), "_", "/")
			switch objType {
			case typeInetnum, typeInet6num, typeRoute, typeRoute6, typeDNS:
				// Network names stay as rendered; dns stays lowercase.
			default:
				name = strings.ToUpper(name)
			}
			batch[objType+"/"+name] = content
		}

		if len(batch) == 0 {
			continue
		}
		if err := g.store.PutBatch(batch); err != nil {
			return fmt.Errorf("failed to store the %s batch: %v", objType, err)
		}
		total += len(batch)
	}

	g.log.Info("registry populated", "objects", total)
	return nil
}
