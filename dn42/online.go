// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package dn42

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/storage"
)

const (
	onlineCachePrefix = "online_cache:"
	timestampPrefix   = "timestamp:"
)

// OnlineBackend fetches registry files straight from the mirror over HTTPS,
// keeping each body in the KV store for a day. Misses are cached too: the
// registry never contains empty files, so a zero-length body marks a 404.
type OnlineBackend struct {
	store   *storage.Store
	client  *retryablehttp.Client
	baseURL string
	ttl     time.Duration
	log     *slog.Logger
}

// NewOnlineBackend wires the backend onto an open store.
func NewOnlineBackend(store *storage.Store, logger *slog.Logger) *OnlineBackend {
	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = 10 * time.Second

	return &OnlineBackend{
		store:   store,
		client:  retryablehttp.NewClient(opts),
		baseURL: config.DN42RawBaseURL,
		ttl:     config.OnlineCacheTTL,
		log:     logger.With("name", "dn42-online"),
	}
}

// Fetch returns one object, from cache when fresh, otherwise from the
// mirror.
func (o *OnlineBackend) Fetch(objType, name string) (string, bool, error) {
	if name == "" {
		return "", false, nil
	}

	key := onlineCachePrefix + objType + "/" + name
	if body, ok := o.cached(key); ok {
		return body, body != "", nil
	}

	sanitized := strings.ReplaceAll(name, "/", "_")
	url := fmt.Sprintf("%s/%s/%s", o.baseURL, objType, sanitized)

	resp, err := o.client.Get(url)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
		if err != nil {
			return "", false, fmt.Errorf("failed to read %s: %v", url, err)
		}
		o.cache(key, body)
		return string(body), true, nil
	case http.StatusNotFound:
		o.cache(key, nil)
		return "", false, nil
	default:
		return "", false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}

func (o *OnlineBackend) cached(key string) (string, bool) {
	ts, err := o.store.Get(timestampPrefix + key)
	if err != nil || ts == nil {
		return "", false
	}

	stamp, err := strconv.ParseInt(string(ts), 10, 64)
	if err != nil || time.Now().Unix()-stamp > int64(o.ttl.Seconds()) {
		return "", false
	}

	body, err := o.store.Get(key)
	if err != nil || body == nil {
		return "", false
	}
	return string(body), true
}

func (o *OnlineBackend) cache(key string, body []byte) {
	if body == nil {
		body = []byte{}
	}
	if err := o.store.Put(key, body); err != nil {
		o.log.Warn("failed to cache a registry file", "key", key, "err", err)
		return
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	_ = o.store.Put(timestampPrefix+key, []byte(stamp))
}

// CleanupCache drops every cached body past its TTL.
func (o *OnlineBackend) CleanupCache() int {
	now := time.Now().Unix()
	var stale []string

	_ = o.store.Iterate(timestampPrefix, func(key string, value []byte) bool {
		stamp, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || now-stamp > int64(o.ttl.Seconds()) {
			stale = append(stale, key)
		}
		return true
	})

	for _, tsKey := range stale {
		_ = o.store.Delete(tsKey)
		_ = o.store.Delete(strings.TrimPrefix(tsKey, timestampPrefix))
	}
	if len(stale) > 0 {
		o.log.Info("online cache cleanup", "removed", len(stale))
	}
	return len(stale)
}
