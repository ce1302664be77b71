// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package sshd

import (
	"fmt"
	"strings"
	"time"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/storage"
)

// ConnectionRecord is one finished SSH session, persisted per client IP.
type ConnectionRecord struct {
	Timestamp        int64  `json:"timestamp"`
	IP               string `json:"ip"`
	Username         string `json:"username,omitempty"`
	QueriesCount     int    `json:"queries_count"`
	SessionDuration  int64  `json:"session_duration_seconds"`
	DisconnectReason string `json:"disconnect_reason"`
}

// historyStore keeps per-IP connection records capped at 100 entries with a
// 30-day TTL applied on read and write.
type historyStore struct {
	store *storage.Store
}

func historyKey(ip string) string {
	return "history:" + ip
}

// Append records one session, dropping entries past the TTL or the per-IP
// cap.
func (h *historyStore) Append(rec ConnectionRecord) error {
	key := historyKey(rec.IP)

	var records []ConnectionRecord
	if _, err := h.store.GetJSON(key, &records); err != nil {
		return err
	}

	records = append(records, rec)
	records = pruneRecords(records, time.Now())
	return h.store.PutJSON(key, records)
}

// Records returns the live entries for one IP, newest last.
func (h *historyStore) Records(ip string) ([]ConnectionRecord, error) {
	var records []ConnectionRecord
	if _, err := h.store.GetJSON(historyKey(ip), &records); err != nil {
		return nil, err
	}
	return pruneRecords(records, time.Now()), nil
}

func pruneRecords(records []ConnectionRecord, now time.Time) []ConnectionRecord {
	cutoff := now.Add(-config.SSHHistoryTTL).Unix()

	live := records[:0]
	for _, rec := range records {
		if rec.Timestamp >= cutoff {
			live = append(live, rec)
		}
	}
	if len(live) > config.SSHHistoryPerIPCap {
		live = live[len(live)-config.SSHHistoryPerIPCap:]
	}
	return live
}

// FormatRecords renders records the way the history command shows them.
func FormatRecords(ip string, records []ConnectionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%% Connection history for %s\n", ip)

	if len(records) == 0 {
		b.WriteString("% No previous connections on record\n")
		return b.String()
	}

	for _, rec := range records {
		fmt.Fprintf(&b, "%s  queries=%d  duration=%ds  reason=%s\n",
			time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
			rec.QueriesCount, rec.SessionDuration, rec.DisconnectReason)
	}
	return b.String()
}
