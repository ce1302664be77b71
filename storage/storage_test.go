// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("aut-num/AS4242420000", []byte("as-name: TEST-AS")))

	v, err := s.Get("aut-num/AS4242420000")
	require.NoError(t, err)
	assert.Equal(t, "as-name: TEST-AS", string(v))

	found, err := s.Exists("aut-num/AS4242420000")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.Delete("aut-num/AS4242420000"))

	v, err = s.Get("aut-num/AS4242420000")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGetMissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)

	v, err := s.Get("no/such/key")
	assert.NoError(t, err)
	assert.Nil(t, v)

	found, err := s.Exists("no/such/key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestIteratePrefix(t *testing.T) {
	s := openTestStore(t)

	entries := map[string]string{
		"inetnum/10.0.0.0/8":     "a",
		"inetnum/172.20.0.0/14":  "b",
		"inet6num/fd00::/8":      "c",
		"route/172.20.0.0/14":    "d",
		"asn_block_1000_2000":    "e",
		"asn_block_213404_21442": "f",
	}
	for k, v := range entries {
		require.NoError(t, s.Put(k, []byte(v)))
	}

	var keys []string
	require.NoError(t, s.Iterate("inetnum/", func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	}))
	assert.ElementsMatch(t, []string{"inetnum/10.0.0.0/8", "inetnum/172.20.0.0/14"}, keys)

	// Early termination after the first visit.
	var count int
	require.NoError(t, s.Iterate("", func(string, []byte) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count)
}

func TestPutBatch(t *testing.T) {
	s := openTestStore(t)

	batch := map[string][]byte{
		"person/FOO-DN42": []byte("person: Foo"),
		"mntner/FOO-MNT":  []byte("mntner: FOO-MNT"),
	}
	require.NoError(t, s.PutBatch(batch))

	v, err := s.Get("mntner/FOO-MNT")
	require.NoError(t, err)
	assert.Equal(t, "mntner: FOO-MNT", string(v))
}

func TestJSONRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type referral struct {
		Server   string `json:"whois_server"`
		CachedAt int64  `json:"cached_at"`
	}

	require.NoError(t, s.PutJSON("domain_com", &referral{Server: "whois.verisign-grs.com", CachedAt: 42}))

	var out referral
	found, err := s.GetJSON("domain_com", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "whois.verisign-grs.com", out.Server)

	found, err = s.GetJSON("domain_net", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("dns/burble.dn42", []byte("dns: burble.dn42")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("dns/burble.dn42")
	require.NoError(t, err)
	assert.Equal(t, "dns: burble.dn42", string(v))
}
