// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, patches map[string]string) *Manager {
	t.Helper()

	dir := t.TempDir()
	for name, content := range patches {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := m.Load(dir)
	require.NoError(t, err)
	return m
}

const simplePatch = `# A plain replacement
--- a/resp
+++ b/resp
@@ @@
-netname:        OLD
+netname:        NEW
`

func TestSimpleReplacement(t *testing.T) {
	m := newTestManager(t, map[string]string{"001-simple.patch": simplePatch})

	out := m.Apply("anything", "inetnum: 10.0.0.0/8\nnetname:        OLD\nsource: DN42\n")
	assert.Contains(t, out, "netname:        NEW")
	assert.NotContains(t, out, "netname:        OLD")
}

func TestQueryCondition(t *testing.T) {
	patch := "# QUERY_CONTAINS: example-as\n" + simplePatch
	m := newTestManager(t, map[string]string{"001.patch": patch})

	resp := "netname:        OLD\n"
	assert.Contains(t, m.Apply("example-as", resp), "NEW")
	assert.Contains(t, m.Apply("other", resp), "OLD")
}

func TestResponseConditionsAreORJoined(t *testing.T) {
	patch := "# QUERY_CONTAINS: nomatch\n# RESPONSE_CONTAINS: netname:\n" + simplePatch
	m := newTestManager(t, map[string]string{"001.patch": patch})

	out := m.Apply("whatever", "netname:        OLD\n")
	assert.Contains(t, out, "NEW")
}

func TestResponseMatchesRegex(t *testing.T) {
	patch := "# RESPONSE_MATCHES: netname:\\s+OLD\n" + simplePatch
	m := newTestManager(t, map[string]string{"001.patch": patch})

	assert.Contains(t, m.Apply("q", "netname:        OLD\n"), "NEW")
	assert.NotContains(t, m.Apply("q", "netname: OTHER\n"), "NEW")
}

func TestExcludeKeepsLineVerbatim(t *testing.T) {
	patch := "# EXCLUDE: trusted.example.com\n--- a/resp\n+++ b/resp\n@@ @@\n-example.com\n+REDACTED\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	out := m.Apply("q", "host: trusted.example.com\nhost: other.example.com\n")
	assert.Contains(t, out, "trusted.example.com")
	assert.Contains(t, out, "host: other.REDACTED")
}

func TestSkipAfterContextRule(t *testing.T) {
	patch := "# SKIP_AFTER: mnt-by: SECRET-MNT, 2\n--- a/resp\n+++ b/resp\n@@ @@\n-10.0.0.0\n+HIDDEN\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	// The first occurrence has the marker within two lines after it.
	resp := "inetnum: 10.0.0.0/8\nmnt-by: SECRET-MNT\n\ninetnum: 10.0.0.0/24\nnetname: X\n"
	out := m.Apply("q", resp)
	assert.Contains(t, out, "inetnum: 10.0.0.0/8")
	assert.Contains(t, out, "inetnum: HIDDEN/24")
}

func TestOnlyBeforeContextRule(t *testing.T) {
	patch := "# ONLY_BEFORE: aut-num:, 5\n--- a/resp\n+++ b/resp\n@@ @@\n-DN42\n+EXAMPLE\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	out := m.Apply("q", "source: DN42\n\naut-num: AS64500\nsource: DN42\n")
	assert.Equal(t, "source: DN42\n\naut-num: AS64500\nsource: EXAMPLE\n", out)
}

func TestAnchoredSourceReplacementOnlyInUserBlocks(t *testing.T) {
	patch := "--- a/resp\n+++ b/resp\n@@ @@\n-^source:\n+source:        EXAMPLE\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	resp := "aut-num:        AS64500\nas-name:        TEST\nsource: DN42\n" +
		"\n" +
		"as-block:       AS64496-AS64511\ndescr:          sandbox\nsource: DN42\n"
	out := m.Apply("q", resp)

	assert.Equal(t, "aut-num:        AS64500\nas-name:        TEST\nsource:        EXAMPLE\n"+
		"\n"+
		"as-block:       AS64496-AS64511\ndescr:          sandbox\nsource: DN42\n", out)
}

func TestAnchoredNonSourcePrefixReplacesWholeLine(t *testing.T) {
	patch := "--- a/resp\n+++ b/resp\n@@ @@\n-^admin-c:\n+admin-c:        HIDDEN\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	out := m.Apply("q", "admin-c:        REAL-PERSON\ntech-c:         REAL-PERSON\n")
	assert.Equal(t, "admin-c:        HIDDEN\ntech-c:         REAL-PERSON\n", out)
}

func TestMultiLineHunk(t *testing.T) {
	patch := "--- a/resp\n+++ b/resp\n@@ @@\n-line one\n-line two\n+replacement\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	out := m.Apply("q", "header\nline one\nline two\nfooter\n")
	assert.Equal(t, "header\nreplacement\nfooter\n", out)
}

func TestMultiplePatchesInOneFile(t *testing.T) {
	content := "# RESPONSE_CONTAINS: alpha\n--- a/resp\n+++ b/resp\n@@ @@\n-alpha\n+ALPHA\n" +
		"\n" +
		"# RESPONSE_CONTAINS: beta\n--- a/resp\n+++ b/resp\n@@ @@\n-beta\n+BETA\n"
	m := newTestManager(t, map[string]string{"001.patch": content})

	_, patches := m.Count()
	assert.Equal(t, 2, patches)

	out := m.Apply("q", "alpha beta\n")
	assert.Equal(t, "ALPHA BETA\n", out)
}

func TestFilesApplyInLexicographicOrder(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"002-second.patch": "--- a/resp\n+++ b/resp\n@@ @@\n-MIDDLE\n+FINAL\n",
		"001-first.patch":  "--- a/resp\n+++ b/resp\n@@ @@\n-START\n+MIDDLE\n",
	})

	out := m.Apply("q", "state: START\n")
	assert.Equal(t, "state: FINAL\n", out)
}

func TestCRLFPreserved(t *testing.T) {
	m := newTestManager(t, map[string]string{"001.patch": simplePatch})

	out := m.Apply("q", "netname:        OLD\r\nsource: DN42\r\n")
	assert.Contains(t, out, "netname:        NEW\r\n")
	assert.NotContains(t, out, "NEW\n\r")
}

func TestANSIStrippedForContextChecks(t *testing.T) {
	patch := "# EXCLUDE: keepme\n--- a/resp\n+++ b/resp\n@@ @@\n-OLD\n+NEW\n"
	m := newTestManager(t, map[string]string{"001.patch": patch})

	colored := "\x1b[32mkeepme\x1b[0m OLD\nplain OLD\n"
	out := m.Apply("q", colored)
	assert.Contains(t, out, "keepme\x1b[0m OLD")
	assert.Contains(t, out, "plain NEW")
}

func TestIdempotentWhenAddDoesNotFeedRemove(t *testing.T) {
	m := newTestManager(t, map[string]string{"001.patch": simplePatch})

	resp := "netname:        OLD\n"
	once := m.Apply("q", resp)
	twice := m.Apply("q", once)
	assert.Equal(t, once, twice)
}

func TestMissingDirectoryIsNotAnError(t *testing.T) {
	m := NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := m.Load(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
