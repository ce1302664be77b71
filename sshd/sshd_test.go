// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package sshd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/akaere-networks/whois-server/color"
	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/storage"
)

func TestHostKeyPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh", "ssh_host_key")

	first, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", first.PublicKey().Type())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestHistoryAppendAndPrune(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	h := &historyStore{store: store}

	require.NoError(t, h.Append(ConnectionRecord{
		Timestamp: time.Now().Unix(), IP: "192.0.2.1",
		QueriesCount: 3, SessionDuration: 12, DisconnectReason: "client exit",
	}))
	require.NoError(t, h.Append(ConnectionRecord{
		Timestamp: time.Now().Add(-31 * 24 * time.Hour).Unix(), IP: "192.0.2.1",
		DisconnectReason: "stale",
	}))

	records, err := h.Records("192.0.2.1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "client exit", records[0].DisconnectReason)
}

func TestHistoryCapAt100(t *testing.T) {
	now := time.Now()
	var records []ConnectionRecord
	for i := 0; i < 150; i++ {
		records = append(records, ConnectionRecord{
			Timestamp: now.Add(time.Duration(i) * time.Second).Unix(),
		})
	}

	pruned := pruneRecords(records, now)
	assert.Len(t, pruned, 100)
	assert.Equal(t, records[149].Timestamp, pruned[99].Timestamp)
}

func TestFormatRecords(t *testing.T) {
	out := FormatRecords("192.0.2.1", nil)
	assert.Contains(t, out, "% No previous connections")

	out = FormatRecords("192.0.2.1", []ConnectionRecord{
		{Timestamp: 1700000000, QueriesCount: 2, SessionDuration: 30, DisconnectReason: "client exit"},
	})
	assert.Contains(t, out, "queries=2")
	assert.Contains(t, out, "reason=client exit")
}

// fakeChannel satisfies ssh.Channel for editor tests: reads come from a
// script, writes land in a buffer.
type fakeChannel struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (f *fakeChannel) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeChannel) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakeChannel) Close() error                { return nil }
func (f *fakeChannel) CloseWrite() error           { return nil }
func (f *fakeChannel) SendRequest(string, bool, []byte) (bool, error) {
	return false, nil
}
func (f *fakeChannel) Stderr() io.ReadWriter { return &bytes.Buffer{} }

type recordingHandler struct{ queries []string }

func (r *recordingHandler) Process(_ context.Context, qt query.Type, _ color.Scheme) string {
	r.queries = append(r.queries, qt.Raw)
	return "answer for " + qt.Raw + "\n"
}

func newTestSession(t *testing.T) (*session, *fakeChannel, *recordingHandler) {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ch := &fakeChannel{in: bytes.NewReader(nil)}
	handler := &recordingHandler{}
	sess := &session{
		channel: ch,
		handler: handler,
		history: &historyStore{store: store},
		ip:      "192.0.2.1",
		user:    "whois",
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return sess, ch, handler
}

// feed drives the editor byte by byte the way run() would.
func feed(sess *session, input string) (bool, string) {
	var esc escState
	for i := 0; i < len(input); i++ {
		if done, why := sess.handleByte(context.Background(), input[i], &esc); done {
			return done, why
		}
	}
	return false, ""
}

func TestEditorProcessesQuery(t *testing.T) {
	sess, ch, handler := newTestSession(t)

	feed(sess, "example.com\r")
	require.Equal(t, []string{"example.com"}, handler.queries)
	assert.Contains(t, ch.out.String(), "answer for example.com\r\n")
	assert.Equal(t, 1, sess.queries)
}

func TestEditorBackspace(t *testing.T) {
	sess, _, handler := newTestSession(t)

	feed(sess, "abcx\x7f\r")
	assert.Equal(t, []string{"abc"}, handler.queries)
}

func TestEditorCursorMovementAndInsert(t *testing.T) {
	sess, _, handler := newTestSession(t)

	// Type "bc", jump home with Ctrl-A, insert "a".
	feed(sess, "bc\x01a\r")
	assert.Equal(t, []string{"abc"}, handler.queries)
}

func TestEditorArrowLeftInsert(t *testing.T) {
	sess, _, handler := newTestSession(t)

	// "ac", left arrow, insert "b" before the "c".
	feed(sess, "ac\x1b[Db\r")
	assert.Equal(t, []string{"abc"}, handler.queries)
}

func TestEditorDeleteKey(t *testing.T) {
	sess, _, handler := newTestSession(t)

	// "abc", home, delete the first rune.
	feed(sess, "abc\x1b[1~\x1b[3~\r")
	assert.Equal(t, []string{"bc"}, handler.queries)
}

func TestEditorHistoryRecall(t *testing.T) {
	sess, _, handler := newTestSession(t)

	feed(sess, "first\r")
	feed(sess, "second\r")
	// Up twice recalls "first"; enter resubmits it.
	feed(sess, "\x1b[A\x1b[A\r")

	assert.Equal(t, []string{"first", "second", "first"}, handler.queries)
}

func TestEditorCtrlCDiscardsLine(t *testing.T) {
	sess, _, handler := newTestSession(t)

	feed(sess, "garbage\x03real\r")
	assert.Equal(t, []string{"real"}, handler.queries)
}

func TestEditorExitCommands(t *testing.T) {
	for _, cmd := range []string{"exit", "quit", "bye"} {
		sess, _, handler := newTestSession(t)

		done, why := feed(sess, cmd+"\r")
		assert.True(t, done, "command %q must end the session", cmd)
		assert.Equal(t, "client exit", why)
		assert.Empty(t, handler.queries)
	}
}

func TestEditorCtrlDOnEmptyLine(t *testing.T) {
	sess, _, _ := newTestSession(t)

	done, why := feed(sess, "\x04")
	assert.True(t, done)
	assert.Equal(t, "client exit", why)

	// With pending input Ctrl-D is ignored.
	sess2, _, handler := newTestSession(t)
	done, _ = feed(sess2, "x\x04\r")
	assert.False(t, done)
	assert.Equal(t, []string{"x"}, handler.queries)
}

func TestEditorClearScreen(t *testing.T) {
	sess, ch, _ := newTestSession(t)

	feed(sess, "clear\r")
	assert.Contains(t, ch.out.String(), "\x1b[2J")
}

func TestEditorHistoryCommand(t *testing.T) {
	sess, ch, handler := newTestSession(t)

	require.NoError(t, sess.history.Append(ConnectionRecord{
		Timestamp: time.Now().Unix(), IP: "192.0.2.1",
		QueriesCount: 7, DisconnectReason: "client exit",
	}))

	feed(sess, "history\r")
	assert.Empty(t, handler.queries, "history must not hit the query pipeline")
	assert.Contains(t, ch.out.String(), "queries=7")
}

var _ ssh.Channel = (*fakeChannel)(nil)
