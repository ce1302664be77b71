// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package sshd

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/query"
)

const prompt = "whois> "

const welcomeBanner = "Akaere NetWorks Whois Server\r\n" +
	"Type a query and press enter; 'help' lists suffixes, 'exit' leaves.\r\n\r\n"

const editorHistoryCap = 100

// session drives one interactive shell on an accepted channel.
type session struct {
	channel ssh.Channel
	handler Handler
	history *historyStore
	ip      string
	user    string
	log     *slog.Logger

	line    []rune
	cursor  int
	past    []string
	pastIdx int
	queries int
}

// run owns the channel until the client leaves or goes idle.
func (s *session) run(ctx context.Context) {
	started := time.Now()
	reason := "channel closed"

	defer func() {
		_ = s.channel.Close()

		rec := ConnectionRecord{
			Timestamp:        started.Unix(),
			IP:               s.ip,
			Username:         s.user,
			QueriesCount:     s.queries,
			SessionDuration:  int64(time.Since(started).Seconds()),
			DisconnectReason: reason,
		}
		if err := s.history.Append(rec); err != nil {
			s.log.Warn("failed to record the session", "ip", s.ip, "err", err)
		}
	}()

	s.write(welcomeBanner)
	s.write(prompt)

	input := make(chan byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := s.channel.Read(buf)
			if n > 0 {
				input <- buf[0]
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	idle := time.NewTimer(config.SSHIdleTimeout)
	defer idle.Stop()

	var esc escState
	for {
		select {
		case <-ctx.Done():
			reason = "server shutdown"
			return
		case <-idle.C:
			reason = "idle timeout"
			s.write("\r\n% Session closed after one hour of inactivity\r\n")
			return
		case <-readErr:
			return
		case b := <-input:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(config.SSHIdleTimeout)

			done, why := s.handleByte(ctx, b, &esc)
			if done {
				reason = why
				return
			}
		}
	}
}

// escState tracks a CSI sequence in flight.
type escState struct {
	inEscape bool
	inCSI    bool
	params   []byte
}

// handleByte advances the editor one input byte. It reports whether the
// session should end and why.
func (s *session) handleByte(ctx context.Context, b byte, esc *escState) (bool, string) {
	if esc.inCSI {
		if b >= '0' && b <= '9' || b == ';' {
			esc.params = append(esc.params, b)
			return false, ""
		}
		s.handleCSI(b, string(esc.params))
		*esc = escState{}
		return false, ""
	}
	if esc.inEscape {
		if b == '[' {
			esc.inCSI = true
			return false, ""
		}
		*esc = escState{}
		return false, ""
	}

	switch b {
	case 0x1b:
		esc.inEscape = true
	case '\r', '\n':
		return s.handleEnter(ctx)
	case 0x7f, 0x08: // DEL and BS both erase left of the cursor.
		s.backspace()
	case 0x01: // Ctrl-A
		s.moveCursor(0)
	case 0x05: // Ctrl-E
		s.moveCursor(len(s.line))
	case 0x03: // Ctrl-C discards the current line.
		s.write("^C\r\n")
		s.resetLine()
		s.write(prompt)
	case 0x04: // Ctrl-D on an empty line leaves.
		if len(s.line) == 0 {
			s.write("\r\n")
			return true, "client exit"
		}
	case 0x0c: // Ctrl-L
		s.write("\x1b[2J\x1b[H")
		s.write(prompt)
		s.redrawLine()
	default:
		if b >= 0x20 && b < 0x7f {
			s.insert(rune(b))
		}
	}
	return false, ""
}

func (s *session) handleCSI(final byte, params string) {
	switch final {
	case 'A': // Up walks back through the command history.
		s.recall(-1)
	case 'B':
		s.recall(1)
	case 'C':
		if s.cursor < len(s.line) {
			s.moveCursor(s.cursor + 1)
		}
	case 'D':
		if s.cursor > 0 {
			s.moveCursor(s.cursor - 1)
		}
	case 'H':
		s.moveCursor(0)
	case 'F':
		s.moveCursor(len(s.line))
	case '~':
		switch params {
		case "1", "7":
			s.moveCursor(0)
		case "4", "8":
			s.moveCursor(len(s.line))
		case "3":
			s.deleteAtCursor()
		}
	}
}

func (s *session) handleEnter(ctx context.Context) (bool, string) {
	line := strings.TrimSpace(string(s.line))
	s.write("\r\n")
	s.resetLine()

	if line == "" {
		s.write(prompt)
		return false, ""
	}

	s.remember(line)

	switch strings.ToLower(line) {
	case "exit", "quit", "bye":
		s.write("Goodbye.\r\n")
		return true, "client exit"
	case "clear", "cls":
		s.write("\x1b[2J\x1b[H")
		s.write(prompt)
		return false, ""
	case "history":
		records, err := s.history.Records(s.ip)
		if err != nil {
			s.write("% Error: failed to read the connection history\r\n")
		} else {
			s.write(toCRLF(FormatRecords(s.ip, records)))
		}
		s.write(prompt)
		return false, ""
	}

	s.queries++
	response := s.handler.Process(ctx, query.Analyze(line), "")
	s.write(toCRLF(response))
	s.write("\r\n" + prompt)
	return false, ""
}

// remember appends to the editor history, newest last, capped.
func (s *session) remember(line string) {
	s.past = append(s.past, line)
	if len(s.past) > editorHistoryCap {
		s.past = s.past[len(s.past)-editorHistoryCap:]
	}
	s.pastIdx = len(s.past)
}

// recall replaces the current line with a neighbor from the history.
func (s *session) recall(direction int) {
	if len(s.past) == 0 {
		return
	}

	idx := s.pastIdx + direction
	if idx < 0 {
		idx = 0
	}

	s.clearVisibleLine()
	if idx >= len(s.past) {
		s.pastIdx = len(s.past)
		s.line = nil
		s.cursor = 0
		return
	}

	s.pastIdx = idx
	s.line = []rune(s.past[idx])
	s.cursor = len(s.line)
	s.write(string(s.line))
}

func (s *session) insert(r rune) {
	s.line = append(s.line[:s.cursor], append([]rune{r}, s.line[s.cursor:]...)...)
	s.cursor++

	// Echo the new rune plus the shifted tail, then park the cursor.
	tail := string(s.line[s.cursor-1:])
	s.write(tail)
	s.stepBack(len(s.line) - s.cursor)
}

func (s *session) backspace() {
	if s.cursor == 0 {
		return
	}

	s.line = append(s.line[:s.cursor-1], s.line[s.cursor:]...)
	s.cursor--

	s.write("\b")
	tail := string(s.line[s.cursor:]) + " "
	s.write(tail)
	s.stepBack(len(tail))
}

func (s *session) deleteAtCursor() {
	if s.cursor >= len(s.line) {
		return
	}

	s.line = append(s.line[:s.cursor], s.line[s.cursor+1:]...)
	tail := string(s.line[s.cursor:]) + " "
	s.write(tail)
	s.stepBack(len(tail))
}

func (s *session) moveCursor(to int) {
	if to < s.cursor {
		s.stepBack(s.cursor - to)
	} else if to > s.cursor {
		s.write(string(s.line[s.cursor:to]))
	}
	s.cursor = to
}

func (s *session) stepBack(n int) {
	if n > 0 {
		s.write(strings.Repeat("\b", n))
	}
}

// clearVisibleLine wipes the rendered line back to the prompt.
func (s *session) clearVisibleLine() {
	s.stepBack(s.cursor)
	s.write(strings.Repeat(" ", len(s.line)))
	s.stepBack(len(s.line))
}

func (s *session) redrawLine() {
	s.write(string(s.line))
	s.stepBack(len(s.line) - s.cursor)
}

func (s *session) resetLine() {
	s.line = nil
	s.cursor = 0
	s.pastIdx = len(s.past)
}

func (s *session) write(text string) {
	_, _ = io.WriteString(s.channel, text)
}

func toCRLF(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", "\r\n")
}
