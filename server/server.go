// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package server implements the RFC 3912 front-end: one query per TCP
// connection, banner-framed response, close.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/akaere-networks/whois-server/color"
	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/semaphore"
)

// Banner opens every response on the wire.
const Banner = "% Akaere NetWorks Whois Server\r\n" +
	"% The objects are in RPSL format\r\n" +
	"% Please report any issues to noc@akae.re\r\n" +
	"\r\n"

// Handler answers one analyzed query.
type Handler interface {
	Process(ctx context.Context, qt query.Type, scheme color.Scheme) string
}

// Server owns the accept loop.
type Server struct {
	cfg     *config.Config
	handler Handler
	sem     *semaphore.ConnSemaphore
	dump    *DumpWriter
	log     *slog.Logger
}

// New builds the server; dump may be nil when traffic dumping is off.
func New(cfg *config.Config, handler Handler, dump *DumpWriter, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		sem:     semaphore.New(cfg.MaxConnections),
		dump:    dump,
		log:     logger.With("name", "server"),
	}
}

// ListenAndServe blocks on the accept loop until ctx ends. Binding
// failures are fatal and returned.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %v", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("whois server listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		if !s.sem.Acquire(ctx) {
			_ = conn.Close()
			return nil
		}

		go func(c net.Conn) {
			defer s.sem.Release()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// handleConn runs one RFC 3912 exchange: read the request, answer, close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	request, err := readRequest(conn)
	if err != nil {
		s.writeError(conn, "request not received")
		return
	}

	protocol := color.NewProtocol()
	if probe := protocol.ParseHeaders(request); probe {
		_, _ = conn.Write([]byte(protocol.CapabilityResponse()))
		s.closeWrite(conn)
		return
	}

	q := extractQuery(request)
	if q == "" {
		s.writeError(conn, "empty query")
		return
	}

	s.log.Debug("query received", "query", q, "peer", conn.RemoteAddr())
	if s.dump != nil {
		s.dump.DumpQuery(q)
	}

	var scheme color.Scheme
	if protocol.ShouldColorize() {
		scheme = protocol.Scheme
	}
	response := s.handler.Process(ctx, query.Analyze(q), scheme)

	if s.dump != nil {
		s.dump.DumpResponse(response)
	}

	_, _ = conn.Write([]byte(Banner))
	_, _ = conn.Write([]byte(toCRLF(response)))
	_, _ = conn.Write([]byte("\r\n"))
	s.closeWrite(conn)
}

// readRequest collects the request up to the CRLF terminator, the line
// length cap or the connection deadline.
func readRequest(conn net.Conn) (string, error) {
	buf := make([]byte, config.MaxQueryLength)
	var total int

	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n

		if strings.Contains(string(buf[:total]), "\r\n") {
			break
		}
		if err != nil {
			if total > 0 {
				break
			}
			return "", err
		}
	}
	return string(buf[:total]), nil
}

// extractQuery returns the first non-empty line that is not a capability
// header.
func extractQuery(request string) string {
	for _, line := range strings.Split(request, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "X-WHOIS-COLOR") {
			continue
		}
		return line
	}
	return ""
}

func (s *Server) writeError(conn net.Conn, msg string) {
	_, _ = conn.Write([]byte(Banner))
	_, _ = conn.Write([]byte("% Error: " + msg + "\r\n"))
	s.closeWrite(conn)
}

// closeWrite half-closes the write side so the client sees a clean EOF.
func (s *Server) closeWrite(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// toCRLF normalizes a response body to CRLF line endings for the wire.
func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
