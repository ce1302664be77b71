// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package whois implements the one-shot RFC 3912 client, the IANA referral
// cache and the referral fallback pipeline.
package whois

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/akaere-networks/whois-server/config"
)

// DefaultTimeout bounds the connect, write and cumulative read phases of a
// single upstream query.
const DefaultTimeout = 10 * time.Second

// ErrEmptyResponse is returned when the upstream closed without sending
// anything.
var ErrEmptyResponse = errors.New("empty response from WHOIS server")

// Query performs a single WHOIS exchange: connect, send the CRLF-terminated
// query, read to EOF. Reads stop at config.MaxResponseSize or when the
// timeout elapses; whatever was received by then is returned.
func Query(ctx context.Context, target, server string, port int) (string, error) {
	return QueryWithTimeout(ctx, target, server, port, DefaultTimeout)
}

// QueryWithTimeout is Query with an explicit deadline.
func QueryWithTimeout(ctx context.Context, target, server string, port int, timeout time.Duration) (string, error) {
	addr := net.JoinHostPort(server, strconv.Itoa(port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("cannot connect to WHOIS server %s: %v", addr, err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(target + "\r\n")); err != nil {
		return "", fmt.Errorf("failed to write query to WHOIS server %s: %v", addr, err)
	}

	var sb strings.Builder
	buf := make([]byte, 8192)
	var total int

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if total+n > config.MaxResponseSize {
				n = config.MaxResponseSize - total
			}
			total += n
			sb.Write(buf[:n])

			if total >= config.MaxResponseSize {
				break
			}
		}
		if err != nil {
			// Timeouts return whatever was received so far; the
			// caller decides whether a partial answer is usable.
			var nerr net.Error
			if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
				break
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				break
			}
			if total == 0 {
				return "", fmt.Errorf("failed to read WHOIS server response from %s: %v", addr, err)
			}
			break
		}
	}

	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
