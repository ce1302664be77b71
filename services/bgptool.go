// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	bgpToolsHost = "bgp.tools"
	bgpToolsPort = 43
)

// BGPTool asks the bgp.tools WHOIS interface about an IP or ASN. The
// service speaks a bulk format: queries wrapped in begin/end, one
// pipe-separated record per line.
func (c *Client) BGPTool(ctx context.Context, base string) (string, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(bgpToolsHost, fmt.Sprint(bgpToolsPort)))
	if err != nil {
		return "", fmt.Errorf("failed to reach bgp.tools: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := io.WriteString(conn, fmt.Sprintf("begin\n%s\nend\n", base)); err != nil {
		return "", fmt.Errorf("failed to send the bgp.tools request: %v", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("failed to read the bgp.tools response: %v", err)
	}

	return formatBGPToolsResponse(base, string(data)), nil
}

// formatBGPToolsResponse renders the pipe-separated record set as RPSL-ish
// attribute lines.
func formatBGPToolsResponse(base, raw string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%% BGP.Tools data for %s\n", base)

	var rendered bool
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < 7 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		// The first line is a column header.
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}

		fmt.Fprintf(&b, "as-number:      AS%s\n", fields[0])
		fmt.Fprintf(&b, "ip:             %s\n", fields[1])
		fmt.Fprintf(&b, "prefix:         %s\n", fields[2])
		fmt.Fprintf(&b, "country:        %s\n", fields[3])
		fmt.Fprintf(&b, "registry:       %s\n", fields[4])
		fmt.Fprintf(&b, "allocated:      %s\n", fields[5])
		fmt.Fprintf(&b, "as-name:        %s\n", fields[6])
		rendered = true
	}

	if !rendered {
		b.WriteString("% No data returned by bgp.tools\n")
	}
	return b.String()
}
