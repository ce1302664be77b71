// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SSL connects to host:443 and reports the served certificate chain.
func (c *Client) SSL(ctx context.Context, base string) (string, error) {
	host := base
	port := "443"
	if h, p, err := net.SplitHostPort(base); err == nil {
		host, port = h, p
	}

	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config:    &tls.Config{ServerName: host, InsecureSkipVerify: true},
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return "", fmt.Errorf("TLS connection to %s failed: %v", host, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()

	var b strings.Builder
	fmt.Fprintf(&b, "%% TLS certificate chain for %s:%s\n", host, port)
	fmt.Fprintf(&b, "tls-version:    %s\n", tls.VersionName(state.Version))
	fmt.Fprintf(&b, "cipher-suite:   %s\n", tls.CipherSuiteName(state.CipherSuite))

	for i, cert := range state.PeerCertificates {
		fmt.Fprintf(&b, "%%\n%% Certificate %d\n", i)
		fmt.Fprintf(&b, "subject:        %s\n", cert.Subject)
		fmt.Fprintf(&b, "issuer:         %s\n", cert.Issuer)
		fmt.Fprintf(&b, "serial:         %s\n", cert.SerialNumber)
		fmt.Fprintf(&b, "not-before:     %s\n", cert.NotBefore.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "not-after:      %s\n", cert.NotAfter.UTC().Format(time.RFC3339))
		if len(cert.DNSNames) > 0 {
			fmt.Fprintf(&b, "san:            %s\n", strings.Join(cert.DNSNames, ", "))
		}
	}
	return b.String(), nil
}

type crtEntry struct {
	IssuerName string `json:"issuer_name"`
	CommonName string `json:"common_name"`
	NameValue  string `json:"name_value"`
	NotBefore  string `json:"not_before"`
	NotAfter   string `json:"not_after"`
}

// CRT queries the crt.sh certificate transparency index for a name.
func (c *Client) CRT(ctx context.Context, base string) (string, error) {
	target := "https://crt.sh/?output=json&q=" + url.QueryEscape(base)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("crt.sh returned status %d", status)
	}

	var entries []crtEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", fmt.Errorf("unparseable crt.sh answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Certificate transparency entries for %s\n", base)
	if len(entries) == 0 {
		b.WriteString("% No certificates logged\n")
		return b.String(), nil
	}

	if len(entries) > 20 {
		fmt.Fprintf(&b, "%% Showing 20 of %d entries\n", len(entries))
		entries = entries[:20]
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "%%\ncommon-name:    %s\n", e.CommonName)
		fmt.Fprintf(&b, "issuer:         %s\n", e.IssuerName)
		fmt.Fprintf(&b, "names:          %s\n", strings.ReplaceAll(e.NameValue, "\n", ", "))
		fmt.Fprintf(&b, "not-before:     %s\n", e.NotBefore)
		fmt.Fprintf(&b, "not-after:      %s\n", e.NotAfter)
	}
	return b.String(), nil
}
