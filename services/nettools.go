// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// NTP sends one SNTP probe and reports stratum and offset. There is no
// ecosystem client for a single 48-byte exchange, so the packet is built
// by hand.
func (c *Client) NTP(ctx context.Context, base string) (string, error) {
	host := base
	if _, _, err := net.SplitHostPort(base); err != nil {
		host = net.JoinHostPort(base, "123")
	}

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "udp", host)
	if err != nil {
		return "", fmt.Errorf("cannot reach NTP server %s: %v", base, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Client request: version 4, mode 3.
	req := make([]byte, 48)
	req[0] = 0x23
	sent := time.Now()
	if _, err := conn.Write(req); err != nil {
		return "", fmt.Errorf("failed to send the NTP request: %v", err)
	}

	resp := make([]byte, 48)
	if _, err := conn.Read(resp); err != nil {
		return "", fmt.Errorf("no NTP answer from %s: %v", base, err)
	}
	received := time.Now()

	stratum := resp[1]
	txSecs := binary.BigEndian.Uint32(resp[40:44])
	txFrac := binary.BigEndian.Uint32(resp[44:48])

	// NTP epoch starts 1900-01-01; convert to Unix.
	const ntpUnixDelta = 2208988800
	txTime := time.Unix(int64(txSecs)-ntpUnixDelta, int64(float64(txFrac)/(1<<32)*1e9))
	offset := txTime.Sub(sent.Add(received.Sub(sent) / 2))

	var b strings.Builder
	fmt.Fprintf(&b, "%% NTP check for %s\n", base)
	fmt.Fprintf(&b, "stratum:        %d\n", stratum)
	fmt.Fprintf(&b, "server-time:    %s\n", txTime.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "offset:         %s\n", offset)
	fmt.Fprintf(&b, "rtt:            %s\n", received.Sub(sent))
	return b.String(), nil
}

// Traceroute shells out to the system traceroute binary.
func (c *Client) Traceroute(ctx context.Context, base string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "traceroute", "-w", "2", "-q", "1", base).CombinedOutput()
	if err != nil && len(out) == 0 {
		return "", fmt.Errorf("traceroute failed: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Traceroute to %s\n", base)
	b.Write(out)
	if ctx.Err() != nil {
		b.WriteString("% Traceroute truncated by timeout\n")
	}
	return b.String(), nil
}

// LookingGlass reports the routes RIPE RIS collectors currently see for a
// resource.
func (c *Client) LookingGlass(ctx context.Context, base string) (string, error) {
	target := "https://stat.ripe.net/data/looking-glass/data.json?resource=" + url.QueryEscape(base)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("RIPEstat returned status %d", status)
	}

	var doc struct {
		Data struct {
			RRCs []struct {
				RRC      string `json:"rrc"`
				Location string `json:"location"`
				Peers    []struct {
					ASNOrigin string `json:"asn_origin"`
					ASPath    string `json:"as_path"`
					Prefix    string `json:"prefix"`
				} `json:"peers"`
			} `json:"rrcs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable RIPEstat answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Looking glass view of %s\n", base)
	if len(doc.Data.RRCs) == 0 {
		b.WriteString("% No collector sees this resource\n")
		return b.String(), nil
	}

	for _, rrc := range doc.Data.RRCs {
		fmt.Fprintf(&b, "%%\n%% Collector %s (%s)\n", rrc.RRC, rrc.Location)
		peers := rrc.Peers
		if len(peers) > 5 {
			peers = peers[:5]
		}
		for _, peer := range peers {
			fmt.Fprintf(&b, "prefix:         %s\n", peer.Prefix)
			fmt.Fprintf(&b, "origin:         AS%s\n", peer.ASNOrigin)
			fmt.Fprintf(&b, "as-path:        %s\n", peer.ASPath)
		}
	}
	return b.String(), nil
}

// Prefixes lists the prefixes announced by an ASN.
func (c *Client) Prefixes(ctx context.Context, base string) (string, error) {
	asn := strings.TrimPrefix(strings.ToUpper(base), "AS")
	target := "https://stat.ripe.net/data/announced-prefixes/data.json?resource=AS" + url.QueryEscape(asn)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("RIPEstat returned status %d", status)
	}

	var doc struct {
		Data struct {
			Prefixes []struct {
				Prefix string `json:"prefix"`
			} `json:"prefixes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable RIPEstat answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Prefixes announced by AS%s\n", asn)
	if len(doc.Data.Prefixes) == 0 {
		b.WriteString("% Nothing announced\n")
		return b.String(), nil
	}
	for _, p := range doc.Data.Prefixes {
		fmt.Fprintf(&b, "prefix:         %s\n", p.Prefix)
	}
	return b.String(), nil
}

// IRRExplorer summarizes the IRR and RPKI state of a prefix.
func (c *Client) IRRExplorer(ctx context.Context, base string) (string, error) {
	target := "https://irrexplorer.nlnog.net/api/prefixes/prefix/" + url.PathEscape(base)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("IRR Explorer returned status %d", status)
	}

	var entries []struct {
		Prefix     string `json:"prefix"`
		RIR        string `json:"rir"`
		Category   string `json:"categoryOverall"`
		BGPOrigins []int  `json:"bgpOrigins"`
		RPKIRoutes []struct {
			ASN int `json:"asn"`
		} `json:"rpkiRoutes"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", fmt.Errorf("unparseable IRR Explorer answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% IRR Explorer summary for %s\n", base)
	if len(entries) == 0 {
		b.WriteString("% No IRR data found\n")
		return b.String(), nil
	}

	for _, e := range entries {
		fmt.Fprintf(&b, "%%\nprefix:         %s\n", e.Prefix)
		fmt.Fprintf(&b, "rir:            %s\n", e.RIR)
		fmt.Fprintf(&b, "category:       %s\n", e.Category)
		for _, origin := range e.BGPOrigins {
			fmt.Fprintf(&b, "bgp-origin:     AS%d\n", origin)
		}
		for _, route := range e.RPKIRoutes {
			fmt.Fprintf(&b, "rpki-origin:    AS%d\n", route.ASN)
		}
	}
	return b.String(), nil
}

// MANRS reports whether an ASN participates in MANRS.
func (c *Client) MANRS(ctx context.Context, base string) (string, error) {
	asn := strings.TrimPrefix(strings.ToUpper(base), "AS")
	target := "https://api.manrs.org/asns/" + url.PathEscape(asn)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return fmt.Sprintf("%% AS%s is not a MANRS participant\n", asn), nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("MANRS API returned status %d", status)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable MANRS answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% MANRS participation for AS%s\n", asn)
	renderJSON(&b, "", doc, 0)
	return b.String(), nil
}
