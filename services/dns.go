// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const publicResolver = "1.1.1.1:53"

var dnsQueryTypes = []struct {
	label string
	qtype uint16
}{
	{"A", dns.TypeA},
	{"AAAA", dns.TypeAAAA},
	{"CNAME", dns.TypeCNAME},
	{"MX", dns.TypeMX},
	{"NS", dns.TypeNS},
	{"TXT", dns.TypeTXT},
}

// DNS resolves the common record types for a name and renders them as
// attribute lines.
func (c *Client) DNS(ctx context.Context, base string) (string, error) {
	client := &dns.Client{Timeout: 5 * time.Second}
	fqdn := dns.Fqdn(base)

	var b strings.Builder
	fmt.Fprintf(&b, "%% DNS records for %s\n", base)

	var answers int
	for _, qt := range dnsQueryTypes {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qt.qtype)
		msg.RecursionDesired = true

		resp, _, err := client.ExchangeContext(ctx, msg, publicResolver)
		if err != nil || resp == nil {
			continue
		}

		for _, rr := range resp.Answer {
			value := strings.TrimPrefix(rr.String(), rr.Header().String())
			fmt.Fprintf(&b, "%-15s %s\n", qt.label+":", value)
			answers++
		}
	}

	if answers == 0 {
		b.WriteString("% No records found\n")
	}
	return b.String(), nil
}
