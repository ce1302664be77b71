// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const peeringDBCacheTTL = 24 * time.Hour

type peeringDBNet struct {
	Name          string `json:"name"`
	ASN           int    `json:"asn"`
	AKA           string `json:"aka"`
	Website       string `json:"website"`
	InfoType      string `json:"info_type"`
	InfoPrefixes4 int    `json:"info_prefixes4"`
	InfoPrefixes6 int    `json:"info_prefixes6"`
	PolicyGeneral string `json:"policy_general"`
	IRRASSet      string `json:"irr_as_set"`
	LookingGlass  string `json:"looking_glass"`
	RouteServer   string `json:"route_server"`
	Created       string `json:"created"`
	Updated       string `json:"updated"`
}

type peeringDBAnswer struct {
	Data []peeringDBNet `json:"data"`
}

type peeringDBCacheEntry struct {
	Body     string `json:"body"`
	CachedAt int64  `json:"cached_at"`
}

// PeeringDB looks a network up by ASN, keeping answers in the KV store for
// a day.
func (c *Client) PeeringDB(ctx context.Context, base string) (string, error) {
	asn := strings.TrimPrefix(strings.ToUpper(base), "AS")
	cacheKey := "pdb_net_" + asn

	if c.pdbCache != nil {
		var entry peeringDBCacheEntry
		if found, err := c.pdbCache.GetJSON(cacheKey, &entry); err == nil && found {
			if time.Now().Unix()-entry.CachedAt <= int64(peeringDBCacheTTL.Seconds()) {
				return entry.Body, nil
			}
		}
	}

	target := "https://www.peeringdb.com/api/net?asn=" + url.QueryEscape(asn)
	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return fmt.Sprintf("%% PeeringDB: no network registered for AS%s\n", asn), nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("PeeringDB returned status %d", status)
	}

	var doc peeringDBAnswer
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable PeeringDB answer: %v", err)
	}
	if len(doc.Data) == 0 {
		return fmt.Sprintf("%% PeeringDB: no network registered for AS%s\n", asn), nil
	}

	rendered := renderPeeringDBNet(&doc.Data[0])
	if c.pdbCache != nil {
		entry := peeringDBCacheEntry{Body: rendered, CachedAt: time.Now().Unix()}
		_ = c.pdbCache.PutJSON(cacheKey, &entry)
	}
	return rendered, nil
}

func renderPeeringDBNet(n *peeringDBNet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%% PeeringDB network record for AS%d\n", n.ASN)
	fmt.Fprintf(&b, "name:           %s\n", n.Name)
	if n.AKA != "" {
		fmt.Fprintf(&b, "aka:            %s\n", n.AKA)
	}
	fmt.Fprintf(&b, "asn:            AS%d\n", n.ASN)
	if n.Website != "" {
		fmt.Fprintf(&b, "website:        %s\n", n.Website)
	}
	if n.InfoType != "" {
		fmt.Fprintf(&b, "network-type:   %s\n", n.InfoType)
	}
	fmt.Fprintf(&b, "prefixes-v4:    %d\n", n.InfoPrefixes4)
	fmt.Fprintf(&b, "prefixes-v6:    %d\n", n.InfoPrefixes6)
	if n.PolicyGeneral != "" {
		fmt.Fprintf(&b, "peering-policy: %s\n", n.PolicyGeneral)
	}
	if n.IRRASSet != "" {
		fmt.Fprintf(&b, "irr-as-set:     %s\n", n.IRRASSet)
	}
	if n.LookingGlass != "" {
		fmt.Fprintf(&b, "looking-glass:  %s\n", n.LookingGlass)
	}
	if n.RouteServer != "" {
		fmt.Fprintf(&b, "route-server:   %s\n", n.RouteServer)
	}
	if n.Created != "" {
		fmt.Fprintf(&b, "created:        %s\n", n.Created)
	}
	if n.Updated != "" {
		fmt.Fprintf(&b, "last-updated:   %s\n", n.Updated)
	}
	return b.String()
}
