// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const icpCacheTTL = 24 * time.Hour

type icpCacheEntry struct {
	Body     string `json:"body"`
	CachedAt int64  `json:"cached_at"`
}

// ICP scrapes the Chinese ICP filing record for a domain. Results are
// cached for a day; filings change rarely and the upstream rate limits
// aggressively.
func (c *Client) ICP(ctx context.Context, base string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(base))
	cacheKey := "icp_" + domain

	if c.icpCache != nil {
		var entry icpCacheEntry
		if found, err := c.icpCache.GetJSON(cacheKey, &entry); err == nil && found {
			if time.Now().Unix()-entry.CachedAt <= int64(icpCacheTTL.Seconds()) {
				return entry.Body, nil
			}
		}
	}

	body, status, err := c.get(ctx, "https://icp.chinaz.com/"+url.PathEscape(domain))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("ICP lookup returned status %d", status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("unparseable ICP page: %v", err)
	}

	rendered := renderICP(domain, doc)
	if c.icpCache != nil {
		entry := icpCacheEntry{Body: rendered, CachedAt: time.Now().Unix()}
		_ = c.icpCache.PutJSON(cacheKey, &entry)
	}
	return rendered, nil
}

// renderICP pulls the filing table cells out of the lookup page.
func renderICP(domain string, doc *goquery.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%% ICP filing for %s\n", domain)

	var rows int
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		label := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if label == "" || value == "" {
			return
		}
		fmt.Fprintf(&b, "%-15s %s\n", label+":", value)
		rows++
	})

	if rows == 0 {
		b.WriteString("% No ICP filing found\n")
	}
	return b.String()
}
