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
)

type geoAnswer struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
}

// Geo looks an address up in a public geolocation database.
func (c *Client) Geo(ctx context.Context, base string) (string, error) {
	body, status, err := c.get(ctx, "http://ip-api.com/json/"+url.PathEscape(base))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("geolocation lookup returned status %d", status)
	}

	var doc geoAnswer
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable geolocation answer: %v", err)
	}
	if doc.Status != "success" {
		return fmt.Sprintf("%% Geo lookup failed for %s: %s\n", base, doc.Message), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% Geolocation for %s\n", base)
	fmt.Fprintf(&b, "country:        %s\n", doc.Country)
	fmt.Fprintf(&b, "region:         %s\n", doc.RegionName)
	fmt.Fprintf(&b, "city:           %s\n", doc.City)
	fmt.Fprintf(&b, "coordinates:    %.4f, %.4f\n", doc.Lat, doc.Lon)
	fmt.Fprintf(&b, "isp:            %s\n", doc.ISP)
	if doc.Org != "" {
		fmt.Fprintf(&b, "org:            %s\n", doc.Org)
	}
	if doc.AS != "" {
		fmt.Fprintf(&b, "as:             %s\n", doc.AS)
	}
	return b.String(), nil
}

// RIRGeo reports the RIR's registered country for a resource via RIPEstat.
func (c *Client) RIRGeo(ctx context.Context, base string) (string, error) {
	target := "https://stat.ripe.net/data/rir-geo/data.json?resource=" + url.QueryEscape(base)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("RIPEstat returned status %d", status)
	}

	var doc struct {
		Data struct {
			Located []struct {
				Resource string `json:"resource"`
				Location string `json:"location"`
			} `json:"located_resources"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable RIPEstat answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% RIR-registered location for %s\n", base)
	if len(doc.Data.Located) == 0 {
		b.WriteString("% No location on record\n")
		return b.String(), nil
	}
	for _, loc := range doc.Data.Located {
		fmt.Fprintf(&b, "resource:       %s\n", loc.Resource)
		fmt.Fprintf(&b, "location:       %s\n", loc.Location)
	}
	return b.String(), nil
}
