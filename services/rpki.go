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

const rpkiValidatorBase = "https://rpki-validator.ripe.net/api/v1/validity"

type rpkiValidity struct {
	ValidatedRoute struct {
		Route struct {
			OriginASN string `json:"origin_asn"`
			Prefix    string `json:"prefix"`
		} `json:"route"`
		Validity struct {
			State       string `json:"state"`
			Reason      string `json:"reason"`
			Description string `json:"description"`
		} `json:"validity"`
	} `json:"validated_route"`
}

// RPKI reports the origin validation verdict for a prefix/ASN pair.
func (c *Client) RPKI(ctx context.Context, prefix, asn string) (string, error) {
	target := fmt.Sprintf("%s/AS%s/%s", rpkiValidatorBase, url.PathEscape(asn), url.PathEscape(prefix))

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("validator returned status %d", status)
	}

	var doc rpkiValidity
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable validator answer: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% RPKI validation for %s originated by AS%s\n", prefix, asn)
	fmt.Fprintf(&b, "prefix:         %s\n", prefix)
	fmt.Fprintf(&b, "origin:         AS%s\n", asn)
	fmt.Fprintf(&b, "state:          %s\n", doc.ValidatedRoute.Validity.State)
	if doc.ValidatedRoute.Validity.Reason != "" {
		fmt.Fprintf(&b, "reason:         %s\n", doc.ValidatedRoute.Validity.Reason)
	}
	if doc.ValidatedRoute.Validity.Description != "" {
		fmt.Fprintf(&b, "description:    %s\n", doc.ValidatedRoute.Validity.Description)
	}
	return b.String(), nil
}
