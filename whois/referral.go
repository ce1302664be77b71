// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package whois

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caffix/stringset"

	"github.com/akaere-networks/whois-server/config"
)

// transferIndicators mark answers from a registry that no longer manages the
// resource, or that holds no data for it.
var transferIndicators = []string{
	"not managed by the ripe ncc",
	"not managed by ripe ncc",
	"managed by arin",
	"managed by apnic",
	"managed by lacnic",
	"managed by afrinic",
	"transferred",
	"no entries found",
	"not found",
	"no match found",
	"no data found",
	"asn block not managed",
	"ip block not managed",
	"for registration information",
	"you can find the whois server to query",
}

// routingFields are the RPSL attributes expected in a routing-registry
// answer.
var routingFields = stringset.New("route:", "descr:", "origin:", "as-path:", "source:", "remarks:")

// Engine runs the IANA -> authoritative -> RADB fallback chain.
type Engine struct {
	iana *IANACache
	log  *slog.Logger
}

// NewEngine builds the referral pipeline on top of an IANA cache.
func NewEngine(iana *IANACache, logger *slog.Logger) *Engine {
	return &Engine{iana: iana, log: logger.With("name", "referral")}
}

// QueryWithIANAReferral resolves the authoritative server for query and
// executes the lookup, falling back to RADB and the default server when the
// primary answer is thin or unreachable.
func (e *Engine) QueryWithIANAReferral(ctx context.Context, query string) (string, error) {
	server := e.iana.GetWhoisServer(ctx, query)
	if server == "" {
		e.log.Debug("no IANA referral, using the default server", "query", query)
		server = config.DefaultWhoisServer
	}
	return e.queryChain(ctx, query, server, config.DefaultWhoisPort,
		config.RADBWhoisServer, config.RADBWhoisPort)
}

func (e *Engine) queryChain(ctx context.Context, query, primary string, primaryPort int, radb string, radbPort int) (string, error) {
	resp, err := Query(ctx, query, primary, primaryPort)
	if err != nil {
		return e.recoverFromFailure(ctx, query, primary, primaryPort, radb, radbPort, err)
	}

	if !shouldTryRADBFallback(resp, query) {
		return resp, nil
	}

	e.log.Debug("thin answer from primary, trying RADB", "query", query, "server", primary)
	radbResp, rerr := Query(ctx, query, radb, radbPort)
	if rerr != nil {
		return fmt.Sprintf("%s\n\n%% Note: RADB fallback attempted but failed: %v\n",
			strings.TrimSpace(resp), rerr), nil
	}

	if isMeaningfulResponse(radbResp, query) {
		return radbResp, nil
	}
	return fmt.Sprintf("%s\n\n%% Additional query attempted via RADB:\n%s\n%% End of RADB response\n",
		strings.TrimSpace(resp), strings.TrimSpace(radbResp)), nil
}

// recoverFromFailure refreshes the IANA cache and walks the remaining
// fallbacks: refreshed primary, RADB, then the global default server.
func (e *Engine) recoverFromFailure(ctx context.Context, query, failed string, failedPort int, radb string, radbPort int, cause error) (string, error) {
	e.log.Warn("query failed, refreshing the IANA cache", "query", query, "server", failed, "err", cause)

	if refreshed := e.iana.RefreshOnFailure(ctx, query); refreshed != "" {
		if resp, err := Query(ctx, query, refreshed, failedPort); err == nil {
			return resp, nil
		}
	}

	if resp, err := Query(ctx, query, radb, radbPort); err == nil {
		return resp, nil
	}
	return Query(ctx, query, config.DefaultWhoisServer, config.DefaultWhoisPort)
}

// shouldTryRADBFallback reports whether resp looks transferred or thin
// enough that the routing registry may know more.
func shouldTryRADBFallback(resp, query string) bool {
	lower := strings.ToLower(resp)

	var meaningful int
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "%") {
			meaningful++
		}
	}
	if meaningful < 3 {
		return true
	}

	if strings.ContainsAny(query, "/-") {
		var hasRouting bool
		for _, field := range routingFields.Slice() {
			if strings.Contains(lower, field) {
				hasRouting = true
				break
			}
		}
		if !hasRouting {
			return true
		}
	}

	for _, indicator := range transferIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// isMeaningfulResponse accepts an answer carrying enough substance to stand
// on its own.
func isMeaningfulResponse(resp, query string) bool {
	var meaningful int
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "Please report any issues") ||
			strings.Contains(line, "The objects are in RPSL format") {
			continue
		}
		meaningful++
	}

	return meaningful >= 5 && len(resp) > 200 && !shouldTryRADBFallback(resp, query)
}
