// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package processor routes analyzed queries to their backends and applies
// the response post-processing: patches first, then optional colorization.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/yl2chen/cidranger"

	"github.com/akaere-networks/whois-server/color"
	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/patch"
	"github.com/akaere-networks/whois-server/query"
)

// Registry is the DN42 lookup surface the processor needs.
type Registry interface {
	Query(q string) (string, error)
}

// Referral is the public WHOIS pipeline surface.
type Referral interface {
	QueryWithIANAReferral(ctx context.Context, q string) (string, error)
}

// ServiceBackend handles the suffix-dispatched lookups.
type ServiceBackend interface {
	Process(ctx context.Context, qt query.Type) (string, error)
}

// PluginBackend dispatches registered plugin suffixes.
type PluginBackend interface {
	Dispatch(suffix, base string) string
}

// Processor is the top-level dispatcher.
type Processor struct {
	dn42     Registry
	referral Referral
	services ServiceBackend
	plugins  PluginBackend
	patches  *patch.Manager
	private  cidranger.Ranger
	log      *slog.Logger
}

// New wires the dispatcher. Any backend may be nil; routes to a missing
// backend answer with an error body.
func New(dn42 Registry, referral Referral, services ServiceBackend, plugins PluginBackend, patches *patch.Manager, logger *slog.Logger) *Processor {
	p := &Processor{
		dn42:     dn42,
		referral: referral,
		services: services,
		plugins:  plugins,
		patches:  patches,
		private:  cidranger.NewPCTrieRanger(),
		log:      logger.With("name", "processor"),
	}

	for _, cidr := range append(append([]string{}, config.PrivateIPv4Ranges...), config.PrivateIPv6Ranges...) {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		_ = p.private.Insert(cidranger.NewBasicRangerEntry(*network))
	}
	return p
}

// Process answers one query. Errors never escape: they render as % Error
// bodies so the connection still closes cleanly.
func (p *Processor) Process(ctx context.Context, qt query.Type, scheme color.Scheme) string {
	p.log.Debug("processing query", "query", qt.Raw, "kind", qt.Kind)

	resp, err := p.route(ctx, qt)
	if err != nil {
		p.log.Warn("query failed", "query", qt.Raw, "err", err)
		return fmt.Sprintf("%% Error: %v\n", err)
	}

	if p.patches != nil {
		resp = p.patches.Apply(qt.Raw, resp)
	}
	if scheme != "" {
		resp = color.Colorize(resp, qt, scheme)
	}
	return resp
}

func (p *Processor) route(ctx context.Context, qt query.Type) (string, error) {
	switch qt.Kind {
	case query.KindDomain:
		if strings.HasSuffix(strings.ToLower(qt.Base), ".dn42") {
			return p.queryDN42(qt.Raw)
		}
		return p.queryReferral(ctx, qt.Raw)

	case query.KindIPv4, query.KindIPv6, query.KindCIDR:
		if p.isPrivate(qt.Addr.String()) {
			return p.queryDN42(qt.Raw)
		}
		return p.queryReferral(ctx, qt.Raw)

	case query.KindASN:
		if strings.HasPrefix(qt.Base, "AS42424") {
			return p.queryDN42(qt.Base)
		}
		return p.queryReferral(ctx, qt.Base)

	case query.KindService:
		if p.services == nil {
			return "", fmt.Errorf("service backends are not configured")
		}
		return p.services.Process(ctx, qt)

	case query.KindPlugin:
		if p.plugins == nil {
			return "", fmt.Errorf("no plugins are loaded")
		}
		return p.plugins.Dispatch(qt.PluginSuffix, qt.Base), nil

	default:
		return p.routeUnknown(ctx, qt.Raw)
	}
}

// routeUnknown tries DN42 handles directly, otherwise the public tree
// first with DN42 as the not-found fallback.
func (p *Processor) routeUnknown(ctx context.Context, raw string) (string, error) {
	upper := strings.ToUpper(raw)
	if strings.HasSuffix(upper, "-DN42") || strings.HasSuffix(upper, "-MNT") {
		return p.queryDN42(raw)
	}

	resp, err := p.queryReferral(ctx, raw)
	if err != nil || looksEmpty(resp) {
		p.log.Debug("public lookup empty, falling back to DN42", "query", raw)
		return p.queryDN42(raw)
	}
	return resp, nil
}

func looksEmpty(resp string) bool {
	trimmed := strings.TrimSpace(resp)
	return trimmed == "" ||
		strings.Contains(resp, "No entries found") ||
		strings.Contains(resp, "Not found")
}

func (p *Processor) queryDN42(q string) (string, error) {
	if p.dn42 == nil {
		return "", fmt.Errorf("the DN42 registry is not available")
	}
	return p.dn42.Query(q)
}

func (p *Processor) queryReferral(ctx context.Context, q string) (string, error) {
	if p.referral == nil {
		return "", fmt.Errorf("the referral engine is not available")
	}
	return p.referral.QueryWithIANAReferral(ctx, q)
}

func (p *Processor) isPrivate(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	contained, err := p.private.Contains(ip)
	return err == nil && contained
}
