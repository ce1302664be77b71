// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package services implements the leaf lookup backends behind the
// suffix-dispatched query tags. Every function returns displayable text;
// not-found conditions render as % comment lines, never as errors.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"

	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/storage"
	"github.com/akaere-networks/whois-server/whois"
)

// RegistryQuerier is the slice of the DN42 manager the description and
// contact services need.
type RegistryQuerier interface {
	QueryRaw(q string) (string, error)
}

// Client carries the shared dependencies of every service backend.
type Client struct {
	http     *retryablehttp.Client
	dn42     RegistryQuerier
	pdbCache *storage.Store
	icpCache *storage.Store
	log      *slog.Logger
}

// New wires the service backends.
func New(dn42mgr RegistryQuerier, pdbCache, icpCache *storage.Store, logger *slog.Logger) *Client {
	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = 10 * time.Second

	return &Client{
		http:     retryablehttp.NewClient(opts),
		dn42:     dn42mgr,
		pdbCache: pdbCache,
		icpCache: icpCache,
		log:      logger.With("name", "services"),
	}
}

// Process routes one suffix-dispatched query to its backend.
func (c *Client) Process(ctx context.Context, qt query.Type) (string, error) {
	switch qt.Service {
	case query.SvcBGPTool:
		return c.BGPTool(ctx, qt.Base)
	case query.SvcRADB:
		return whois.Query(ctx, qt.Base, config.RADBWhoisServer, config.RADBWhoisPort)
	case query.SvcDNS:
		return c.DNS(ctx, qt.Base)
	case query.SvcRPKI:
		return c.RPKI(ctx, qt.RPKIPrefix, qt.RPKIASN)
	case query.SvcPeeringDB:
		return c.PeeringDB(ctx, qt.Base)
	case query.SvcGeo:
		return c.Geo(ctx, qt.Base)
	case query.SvcRIRGeo:
		return c.RIRGeo(ctx, qt.Base)
	case query.SvcICP:
		return c.ICP(ctx, qt.Base)
	case query.SvcDesc:
		return c.Desc(qt.Base)
	case query.SvcEmail:
		return c.Email(qt.Base)
	case query.SvcHelp:
		return HelpText(), nil
	case query.SvcSSL:
		return c.SSL(ctx, qt.Base)
	case query.SvcCRT:
		return c.CRT(ctx, qt.Base)
	case query.SvcNTP:
		return c.NTP(ctx, qt.Base)
	case query.SvcTrace:
		return c.Traceroute(ctx, qt.Base)
	case query.SvcLG:
		return c.LookingGlass(ctx, qt.Base)
	case query.SvcPrefixes:
		return c.Prefixes(ctx, qt.Base)
	case query.SvcIRR:
		return c.IRRExplorer(ctx, qt.Base)
	case query.SvcMANRS:
		return c.MANRS(ctx, qt.Base)
	default:
		if ep, ok := jsonEndpoints[qt.Service]; ok {
			return c.jsonLookup(ctx, ep, qt.Base)
		}
		return "", fmt.Errorf("no backend for service %s", qt.Service)
	}
}

// endpoint describes one JSON API backed lookup.
type endpoint struct {
	title string
	url   func(base string) string
}

// jsonEndpoints covers the package-registry and media lookups that share
// the same fetch-and-render shape.
var jsonEndpoints = map[query.Service]endpoint{
	query.SvcAUR: {"AUR package", func(b string) string {
		return "https://aur.archlinux.org/rpc/?v=5&type=info&arg[]=" + url.QueryEscape(b)
	}},
	query.SvcDebian: {"Debian package", func(b string) string {
		return "https://sources.debian.org/api/src/" + url.PathEscape(b) + "/"
	}},
	query.SvcUbuntu: {"Ubuntu package", func(b string) string {
		return "https://api.launchpad.net/devel/ubuntu/+archive/primary?ws.op=getPublishedSources&exact_match=true&source_name=" + url.QueryEscape(b)
	}},
	query.SvcNixOS: {"NixOS package", func(b string) string {
		return "https://search.nixos.org/backend/latest-42-nixos-unstable/_search?q=" + url.QueryEscape(b)
	}},
	query.SvcOpenSUSE: {"openSUSE package", func(b string) string {
		return "https://software.opensuse.org/package/" + url.PathEscape(b) + ".json"
	}},
	query.SvcOpenWrt: {"OpenWrt package", func(b string) string {
		return "https://openwrt.org/packages/pkgdata/" + url.PathEscape(b) + "?do=export_json"
	}},
	query.SvcNPM: {"npm package", func(b string) string {
		return "https://registry.npmjs.org/" + url.PathEscape(b) + "/latest"
	}},
	query.SvcPyPI: {"PyPI package", func(b string) string {
		return "https://pypi.org/pypi/" + url.PathEscape(b) + "/json"
	}},
	query.SvcCargo: {"crates.io package", func(b string) string {
		return "https://crates.io/api/v1/crates/" + url.PathEscape(b)
	}},
	query.SvcModrinth: {"Modrinth project", func(b string) string {
		return "https://api.modrinth.com/v2/project/" + url.PathEscape(b)
	}},
	query.SvcCurseForge: {"CurseForge search", func(b string) string {
		return "https://www.curseforge.com/api/v1/mods/search?gameId=432&filterText=" + url.QueryEscape(b)
	}},
	query.SvcGitHub: {"GitHub", githubURL},
	query.SvcWikipedia: {"Wikipedia article", func(b string) string {
		return "https://en.wikipedia.org/api/rest_v1/page/summary/" + url.PathEscape(b)
	}},
	query.SvcMinecraft: {"Minecraft server", func(b string) string {
		return "https://api.mcsrvstat.us/2/" + url.PathEscape(b)
	}},
	query.SvcMCUser: {"Minecraft profile", func(b string) string {
		return "https://api.mojang.com/users/profiles/minecraft/" + url.PathEscape(b)
	}},
	query.SvcSteam: {"Steam app", func(b string) string {
		return "https://store.steampowered.com/api/appdetails?appids=" + url.QueryEscape(b)
	}},
	query.SvcSteamSearch: {"Steam search", func(b string) string {
		return "https://store.steampowered.com/api/storesearch/?cc=us&l=en&term=" + url.QueryEscape(b)
	}},
	query.SvcIMDB: {"IMDb title", func(b string) string {
		return "https://search.imdbot.workers.dev/?tt=" + url.QueryEscape(b)
	}},
	query.SvcIMDBSearch: {"IMDb search", func(b string) string {
		return "https://search.imdbot.workers.dev/?q=" + url.QueryEscape(b)
	}},
	query.SvcACGC: {"Anime character", func(b string) string {
		return "https://api.jikan.moe/v4/characters?q=" + url.QueryEscape(b)
	}},
	query.SvcLyric: {"Lyric", func(b string) string {
		return "https://api.lyrics.ovh/v1/" + url.PathEscape(b)
	}},
	query.SvcMeal: {"Meal suggestion", func(string) string {
		return "https://www.themealdb.com/api/json/v1/1/random.php"
	}},
	query.SvcMealCN: {"Chinese meal suggestion", func(string) string {
		return "https://www.themealdb.com/api/json/v1/1/filter.php?a=Chinese"
	}},
}

func githubURL(b string) string {
	if strings.Contains(b, "/") {
		return "https://api.github.com/repos/" + b
	}
	return "https://api.github.com/users/" + url.PathEscape(b)
}

// jsonLookup fetches one endpoint and renders the JSON document as
// attribute lines.
func (c *Client) jsonLookup(ctx context.Context, ep endpoint, base string) (string, error) {
	target := ep.url(base)

	body, status, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return fmt.Sprintf("%% %s: no results for %s\n", ep.title, base), nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", status, target)
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("unparseable answer from %s: %v", target, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%% %s: %s\n", ep.title, base)
	renderJSON(&b, "", doc, 0)
	return b.String(), nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", "akaere-whois/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %v", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// renderJSON flattens a decoded document into indented attribute lines,
// keeping map keys sorted so output is stable.
func renderJSON(b *strings.Builder, key string, v interface{}, depth int) {
	if depth > 4 {
		return
	}
	indent := strings.Repeat("  ", depth)

	switch t := v.(type) {
	case map[string]interface{}:
		if key != "" {
			fmt.Fprintf(b, "%s%s:\n", indent, key)
			depth++
			indent = strings.Repeat("  ", depth)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			renderJSON(b, k, t[k], depth)
		}
	case []interface{}:
		if len(t) > 10 {
			t = t[:10]
		}
		for i, item := range t {
			renderJSON(b, fmt.Sprintf("%s[%d]", key, i), item, depth)
		}
	case nil:
		// Omit null attributes.
	default:
		value := fmt.Sprintf("%v", t)
		if len(value) > 500 {
			value = value[:500] + "..."
		}
		fmt.Fprintf(b, "%s%-20s %s\n", indent, key+":", value)
	}
}
