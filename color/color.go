// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package color renders RPSL responses with ANSI colors after an in-band
// capability negotiation. Clients opt in with X-WHOIS-COLOR headers sent
// before the query line.
package color

import (
	"strings"

	"github.com/fatih/color"

	"github.com/akaere-networks/whois-server/query"
)

// Scheme names a negotiated palette.
type Scheme string

const (
	SchemeRIPE         Scheme = "ripe"
	SchemeRIPEDark     Scheme = "ripe-dark"
	SchemeBGPTools     Scheme = "bgptools"
	SchemeBGPToolsDark Scheme = "bgptools-dark"
)

// SchemeFromString maps a client-supplied scheme name; unknown names mean
// no colorization.
func SchemeFromString(s string) (Scheme, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ripe":
		return SchemeRIPE, true
	case "ripe-dark":
		return SchemeRIPEDark, true
	case "bgptools":
		return SchemeBGPTools, true
	case "bgptools-dark":
		return SchemeBGPToolsDark, true
	}
	return "", false
}

// Protocol tracks the capability negotiation state of one connection.
type Protocol struct {
	Enabled             bool
	Scheme              Scheme
	ClientSupportsColor bool
}

// NewProtocol returns the negotiation state with colorization enabled but
// not yet requested.
func NewProtocol() *Protocol {
	return &Protocol{Enabled: true}
}

// ParseHeaders consumes capability lines preceding a query. It reports
// whether the request was a bare capability probe.
func (p *Protocol) ParseHeaders(request string) bool {
	for _, line := range strings.Split(request, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		if strings.HasPrefix(upper, "X-WHOIS-COLOR-PROBE:") {
			p.ClientSupportsColor = true
			return true
		}

		if strings.HasPrefix(upper, "X-WHOIS-COLOR:") {
			_, value, _ := strings.Cut(line, ":")
			value = strings.TrimSpace(value)
			value = strings.TrimPrefix(value, "scheme=")

			if scheme, ok := SchemeFromString(value); ok {
				p.Scheme = scheme
				p.ClientSupportsColor = true
			}
		}
	}
	return false
}

// ShouldColorize reports whether the connection negotiated a scheme.
func (p *Protocol) ShouldColorize() bool {
	return p.Enabled && p.ClientSupportsColor && p.Scheme != ""
}

// CapabilityResponse is the answer to a capability probe.
func (p *Protocol) CapabilityResponse() string {
	if p.Enabled {
		return "X-WHOIS-COLOR-SUPPORT: 1.0 schemes=ripe,ripe-dark,bgptools,bgptools-dark\r\n\r\n"
	}
	return "X-WHOIS-COLOR-SUPPORT: no\r\n\r\n"
}

// palette groups the sprint functions for one scheme.
type palette struct {
	comment   func(a ...interface{}) string
	attribute func(a ...interface{}) string
	value     func(a ...interface{}) string
}

func paletteFor(scheme Scheme) palette {
	switch scheme {
	case SchemeRIPEDark:
		return palette{
			comment:   color.New(color.FgHiBlack).SprintFunc(),
			attribute: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
			value:     color.New(color.FgHiWhite).SprintFunc(),
		}
	case SchemeBGPTools:
		return palette{
			comment:   color.New(color.FgYellow).SprintFunc(),
			attribute: color.New(color.FgGreen, color.Bold).SprintFunc(),
			value:     color.New(color.FgWhite).SprintFunc(),
		}
	case SchemeBGPToolsDark:
		return palette{
			comment:   color.New(color.FgHiYellow).SprintFunc(),
			attribute: color.New(color.FgHiGreen, color.Bold).SprintFunc(),
			value:     color.New(color.FgHiWhite).SprintFunc(),
		}
	default:
		return palette{
			comment:   color.New(color.FgBlue).SprintFunc(),
			attribute: color.New(color.FgCyan, color.Bold).SprintFunc(),
			value:     color.New(color.FgWhite).SprintFunc(),
		}
	}
}

func init() {
	// Responses travel over a socket, never a local terminal; the TTY
	// detection must not strip the escapes.
	color.NoColor = false
}

// Colorize tints a response for the negotiated scheme: % comments, RPSL
// attribute keys and their values. The query type is available for
// type-specific tweaks but the line shapes dominate.
func Colorize(text string, _ query.Type, scheme Scheme) string {
	p := paletteFor(scheme)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "%") || strings.HasPrefix(trimmed, "#") {
			lines[i] = p.comment(line)
			continue
		}

		if key, value, ok := strings.Cut(line, ":"); ok && !strings.Contains(key, " ") {
			lines[i] = p.attribute(key+":") + p.value(value)
		}
	}
	return strings.Join(lines, "\n")
}
