// Package scope decides which discovered links may enter the url table.
package scope

import (
	"net/url"
	"strings"
)

// Config lists host patterns. "example.com" matches that host only; "*.example.com" and
// ".example.com" match the domain and every subdomain.
type Config struct {
	AllowDomains []string `mapstructure:"allow_domains"`
	DenyDomains  []string `mapstructure:"deny_domains"`
}

// Policy admits addresses whose host passes the allow and deny lists. Deny wins.
// An empty allow list admits every host that is not denied.
type Policy struct {
	allow *patterns
	deny  *patterns
}

// New builds a Policy from cfg.
func New(cfg Config) *Policy {
	return &Policy{allow: newPatterns(cfg.AllowDomains), deny: newPatterns(cfg.DenyDomains)}
}

// Allow reports whether address may be enqueued.
func (p *Policy) Allow(address string) bool {
	if p == nil {
		return true
	}
	host := hostOf(address)
	if host == "" {
		return p.allow == nil
	}
	if p.deny.match(host) {
		return false
	}
	return p.allow == nil || p.allow.match(host)
}

// hostOf accepts schemeless addresses such as "site/movie/1", whose first segment is the host.
func hostOf(address string) string {
	raw := strings.TrimSpace(address)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

type patterns struct {
	exact    map[string]struct{}
	suffixes []string
}

// newPatterns returns nil when no usable pattern is given.
func newPatterns(raw []string) *patterns {
	p := &patterns{exact: make(map[string]struct{})}
	for _, r := range raw {
		value := strings.TrimSpace(strings.ToLower(r))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		return nil
	}
	return p
}

func (p *patterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

func (p *patterns) match(host string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
