// Package tools defines the opaque external-tool provider contract
// (spec.md §4.4.1, §6.5): each tool is invoked with a typed argument
// struct and returns JSON matching a declared output shape. Tool
// wrappers themselves (subfinder, httpx, nuclei, ...) are out of
// scope; this package only the contract and the resilience wrapper
// (rate limit, circuit breaker, retry) around an implementer-supplied
// Provider.
package tools

import (
	"context"
	"encoding/json"
)

// Name is the closed set of recognized tools, spec.md §4.4.1.
type Name string

const (
	SubdomainEnum Name = "subdomain_enum"
	HTTPProbe     Name = "http_probe"
	DNSResolve    Name = "dns_resolve"
	ASNLookup     Name = "asn_lookup"
	Wayback       Name = "wayback"
	JSMine        Name = "js_mine"
	HTMLCrawl     Name = "html_crawl"
	VulnScan      Name = "vuln_scan"
)

// Provider is the interface an implementer supplies per tool: a
// synchronous (from the pipeline's viewpoint) call that either
// returns a JSON document matching the tool's output schema or an
// error. Providers MAY delegate to subprocesses, HTTP services, or
// in-process libraries (spec.md §6.5).
type Provider interface {
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

func (f ProviderFunc) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

// --- typed argument/result shapes, spec.md §4.4.1 ---

type SubdomainEnumArgs struct {
	Domain     string `json:"domain"`
	AllSources bool   `json:"all_sources"`
	Recursive  bool   `json:"recursive"`
	TimeoutSec int    `json:"timeout"`
}

type SubdomainEnumResult struct {
	Subdomains []string `json:"subdomains"`
}

type HTTPProbeArgs struct {
	URLs       []string `json:"urls"`
	TimeoutSec int      `json:"timeout"`
}

type HTTPProbeEntry struct {
	URL          string   `json:"url"`
	StatusCode   int      `json:"status_code"`
	Title        string   `json:"title"`
	Technologies []string `json:"technologies"`
	IP           string   `json:"ip"`
	Server       string   `json:"server"`
}

type HTTPProbeResult struct {
	Results []HTTPProbeEntry `json:"results"`
}

type DNSResolveArgs struct {
	Subdomains []string `json:"subdomains"`
}

type DNSResolveEntry struct {
	Subdomain string              `json:"subdomain"`
	IPs       []string            `json:"ips"`
	Records   map[string][]string `json:"records"`
}

type ASNLookupArgs struct {
	IPs []string `json:"ips"`
}

type ASNLookupEntry struct {
	IP      string `json:"ip"`
	ASN     string `json:"asn"`
	Org     string `json:"org"`
	Country string `json:"country"`
}

type WaybackArgs struct {
	Domains []string `json:"domains"`
}

type WaybackEntry struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Source string `json:"source"`
	Origin string `json:"origin"`
}

type JSMineArgs struct {
	URLs []string `json:"urls"`
}

type JSMineEndpoint struct {
	Path     string `json:"path"`
	Method   string `json:"method"`
	SourceJS string `json:"source_js"`
}

type JSMineSecret struct {
	Value    string `json:"value"`
	Kind     string `json:"kind"`
	SourceJS string `json:"source_js"`
}

type JSMineInfo struct {
	JSFiles   []string         `json:"js_files"`
	Endpoints []JSMineEndpoint `json:"endpoints"`
	Secrets   []JSMineSecret   `json:"secrets"`
}

type JSMineEntry struct {
	URL string     `json:"url"`
	JS  JSMineInfo `json:"js"`
}

type HTMLCrawlArgs struct {
	URLs []string `json:"urls"`
}

type HTMLForm struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Fields []string `json:"fields"`
}

type HTMLCrawlEntry struct {
	URL   string     `json:"url"`
	Links []string   `json:"links"`
	Forms []HTMLForm `json:"forms"`
}

type VulnScanArgs struct {
	Targets    []string `json:"targets"`
	Templates  []string `json:"templates"`
	Severity   []string `json:"severity"`
	RateLimit  int      `json:"rate_limit"`
	TimeoutSec int      `json:"timeout"`
}

type VulnScanFinding struct {
	Host             string            `json:"host"`
	TemplateID       string            `json:"template_id"`
	Severity         string            `json:"severity"`
	MatchedAt        string            `json:"matched_at"`
	MatcherName      string            `json:"matcher_name"`
	ExtractedResults []string          `json:"extracted_results"`
	Tags             []string          `json:"tags"`
}

type VulnScanResult struct {
	Vulnerabilities []VulnScanFinding `json:"vulnerabilities"`
}
