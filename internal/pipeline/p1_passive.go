package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// PassiveRecon is Phase P1, spec.md §4.4.2. It enumerates subdomains,
// mines historical URLs via wayback, and resolves DNS, reflecting
// after each tool call.
func PassiveRecon(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}
	apex := mc.Settings.TargetDomain

	raw, err := mc.Tools.Invoke(ctx, "passive_recon", tools.SubdomainEnum, tools.SubdomainEnumArgs{
		Domain: apex, AllSources: true, TimeoutSec: 60,
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		raw = json.RawMessage(`{"subdomains":[]}`)
	}
	var subRes tools.SubdomainEnumResult
	_ = json.Unmarshal(raw, &subRes)

	var inScope []string
	var nodes []graphstore.Node
	for _, host := range subRes.Subdomains {
		host = strings.ToLower(strings.TrimSpace(host))
		if !graphstore.InScope(host, apex) {
			continue
		}
		inScope = append(inScope, host)
		nodes = append(nodes, graphstore.Node{
			ID: subdomainID(host), Type: graphstore.NodeSubdomain, MissionID: mc.MissionID,
			Properties: map[string]any{"name": host, "source": "subdomain_enum"},
		})
	}
	if len(nodes) > 0 {
		n, _, err := mc.Store.BatchUpsert(ctx, nodes, nil, apex)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		result.Counts["subdomains"] = n
	}
	mc.Reflector.Reflect(ctx, mc.MissionID, tools.SubdomainEnum, raw)

	// wayback on discovered hosts + apex
	waybackTargets := append(append([]string{}, inScope...), apex)
	wbRaw, err := mc.Tools.Invoke(ctx, "passive_recon", tools.Wayback, tools.WaybackArgs{Domains: waybackTargets})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		var wbEntries []tools.WaybackEntry
		_ = json.Unmarshal(wbRaw, &wbEntries)
		var wbNodes []graphstore.Node
		var wbEdges []graphstore.Edge
		endpointCount := 0
		for _, e := range wbEntries {
			host := hostFromOrigin(e.Origin)
			if host == "" || !graphstore.InScope(host, apex) {
				continue
			}
			subID := subdomainID(host)
			wbNodes = append(wbNodes, graphstore.Node{
				ID: subID, Type: graphstore.NodeSubdomain, MissionID: mc.MissionID,
				Properties: map[string]any{"name": host, "source": "wayback"},
			})
			svcID := httpServiceID(e.Origin)
			wbNodes = append(wbNodes, graphstore.Node{
				ID: svcID, Type: graphstore.NodeHTTPService, MissionID: mc.MissionID,
				Properties: map[string]any{"url": e.Origin},
			})
			wbEdges = append(wbEdges, graphstore.Edge{
				Relation: graphstore.RelExposesHTTP, From: subID, To: svcID, MissionID: mc.MissionID,
			})
			normPath := normalizePath(e.Path)
			epID := endpointID(apex, normPath)
			wbNodes = append(wbNodes, graphstore.Node{
				ID: epID, Type: graphstore.NodeEndpoint, MissionID: mc.MissionID,
				Properties: map[string]any{
					"path": normPath, "raw_path": e.Path, "method": firstNonEmpty(e.Method, "GET"),
					"category": "WAYBACK", "confidence": 0.6, "origin": e.Origin,
				},
			})
			wbEdges = append(wbEdges, graphstore.Edge{
				Relation: graphstore.RelExposesEndpoint, From: svcID, To: epID, MissionID: mc.MissionID,
			})
			endpointCount++
		}
		if len(wbNodes) > 0 {
			_, _, err := mc.Store.BatchUpsert(ctx, wbNodes, wbEdges, apex)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			result.Counts["wayback_endpoints"] = endpointCount
		}
		mc.Reflector.Reflect(ctx, mc.MissionID, tools.Wayback, wbRaw)
	}

	// dns resolution
	var allIPs []string
	if len(inScope) > 0 {
		dnsRaw, err := mc.Tools.Invoke(ctx, "passive_recon", tools.DNSResolve, tools.DNSResolveArgs{Subdomains: inScope})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			var dnsEntries []tools.DNSResolveEntry
			_ = json.Unmarshal(dnsRaw, &dnsEntries)
			var dnsNodes []graphstore.Node
			var dnsEdges []graphstore.Edge
			for _, d := range dnsEntries {
				subID := subdomainID(d.Subdomain)
				for _, ip := range d.IPs {
					ipNodeID := ipID(ip)
					dnsNodes = append(dnsNodes, graphstore.Node{
						ID: ipNodeID, Type: graphstore.NodeIPAddress, MissionID: mc.MissionID,
						Properties: map[string]any{"ip": ip},
					})
					dnsEdges = append(dnsEdges, graphstore.Edge{
						Relation: graphstore.RelResolvesTo, From: subID, To: ipNodeID, MissionID: mc.MissionID,
					})
					allIPs = append(allIPs, ip)
				}
				for rtype, values := range d.Records {
					recID := dnsRecordID(d.Subdomain, rtype)
					dnsNodes = append(dnsNodes, graphstore.Node{
						ID: recID, Type: graphstore.NodeDNSRecord, MissionID: mc.MissionID,
						Properties: map[string]any{"record_type": rtype, "values": values},
					})
					dnsEdges = append(dnsEdges, graphstore.Edge{
						Relation: graphstore.RelHasRecord, From: subID, To: recID, MissionID: mc.MissionID,
					})
				}
			}
			if len(dnsNodes) > 0 {
				_, _, err := mc.Store.BatchUpsert(ctx, dnsNodes, dnsEdges, apex)
				if err != nil {
					result.Errors = append(result.Errors, err.Error())
				}
			}
			mc.Reflector.Reflect(ctx, mc.MissionID, tools.DNSResolve, dnsRaw)
		}
	}

	// asn lookup on resolved IPs, feeding Planning's infra scoring
	if len(allIPs) > 0 {
		asnRaw, err := mc.Tools.Invoke(ctx, "passive_recon", tools.ASNLookup, tools.ASNLookupArgs{IPs: allIPs})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			var asnEntries []tools.ASNLookupEntry
			_ = json.Unmarshal(asnRaw, &asnEntries)
			var asnNodes []graphstore.Node
			var asnEdges []graphstore.Edge
			for _, a := range asnEntries {
				if a.ASN == "" {
					continue
				}
				nodeID := asnID(a.ASN)
				asnNodes = append(asnNodes, graphstore.Node{
					ID: nodeID, Type: graphstore.NodeASN, MissionID: mc.MissionID,
					Properties: map[string]any{"asn": a.ASN, "org": a.Org, "country": a.Country},
				})
				asnEdges = append(asnEdges, graphstore.Edge{
					Relation: graphstore.RelBelongsTo, From: ipID(a.IP), To: nodeID, MissionID: mc.MissionID,
				})
			}
			if len(asnNodes) > 0 {
				if _, _, err := mc.Store.BatchUpsert(ctx, asnNodes, asnEdges, apex); err != nil {
					result.Errors = append(result.Errors, err.Error())
				}
			}
			mc.Reflector.Reflect(ctx, mc.MissionID, tools.ASNLookup, asnRaw)
		}
	}

	mc.Bus.EmitPhase(mc.MissionID, "PASSIVE_RECON", true, toAnyMap(result.Counts))
	return result, nil
}

func hostFromOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func toAnyMap(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
