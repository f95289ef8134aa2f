package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

type scoredPath struct {
	subdomain string
	url       string
	score     int
	reasons   []string
	actions   []string
}

// Planning is Phase P5, spec.md §4.4.2: score an ATTACK_PATH per
// subdomain by traversing SUBDOMAIN->HTTP_SERVICE->ENDPOINT and
// SUBDOMAIN->IP->ASN, grounded on planner.py's score_path/
// suggest_actions (condensed to the point values spec.md §4.4.2 P5
// names; the source's memory-boost and OSINT-chain scoring have no
// corresponding node types in this graph and are dropped).
func Planning(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}

	subdomains, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeSubdomain}, nil, 0, 0)
	edges := mc.Store.GetEdges(mc.MissionID)
	allNodes := indexAllNodes(mc)

	adj := map[string][]graphstore.Edge{}
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e)
	}

	var paths []scoredPath
	for _, sub := range subdomains {
		httpIDs := relatedTo(adj, sub.ID, graphstore.RelExposesHTTP)
		ipIDs := relatedTo(adj, sub.ID, graphstore.RelResolvesTo)
		dnsIDs := relatedTo(adj, sub.ID, graphstore.RelHasRecord)

		var asnNodes []graphstore.Node
		for _, ipID := range ipIDs {
			for _, asnID := range relatedTo(adj, ipID, graphstore.RelBelongsTo) {
				if n, ok := allNodes[asnID]; ok {
					asnNodes = append(asnNodes, n)
				}
			}
		}
		var dnsNodes []graphstore.Node
		for _, id := range dnsIDs {
			if n, ok := allNodes[id]; ok {
				dnsNodes = append(dnsNodes, n)
			}
		}

		if len(httpIDs) == 0 {
			if len(ipIDs) > 0 || len(dnsIDs) > 0 {
				score, reasons := scorePath(sub, graphstore.Node{}, asnNodes, dnsNodes, nil, nil)
				paths = append(paths, scoredPath{subdomain: sub.ID, score: score, reasons: reasons,
					actions: suggestActions(graphstore.Node{}, nil, dnsNodes, nil)})
			}
			continue
		}
		for _, httpID := range httpIDs {
			httpNode, ok := allNodes[httpID]
			if !ok {
				continue
			}
			epIDs := relatedTo(adj, httpID, graphstore.RelExposesEndpoint)
			var endpoints []graphstore.Node
			for _, epID := range epIDs {
				if n, ok := allNodes[epID]; ok {
					endpoints = append(endpoints, n)
				}
			}
			vulnNodes := collectVulns(adj, allNodes, append(append([]string{sub.ID, httpID}, epIDs...)))

			score, reasons := scorePath(sub, httpNode, asnNodes, dnsNodes, endpoints, vulnNodes)
			url, _ := httpNode.Properties["url"].(string)
			paths = append(paths, scoredPath{
				subdomain: sub.ID, url: url, score: score, reasons: reasons,
				actions: suggestActions(httpNode, endpoints, dnsNodes, vulnNodes),
			})
		}
	}

	// keep only the best-scoring path per subdomain
	best := map[string]scoredPath{}
	for _, p := range paths {
		if cur, ok := best[p.subdomain]; !ok || p.score > cur.score {
			best[p.subdomain] = p
		}
	}
	var ranked []scoredPath
	for _, p := range best {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	k := 10
	if len(ranked) < k {
		k = len(ranked)
	}

	var nodes []graphstore.Node
	var newEdges []graphstore.Edge
	for i, p := range ranked[:k] {
		pathID := attackPathID(p.subdomain, i)
		props := map[string]any{
			"score": p.score, "url": p.url, "reason": strings.Join(p.reasons, " | "),
			"next_actions": p.actions,
		}
		// Narrate only the top-ranked path: additive enrichment, never
		// consulted for the score itself (spec.md §9).
		if i == 0 && mc.Reasoner != nil {
			summary := fmt.Sprintf("subdomain=%s score=%d reason=%s actions=%v", p.subdomain, p.score, strings.Join(p.reasons, "; "), p.actions)
			if narrative, err := mc.Reasoner.PlanningNarrative(ctx, mc.MissionID, summary); err == nil && narrative != "" {
				props["narrative"] = narrative
			}
		}
		nodes = append(nodes, graphstore.Node{
			ID: pathID, Type: graphstore.NodeAttackPath, MissionID: mc.MissionID,
			Properties: props,
		})
		newEdges = append(newEdges, graphstore.Edge{
			Relation: graphstore.RelTargets, From: pathID, To: p.subdomain, MissionID: mc.MissionID,
		})
	}
	if len(nodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, nodes, newEdges, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.Counts["attack_paths"] = len(nodes)
	result.Counts["paths_evaluated"] = len(paths)
	mc.Bus.EmitPhase(mc.MissionID, "PLANNING", true, toAnyMap(result.Counts))
	return result, nil
}

func indexAllNodes(mc MissionContext) map[string]graphstore.Node {
	nodes, _ := mc.Store.QueryNodes(mc.MissionID, nil, nil, 0, 0)
	out := make(map[string]graphstore.Node, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

func relatedTo(adj map[string][]graphstore.Edge, from string, rel graphstore.Relation) []string {
	var out []string
	for _, e := range adj[from] {
		if e.Relation == rel {
			out = append(out, e.To)
		}
	}
	return out
}

func collectVulns(adj map[string][]graphstore.Edge, allNodes map[string]graphstore.Node, sources []string) []graphstore.Node {
	seen := map[string]bool{}
	var vulns []graphstore.Node
	for _, src := range sources {
		for _, id := range relatedTo(adj, src, graphstore.RelHasVulnerability) {
			if seen[id] {
				continue
			}
			seen[id] = true
			if n, ok := allNodes[id]; ok {
				vulns = append(vulns, n)
			}
		}
	}
	return vulns
}

func scorePath(sub, http graphstore.Node, asnNodes, dnsNodes, endpoints, vulns []graphstore.Node) (int, []string) {
	score := 0
	var reasons []string

	priority, _ := sub.Properties["priority"].(int)
	score += priority

	name := strings.ToLower(sub.ID)
	tag := strings.ToUpper(stringProp(sub, "tag"))
	switch {
	case strings.Contains(tag, "AUTH") || strings.Contains(name, "login"):
		score += 5
		reasons = append(reasons, "Auth Portal (+5)")
	case strings.Contains(tag, "ADMIN") || strings.Contains(name, "admin"):
		score += 5
		reasons = append(reasons, "Admin Panel (+5)")
	case strings.Contains(tag, "DEV") || strings.Contains(name, "dev") || strings.Contains(name, "staging"):
		score += 4
		reasons = append(reasons, "Dev Environment (+4)")
	case strings.Contains(tag, "BACKUP") || strings.Contains(name, "backup"):
		score += 4
		reasons = append(reasons, "Backup Exposed (+4)")
	case strings.Contains(tag, "MAIL") || strings.Contains(name, "mail"):
		score += 4
		reasons = append(reasons, "Mailing System (+4)")
	}

	seenOrgs := map[string]bool{}
	for _, asn := range asnNodes {
		org := strings.ToLower(stringProp(asn, "org"))
		if org == "" || seenOrgs[org] {
			continue
		}
		seenOrgs[org] = true
		switch {
		case strings.Contains(org, "cloudflare") || strings.Contains(org, "akamai") || strings.Contains(org, "fastly"):
			score -= 1
			reasons = append(reasons, "CDN Protected (-1)")
		}
	}

	hasMX, hasSPF, hasDMARC := false, false, false
	for _, d := range dnsNodes {
		rtype := stringProp(d, "record_type")
		values, _ := d.Properties["values"].([]string)
		if rtype == "MX" {
			hasMX = true
		}
		if rtype == "TXT" {
			for _, v := range values {
				if strings.Contains(v, "v=spf1") {
					hasSPF = true
				}
				if strings.Contains(v, "v=DMARC1") {
					hasDMARC = true
				}
			}
		}
	}
	if hasMX && hasSPF {
		score += 2
		reasons = append(reasons, "Structured Emailing (+2)")
	}
	if hasMX && !hasDMARC {
		score += 1
		reasons = append(reasons, "Missing DMARC (+1)")
	}

	if techs, ok := http.Properties["technologies"].([]string); ok {
		for _, t := range techs {
			if t == "Express" || t == "Spring" || t == "Django" || t == "Laravel" || t == "Node.js" {
				score += 3
				reasons = append(reasons, "Backend Stack (+3)")
				break
			}
		}
	}

	adminSeen, apiSeen := false, false
	for _, ep := range endpoints {
		category := strings.ToUpper(stringProp(ep, "category"))
		behavior := stringProp(ep, "behavior_hint")
		source := stringProp(ep, "source")
		method := strings.ToUpper(stringProp(ep, "method"))

		switch {
		case (category == "ADMIN" || category == "AUTH") && !adminSeen:
			score += 4
			reasons = append(reasons, category+" Endpoint (+4)")
			adminSeen = true
		case category == "API" && !apiSeen:
			score += 2
			reasons = append(reasons, "API Endpoint (+2)")
			apiSeen = true
		case category == "LEGACY":
			score += 2
			reasons = append(reasons, "Legacy Endpoint (+2)")
		}
		// behavior_hint may carry both signals at once ("STATE_CHANGING+
		// ID_BASED_ACCESS", spec.md §8 S3), so each is scored independently
		// rather than as a mutually exclusive switch.
		if strings.Contains(behavior, "STATE_CHANGING") {
			score += 2
			reasons = append(reasons, "State Changing Behavior (+2)")
		}
		if strings.Contains(behavior, "ID_BASED_ACCESS") {
			score += 1
			reasons = append(reasons, "ID-Based Access (+1)")
		}
		if source == "wayback" {
			score += 2
			reasons = append(reasons, "Historical Endpoint (+2)")
		}
		if method == "POST" || method == "PUT" {
			score += 1
			reasons = append(reasons, "State Changing Method (+1)")
		}
	}

	for _, v := range vulns {
		severity := strings.ToUpper(stringProp(v, "type"))
		status := stringProp(v, "status")
		val := 1
		switch strings.ToUpper(stringProp(v, "severity")) {
		case "CRITICAL":
			val = 7
		case "HIGH":
			val = 5
		case "MEDIUM":
			val = 3
		}
		if status == "CONFIRMED" {
			val += 3
			reasons = append(reasons, "CONFIRMED Vulnerability (+3)")
		}
		score += val
		reasons = append(reasons, severity+" Vulnerability (+"+strconv.Itoa(val)+")")
	}

	return graphstore.ClampRisk(score), reasons
}

func suggestActions(http graphstore.Node, endpoints, dnsNodes, vulns []graphstore.Node) []string {
	seen := map[string]bool{}
	var actions []string
	pushUnique := func(a string) {
		if !seen[a] {
			seen[a] = true
			actions = append(actions, a)
		}
	}

	maxRisk := 0
	highValue := false
	for _, ep := range endpoints {
		risk, _ := ep.Properties["risk_score"].(int)
		if risk > maxRisk {
			maxRisk = risk
		}
		category := strings.ToUpper(stringProp(ep, "category"))
		if category == "ADMIN" || category == "AUTH" || category == "API" {
			highValue = true
		}
	}

	if http.ID != "" {
		if maxRisk >= 30 || highValue || len(vulns) > 0 {
			pushUnique("nuclei_scan")
		}
	} else {
		pushUnique("dns_audit")
	}

	if len(endpoints) > 0 {
		if maxRisk >= 40 || highValue {
			pushUnique("ffuf_api_fuzz")
		}
		for _, ep := range endpoints {
			path := stringProp(ep, "path")
			category := strings.ToUpper(stringProp(ep, "category"))
			risk, _ := ep.Properties["risk_score"].(int)
			if (category == "ADMIN" || category == "AUTH" || strings.Contains(path, "/admin") || strings.Contains(path, "/login")) && risk >= 30 {
				pushUnique("nuclei_auth_scan")
			}
			if strings.Contains(path, "/graphql") {
				pushUnique("graphql_introspection")
			}
		}
	}

	for _, d := range dnsNodes {
		if stringProp(d, "record_type") == "MX" {
			pushUnique("smtp_test")
			break
		}
	}

	if len(actions) == 0 {
		pushUnique("manual_review")
	}

	if len(vulns) > 0 {
		pushUnique("manual_validation")
		exploitable := false
		for _, v := range vulns {
			sev := strings.ToUpper(stringProp(v, "severity"))
			if sev == "CRITICAL" || sev == "HIGH" {
				exploitable = true
				break
			}
		}
		if exploitable {
			pushUnique("exploit_lab")
		}
	}
	return actions
}

func stringProp(n graphstore.Node, key string) string {
	if n.Properties == nil {
		return ""
	}
	s, _ := n.Properties[key].(string)
	return s
}
