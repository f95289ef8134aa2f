package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

// Reporting is Phase P6, spec.md §4.4.2: produces four artifacts, each
// persisted as a REPORT node linked by HAS_REPORT to the mission root
// (the target's DOMAIN node) - a red-team markdown brief, a knowledge
// summary, the full graph JSON, and a metrics JSON.
func Reporting(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}
	apex := mc.Settings.TargetDomain
	rootID := domainID(apex)

	if _, err := mc.Store.UpsertNode(ctx, graphstore.Node{
		ID: rootID, Type: graphstore.NodeDomain, MissionID: mc.MissionID,
		Properties: map[string]any{"name": apex},
	}, apex); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	snapshot := mc.Store.ExportSnapshot(mc.MissionID, apex)
	stats := mc.Store.Stats(mc.MissionID)

	redTeam := buildRedTeamMarkdown(apex, snapshot)
	knowledge := buildKnowledgeSummary(apex, snapshot)
	graphJSON, err := json.Marshal(snapshot)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		graphJSON = []byte(`{}`)
	}
	metrics := buildMetrics(stats, snapshot)
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		metricsJSON = []byte(`{}`)
	}

	artifacts := []struct {
		kind, format, body string
	}{
		{"red_team_markdown", "markdown", redTeam},
		{"knowledge_summary", "markdown", knowledge},
		{"graph_json", "json", string(graphJSON)},
		{"metrics_json", "json", string(metricsJSON)},
	}

	var nodes []graphstore.Node
	var edges []graphstore.Edge
	for _, a := range artifacts {
		id := reportID(mc.MissionID, a.kind)
		nodes = append(nodes, graphstore.Node{
			ID: id, Type: graphstore.NodeReport, MissionID: mc.MissionID,
			Properties: map[string]any{"kind": a.kind, "format": a.format, "body": a.body},
		})
		edges = append(edges, graphstore.Edge{
			Relation: graphstore.RelHasReport, From: rootID, To: id, MissionID: mc.MissionID,
		})
	}

	if _, _, err := mc.Store.BatchUpsert(ctx, nodes, edges, apex); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	result.Counts["reports_generated"] = len(artifacts)
	result.Counts["graph_nodes"] = stats.TotalNodes
	result.Counts["graph_edges"] = stats.TotalEdges

	mc.Bus.EmitPhase(mc.MissionID, "REPORTING", true, toAnyMap(result.Counts))
	return result, nil
}

type reportMetrics struct {
	TotalNodes          int                         `json:"total_nodes"`
	TotalEdges          int                         `json:"total_edges"`
	NodesByType         map[graphstore.NodeType]int `json:"nodes_by_type"`
	CategoryDistribution map[string]int             `json:"category_distribution"`
	RiskDistribution     map[string]int             `json:"risk_distribution"`
	VulnerabilityCount   int                         `json:"vulnerability_count"`
	HypothesisCount      int                         `json:"hypothesis_count"`
	AttackPathCount      int                         `json:"attack_path_count"`
}

func buildMetrics(stats graphstore.Stats, snap graphstore.Snapshot) reportMetrics {
	m := reportMetrics{
		TotalNodes:           stats.TotalNodes,
		TotalEdges:           stats.TotalEdges,
		NodesByType:          stats.NodesByType,
		CategoryDistribution: map[string]int{},
		RiskDistribution:     map[string]int{"low": 0, "medium": 0, "high": 0, "critical": 0},
	}
	for _, n := range snap.Nodes {
		switch n.Type {
		case graphstore.NodeEndpoint:
			if cat, ok := n.Properties["category"].(string); ok && cat != "" {
				m.CategoryDistribution[cat]++
			}
			risk, _ := n.Properties["risk_score"].(int)
			switch {
			case risk >= 90:
				m.RiskDistribution["critical"]++
			case risk >= 70:
				m.RiskDistribution["high"]++
			case risk >= 40:
				m.RiskDistribution["medium"]++
			default:
				m.RiskDistribution["low"]++
			}
		case graphstore.NodeVulnerability:
			m.VulnerabilityCount++
		case graphstore.NodeHypothesis:
			m.HypothesisCount++
		case graphstore.NodeAttackPath:
			m.AttackPathCount++
		}
	}
	return m
}

func buildKnowledgeSummary(apex string, snap graphstore.Snapshot) string {
	var b strings.Builder
	counts := map[graphstore.NodeType]int{}
	for _, n := range snap.Nodes {
		counts[n.Type]++
	}
	fmt.Fprintf(&b, "# Knowledge Summary: %s\n\n", apex)
	fmt.Fprintf(&b, "Discovered %d subdomains, %d HTTP services, %d endpoints, %d parameters.\n\n",
		counts[graphstore.NodeSubdomain], counts[graphstore.NodeHTTPService],
		counts[graphstore.NodeEndpoint], counts[graphstore.NodeParameter])
	fmt.Fprintf(&b, "Raised %d hypotheses, confirmed/theoretical %d vulnerabilities, planned %d attack paths.\n\n",
		counts[graphstore.NodeHypothesis], counts[graphstore.NodeVulnerability], counts[graphstore.NodeAttackPath])

	b.WriteString("## Subdomains\n")
	for _, n := range snap.Nodes {
		if n.Type != graphstore.NodeSubdomain {
			continue
		}
		name, _ := n.Properties["name"].(string)
		source, _ := n.Properties["source"].(string)
		fmt.Fprintf(&b, "- %s (via %s)\n", name, source)
	}
	return b.String()
}

func buildRedTeamMarkdown(apex string, snap graphstore.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Red Team Brief: %s\n\n", apex)
	b.WriteString("Observation-only reconnaissance findings. No exploitation was performed.\n\n")

	targetOf := map[string]string{}
	for _, e := range snap.Edges {
		if e.Relation == graphstore.RelTargets {
			targetOf[e.From] = e.To
		}
	}

	var paths []graphstore.Node
	for _, n := range snap.Nodes {
		if n.Type == graphstore.NodeAttackPath {
			paths = append(paths, n)
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		si, _ := paths[i].Properties["score"].(int)
		sj, _ := paths[j].Properties["score"].(int)
		return si > sj
	})

	b.WriteString("## Ranked Attack Paths\n\n")
	if len(paths) == 0 {
		b.WriteString("No attack paths were scored above the baseline.\n\n")
	}
	for i, p := range paths {
		sub := targetOf[p.ID]
		score, _ := p.Properties["score"].(int)
		fmt.Fprintf(&b, "%d. **%s** (score %d)\n", i+1, sub, score)
		if reason, ok := p.Properties["reason"].(string); ok && reason != "" {
			for _, r := range strings.Split(reason, " | ") {
				fmt.Fprintf(&b, "   - %s\n", r)
			}
		}
		if actions, ok := p.Properties["next_actions"].([]string); ok && len(actions) > 0 {
			fmt.Fprintf(&b, "   - Suggested: %s\n", strings.Join(actions, ", "))
		}
	}

	b.WriteString("\n## Vulnerabilities\n\n")
	found := false
	for _, n := range snap.Nodes {
		if n.Type != graphstore.NodeVulnerability {
			continue
		}
		found = true
		typ, _ := n.Properties["type"].(string)
		status, _ := n.Properties["status"].(string)
		fmt.Fprintf(&b, "- %s: %s\n", typ, status)
	}
	if !found {
		b.WriteString("None observed.\n")
	}
	return b.String()
}
