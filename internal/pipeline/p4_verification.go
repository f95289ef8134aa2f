package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

// errorPatterns are generic observation markers, not exploit payloads,
// grounded verbatim on verification_pipeline.py's ERROR_PATTERNS list.
var errorPatterns = []string{
	"sql", "syntax", "query", "database", "mysql", "postgres", "oracle",
	"error", "exception", "stack trace", "undefined", "null pointer",
	"warning", "fatal", "internal server error",
}

type testSignal struct {
	statusNormal, statusTest int
	sizeNormal, sizeTest     int
	hashNormal, hashTest     string
	errorPatterns            []string
	classification           string // POSSIBLE_VULNERABILITY, LIKELY_SAFE, INCONCLUSIVE
}

// Verification is Phase P4, spec.md §4.4.2: stack fingerprinting on up
// to 15 HTTP services, then controlled observation-only diffing
// (baseline vs `_probe=1`) on up to 10 high-risk endpoint candidates.
// Grounded verbatim on verification_pipeline.py, with SHA-256 in place
// of the original's MD5 content hash.
func Verification(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}
	client := &http.Client{Timeout: 10 * time.Second}

	services, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeHTTPService}, nil, 0, 0)
	stackVersions := 0
	for _, svc := range capNodes(services, 15) {
		url, _ := svc.Properties["url"].(string)
		if url == "" || !strings.Contains(url, mc.Settings.TargetDomain) {
			continue
		}
		if stack := analyzeStack(ctx, client, url); stack != nil {
			if _, err := mc.Store.PatchNode(ctx, mc.MissionID, svc.ID, stack, nil); err != nil {
				result.Errors = append(result.Errors, err.Error())
			} else {
				stackVersions++
			}
		}
	}
	result.Counts["stack_versions_detected"] = stackVersions
	result.Counts["services_analyzed"] = min(len(services), 15)

	var newNodes []graphstore.Node
	var newEdges []graphstore.Edge
	vulnsTheoretical := 0
	testsPerformed := 0

	if mc.Settings.ActiveVerification {
		candidates := selectCandidates(mc, mc.Settings.RiskThreshold)
		for _, ep := range candidates[:min(len(candidates), 10)] {
			signal := performTest(ctx, client, ep, mc.Settings.TargetDomain)
			if signal == nil {
				continue
			}
			testsPerformed++
			if signal.classification == "POSSIBLE_VULNERABILITY" {
				vulnID := vulnerabilityID(ep.ID, "theoretical")
				evidence := fmt.Sprintf("Status diff: %d -> %d, size diff: %d -> %d, hash %s -> %s",
					signal.statusNormal, signal.statusTest, signal.sizeNormal, signal.sizeTest,
					signal.hashNormal[:12], signal.hashTest[:12])
				newNodes = append(newNodes, graphstore.Node{
					ID: vulnID, Type: graphstore.NodeVulnerability, MissionID: mc.MissionID,
					Properties: map[string]any{
						"type": "BEHAVIORAL_ANOMALY", "status": "POSSIBLE", "tested_by": "VERIFICATION_PIPELINE",
						"confidence": 0.4, "error_patterns": signal.errorPatterns,
					},
					Evidence: []graphstore.EvidenceItem{graphstore.NewEvidence("behavioral_diff", "response diff", evidence)},
				})
				newEdges = append(newEdges, graphstore.Edge{
					Relation: graphstore.RelHasVulnerability, From: ep.ID, To: vulnID, MissionID: mc.MissionID,
				})
				vulnsTheoretical++
			}
		}
	}

	// theoretical vulns from untested, high-priority hypotheses
	hyps, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeHypothesis}, nil, 0, 0)
	edges := mc.Store.GetEdges(mc.MissionID)
	for _, hyp := range hyps {
		priority, _ := hyp.Properties["priority"].(int)
		status, _ := hyp.Properties["status"].(string)
		attackType, _ := hyp.Properties["attack_type"].(string)
		if priority < 4 || status != "UNTESTED" {
			continue
		}
		var endpointID string
		for _, e := range edges {
			if e.To == hyp.ID && e.Relation == graphstore.RelHasHypothesis {
				endpointID = e.From
				break
			}
		}
		if endpointID == "" {
			continue
		}
		vulnID := vulnerabilityID(endpointID, attackType)
		confidence, _ := hyp.Properties["confidence"].(float64)
		description, _ := hyp.Properties["description"].(string)
		newNodes = append(newNodes, graphstore.Node{
			ID: vulnID, Type: graphstore.NodeVulnerability, MissionID: mc.MissionID,
			Properties: map[string]any{
				"type": attackType, "status": "THEORETICAL", "tested_by": "HYPOTHESIS_ANALYSIS",
				"confidence": confidence, "priority": priority, "source_hypothesis": hyp.ID,
			},
			Evidence: []graphstore.EvidenceItem{graphstore.NewEvidence("hypothesis", "untested high-priority hypothesis", description)},
		})
		newEdges = append(newEdges, graphstore.Edge{
			Relation: graphstore.RelHasVulnerability, From: endpointID, To: vulnID, MissionID: mc.MissionID,
		})
		if _, err := mc.Store.PatchNode(ctx, mc.MissionID, hyp.ID, map[string]any{"status": "VALIDATED_THEORETICAL"}, nil); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		vulnsTheoretical++
	}

	if len(newNodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, newNodes, newEdges, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	endpoints, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeEndpoint}, nil, 0, 0)
	validated := 0
	for _, ep := range capNodes(endpoints, 30) {
		origin, _ := ep.Properties["origin"].(string)
		if origin != "" && isAccessible(ctx, client, origin) {
			validated++
		}
	}

	result.Counts["endpoints_validated"] = validated
	result.Counts["vulnerabilities_theoretical"] = vulnsTheoretical
	result.Counts["tests_performed"] = testsPerformed

	mc.Bus.EmitPhase(mc.MissionID, "VERIFICATION", true, toAnyMap(result.Counts))
	return result, nil
}

func analyzeStack(ctx context.Context, client *http.Client, url string) map[string]any {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 ReconMission/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	stack := map[string]any{}
	if server := resp.Header.Get("Server"); server != "" {
		parts := strings.SplitN(server, "/", 2)
		stack["server"] = parts[0]
		if len(parts) > 1 {
			stack["server_version"] = strings.Fields(parts[1])[0]
		}
	}
	if poweredBy := resp.Header.Get("X-Powered-By"); poweredBy != "" {
		if strings.Contains(poweredBy, "PHP") {
			stack["framework"] = "PHP"
			if parts := strings.SplitN(poweredBy, "/", 2); len(parts) > 1 {
				stack["framework_version"] = parts[1]
			}
		} else if strings.Contains(poweredBy, "ASP.NET") {
			stack["framework"] = "ASP.NET"
		}
	}
	if v := resp.Header.Get("X-AspNet-Version"); v != "" {
		stack["framework"] = "ASP.NET"
		stack["framework_version"] = v
	}
	if len(stack) == 0 {
		return nil
	}
	return stack
}

func selectCandidates(mc MissionContext, threshold int) []graphstore.Node {
	endpoints, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeEndpoint}, nil, 0, 0)
	edges := mc.Store.GetEdges(mc.MissionID)
	byID := map[string]graphstore.Node{}
	hyps, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeHypothesis}, nil, 0, 0)
	for _, h := range hyps {
		byID[h.ID] = h
	}

	var candidates []graphstore.Node
	seen := map[string]bool{}
	for _, ep := range endpoints {
		risk, _ := ep.Properties["risk_score"].(int)
		if risk >= threshold {
			candidates = append(candidates, ep)
			seen[ep.ID] = true
			continue
		}
		for _, e := range edges {
			if e.From != ep.ID || e.Relation != graphstore.RelHasHypothesis {
				continue
			}
			if hyp, ok := byID[e.To]; ok {
				if p, _ := hyp.Properties["priority"].(int); p >= 4 && !seen[ep.ID] {
					candidates = append(candidates, ep)
					seen[ep.ID] = true
				}
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, _ := candidates[i].Properties["risk_score"].(int)
		rj, _ := candidates[j].Properties["risk_score"].(int)
		return ri > rj
	})
	return candidates
}

func performTest(ctx context.Context, client *http.Client, ep graphstore.Node, targetDomain string) *testSignal {
	origin, _ := ep.Properties["origin"].(string)
	method, _ := ep.Properties["method"].(string)
	if method == "" {
		method = "GET"
	}
	if origin == "" || !strings.Contains(origin, targetDomain) {
		return nil
	}

	normalBody, normalStatus, err := doRequest(ctx, client, method, origin)
	if err != nil {
		return nil
	}
	testURL := origin
	if strings.Contains(origin, "?") {
		testURL += "&_probe=1"
	} else {
		testURL += "?_probe=1"
	}
	testBody, testStatus, err := doRequest(ctx, client, method, testURL)
	if err != nil {
		return nil
	}

	var matched []string
	lower := strings.ToLower(string(testBody))
	for _, p := range errorPatterns {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	sqlHit := containsSQLError(string(testBody))
	traceHit := containsStackTrace(string(testBody))
	if sqlHit {
		matched = append(matched, "sql_error_signature")
	}
	if traceHit {
		matched = append(matched, "stack_trace_signature")
	}

	classification := "LIKELY_SAFE"
	switch {
	case sqlHit:
		classification = "POSSIBLE_VULNERABILITY"
	case normalStatus != testStatus:
		if testStatus >= 500 {
			classification = "POSSIBLE_VULNERABILITY"
		} else {
			classification = "INCONCLUSIVE"
		}
	case traceHit:
		classification = "INCONCLUSIVE"
	case len(matched) > 0:
		classification = "INCONCLUSIVE"
	case bodySimilarity(string(normalBody), string(testBody)) > 0.95:
		classification = "LIKELY_SAFE"
	}

	return &testSignal{
		statusNormal: normalStatus, statusTest: testStatus,
		sizeNormal: len(normalBody), sizeTest: len(testBody),
		hashNormal: contentHash(normalBody), hashTest: contentHash(testBody),
		errorPatterns: matched, classification: classification,
	}
}

func doRequest(ctx context.Context, client *http.Client, method, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 ReconMission/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func isAccessible(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func capNodes(nodes []graphstore.Node, n int) []graphstore.Node {
	if len(nodes) <= n {
		return nodes
	}
	return nodes[:n]
}
