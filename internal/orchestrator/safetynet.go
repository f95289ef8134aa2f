package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
)

// safetyNetResult mirrors safety_net.py's SafetyCheckResult: the gate
// decision plus the counts it was based on.
type safetyNetResult struct {
	Passed            bool
	SubdomainsCount   int
	HTTPServicesCount int
	Message           string
	ShouldContinue    bool
}

// gateCheck is the PASSIVE_RECON -> ACTIVE_RECON checkpoint, grounded
// verbatim on safety_net.py's gate_check (message text and thresholds
// reused as-is).
func gateCheck(stats graphstore.Stats, minSubdomains int) safetyNetResult {
	subCount := stats.NodesByType[graphstore.NodeSubdomain]
	httpCount := stats.NodesByType[graphstore.NodeHTTPService]

	if subCount == 0 {
		return safetyNetResult{
			SubdomainsCount: 0, HTTPServicesCount: httpCount,
			Message: "ZERO SURFACE DETECTED - No subdomains found", ShouldContinue: false,
		}
	}
	if subCount < minSubdomains {
		return safetyNetResult{
			SubdomainsCount: subCount, HTTPServicesCount: httpCount,
			Message:        "Insufficient subdomains found for active phase",
			ShouldContinue: true,
		}
	}
	return safetyNetResult{
		Passed: true, SubdomainsCount: subCount, HTTPServicesCount: httpCount,
		Message: "Gate check passed", ShouldContinue: true,
	}
}

// safetyNet injects the apex domain and its www. alias as fallback
// subdomains when PASSIVE_RECON found nothing, HEAD-probes them, and
// persists the reachable ones as HTTP_SERVICE nodes so downstream
// phases always have a target (spec.md §4.3 "Safety net").
func safetyNet(ctx context.Context, mc pipeline.MissionContext) (pipeline.PhaseResult, error) {
	result := pipeline.PhaseResult{Counts: map[string]int{}}
	apex := mc.Settings.TargetDomain

	candidates := []string{apex, "www." + apex}
	client := &http.Client{Timeout: 10 * time.Second}

	var nodes []graphstore.Node
	var edges []graphstore.Edge
	reachable := 0
	for _, host := range candidates {
		subID := "subdomain:" + host
		nodes = append(nodes, graphstore.Node{
			ID: subID, Type: graphstore.NodeSubdomain, MissionID: mc.MissionID,
			Properties: map[string]any{"name": host, "source": "apex_fallback"},
		})

		for _, scheme := range []string{"https://", "http://"} {
			url := scheme + host
			if !headReachable(ctx, client, url) {
				continue
			}
			svcID := "http_service:" + url
			nodes = append(nodes, graphstore.Node{
				ID: svcID, Type: graphstore.NodeHTTPService, MissionID: mc.MissionID,
				Properties: map[string]any{"url": url, "source": "apex_fallback"},
			})
			edges = append(edges, graphstore.Edge{
				Relation: graphstore.RelExposesHTTP, From: subID, To: svcID, MissionID: mc.MissionID,
			})
			reachable++
			break
		}
	}

	if _, _, err := mc.Store.BatchUpsert(ctx, nodes, edges, apex); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.Counts["fallback_subdomains"] = len(candidates)
	result.Counts["fallback_http_services"] = reachable

	mc.Bus.EmitPhase(mc.MissionID, PhaseSafetyNet, true, toAnyMap(result.Counts))
	return result, nil
}

func toAnyMap(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func headReachable(ctx context.Context, client *http.Client, url string) bool {
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
