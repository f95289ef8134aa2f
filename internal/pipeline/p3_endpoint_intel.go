package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

// category/behavior derivation rules, spec.md §4.4.2 P3. Ordered: first
// match wins, grounded on endpoint_intel_pipeline.py's single canonical
// enrichment pass (the source's duplicate procedural enrichment path is
// dropped, spec.md §10).
var categoryRules = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`(?i)(^|/)(api|v1)(/|$)|/graphql`), "API"},
	{regexp.MustCompile(`(?i)/(admin|dashboard|manage|panel)`), "ADMIN"},
	{regexp.MustCompile(`(?i)/(login|signin|auth|oauth)`), "AUTH"},
	{regexp.MustCompile(`(?i)\.(js|css|png|jpg|jpeg|gif|svg|woff2?)$`), "STATIC"},
	{regexp.MustCompile(`(?i)/(\.env|\.git|config)`), "LEGACY"},
	{regexp.MustCompile(`(?i)/(health|healthz|ping|status)$`), "HEALTHCHECK"},
}

var numericSegment = regexp.MustCompile(`^\d+$`)

var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[?&](id|user_id)=`),
	regexp.MustCompile(`/:id(/|$)`),
	regexp.MustCompile(`/\d+(/|$)`),
}

// likelihood/impact per category, spec.md §4.4.2 P3 step 3 ("per
// category table"). A STATE_CHANGING behavior or an id-based path adds
// one point of likelihood (one point in total when both apply), capped
// at 10.
var categoryScores = map[string][2]float64{
	"API":         {6, 6},
	"ADMIN":       {5, 9},
	"AUTH":        {6, 8},
	"LEGACY":      {7, 7},
	"PUBLIC":      {3, 2},
	"STATIC":      {1, 1},
	"HEALTHCHECK": {1, 1},
	"UNKNOWN":     {3, 3},
}

func deriveCategory(path string) string {
	for _, rule := range categoryRules {
		if rule.re.MatchString(path) {
			return rule.category
		}
	}
	return "UNKNOWN"
}

// deriveBehavior returns the behavior label plus an independent
// id-based-access flag: an id pattern and a state-changing method are
// not mutually exclusive (original carries them as separate signals,
// main.py:846 / asset_graph.py:541), so a POST/PUT/PATCH/DELETE against
// an id-shaped path is both STATE_CHANGING and id-based at once.
func deriveBehavior(method, path string) (behavior string, idBased bool) {
	for _, re := range idPatterns {
		if re.MatchString(path) {
			idBased = true
			break
		}
	}
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		return "STATE_CHANGING", idBased
	case "GET", "HEAD":
		if idBased {
			return "ID_BASED_ACCESS", true
		}
		return "READ_ONLY", false
	default:
		if idBased {
			return "ID_BASED_ACCESS", true
		}
		return "OTHER", false
	}
}

func deriveParameters(path string) []paramCandidate {
	var params []paramCandidate
	idx := strings.Index(path, "?")
	if idx >= 0 {
		query := path[idx+1:]
		for _, kv := range strings.Split(query, "&") {
			name := kv
			if eq := strings.Index(kv, "="); eq >= 0 {
				name = kv[:eq]
			}
			if name == "" {
				continue
			}
			params = append(params, paramCandidate{Name: name, Location: "query", Sensitivity: sensitivityOf(name)})
		}
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		if segment == ":id" || numericSegment.MatchString(segment) {
			params = append(params, paramCandidate{Name: "id", Location: "path", Sensitivity: "MEDIUM"})
		}
	}
	return params
}

type paramCandidate struct {
	Name        string
	Location    string
	Sensitivity string
}

func sensitivityOf(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "token") || strings.Contains(lower, "password") || strings.Contains(lower, "secret"):
		return "HIGH"
	case strings.Contains(lower, "id") || strings.Contains(lower, "email") || strings.Contains(lower, "user"):
		return "MEDIUM"
	default:
		return "LOW"
	}
}

type hypothesisCandidate struct {
	AttackType  string
	Title       string
	Description string
	Confidence  float64
	Priority    int
}

// generateHypotheses mirrors endpoint_intel_pipeline.py's
// _generate_hypotheses category->attack map, capped at 3 per endpoint.
// idBased gates IDOR independently of behavior/method, so a
// STATE_CHANGING+id-based endpoint yields both IDOR and SQLI.
func generateHypotheses(category, path string, idBased bool, params []paramCandidate) []hypothesisCandidate {
	var hyps []hypothesisCandidate
	if idBased {
		hyps = append(hyps, hypothesisCandidate{
			AttackType: "IDOR", Title: "Potential Insecure Direct Object Reference",
			Description: "Endpoint uses ID-based access pattern: " + path, Confidence: 0.6, Priority: 3,
		})
	}
	if category == "ADMIN" {
		hyps = append(hyps, hypothesisCandidate{
			AttackType: "AUTH_BYPASS", Title: "Potential Authentication Bypass",
			Description: "Administrative endpoint detected: " + path, Confidence: 0.5, Priority: 4,
		})
	}
	if category == "AUTH" {
		hyps = append(hyps, hypothesisCandidate{
			AttackType: "BRUTE_FORCE", Title: "Potential Brute Force Attack Surface",
			Description: "Authentication endpoint detected: " + path, Confidence: 0.6, Priority: 5,
		})
	}
	if category == "API" {
		for _, p := range params {
			if p.Sensitivity == "MEDIUM" || p.Sensitivity == "HIGH" {
				hyps = append(hyps, hypothesisCandidate{
					AttackType: "SQLI", Title: "Potential SQL Injection in parameter '" + p.Name + "'",
					Description: "Sensitive parameter detected on API endpoint", Confidence: 0.4, Priority: 4,
				})
				break
			}
		}
	}
	if len(hyps) > 3 {
		hyps = hyps[:3]
	}
	return hyps
}

// EndpointIntel is Phase P3, spec.md §4.4.2. It runs entirely against
// the already-discovered graph (no tool invocations), so it has no
// reflection step.
func EndpointIntel(ctx context.Context, mc MissionContext) (PhaseResult, error) {
	result := PhaseResult{Counts: map[string]int{}}

	endpoints, _ := mc.Store.QueryNodes(mc.MissionID, []graphstore.NodeType{graphstore.NodeEndpoint}, nil, 0, 0)

	var nodeUpdates []graphstore.Node
	var newNodes []graphstore.Node
	var newEdges []graphstore.Edge
	categoryDist := map[string]int{}
	highRisk := 0
	paramsFound := 0
	hypothesesGenerated := 0

	for _, ep := range endpoints {
		path, _ := ep.Properties["path"].(string)
		method, _ := ep.Properties["method"].(string)
		if method == "" {
			method = "GET"
		}
		category := deriveCategory(path)
		if existing, ok := ep.Properties["category"].(string); ok && existing == "WAYBACK" {
			category = "WAYBACK" // provenance from P1 wayback mining is preserved, not overwritten
		}
		behavior, idBased := deriveBehavior(method, path)
		behaviorHint := behavior
		if behavior == "STATE_CHANGING" && idBased {
			behaviorHint = "STATE_CHANGING+ID_BASED_ACCESS" // spec.md §8 S3: both signals apply at once
		}
		scores := categoryScores[category]
		likelihood, impact := scores[0], scores[1]
		if behavior == "STATE_CHANGING" || idBased {
			likelihood++
		}
		likelihood = graphstore.ClampScore10(likelihood)
		impact = graphstore.ClampScore10(impact)
		risk := graphstore.ClampRisk(int(likelihood) * int(impact))

		categoryDist[category]++
		if risk >= 70 {
			highRisk++
		}

		patched := ep
		patched.Properties = map[string]any{
			"category": category, "behavior_hint": behaviorHint,
			"likelihood_score": likelihood, "impact_score": impact, "risk_score": risk,
		}
		nodeUpdates = append(nodeUpdates, patched)

		params := deriveParameters(path)
		for _, p := range params {
			paramsFound++
			newNodes = append(newNodes, graphstore.Node{
				ID: parameterID(ep.ID, p.Name), Type: graphstore.NodeParameter, MissionID: mc.MissionID,
				Properties: map[string]any{"name": p.Name, "location": p.Location, "sensitivity": p.Sensitivity},
			})
			newEdges = append(newEdges, graphstore.Edge{
				Relation: graphstore.RelHasParam, From: ep.ID, To: parameterID(ep.ID, p.Name), MissionID: mc.MissionID,
			})
		}

		if risk >= mc.Settings.RiskThreshold {
			for _, hyp := range generateHypotheses(category, path, idBased, params) {
				hypID := hypothesisID(hyp.AttackType, ep.ID)
				newNodes = append(newNodes, graphstore.Node{
					ID: hypID, Type: graphstore.NodeHypothesis, MissionID: mc.MissionID,
					Properties: map[string]any{
						"attack_type": hyp.AttackType, "title": hyp.Title, "description": hyp.Description,
						"confidence": hyp.Confidence, "priority": hyp.Priority, "status": "UNTESTED",
					},
				})
				newEdges = append(newEdges, graphstore.Edge{
					Relation: graphstore.RelHasHypothesis, From: ep.ID, To: hypID, MissionID: mc.MissionID,
				})
				hypothesesGenerated++
			}
		}
	}

	for _, n := range nodeUpdates {
		if _, err := mc.Store.PatchNode(ctx, mc.MissionID, n.ID, n.Properties, nil); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if len(newNodes) > 0 {
		if _, _, err := mc.Store.BatchUpsert(ctx, newNodes, newEdges, mc.Settings.TargetDomain); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	result.Counts["endpoints_analyzed"] = len(endpoints)
	result.Counts["high_risk"] = highRisk
	result.Counts["parameters_found"] = paramsFound
	result.Counts["hypotheses_generated"] = hypothesesGenerated
	for cat, n := range categoryDist {
		result.Counts["category_"+strings.ToLower(cat)] = n
	}

	mc.Bus.EmitPhase(mc.MissionID, "ENDPOINT_INTEL", true, toAnyMap(result.Counts))
	return result, nil
}
