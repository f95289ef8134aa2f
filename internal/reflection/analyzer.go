// Package reflection implements the post-tool-call validation and
// enrichment loop: an analyzer examines each tool's output, a script
// generator resolves suggested actions into runnable scripts, a
// sandboxed executor runs them, and recognized stdout shapes are
// merged back into the graph. Grounded on
// original_source/services/recon-orchestrator/core/reflection.py.
package reflection

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// Issue is a single problem found in a tool's output.
type Issue struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"` // INFO | WARNING | CRITICAL
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// EnrichmentOpportunity names a gap the reflection loop could fill.
type EnrichmentOpportunity struct {
	Type    string   `json:"type"`
	Targets []string `json:"targets"`
	Reason  string   `json:"reason"`
}

// SuggestedAction is either a retry hint or a generate_script request.
type SuggestedAction struct {
	Action     string   `json:"action"` // retry | generate_script | investigate
	ScriptType string   `json:"script_type,omitempty"`
	Targets    []string `json:"targets,omitempty"`
}

// Analysis is the analyzer's verdict for one tool invocation, spec.md
// §4.5.
type Analysis struct {
	Valid                  bool                    `json:"valid"`
	CompletenessScore      float64                 `json:"completeness_score"`
	Issues                 []Issue                 `json:"issues"`
	EnrichmentOpportunities []EnrichmentOpportunity `json:"enrichment_opportunities"`
	SuggestedActions       []SuggestedAction        `json:"suggested_actions"`
}

// ResultAnalyzer dispatches to a per-tool rule, grounded on
// reflection.py's ResultAnalyzer class.
type ResultAnalyzer struct{}

func NewResultAnalyzer() *ResultAnalyzer { return &ResultAnalyzer{} }

// Analyze examines raw tool output (the JSON the provider returned)
// and produces an Analysis. Unrecognized tools get a neutral,
// always-valid analysis rather than an error (spec.md §4.5 analyzer
// rules are "pre-declared" per tool, not exhaustive).
func (a *ResultAnalyzer) Analyze(tool tools.Name, raw json.RawMessage) Analysis {
	switch tool {
	case tools.SubdomainEnum:
		return a.analyzeSubdomainEnum(raw)
	case tools.HTTPProbe:
		return a.analyzeHTTPProbe(raw)
	case tools.Wayback:
		return a.analyzeWayback(raw)
	case tools.DNSResolve:
		return a.analyzeDNSResolve(raw)
	default:
		return Analysis{Valid: true, CompletenessScore: 1.0}
	}
}

// analyzeSubdomainEnum: an empty subdomain list suggests a retry and a
// DNS-bruteforce enrichment script, per reflection.py's handling of
// empty subfinder output.
func (a *ResultAnalyzer) analyzeSubdomainEnum(raw json.RawMessage) Analysis {
	count := gjson.GetBytes(raw, "subdomains.#").Int()
	if count == 0 {
		return Analysis{
			Valid:             true,
			CompletenessScore: 0.0,
			Issues: []Issue{
				{Type: "empty_result", Severity: "WARNING", Message: "subdomain enumeration returned no results"},
			},
			EnrichmentOpportunities: []EnrichmentOpportunity{
				{Type: "dns_bruteforce", Reason: "primary enumeration returned zero subdomains"},
			},
			SuggestedActions: []SuggestedAction{
				{Action: "retry"},
				{Action: "generate_script", ScriptType: "dns_bruteforce"},
			},
		}
	}
	return Analysis{Valid: true, CompletenessScore: 1.0}
}

// analyzeHTTPProbe: many 5xx responses suggest investigation, per
// reflection.py's handling of probe results dominated by server errors.
func (a *ResultAnalyzer) analyzeHTTPProbe(raw json.RawMessage) Analysis {
	results := gjson.GetBytes(raw, "results")
	total, serverErrors := 0, 0
	results.ForEach(func(_, entry gjson.Result) bool {
		total++
		if entry.Get("status_code").Int() >= 500 {
			serverErrors++
		}
		return true
	})
	if total == 0 {
		return Analysis{Valid: true, CompletenessScore: 0.0, Issues: []Issue{
			{Type: "empty_result", Severity: "WARNING", Message: "http probe returned no live services"},
		}}
	}
	if float64(serverErrors)/float64(total) > 0.5 {
		return Analysis{
			Valid:             true,
			CompletenessScore: 0.6,
			Issues: []Issue{
				{Type: "many_5xx", Severity: "WARNING", Message: "majority of probed services returned 5xx"},
			},
			SuggestedActions: []SuggestedAction{{Action: "investigate"}},
		}
	}
	return Analysis{Valid: true, CompletenessScore: 1.0}
}

// analyzeWayback: URLs containing "/api/" suggest further API
// discovery via tech fingerprinting, per reflection.py.
func (a *ResultAnalyzer) analyzeWayback(raw json.RawMessage) Analysis {
	var apiTargets []string
	gjson.ParseBytes(raw).ForEach(func(_, entry gjson.Result) bool {
		path := entry.Get("path").String()
		if strings.Contains(path, "/api/") {
			apiTargets = append(apiTargets, entry.Get("origin").String())
		}
		return true
	})
	if len(apiTargets) == 0 {
		return Analysis{Valid: true, CompletenessScore: 1.0}
	}
	return Analysis{
		Valid:             true,
		CompletenessScore: 1.0,
		EnrichmentOpportunities: []EnrichmentOpportunity{
			{Type: "api_discovery", Targets: apiTargets, Reason: "historical URLs contain API-shaped paths"},
		},
		SuggestedActions: []SuggestedAction{
			{Action: "generate_script", ScriptType: "tech_fingerprint", Targets: apiTargets},
		},
	}
}

func (a *ResultAnalyzer) analyzeDNSResolve(raw json.RawMessage) Analysis {
	count := gjson.ParseBytes(raw).Array()
	if len(count) == 0 {
		return Analysis{Valid: true, CompletenessScore: 0.0, Issues: []Issue{
			{Type: "empty_result", Severity: "INFO", Message: "dns resolution returned no records"},
		}}
	}
	return Analysis{Valid: true, CompletenessScore: 1.0}
}
