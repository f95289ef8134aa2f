// Package llm wraps the mission spine's opaque reasoner: spec.md §9
// "Treat the reasoner as an opaque function reason(context) ->
// structured_result. The pipeline's correctness does NOT depend on LLM
// quality... the LLM is purely additive enrichment." Every call site in
// this codebase degrades to a no-op when the reasoner is disabled or
// errors, never to a failed mission.
package llm

import (
	"context"
	"fmt"

	genkitcore "github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/config"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
)

// Client is the reasoner: a genkit-backed client plus the graph-write
// wrapper the supplemented data model requires (every invocation writes
// an AGENT_RUN node and an LLM_REASONING node linked by PRODUCES, see
// SPEC_FULL.md §3).
type Client struct {
	g     *genkit.Genkit
	store *graphstore.Store
	log   *zap.Logger

	scriptFlow    *genkitcore.Flow[*ScriptReasonRequest, *ScriptReasonResponse, struct{}]
	narrativeFlow *genkitcore.Flow[*NarrativeRequest, *NarrativeResponse, struct{}]

	// MissionHint resolves a best-effort mission id for an invocation
	// that, per reflection.ScriptGenerator.Reasoner's signature, only
	// carries targets and not a mission id. Wired by the caller to the
	// pipeline's mission-domain registry; left nil drops the graph
	// write's mission scoping (the reasoner is still invoked).
	MissionHint func(targets []string) string
}

// New constructs the reasoner client and defines its genkit flows. A
// disabled config (cfg.Enabled false) returns nil, and every exported
// method tolerates a nil receiver, so callers never need to branch on
// enablement themselves.
func New(ctx context.Context, cfg config.LLMConfig, store *graphstore.Store, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		return nil
	}
	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.APIKey}),
		genkit.WithDefaultModel(defaultModelRef(cfg)),
	)
	c := &Client{g: g, store: store, log: log}
	c.scriptFlow = defineScriptFlow(g, orDefault(cfg.ModelFast, cfg.Model))
	c.narrativeFlow = defineNarrativeFlow(g, orDefault(cfg.ModelSmart, cfg.Model))
	return c
}

func defaultModelRef(cfg config.LLMConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return "googleai/gemini-2.5-flash"
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// Enabled reports whether the client is live. Safe to call on a nil
// receiver.
func (c *Client) Enabled() bool { return c != nil && c.g != nil }

// ReflectionScript implements reflection.ScriptGenerator's Reasoner
// hook: spec.md §4.5 "If a type is unknown, the generator MAY defer to
// the reasoner". Returns ok=false on any failure or when disabled, so
// ScriptGenerator.Generate falls through to its "not implemented" stub.
func (c *Client) ReflectionScript(scriptType string, targets []string) (reflection.Script, bool) {
	if !c.Enabled() {
		return reflection.Script{}, false
	}
	ctx := context.Background()
	resp, err := c.scriptFlow.Run(ctx, &ScriptReasonRequest{ScriptType: scriptType, Targets: targets})
	if err != nil || resp == nil || resp.Body == "" {
		if err != nil {
			c.log.Warn("llm reflection fallback failed", zap.String("script_type", scriptType), zap.Error(err))
		}
		return reflection.Script{}, false
	}

	missionID := ""
	if c.MissionHint != nil {
		missionID = c.MissionHint(targets)
	}
	c.recordReasoning(ctx, missionID, "reflection_fallback", scriptType, resp.Body)

	return reflection.Script{Type: scriptType, Interpreter: orDefault(resp.Interpreter, "sh"), Body: resp.Body}, true
}

// PlanningNarrative produces an additive, free-text risk narrative for
// Phase P5's report, grounded on spec.md §9's framing of the reasoner
// as purely additive enrichment never consulted for scoring. Returns
// ("", nil) when disabled so P5 can unconditionally append the result.
func (c *Client) PlanningNarrative(ctx context.Context, missionID, pathSummary string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	resp, err := c.narrativeFlow.Run(ctx, &NarrativeRequest{Summary: pathSummary})
	if err != nil {
		return "", fmt.Errorf("planning narrative: %w", err)
	}
	c.recordReasoning(ctx, missionID, "planning_narrative", pathSummary, resp.Narrative)
	return resp.Narrative, nil
}
