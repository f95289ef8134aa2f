package llm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

// recordReasoning writes the supplemented data-model pair SPEC_FULL.md
// §3 calls for: an AGENT_RUN node standing for this invocation of the
// reasoner, an LLM_REASONING node holding its prompt/result, and a
// PRODUCES edge from the former to the latter. Best-effort: a graph
// write failure here never surfaces to the caller, since the reasoner
// itself is purely additive enrichment.
func (c *Client) recordReasoning(ctx context.Context, missionID, kind, prompt, result string) {
	if c.store == nil {
		return
	}
	runID := "agent_run:llm:" + uuid.NewString()
	reasoningID := "llm_reasoning:" + uuid.NewString()

	nodes := []graphstore.Node{
		{
			ID: runID, Type: graphstore.NodeAgentRun, MissionID: missionID,
			Properties: map[string]any{"role": "llm_reasoner", "kind": kind},
		},
		{
			ID: reasoningID, Type: graphstore.NodeLLMReasoning, MissionID: missionID,
			Properties: map[string]any{"kind": kind, "prompt": truncate(prompt, 4000), "result": truncate(result, 4000)},
		},
	}
	edges := []graphstore.Edge{
		{Relation: graphstore.RelProduces, From: runID, To: reasoningID, MissionID: missionID},
	}

	// Target domain scoping doesn't apply to execution-history nodes:
	// pass "" so BatchUpsert's scope filter (built for discovered
	// assets) leaves AGENT_RUN/LLM_REASONING nodes untouched.
	if _, _, err := c.store.BatchUpsert(ctx, nodes, edges, ""); err != nil {
		c.log.Warn("failed to record llm reasoning", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
