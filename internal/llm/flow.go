package llm

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	genkitcore "github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// ScriptReasonRequest/Response are the reflection loop's fallback
// reasoner shape: a script type with no built-in template, resolved to
// a runnable script body.
type ScriptReasonRequest struct {
	ScriptType string   `json:"script_type"`
	Targets    []string `json:"targets"`
}

type ScriptReasonResponse struct {
	Interpreter string `json:"interpreter"`
	Body        string `json:"body"`
}

// NarrativeRequest/Response are Phase P5's planning-narrative shape: a
// scored attack path summary in, a short analyst-style writeup out.
type NarrativeRequest struct {
	Summary string `json:"summary"`
}

type NarrativeResponse struct {
	Narrative string `json:"narrative"`
}

func defineScriptFlow(g *genkit.Genkit, model string) *genkitcore.Flow[*ScriptReasonRequest, *ScriptReasonResponse, struct{}] {
	return genkit.DefineFlow(g, "scriptReasonFlow", func(ctx context.Context, req *ScriptReasonRequest) (*ScriptReasonResponse, error) {
		prompt := buildScriptPrompt(req.ScriptType, req.Targets)
		result, _, err := genkit.GenerateData[ScriptReasonResponse](
			ctx, g,
			ai.WithModelName(model),
			ai.WithPrompt(prompt),
		)
		if err != nil {
			return nil, fmt.Errorf("script reason flow: %w", err)
		}
		return result, nil
	})
}

func defineNarrativeFlow(g *genkit.Genkit, model string) *genkitcore.Flow[*NarrativeRequest, *NarrativeResponse, struct{}] {
	return genkit.DefineFlow(g, "narrativeFlow", func(ctx context.Context, req *NarrativeRequest) (*NarrativeResponse, error) {
		prompt := buildNarrativePrompt(req.Summary)
		result, _, err := genkit.GenerateData[NarrativeResponse](
			ctx, g,
			ai.WithModelName(model),
			ai.WithPrompt(prompt),
		)
		if err != nil {
			return nil, fmt.Errorf("narrative flow: %w", err)
		}
		return result, nil
	})
}
