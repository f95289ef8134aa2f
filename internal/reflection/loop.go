package reflection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// MergeFunc is supplied by the pipeline to turn a recognized script
// stdout shape into graph writes. It is called once per recognized
// shape ("discovered" subdomains, "results" entries, "findings"
// entries), grounded on reflection.py's ReflectionLoop merge-back
// dispatch.
type MergeFunc func(ctx context.Context, missionID, scriptType string, shape string, payload gjson.Result)

// Runner executes a generated script. Exposed as an interface so the
// Loop does not import internal/reflection/exec directly (keeps the
// loop's unit tests free of real process execution).
type Runner interface {
	Run(ctx context.Context, scriptType, interpreter, body string) RunResult
}

// RunResult mirrors exec.Result's shape without importing it.
type RunResult struct {
	Stdout json.RawMessage
	Err    error
}

// Loop is the per-mission reflection orchestrator: analyze -> resolve
// suggested scripts -> execute -> merge back, bounded by
// max_iterations (spec.md §4.5 "Budget").
type Loop struct {
	Analyzer      *ResultAnalyzer
	Generator     *ScriptGenerator
	Runner        Runner
	Merge         MergeFunc
	MaxIterations int
	Log           *zap.Logger

	metrics struct {
		unrecognizedShapes int
	}
}

func NewLoop(runner Runner, merge MergeFunc, maxIterations int, log *zap.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		Analyzer:      NewResultAnalyzer(),
		Generator:     NewScriptGenerator(),
		Runner:        runner,
		Merge:         merge,
		MaxIterations: maxIterations,
		Log:           log,
	}
}

// Reflect runs the loop for one tool invocation's output, returning
// the analysis (for logging/events) once iteration budget or wall
// clock is exhausted.
func (l *Loop) Reflect(ctx context.Context, missionID string, tool tools.Name, raw json.RawMessage) Analysis {
	analysis := l.Analyzer.Analyze(tool, raw)

	deadline := time.Now().Add(60 * time.Second) // total wall-clock bound, spec.md §4.5
	iterations := 0
	for _, action := range analysis.SuggestedActions {
		if iterations >= l.MaxIterations || time.Now().After(deadline) {
			break
		}
		if action.Action != "generate_script" {
			continue
		}
		iterations++
		l.runAndMerge(ctx, missionID, action.ScriptType, action.Targets)
	}
	return analysis
}

func (l *Loop) runAndMerge(ctx context.Context, missionID, scriptType string, targets []string) {
	script := l.Generator.Generate(scriptType, targets)
	if l.Runner == nil {
		return
	}
	res := l.Runner.Run(ctx, script.Type, script.Interpreter, script.Body)
	if res.Err != nil {
		l.Log.Warn("reflection script failed", zap.String("script_type", scriptType), zap.Error(res.Err))
		return
	}
	l.mergeBack(ctx, missionID, scriptType, res.Stdout)
}

// mergeBack recognizes a small set of stdout shapes ("discovered",
// "results", "findings") and hands matching entries to the pipeline's
// MergeFunc; anything else only increments the unrecognized-shape
// counter, per spec.md §4.5 "Merge back".
func (l *Loop) mergeBack(ctx context.Context, missionID, scriptType string, stdout json.RawMessage) {
	if l.Merge == nil || stdout == nil {
		return
	}
	parsed := gjson.ParseBytes(stdout)
	recognized := false
	for _, shape := range []string{"discovered", "results", "findings"} {
		if v := parsed.Get(shape); v.Exists() {
			recognized = true
			l.Merge(ctx, missionID, scriptType, shape, v)
		}
	}
	if !recognized {
		l.metrics.unrecognizedShapes++
	}
}

// UnrecognizedShapeCount exposes the reflection metrics counter.
func (l *Loop) UnrecognizedShapeCount() int { return l.metrics.unrecognizedShapes }
