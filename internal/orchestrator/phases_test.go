package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

func TestGateCheckZeroSurface(t *testing.T) {
	stats := graphstore.Stats{NodesByType: map[graphstore.NodeType]int{}}
	res := gateCheck(stats, 0)
	assert.False(t, res.Passed)
	assert.Equal(t, "ZERO SURFACE DETECTED - No subdomains found", res.Message)
	assert.False(t, res.ShouldContinue)
}

func TestGateCheckPassed(t *testing.T) {
	stats := graphstore.Stats{NodesByType: map[graphstore.NodeType]int{graphstore.NodeSubdomain: 3}}
	res := gateCheck(stats, 1)
	assert.True(t, res.Passed)
	assert.Equal(t, 3, res.SubdomainsCount)
}

func TestNextPhaseOrder(t *testing.T) {
	assert.Equal(t, PhasePassiveRecon, nextPhase(""))
	assert.Equal(t, PhaseSafetyNet, nextPhase(PhasePassiveRecon))
	assert.Equal(t, PhaseReporting, nextPhase(PhasePlanning))
	assert.Equal(t, "", nextPhase(PhaseReporting))
}

func newTestOrchestrator() *Orchestrator {
	bus := eventbus.New(zap.NewNop(), 100, 100, 0)
	store := graphstore.New(nil, bus)
	reg := tools.NewRegistry()
	loop := reflection.NewLoop(nil, nil, 1, zap.NewNop())
	return New(store, nil, bus, reg, loop, Timeouts{}, zap.NewNop())
}

// TestRunCompletesWithoutToolProviders exercises the full phase
// sequence with no tool providers registered: every phase degrades to
// recording an error and continuing (spec.md §4.4.1 "tool failures are
// captured, not propagated"), so the mission should still reach
// COMPLETED.
func TestRunCompletesWithoutToolProviders(t *testing.T) {
	o := newTestOrchestrator()
	m := NewMission("m1", "test.invalid", pipeline.Settings{
		TargetDomain: "test.invalid", Mode: "balanced", MaxWorkers: 2, RiskThreshold: 40,
	}, nil)

	err := o.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	assert.Equal(t, PhaseReporting, m.CurrentPhase)
}

func TestRunHonorsCancellation(t *testing.T) {
	o := newTestOrchestrator()
	m := NewMission("m2", "test.invalid", pipeline.Settings{TargetDomain: "test.invalid"}, nil)
	m.Cancel()

	err := o.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, m.Status)
}
