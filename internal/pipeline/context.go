// Package pipeline implements the recon phase algorithms (spec.md
// §4.4.2, P1-P6), invoking tool providers, ingesting results into the
// graph store, and triggering reflection after each tool call.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// Settings are the per-mission tunables phases read, grounded on
// original_source settings dicts (target_domain, request_timeout,
// min_risk_for_verification, etc.) flattened into a typed struct.
type Settings struct {
	TargetDomain           string
	Mode                   string // stealth | balanced | aggressive
	MaxWorkers             int
	RiskThreshold          int
	MinSubdomainsForActive int
	ActiveVerification     bool
}

// NarrativeReasoner is the narrow interface Phase P5 consults for
// additive risk-path narration, spec.md §9 "the LLM is purely additive
// enrichment". Satisfied by *llm.Client; left nil (or backed by a
// disabled client) skips narration entirely.
type NarrativeReasoner interface {
	PlanningNarrative(ctx context.Context, missionID, pathSummary string) (string, error)
}

// MissionContext is threaded through every phase: the shared handles
// a phase needs to do its work. Constructed once per mission by the
// orchestrator and passed by value (it holds pointers/interfaces, so
// copies are cheap and share state).
type MissionContext struct {
	MissionID string
	Settings  Settings

	Store     *graphstore.Store
	Bus       *eventbus.Bus
	Tools     *tools.Registry
	Reflector *reflection.Loop
	Reasoner  NarrativeReasoner
	Log       *zap.Logger
}

// PhaseResult is what every phase algorithm returns to the
// orchestrator for checkpoint evaluation and event emission.
type PhaseResult struct {
	Counts map[string]int
	Errors []string
}

// Phase is the function signature every P1-P6 algorithm implements.
type Phase func(ctx context.Context, mc MissionContext) (PhaseResult, error)
