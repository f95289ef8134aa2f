// Package orchestrator drives a mission through its phase state
// machine, persisting progress at each boundary and honoring
// cancellation and per-phase timeouts. Grounded on spec.md §4.3 and
// the teacher's Config-style struct field conventions.
package orchestrator

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore/sqlstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
)

// Phase names, in execution order, spec.md §4.3.
const (
	PhasePassiveRecon  = "PASSIVE_RECON"
	PhaseSafetyNet     = "SAFETY_NET"
	PhaseActiveRecon   = "ACTIVE_RECON"
	PhaseEndpointIntel = "ENDPOINT_INTEL"
	PhaseVerification  = "VERIFICATION"
	PhasePlanning      = "PLANNING"
	PhaseReporting     = "REPORTING"
)

var phaseOrder = []string{
	PhasePassiveRecon, PhaseSafetyNet, PhaseActiveRecon,
	PhaseEndpointIntel, PhaseVerification, PhasePlanning, PhaseReporting,
}

// Mission statuses.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Mission is the durable, resumable mission record, mirroring
// sqlstore.MissionRow with typed fields for the orchestrator's own
// bookkeeping.
type Mission struct {
	ID             string
	TargetDomain   string
	Mode           string
	Status         string
	CurrentPhase   string
	SeedSubdomains []string
	Settings       pipeline.Settings
	Progress       map[string]int
	ErrorCode      string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// cancel is set from Manager.Cancel (a different goroutine than the
	// one driving Run's phase loop), so it is an atomic rather than a
	// plain bool.
	cancel atomic.Bool
}

// NewMission builds a fresh, PENDING mission record.
func NewMission(id, targetDomain string, settings pipeline.Settings, seeds []string) *Mission {
	now := time.Now()
	return &Mission{
		ID:             id,
		TargetDomain:   targetDomain,
		Mode:           settings.Mode,
		Status:         StatusPending,
		CurrentPhase:   "",
		SeedSubdomains: seeds,
		Settings:       settings,
		Progress:       map[string]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Cancel sets the cooperative-cancellation flag. Run checks it only
// between phases; a phase that is already running is not interrupted
// and completes before the mission is marked cancelled.
func (m *Mission) Cancel() { m.cancel.Store(true) }

// Cancelled reports whether Cancel has been called.
func (m *Mission) Cancelled() bool { return m.cancel.Load() }

// toRow converts the in-memory Mission to its durable row shape.
func (m *Mission) toRow() sqlstore.MissionRow {
	seeds, _ := json.Marshal(m.SeedSubdomains)
	options, _ := json.Marshal(m.Settings)
	progress, _ := json.Marshal(m.Progress)
	return sqlstore.MissionRow{
		ID: m.ID, TargetDomain: m.TargetDomain, Mode: m.Mode, Status: m.Status,
		CurrentPhase: m.CurrentPhase, SeedSubdomains: string(seeds), Options: string(options),
		Progress: string(progress), ErrorCode: m.ErrorCode,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fromRow hydrates a Mission from its durable row, used on restart.
func fromRow(row sqlstore.MissionRow) *Mission {
	m := &Mission{
		ID: row.ID, TargetDomain: row.TargetDomain, Mode: row.Mode, Status: row.Status,
		CurrentPhase: row.CurrentPhase, ErrorCode: row.ErrorCode,
		Progress: map[string]int{},
	}
	_ = json.Unmarshal([]byte(row.SeedSubdomains), &m.SeedSubdomains)
	_ = json.Unmarshal([]byte(row.Options), &m.Settings)
	_ = json.Unmarshal([]byte(row.Progress), &m.Progress)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.CreatedAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, row.UpdatedAt)
	return m
}

// nextPhase returns the phase following current, or "" past the end.
func nextPhase(current string) string {
	if current == "" {
		return phaseOrder[0]
	}
	for i, p := range phaseOrder {
		if p == current && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return ""
}
