package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	recerrors "github.com/BetterCallFirewall/Hackerecon/internal/errors"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore/sqlstore"
	"github.com/BetterCallFirewall/Hackerecon/internal/pipeline"
	"github.com/BetterCallFirewall/Hackerecon/internal/reflection"
	"github.com/BetterCallFirewall/Hackerecon/internal/tools"
)

// Timeouts are the per-phase soft timeout table, spec.md §4.3
// "Timeouts" (default 600s for active/verification, 120s for passive,
// 300s for everything else).
type Timeouts struct {
	Passive time.Duration
	Active  time.Duration
	Verify  time.Duration
	Default time.Duration
}

func (t Timeouts) forPhase(phase string) time.Duration {
	switch phase {
	case PhasePassiveRecon:
		return orDefault(t.Passive, 120*time.Second)
	case PhaseActiveRecon:
		return orDefault(t.Active, 600*time.Second)
	case PhaseVerification:
		return orDefault(t.Verify, 600*time.Second)
	default:
		return orDefault(t.Default, 300*time.Second)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Orchestrator drives missions through the phase sequence
// PASSIVE_RECON -> SAFETY_NET -> ACTIVE_RECON -> ENDPOINT_INTEL ->
// VERIFICATION -> PLANNING -> REPORTING, spec.md §4.3.
type Orchestrator struct {
	Store     *graphstore.Store
	Durable   *sqlstore.Store
	Bus       *eventbus.Bus
	Tools     *tools.Registry
	Reflector *reflection.Loop
	Timeouts  Timeouts
	Log       *zap.Logger
}

// New constructs an Orchestrator from its collaborators.
func New(store *graphstore.Store, durable *sqlstore.Store, bus *eventbus.Bus, reg *tools.Registry, reflector *reflection.Loop, timeouts Timeouts, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{Store: store, Durable: durable, Bus: bus, Tools: reg, Reflector: reflector, Timeouts: timeouts, Log: log}
}

// phaseFunc is the function signature every P1/P3/P4/P5/P6 algorithm
// implements; SAFETY_NET and ACTIVE_RECON are handled specially below
// (the former is orchestrator-internal, the latter is skipped when the
// mission has no SUBDOMAIN node).
type phaseFunc func(ctx context.Context, mc pipeline.MissionContext) (pipeline.PhaseResult, error)

func (o *Orchestrator) phaseFuncs() map[string]phaseFunc {
	return map[string]phaseFunc{
		PhasePassiveRecon:  pipeline.PassiveRecon,
		PhaseActiveRecon:   pipeline.ActiveRecon,
		PhaseEndpointIntel: pipeline.EndpointIntel,
		PhaseVerification:  pipeline.Verification,
		PhasePlanning:      pipeline.Planning,
		PhaseReporting:     pipeline.Reporting,
	}
}

// Run drives m through every phase from its CurrentPhase (or the
// start, for a fresh mission) to REPORTING, persisting the durable
// record at every boundary and honoring cancellation. Suspension
// points are tool invocations, graph writes, and bus publishes inside
// each phase; Run itself suspends between phases (spec.md §5.7
// "Suspension points").
func (o *Orchestrator) Run(ctx context.Context, m *Mission) error {
	m.Status = StatusRunning
	o.persist(ctx, m)
	o.Bus.EmitMissionStatus(m.ID, StatusRunning, m.CurrentPhase, "", "")
	pipeline.RegisterMissionDomain(m.ID, m.Settings.TargetDomain)

	mc := pipeline.MissionContext{
		MissionID: m.ID,
		Settings:  m.Settings,
		Store:     o.Store,
		Bus:       o.Bus,
		Tools:     o.Tools,
		Reflector: o.Reflector,
		Log:       o.Log,
	}

	phase := nextPhase(m.CurrentPhase)
	for phase != "" {
		if m.Cancelled() {
			m.Status = StatusCancelled
			o.persist(ctx, m)
			o.Bus.EmitMissionStatus(m.ID, StatusCancelled, m.CurrentPhase, "", "")
			return nil
		}

		if err := o.runPhase(ctx, m, mc, phase); err != nil {
			var re *recerrors.ReconError
			if recerrors.As(err, &re) && !re.Recoverable {
				m.Status = StatusFailed
				m.ErrorCode = re.Code
				o.persist(ctx, m)
				o.Bus.EmitMissionStatus(m.ID, StatusFailed, phase, re.Code, re.Stage)
				return err
			}
			// recoverable: log and proceed to the next phase anyway
			o.Log.Warn("phase failed, continuing", zap.String("phase", phase), zap.Error(err))
		}

		o.runCheckpoint(m, phase)

		m.CurrentPhase = phase
		o.persist(ctx, m)
		phase = nextPhase(phase)
	}

	m.Status = StatusCompleted
	o.persist(ctx, m)
	o.Bus.EmitMissionStatus(m.ID, StatusCompleted, m.CurrentPhase, "", "")
	return nil
}

// runPhase executes one phase under its soft timeout, special-casing
// SAFETY_NET (orchestrator-internal, runs only when the gate check
// finds zero subdomains) and ACTIVE_RECON (skipped with a WARNING log
// when the mission has no SUBDOMAIN node).
func (o *Orchestrator) runPhase(ctx context.Context, m *Mission, mc pipeline.MissionContext, phase string) error {
	timeout := o.Timeouts.forPhase(phase)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result pipeline.PhaseResult
	var err error

	switch phase {
	case PhaseSafetyNet:
		stats := o.Store.Stats(m.ID)
		check := gateCheck(stats, m.Settings.MinSubdomainsForActive)
		if !check.Passed && check.SubdomainsCount == 0 {
			result, err = safetyNet(pctx, mc)
		}
	case PhaseActiveRecon:
		stats := o.Store.Stats(m.ID)
		if stats.NodesByType[graphstore.NodeSubdomain] == 0 {
			o.Bus.EmitLog(m.ID, phase, "WARNING", "skipping active recon: no subdomains in scope")
			return nil
		}
		result, err = pipeline.ActiveRecon(pctx, mc)
	default:
		fn, ok := o.phaseFuncs()[phase]
		if !ok {
			return nil
		}
		result, err = fn(pctx, mc)
	}

	if pctx.Err() == context.DeadlineExceeded {
		timeoutErr := recerrors.Tool(recerrors.EToolTimeout, phase, "phase exceeded soft timeout", pctx.Err())
		o.Bus.EmitError(m.ID, phase, timeoutErr.Code, phase, timeoutErr.Error())
		return timeoutErr
	}
	if err != nil {
		var re *recerrors.ReconError
		if !recerrors.As(err, &re) {
			err = recerrors.Internal(recerrors.EInternalGeneric, phase, "phase returned an untyped error", err)
			recerrors.As(err, &re)
		}
		o.Bus.EmitError(m.ID, phase, re.Code, re.Stage, re.Error())
		return err
	}
	for _, e := range result.Errors {
		o.Bus.EmitLog(m.ID, phase, "WARNING", e)
	}
	m.Progress[phase] = len(result.Counts)
	return nil
}

// runCheckpoint evaluates the post-phase graph-stats checkpoint,
// spec.md §4.3 "Checkpoint policy": failing it emits a WARNING and
// never aborts the mission.
func (o *Orchestrator) runCheckpoint(m *Mission, phase string) {
	stats := o.Store.Stats(m.ID)
	switch phase {
	case PhasePassiveRecon:
		if stats.NodesByType[graphstore.NodeSubdomain] == 0 {
			o.Bus.EmitLog(m.ID, phase, "WARNING", "checkpoint failed: no SUBDOMAIN nodes after PASSIVE_RECON")
		}
	case PhaseActiveRecon:
		if stats.NodesByType[graphstore.NodeHTTPService] == 0 {
			o.Bus.EmitLog(m.ID, phase, "WARNING", "checkpoint failed: no HTTP_SERVICE nodes after ACTIVE_RECON")
		}
	case PhaseReporting:
		if stats.NodesByType[graphstore.NodeReport] == 0 {
			o.Bus.EmitLog(m.ID, phase, "WARNING", "checkpoint failed: no REPORT nodes after REPORTING")
		}
	}
}

func (o *Orchestrator) persist(ctx context.Context, m *Mission) {
	m.UpdatedAt = time.Now()
	if o.Durable == nil {
		return
	}
	if err := o.Durable.SaveMission(ctx, m.toRow()); err != nil {
		o.Log.Warn("failed to persist mission record", zap.String("mission_id", m.ID), zap.Error(err))
	}
}

// ResumeAll enumerates durable mission records on startup. Missions
// left RUNNING by an unclean shutdown are marked FAILED rather than
// silently resumed mid-phase (spec.md §4.3 "implementation may choose
// to mark running missions as failed on startup").
func (o *Orchestrator) ResumeAll(ctx context.Context) ([]*Mission, error) {
	if o.Durable == nil {
		return nil, nil
	}
	rows, err := o.Durable.ListMissions(ctx)
	if err != nil {
		return nil, err
	}
	var missions []*Mission
	for _, row := range rows {
		m := fromRow(row)
		if m.Status == StatusRunning {
			m.Status = StatusFailed
			m.ErrorCode = recerrors.EInternalGeneric
			o.persist(ctx, m)
		}
		missions = append(missions, m)
	}
	return missions, nil
}
