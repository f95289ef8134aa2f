package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	recerrors "github.com/BetterCallFirewall/Hackerecon/internal/errors"
)

// Manager tracks in-flight missions and drives each one's Run on its
// own goroutine, giving the HTTP layer (internal/api) a synchronous
// handle onto an otherwise long-running, async process: start, list,
// fetch, cancel, delete (spec.md §6.1 "Mission control").
type Manager struct {
	o *Orchestrator

	mu     sync.RWMutex
	active map[string]*Mission
}

func NewManager(o *Orchestrator) *Manager {
	return &Manager{o: o, active: make(map[string]*Mission)}
}

// Start registers m and runs it to completion on a background
// goroutine, detached from the request that created it.
func (mgr *Manager) Start(m *Mission) {
	mgr.mu.Lock()
	mgr.active[m.ID] = m
	mgr.mu.Unlock()

	go func() {
		if err := mgr.o.Run(context.Background(), m); err != nil {
			mgr.o.Log.Warn("mission run exited with error", zap.String("mission_id", m.ID), zap.Error(err))
		}
	}()
}

// Get returns the mission record, preferring the live in-memory copy
// (which reflects progress updates more immediately than the durable
// row) and falling back to the durable store for missions not
// currently loaded in memory.
func (mgr *Manager) Get(ctx context.Context, id string) (*Mission, bool) {
	mgr.mu.RLock()
	m, ok := mgr.active[id]
	mgr.mu.RUnlock()
	if ok {
		return m, true
	}
	if mgr.o.Durable == nil {
		return nil, false
	}
	row, err := mgr.o.Durable.LoadMission(ctx, id)
	if err != nil {
		return nil, false
	}
	return fromRow(row), true
}

// List enumerates known missions: live ones first, then any durable
// record not currently active, limit/offset applied after merge.
func (mgr *Manager) List(ctx context.Context, limit, offset int) ([]*Mission, error) {
	mgr.mu.RLock()
	seen := make(map[string]bool, len(mgr.active))
	out := make([]*Mission, 0, len(mgr.active))
	for _, m := range mgr.active {
		out = append(out, m)
		seen[m.ID] = true
	}
	mgr.mu.RUnlock()

	if mgr.o.Durable != nil {
		rows, err := mgr.o.Durable.ListMissions(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if seen[row.ID] {
				continue
			}
			out = append(out, fromRow(row))
		}
	}

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Cancel flags the mission for cooperative cancellation, observed at
// the orchestrator's next phase boundary (spec.md §4.3 "Cancellation").
func (mgr *Manager) Cancel(id string) bool {
	mgr.mu.RLock()
	m, ok := mgr.active[id]
	mgr.mu.RUnlock()
	if !ok {
		return false
	}
	m.Cancel()
	return true
}

// Delete cascades a mission's graph and durable record, per spec.md
// §6.1 "DELETE /missions/{id} -> cascade deletion".
func (mgr *Manager) Delete(ctx context.Context, id string) error {
	mgr.mu.Lock()
	delete(mgr.active, id)
	mgr.mu.Unlock()

	if _, _, err := mgr.o.Store.DeleteMission(ctx, id); err != nil {
		return recerrors.Data(recerrors.EDataNotFound, "api", "failed to delete mission graph", err)
	}
	if mgr.o.Durable != nil {
		if _, _, err := mgr.o.Durable.DeleteMission(ctx, id); err != nil {
			return recerrors.Data(recerrors.EDataNotFound, "api", "failed to delete durable mission record", err)
		}
	}
	return nil
}

// ResumeInto loads every mission ResumeAll returned into the active
// set so Get/List see them immediately after a restart, without
// re-running them (ResumeAll already marked interrupted runs FAILED).
func (mgr *Manager) ResumeInto(missions []*Mission) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, m := range missions {
		mgr.active[m.ID] = m
	}
}
