package graphstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	recerrors "github.com/BetterCallFirewall/Hackerecon/internal/errors"
)

// Durable is the persistence boundary the in-memory Store writes
// through before updating its cache, per spec.md §4.2's ordering
// invariant (durable ≤ cache ≤ emit). sqlstore.Store implements this.
type Durable interface {
	UpsertNode(ctx context.Context, n Node) error
	UpsertEdge(ctx context.Context, e Edge) error
	BatchUpsert(ctx context.Context, nodes []Node, edges []Edge) error
	DeleteMission(ctx context.Context, missionID string) (int, int, error)
}

// Emitter publishes graph-change events. Implemented by
// internal/eventbus.Bus; kept as a narrow interface here so
// graphstore never imports eventbus (avoids a cycle and matches
// spec.md §9's "inject a Bus handle" guidance over global state).
type Emitter interface {
	EmitNodeAdded(missionID string, n Node)
	EmitNodeUpdated(missionID string, n Node)
	EmitEdgeAdded(missionID string, e Edge)
	EmitNodesBatch(missionID string, nodes []Node, edges []Edge)
}

type nullEmitter struct{}

func (nullEmitter) EmitNodeAdded(string, Node)                     {}
func (nullEmitter) EmitNodeUpdated(string, Node)                   {}
func (nullEmitter) EmitEdgeAdded(string, Edge)                     {}
func (nullEmitter) EmitNodesBatch(string, []Node, []Edge)          {}

// Store is the concurrent-safe authoritative graph cache. Grounded on
// the teacher's internal/storage/memory_storage.go RWMutex-guarded map
// pattern, generalized to two collections (nodes, edges) and per-key
// striped locks so unrelated mission/id pairs never contend.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]Node // key: missionID + "\x00" + nodeID
	edges map[string]Edge // key: missionID + "\x00" + edgeID

	keyLocks sync.Map // key -> *sync.Mutex, per (mission, node/edge id)

	durable Durable
	emit    Emitter
}

// New constructs a Store. durable may be nil for tests that only need
// cache semantics; emit may be nil to run without an event bus.
func New(durable Durable, emit Emitter) *Store {
	if emit == nil {
		emit = nullEmitter{}
	}
	return &Store{
		nodes:   make(map[string]Node),
		edges:   make(map[string]Edge),
		durable: durable,
		emit:    emit,
	}
}

func nodeKey(mission, id string) string { return mission + "\x00" + id }
func edgeKey(mission, id string) string { return mission + "\x00" + id }

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// UpsertNode validates type/scope, merges properties+evidence, writes
// through the durable backend, then updates the cache and emits.
func (s *Store) UpsertNode(ctx context.Context, n Node, targetDomain string) (Node, error) {
	if !IsValidNodeType(n.Type) {
		return Node{}, recerrors.Data(recerrors.EDataValidation, "graph", fmt.Sprintf("unknown node type %q", n.Type), nil)
	}
	if scopedNodeTypes[n.Type] && !exportAllowed(n, targetDomain) {
		return Node{}, recerrors.Data(recerrors.EDataValidation, "graph", fmt.Sprintf("node %q out of scope for %q", n.ID, targetDomain), nil)
	}

	key := nodeKey(n.MissionID, n.ID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing, had := s.nodes[key]
	s.mu.RUnlock()

	merged := mergeNode(existing, n, had)

	if s.durable != nil {
		if err := s.durable.UpsertNode(ctx, merged); err != nil {
			return Node{}, recerrors.Data(recerrors.EDataParse, "graph", "durable node write failed", err)
		}
	}

	s.mu.Lock()
	s.nodes[key] = merged
	s.mu.Unlock()

	if had {
		s.emit.EmitNodeUpdated(n.MissionID, merged)
	} else {
		s.emit.EmitNodeAdded(n.MissionID, merged)
	}
	return merged, nil
}

func mergeNode(existing, incoming Node, had bool) Node {
	if !had {
		if incoming.Properties == nil {
			incoming.Properties = map[string]any{}
		}
		return incoming
	}
	merged := existing
	if merged.Properties == nil {
		merged.Properties = map[string]any{}
	}
	for k, v := range incoming.Properties {
		merged.Properties[k] = v
	}
	merged.Evidence = MergeEvidence(merged.Evidence, incoming.Evidence)
	merged.UpdatedAt = incoming.UpdatedAt
	return merged
}

// PatchNode applies a partial property update to an existing node.
func (s *Store) PatchNode(ctx context.Context, missionID, id string, props map[string]any, evidence []EvidenceItem) (Node, error) {
	key := nodeKey(missionID, id)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existing, had := s.nodes[key]
	s.mu.RUnlock()
	if !had {
		return Node{}, recerrors.Data(recerrors.EDataNotFound, "graph", fmt.Sprintf("node %q not found", id), nil)
	}

	patch := existing
	if patch.Properties == nil {
		patch.Properties = map[string]any{}
	}
	for k, v := range props {
		patch.Properties[k] = v
	}
	patch.Evidence = MergeEvidence(patch.Evidence, evidence)

	if s.durable != nil {
		if err := s.durable.UpsertNode(ctx, patch); err != nil {
			return Node{}, recerrors.Data(recerrors.EDataParse, "graph", "durable patch write failed", err)
		}
	}

	s.mu.Lock()
	s.nodes[key] = patch
	s.mu.Unlock()
	s.emit.EmitNodeUpdated(missionID, patch)
	return patch, nil
}

// UpsertEdge inserts the edge if its deterministic id is new;
// otherwise it is a no-op (insert-or-ignore, spec.md §4.2).
func (s *Store) UpsertEdge(ctx context.Context, e Edge) (Edge, bool, error) {
	if !IsValidRelation(e.Relation) {
		return Edge{}, false, recerrors.Data(recerrors.EDataValidation, "graph", fmt.Sprintf("unknown relation %q", e.Relation), nil)
	}
	e.ID = EdgeID(e.Relation, e.From, e.To, e.MissionID)

	key := edgeKey(e.MissionID, e.ID)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, had := s.edges[key]
	s.mu.RUnlock()
	if had {
		return e, false, nil
	}

	if s.durable != nil {
		if err := s.durable.UpsertEdge(ctx, e); err != nil {
			return Edge{}, false, recerrors.Data(recerrors.EDataParse, "graph", "durable edge write failed", err)
		}
	}

	s.mu.Lock()
	s.edges[key] = e
	s.mu.Unlock()
	s.emit.EmitEdgeAdded(e.MissionID, e)
	return e, true, nil
}

// BatchUpsert performs a single atomic write for many nodes/edges
// produced by one tool result, per spec.md §4.2 "Atomic batch": the
// durable write commits entirely or not at all, the cache is only
// updated after commit, and exactly one NODES_BATCH/EDGES_BATCH event
// is emitted for the whole call (resolving spec.md §9's open question
// about duplicate EDGES_BATCH/EDGE_ADDED emission).
func (s *Store) BatchUpsert(ctx context.Context, nodes []Node, edges []Edge, targetDomain string) (int, int, error) {
	for _, n := range nodes {
		if !IsValidNodeType(n.Type) {
			return 0, 0, recerrors.Data(recerrors.EDataValidation, "graph", fmt.Sprintf("unknown node type %q in batch", n.Type), nil)
		}
	}
	for i := range edges {
		if !IsValidRelation(edges[i].Relation) {
			return 0, 0, recerrors.Data(recerrors.EDataValidation, "graph", fmt.Sprintf("unknown relation %q in batch", edges[i].Relation), nil)
		}
		edges[i].ID = EdgeID(edges[i].Relation, edges[i].From, edges[i].To, edges[i].MissionID)
	}

	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if scopedNodeTypes[n.Type] && !exportAllowed(n, targetDomain) {
			continue // dropped silently at ingestion, per scope invariant
		}
		kept = append(kept, n)
	}

	if s.durable != nil {
		if err := s.durable.BatchUpsert(ctx, kept, edges); err != nil {
			return 0, 0, recerrors.Data(recerrors.EDataParse, "graph", "durable batch write failed", err)
		}
	}

	s.mu.Lock()
	nodeCount, edgeCount := 0, 0
	mergedNodes := make([]Node, 0, len(kept))
	for _, n := range kept {
		key := nodeKey(n.MissionID, n.ID)
		existing, had := s.nodes[key]
		merged := mergeNode(existing, n, had)
		s.nodes[key] = merged
		mergedNodes = append(mergedNodes, merged)
		nodeCount++
	}
	addedEdges := make([]Edge, 0, len(edges))
	for _, e := range edges {
		key := edgeKey(e.MissionID, e.ID)
		if _, had := s.edges[key]; had {
			continue
		}
		s.edges[key] = e
		addedEdges = append(addedEdges, e)
		edgeCount++
	}
	s.mu.Unlock()

	if nodeCount > 0 || edgeCount > 0 {
		mission := ""
		if len(kept) > 0 {
			mission = kept[0].MissionID
		} else if len(edges) > 0 {
			mission = edges[0].MissionID
		}
		s.emit.EmitNodesBatch(mission, mergedNodes, addedEdges)
	}
	return nodeCount, edgeCount, nil
}

// QueryNodes filters a mission's nodes by type/risk and paginates.
func (s *Store) QueryNodes(missionID string, types []NodeType, riskMin *int, limit, offset int) ([]Node, int) {
	typeSet := map[NodeType]bool{}
	for _, t := range types {
		typeSet[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Node
	for k, n := range s.nodes {
		if !hasMissionPrefix(k, missionID) {
			continue
		}
		if len(typeSet) > 0 && !typeSet[n.Type] {
			continue
		}
		if riskMin != nil {
			rs, _ := n.Properties["risk_score"].(int)
			if rs < *riskMin {
				continue
			}
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []Node{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total
}

func hasMissionPrefix(key, mission string) bool {
	prefix := mission + "\x00"
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

// GetEdges returns all edges for a mission.
func (s *Store) GetEdges(missionID string) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for k, e := range s.edges {
		if hasMissionPrefix(k, missionID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats reports per-type node counts, used by the Orchestrator's
// checkpoint policy.
func (s *Store) Stats(missionID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{NodesByType: map[NodeType]int{}}
	for k, n := range s.nodes {
		if !hasMissionPrefix(k, missionID) {
			continue
		}
		st.TotalNodes++
		st.NodesByType[n.Type]++
	}
	for k := range s.edges {
		if hasMissionPrefix(k, missionID) {
			st.TotalEdges++
		}
	}
	return st
}

// ExportSnapshot returns the scope-filtered {nodes, edges} for a
// mission, dropping dangling edges whose endpoint was filtered out.
func (s *Store) ExportSnapshot(missionID, targetDomain string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kept := map[string]bool{}
	var nodes []Node
	for k, n := range s.nodes {
		if !hasMissionPrefix(k, missionID) {
			continue
		}
		if !exportAllowed(n, targetDomain) {
			continue
		}
		kept[n.ID] = true
		nodes = append(nodes, n)
	}
	var edges []Edge
	for k, e := range s.edges {
		if !hasMissionPrefix(k, missionID) {
			continue
		}
		if !kept[e.From] || !kept[e.To] {
			continue
		}
		edges = append(edges, e)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return Snapshot{Nodes: nodes, Edges: edges}
}

// DeleteMission removes all of a mission's nodes/edges from the cache
// and the durable backend, returning counts deleted.
func (s *Store) DeleteMission(ctx context.Context, missionID string) (int, int, error) {
	if s.durable != nil {
		if _, _, err := s.durable.DeleteMission(ctx, missionID); err != nil {
			return 0, 0, recerrors.Internal(recerrors.EInternalGeneric, "graph", "durable mission delete failed", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nodeCount, edgeCount := 0, 0
	for k := range s.nodes {
		if hasMissionPrefix(k, missionID) {
			delete(s.nodes, k)
			nodeCount++
		}
	}
	for k := range s.edges {
		if hasMissionPrefix(k, missionID) {
			delete(s.edges, k)
			edgeCount++
		}
	}
	return nodeCount, edgeCount, nil
}
