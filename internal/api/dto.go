package api

import "github.com/BetterCallFirewall/Hackerecon/internal/graphstore"

// createMissionRequest is spec.md §6.1's
// "POST /missions {target_domain, mode, seed_subdomains?, options?}".
type createMissionRequest struct {
	TargetDomain   string         `json:"target_domain" binding:"required"`
	Mode           string         `json:"mode" binding:"omitempty,oneof=stealth balanced aggressive"`
	SeedSubdomains []string       `json:"seed_subdomains"`
	Options        missionOptions `json:"options"`
}

// missionOptions mirrors pipeline.Settings' tunables, minus
// TargetDomain/Mode (carried at the top level of the request).
type missionOptions struct {
	MaxWorkers             int  `json:"max_workers"`
	RiskThreshold           int  `json:"risk_threshold"`
	MinSubdomainsForActive  int  `json:"min_subdomains_for_active"`
	ActiveVerification      bool `json:"active_verification"`
}

type upsertNodeRequest struct {
	ID         string                 `json:"id" binding:"required"`
	Type       graphstore.NodeType    `json:"type" binding:"required"`
	MissionID  string                 `json:"mission_id" binding:"required"`
	Properties map[string]any         `json:"properties"`
}

type patchNodeRequest struct {
	MissionID  string                     `json:"mission_id" binding:"required"`
	Properties map[string]any             `json:"properties"`
	Evidence   []graphstore.EvidenceItem `json:"evidence"`
}

type queryNodesRequest struct {
	MissionID    string                `json:"mission_id" binding:"required"`
	NodeTypes    []graphstore.NodeType `json:"node_types"`
	RiskScoreMin *int                  `json:"risk_score_min"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// upsertEdgeRequest accepts both naming conventions spec.md §6.1 lists
// for edge endpoints ("from_node|source_id", "to_node|target_id",
// "relation|type"), since the spec explicitly leaves that open.
type upsertEdgeRequest struct {
	FromNode   string                 `json:"from_node"`
	SourceID   string                 `json:"source_id"`
	ToNode     string                 `json:"to_node"`
	TargetID   string                 `json:"target_id"`
	Relation   graphstore.Relation    `json:"relation"`
	Type       graphstore.Relation    `json:"type"`
	MissionID  string                 `json:"mission_id" binding:"required"`
	Properties map[string]any         `json:"properties"`
}

func (r upsertEdgeRequest) from() string {
	if r.FromNode != "" {
		return r.FromNode
	}
	return r.SourceID
}

func (r upsertEdgeRequest) to() string {
	if r.ToNode != "" {
		return r.ToNode
	}
	return r.TargetID
}

func (r upsertEdgeRequest) relation() graphstore.Relation {
	if r.Relation != "" {
		return r.Relation
	}
	return r.Type
}

type batchUpsertRequest struct {
	MissionID string              `json:"mission_id" binding:"required"`
	Nodes     []graphstore.Node   `json:"nodes"`
	Edges     []graphstore.Edge   `json:"edges"`
}

type missionResponse struct {
	ID             string         `json:"id"`
	TargetDomain   string         `json:"target_domain"`
	Mode           string         `json:"mode"`
	Status         string         `json:"status"`
	CurrentPhase   string         `json:"current_phase"`
	SeedSubdomains []string       `json:"seed_subdomains"`
	Progress       map[string]int `json:"progress"`
	ErrorCode      string         `json:"error_code,omitempty"`
}
