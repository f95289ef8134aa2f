// Package graphstore implements the typed property graph: idempotent
// node/edge upsert, atomic batch writes, scope filtering, and stats,
// per the mission spine's data model.
package graphstore

import "time"

// NodeType is the closed set of node kinds the graph accepts.
type NodeType string

const (
	NodeDomain        NodeType = "DOMAIN"
	NodeSubdomain      NodeType = "SUBDOMAIN"
	NodeHTTPService    NodeType = "HTTP_SERVICE"
	NodeEndpoint       NodeType = "ENDPOINT"
	NodeParameter      NodeType = "PARAMETER"
	NodeJSFile         NodeType = "JS_FILE"
	NodeSecret         NodeType = "SECRET"
	NodeIPAddress      NodeType = "IP_ADDRESS"
	NodeDNSRecord      NodeType = "DNS_RECORD"
	NodeASN            NodeType = "ASN"
	NodeOrg            NodeType = "ORG"
	NodeHypothesis     NodeType = "HYPOTHESIS"
	NodeVulnerability  NodeType = "VULNERABILITY"
	NodeAttackPath     NodeType = "ATTACK_PATH"
	NodeReport         NodeType = "REPORT"
	NodeAgentRun       NodeType = "AGENT_RUN"
	NodeToolCall       NodeType = "TOOL_CALL"
	NodeLLMReasoning   NodeType = "LLM_REASONING"
)

var validNodeTypes = map[NodeType]bool{
	NodeDomain: true, NodeSubdomain: true, NodeHTTPService: true, NodeEndpoint: true,
	NodeParameter: true, NodeJSFile: true, NodeSecret: true, NodeIPAddress: true,
	NodeDNSRecord: true, NodeASN: true, NodeOrg: true, NodeHypothesis: true,
	NodeVulnerability: true, NodeAttackPath: true, NodeReport: true,
	NodeAgentRun: true, NodeToolCall: true, NodeLLMReasoning: true,
}

// IsValidNodeType reports whether t is in the closed node-type set.
func IsValidNodeType(t NodeType) bool { return validNodeTypes[t] }

// Relation is the closed set of edge relations the graph accepts.
type Relation string

const (
	RelHasSubdomain   Relation = "HAS_SUBDOMAIN"
	RelResolvesTo     Relation = "RESOLVES_TO"
	RelBelongsTo      Relation = "BELONGS_TO"
	RelHasRecord      Relation = "HAS_RECORD"
	RelExposesHTTP    Relation = "EXPOSES_HTTP"
	RelExposesEndpoint Relation = "EXPOSES_ENDPOINT"
	RelLoadsJS        Relation = "LOADS_JS"
	RelContainsSecret Relation = "CONTAINS_SECRET"
	RelLeaksSecret    Relation = "LEAKS_SECRET"
	RelHasParam       Relation = "HAS_PARAM"
	RelHasHypothesis  Relation = "HAS_HYPOTHESIS"
	RelHasVulnerability Relation = "HAS_VULNERABILITY"
	RelTargets        Relation = "TARGETS"
	RelHasReport      Relation = "HAS_REPORT"
	RelTriggers       Relation = "TRIGGERS"
	RelUsesTool       Relation = "USES_TOOL"
	RelProduces       Relation = "PRODUCES"
	RelRefines        Relation = "REFINES"
	RelLinksTo        Relation = "LINKS_TO"
)

var validRelations = map[Relation]bool{
	RelHasSubdomain: true, RelResolvesTo: true, RelBelongsTo: true, RelHasRecord: true,
	RelExposesHTTP: true, RelExposesEndpoint: true, RelLoadsJS: true, RelContainsSecret: true,
	RelLeaksSecret: true, RelHasParam: true, RelHasHypothesis: true, RelHasVulnerability: true,
	RelTargets: true, RelHasReport: true, RelTriggers: true, RelUsesTool: true,
	RelProduces: true, RelRefines: true, RelLinksTo: true,
}

// IsValidRelation reports whether r is in the closed relation set.
func IsValidRelation(r Relation) bool { return validRelations[r] }

// EvidenceItem is a content-addressed snippet attached to a node,
// deduplicated by its Hash (SHA-256 of Detail after redaction).
type EvidenceItem struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
	Hash    string `json:"hash"`
}

// Node is a single vertex in the property graph. Properties holds the
// well-known keys for Type (schemaless at rest, typed at the write
// boundary by validators in pipeline code); Evidence is merged
// separately from Properties so append+dedup semantics apply only to it.
type Node struct {
	ID        string         `json:"id" db:"id"`
	Type      NodeType       `json:"type" db:"type"`
	MissionID string         `json:"mission_id" db:"mission_id"`
	Properties map[string]any `json:"properties"`
	Evidence  []EvidenceItem `json:"evidence,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Edge is a single directed, typed relation between two nodes. ID is
// the deterministic sha1(relation|from|to|mission)[:16].
type Edge struct {
	ID         string         `json:"id" db:"id"`
	Relation   Relation       `json:"relation" db:"relation"`
	From       string         `json:"from_node" db:"from_node"`
	To         string         `json:"to_node" db:"to_node"`
	MissionID  string         `json:"mission_id" db:"mission_id"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// Stats summarizes a mission's graph for orchestrator checkpoints.
type Stats struct {
	TotalNodes int            `json:"total_nodes"`
	TotalEdges int            `json:"total_edges"`
	NodesByType map[NodeType]int `json:"nodes_by_type"`
}

// Snapshot is the full materialized graph state for a mission,
// delivered on fresh SSE subscriptions and on export.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
