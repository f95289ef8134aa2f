// Package eventbus implements the v2 event envelope, per-mission
// ring-buffered pub/sub with reconnect replay, and per-subscriber
// deduplication, grounded on
// original_source/services/recon-orchestrator/core/events.py.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the only envelope schema this bus understands.
// Consumers MUST skip envelopes with any other value (spec.md §3 inv6).
const SchemaVersion = "v2"

// EventType is the closed set of event_type values, spec.md §6.3.
type EventType string

const (
	EventNodeAdded         EventType = "NODE_ADDED"
	EventNodeUpdated       EventType = "NODE_UPDATED"
	EventNodeDeleted       EventType = "NODE_DELETED"
	EventEdgeAdded         EventType = "EDGE_ADDED"
	EventEdgeDeleted       EventType = "EDGE_DELETED"
	EventNodesBatch        EventType = "NODES_BATCH"
	EventAttackPathAdded   EventType = "ATTACK_PATH_ADDED"
	EventSnapshot          EventType = "SNAPSHOT"
	EventLog               EventType = "LOG"
	EventMissionStatus     EventType = "MISSION_STATUS"
	EventPhaseStarted      EventType = "PHASE_STARTED"
	EventPhaseCompleted    EventType = "PHASE_COMPLETED"
	EventAgentStarted      EventType = "AGENT_STARTED"
	EventAgentFinished     EventType = "AGENT_FINISHED"
	EventToolCalled        EventType = "TOOL_CALLED"
	EventToolFinished      EventType = "TOOL_FINISHED"
	EventLLMCall           EventType = "LLM_CALL"
	EventVulnStatusChanged EventType = "VULN_STATUS_CHANGED"
	EventEvidenceAdded     EventType = "EVIDENCE_ADDED"
	EventError             EventType = "ERROR"
)

// Topic is one of the two logical streams. Both are multiplexed over
// this bus's single per-mission transport, partitioned by mission id
// (spec.md §4.1 "Topics").
type Topic string

const (
	TopicGraphEvents Topic = "graph.events"
	TopicLogsRecon   Topic = "logs.recon"
)

// Envelope is the versioned wrapper every published event carries.
type Envelope struct {
	SchemaVersion string          `json:"schema_version"`
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Topic         Topic           `json:"-"`
	TS            time.Time       `json:"ts"`
	MissionID     string          `json:"mission_id"`
	Phase         string          `json:"phase,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	SpanID        string          `json:"span_id,omitempty"`
	TaskID        string          `json:"task_id,omitempty"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	Producer      string          `json:"producer"`
	Payload       json.RawMessage `json:"payload"`

	// SSEID is assigned by the ring buffer on publish and used as the
	// SSE "id:" line for Last-Event-ID replay. Zero until buffered.
	SSEID uint64 `json:"-"`
}

// New builds an envelope with a fresh event_id and ts, serializing
// payload through SafePayload.
func New(topic Topic, eventType EventType, missionID, phase, producer string, payload any) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Topic:         topic,
		TS:            time.Now().UTC(),
		MissionID:     missionID,
		Phase:         phase,
		Producer:      producer,
		Payload:       SafePayload(payload),
	}
}

// SafePayload marshals v into JSON, downgrading anything that cannot
// be serialized into a {"error": "[unserializable:<type>]"} sentinel
// rather than failing the publish. Grounded on events.py's
// make_json_safe: bytes are not expected in Go payloads (callers pass
// strings). Cyclic values are reported by json.Marshal as an error and
// get the sentinel; a panic raised while marshaling (for example from a
// MarshalJSON method) is recovered and also yields the sentinel.
func SafePayload(v any) (out json.RawMessage) {
	sentinel := func() json.RawMessage {
		b, _ := json.Marshal(map[string]string{"error": "[unserializable:" + typeName(v) + "]"})
		return b
	}
	defer func() {
		if recover() != nil {
			out = sentinel()
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return sentinel()
	}
	return b
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
