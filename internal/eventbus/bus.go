package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/Hackerecon/internal/graphstore"
)

const subscriberQueueSize = 256

// subscriber is one live SSE connection's delivery channel, generalized
// from the teacher's internal/websocket/hub.go single-client
// register/unregister/broadcast idiom to per-mission, many-subscriber
// fan-out with a bounded queue per subscriber.
type subscriber struct {
	id       uint64
	missionID string
	ch       chan Envelope
	dedup    *lru
}

// Bus is the process-wide singleton pub/sub for both logical topics,
// multiplexed per mission id (spec.md §4.1). It is injected into
// components that need to publish or subscribe, never reached via a
// global (spec.md §9 "Singleton event producer with global state").
type Bus struct {
	log *zap.Logger

	mu          sync.RWMutex
	rings       map[string]*ring         // mission -> ring buffer
	subscribers map[string][]*subscriber // mission -> live subscribers
	nextSubID   uint64

	ringSize   int
	dedupSize  int
	keepalive  time.Duration
}

// New constructs a Bus. ringSize/dedupSize default to spec.md's
// N=1000 / >=5000 when zero.
func New(log *zap.Logger, ringSize, dedupSize int, keepalive time.Duration) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Bus{
		log:         log,
		rings:       make(map[string]*ring),
		subscribers: make(map[string][]*subscriber),
		ringSize:    ringSize,
		dedupSize:   dedupSize,
		keepalive:   keepalive,
	}
}

func (b *Bus) ringFor(mission string) *ring {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[mission]
	if !ok {
		r = newRing(b.ringSize)
		b.rings[mission] = r
	}
	return r
}

// Publish buffers env in its mission's ring, assigns it an SSE id, and
// fans it out to every live subscriber for that mission. Fan-out is
// best-effort and never blocks the publisher: a subscriber whose queue
// is full does not get the event at all (a warning is logged, there is
// no wait and no keepalive is sent); it can only recover the event
// through ring replay on reconnect. Bus unavailability never fails the caller — publish
// never returns an error (spec.md §4.1 "Failure semantics": the Graph
// Store remains authoritative).
func (b *Bus) Publish(env Envelope) {
	r := b.ringFor(env.MissionID)
	buffered := r.push(env)

	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[env.MissionID]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.dedup.seen(buffered.EventID) {
			continue
		}
		select {
		case sub.ch <- buffered:
		default:
			b.log.Warn("subscriber queue full, dropping event, relying on replay", zap.String("mission_id", env.MissionID))
		}
	}
}

// Subscription is returned by Subscribe; callers range over Events and
// must call Close when done.
type Subscription struct {
	Events <-chan Envelope
	bus    *Bus
	sub    *subscriber
}

func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	list := s.bus.subscribers[s.sub.missionID]
	for i, sub := range list {
		if sub.id == s.sub.id {
			s.bus.subscribers[s.sub.missionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	close(s.sub.ch)
}

// Subscribe registers a live subscriber for missionID and replays
// buffered events strictly after lastEventID (0 meaning "no prior
// state": the caller is expected to additionally request a snapshot,
// per spec.md §4.1 "A subscriber connecting without a last id first
// receives a full graph snapshot").
func (b *Bus) Subscribe(missionID string, lastEventID uint64) (*Subscription, []Envelope) {
	r := b.ringFor(missionID)
	backlog := r.since(lastEventID)

	b.mu.Lock()
	b.nextSubID++
	sub := &subscriber{
		id:        b.nextSubID,
		missionID: missionID,
		ch:        make(chan Envelope, subscriberQueueSize),
		dedup:     newLRU(b.dedupSize),
	}
	for _, e := range backlog {
		sub.dedup.seen(e.EventID)
	}
	b.subscribers[missionID] = append(b.subscribers[missionID], sub)
	b.mu.Unlock()

	return &Subscription{Events: sub.ch, bus: b, sub: sub}, backlog
}

// KeepaliveEvery exposes the configured keepalive interval for the SSE
// handler's ticker.
func (b *Bus) KeepaliveEvery() time.Duration { return b.keepalive }

// --- graphstore.Emitter implementation ---

func payload(v any) json.RawMessage { return SafePayload(v) }

func (b *Bus) EmitNodeAdded(missionID string, n graphstore.Node) {
	b.Publish(New(TopicGraphEvents, EventNodeAdded, missionID, "", "graphstore", n))
}

func (b *Bus) EmitNodeUpdated(missionID string, n graphstore.Node) {
	b.Publish(New(TopicGraphEvents, EventNodeUpdated, missionID, "", "graphstore", n))
}

func (b *Bus) EmitEdgeAdded(missionID string, e graphstore.Edge) {
	b.Publish(New(TopicGraphEvents, EventEdgeAdded, missionID, "", "graphstore", e))
}

func (b *Bus) EmitNodesBatch(missionID string, nodes []graphstore.Node, edges []graphstore.Edge) {
	b.Publish(New(TopicGraphEvents, EventNodesBatch, missionID, "", "graphstore", map[string]any{
		"nodes": nodes, "edges": edges,
	}))
}

// EmitLog publishes a LOG event on the logs.recon topic.
func (b *Bus) EmitLog(missionID, phase, level, message string) {
	b.Publish(New(TopicLogsRecon, EventLog, missionID, phase, "orchestrator", map[string]any{
		"level": level, "message": message,
	}))
}

// EmitError publishes an ERROR event carrying an error code and stage.
func (b *Bus) EmitError(missionID, phase, code, stage, message string) {
	b.Publish(New(TopicLogsRecon, EventError, missionID, phase, "orchestrator", map[string]any{
		"error_code": code, "stage": stage, "message": message,
	}))
}

// EmitMissionStatus publishes a MISSION_STATUS event.
func (b *Bus) EmitMissionStatus(missionID, status, phase, errorCode, stage string) {
	p := map[string]any{"status": status}
	if errorCode != "" {
		p["error_code"] = errorCode
		p["stage"] = stage
	}
	b.Publish(New(TopicLogsRecon, EventMissionStatus, missionID, phase, "orchestrator", p))
}

// EmitPhase publishes PHASE_STARTED/PHASE_COMPLETED events.
func (b *Bus) EmitPhase(missionID, phase string, completed bool, counts map[string]any) {
	t := EventPhaseStarted
	if completed {
		t = EventPhaseCompleted
	}
	b.Publish(New(TopicLogsRecon, t, missionID, phase, "orchestrator", counts))
}
