package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Envelope, n int) []Envelope {
	t.Helper()
	out := make([]Envelope, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d/%d", i+1, n)
		}
	}
	return out
}

func TestRingReplayOrderAfterLastEventID(t *testing.T) {
	b := New(nil, 1000, 5000, 15*time.Second)
	subA, _ := b.Subscribe("m1", 0)

	for i := 0; i < 5; i++ {
		b.Publish(New(TopicGraphEvents, EventNodeAdded, "m1", "", "test", map[string]any{"i": i}))
	}
	events := drain(t, subA.Events, 5)
	require.Len(t, events, 5)
	lastSeenByA := events[2].SSEID // A "disconnects" after the 3rd event

	subB, backlog := b.Subscribe("m1", lastSeenByA)
	require.Len(t, backlog, 2)
	assert.Equal(t, events[3].EventID, backlog[0].EventID)
	assert.Equal(t, events[4].EventID, backlog[1].EventID)
	subB.Close()
	subA.Close()
}

func TestSubscriberDedupDropsRetries(t *testing.T) {
	b := New(nil, 1000, 5000, 15*time.Second)
	sub, _ := b.Subscribe("m1", 0)

	env := New(TopicGraphEvents, EventNodeAdded, "m1", "", "test", map[string]any{"a": 1})
	b.Publish(env)
	b.Publish(env) // retry with identical event_id

	got := drain(t, sub.Events, 1)
	assert.Len(t, got, 1)

	select {
	case <-sub.Events:
		t.Fatal("expected no second delivery of duplicate event_id")
	case <-time.After(50 * time.Millisecond):
	}
	sub.Close()
}

func TestSafePayloadDowngradesUnserializable(t *testing.T) {
	ch := make(chan int)
	raw := SafePayload(ch)
	assert.Contains(t, string(raw), "unserializable")
}
