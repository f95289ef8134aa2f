package eventbus

import "sync"

// ring is a per-mission bounded FIFO of the last N published
// envelopes, each assigned a monotonically increasing SSE id, used to
// serve Last-Event-ID replay on reconnect (spec.md §4.1 "Ring buffer
// & replay"). No analog exists in the Python source (which leaned on
// Kafka's own offsets); this is a direct, spec-grounded implementation.
type ring struct {
	mu      sync.Mutex
	size    int
	buf     []Envelope
	nextID  uint64
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1000
	}
	return &ring{size: size, buf: make([]Envelope, 0, size), nextID: 1}
}

// push assigns the next SSE id to env and appends it, evicting the
// oldest entry once the buffer is full.
func (r *ring) push(env Envelope) Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	env.SSEID = r.nextID
	r.nextID++
	r.buf = append(r.buf, env)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
	return env
}

// since returns all buffered envelopes with SSEID strictly greater
// than lastID, in order. If lastID is 0 or not found in the buffer
// (evicted), the entire buffer is returned (spec.md §4.1).
func (r *ring) since(lastID uint64) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lastID == 0 {
		out := make([]Envelope, len(r.buf))
		copy(out, r.buf)
		return out
	}
	for i, e := range r.buf {
		if e.SSEID == lastID {
			out := make([]Envelope, len(r.buf)-i-1)
			copy(out, r.buf[i+1:])
			return out
		}
	}
	// lastID evicted or never existed in range covered by the buffer:
	// if it's older than the oldest retained id, the client missed
	// data we no longer have and must fall back to a snapshot; if it's
	// newer than anything we've buffered (race on reconnect), there's
	// simply nothing new yet.
	if len(r.buf) > 0 && lastID < r.buf[0].SSEID {
		out := make([]Envelope, len(r.buf))
		copy(out, r.buf)
		return out
	}
	return nil
}

func (r *ring) snapshotTailID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return 0
	}
	return r.buf[len(r.buf)-1].SSEID
}
