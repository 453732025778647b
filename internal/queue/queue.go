// Package queue implements the per-client event queue and sequencer
// (§4.4), grounded on the mutex-guarded, short-critical-section discipline
// of the teacher's controlplane/telemetry/pkg/buffer package, simplified
// to a single ascending FIFO per client instead of a partitioned buffer.
package queue

import (
	"log/slog"
	"sync"

	"github.com/malbeclabs/alarmcore/internal/model"
)

// Queue is a client's FIFO of not-yet-acknowledged encoded events, plus its
// monotonic sequence counter. Safe for concurrent use: producers (sensor
// handlers, keypad) append from telephony-driven goroutines while the
// worker purges on ACK and reads snapshots to transmit.
type Queue struct {
	log *slog.Logger

	mu    sync.Mutex
	seq   uint32 // next sequence number to allocate; 1-based
	items []model.EncodedEvent

	wake chan struct{} // capacity 1, coalescing: multiple writers, one reader
}

// New returns an empty queue with its sequence counter starting at 1.
func New(log *slog.Logger) *Queue {
	return &Queue{
		log:  log,
		seq:  1,
		wake: make(chan struct{}, 1),
	}
}

// Wake returns the channel the client worker selects on to learn the queue
// changed. Sends are non-blocking so multiple producers never block on a
// slow or absent reader.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// EncodeFunc renders the wire payload for a newly allocated sequence
// number. Called with the queue lock held, so it must not block.
type EncodeFunc func(seq uint32) []byte

// Append allocates a sequence number and enqueues the event, per §4.4's
// append rules:
//   - PING is sent directly by the caller and never enqueued.
//   - Inferred events (BREACH, INTERNET_*) consume no sequence number and
//     are never enqueued; handler/log dispatch happens at the call site.
//   - Everything else consumes the next sequence number and is appended to
//     the tail.
//
// Append returns the allocated sequence number and whether the event was
// actually queued.
func (q *Queue) Append(kind model.EventKind, encode EncodeFunc) (seq uint32, queued bool) {
	if kind == model.EventPing || kind.Inferred() {
		return 0, false
	}

	q.mu.Lock()
	seq = q.seq
	q.seq++
	payload := encode(seq)
	q.items = append(q.items, model.EncodedEvent{Seq: seq, Payload: payload})
	q.mu.Unlock()

	q.notify()
	return seq, true
}

// Purge removes every queued entry with Seq < ackSeq (§4.4). Because
// append always allocates ascending sequence numbers, the first entry with
// Seq >= ackSeq also bounds every entry after it, so traversal can stop
// there. If ackSeq is ahead of everything this client has ever queued, the
// purge still proceeds (tolerant) but is logged as a warning.
func (q *Queue) Purge(ackSeq uint32) (removed int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ackSeq > q.seq {
		q.log.Warn("ack acknowledges sequence beyond anything queued", "ackSeq", ackSeq, "nextSeq", q.seq)
	}

	i := 0
	for i < len(q.items) && q.items[i].Seq < ackSeq {
		i++
	}
	removed = i
	q.items = q.items[i:]
	return removed
}

// Snapshot returns a copy of the currently queued entries, in ascending
// sequence order, for the caller to transmit without holding the queue
// lock across I/O (§5: "the worker holds the queue lock only long enough
// to read a payload into a stack buffer, then releases before issuing
// DTMF").
func (q *Queue) Snapshot() []model.EncodedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.EncodedEvent, len(q.items))
	copy(out, q.items)
	return out
}

// IncrementAttempts bumps the diagnostics-only attempt counter for seq, if
// it's still queued.
func (q *Queue) IncrementAttempts(seq uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].Seq == seq {
			q.items[i].Attempts++
			return
		}
	}
}

// Len returns the number of queued, unacknowledged entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NextSeq returns the sequence number the next non-inferred, non-ping
// event will consume.
func (q *Queue) NextSeq() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}
