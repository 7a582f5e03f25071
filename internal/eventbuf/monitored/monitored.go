// Package monitored composes a buffer with a liveness tracker, keeping the
// two in sync: any subscriber with positive demand in the buffer has a
// corresponding liveness entry, and removing one removes the other.
package monitored

import (
	"github.com/hadyat/eventbuf/internal/eventbuf/buffer"
	"github.com/hadyat/eventbuf/internal/eventbuf/liveness"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

// Buffer composes a buffer.Buffer with a liveness.Tracker. It is not safe
// for concurrent use; callers (typically a dispatcher actor) must serialize
// access.
type Buffer[H comparable, E any] struct {
	buf     *buffer.Buffer[H, E]
	tracker *liveness.Tracker[H]
}

// New constructs an empty monitored buffer with the given fairness policy,
// capacity, and overflow drop strategy.
func New[H comparable, E any](pol policy.Policy[H], capacity int, drop queue.DropStrategy) *Buffer[H, E] {
	return &Buffer[H, E]{
		buf:     buffer.New[H, E](pol, capacity, drop),
		tracker: liveness.New[H](),
	}
}

// Append adds events to the underlying buffer, returning the number
// dropped on overflow.
func (b *Buffer[H, E]) Append(events []E) (dropped int) {
	return b.buf.Append(events)
}

// Ask records demand for sub and ensures it is watched for liveness. n == 0
// is an accepted no-op that still leaves sub watched if it wasn't already.
func (b *Buffer[H, E]) Ask(sub H, n int) {
	b.tracker.Watch(sub)
	b.buf.Ask(sub, n)
}

// Delete unwatches sub and removes all of its demand. Returns
// liveness.ErrNotSubscribed if sub was not being watched.
func (b *Buffer[H, E]) Delete(sub H) error {
	if err := b.tracker.Unwatch(sub); err != nil {
		return err
	}
	b.buf.Delete(sub)
	return nil
}

// OnDown reports that sub has disappeared, identified by the token issued
// when it was watched. Demand is withdrawn only if token matches the
// subscriber's current epoch; a mismatch or absent subscriber is reported
// back so the caller can decide whether to ignore it.
func (b *Buffer[H, E]) OnDown(sub H, token liveness.Token) error {
	if err := b.tracker.OnDown(sub, token); err != nil {
		return err
	}
	b.buf.Delete(sub)
	return nil
}

// AssignEvents recomputes assignments from current demand and buffered
// events; see buffer.Buffer.AssignEvents.
func (b *Buffer[H, E]) AssignEvents() []buffer.Assignment[H, E] {
	return b.buf.AssignEvents()
}

// Size returns the number of events currently buffered.
func (b *Buffer[H, E]) Size() int {
	return b.buf.Size()
}

// Stats returns a point-in-time snapshot of buffer occupancy.
func (b *Buffer[H, E]) Stats() buffer.Stats {
	return b.buf.Stats()
}

// Subscribed returns the number of subscribers currently being watched for
// liveness, including those with zero outstanding demand.
func (b *Buffer[H, E]) Subscribed() int {
	return b.tracker.Size()
}

// Watch ensures sub is tracked for liveness without recording demand,
// returning its token. Idempotent.
func (b *Buffer[H, E]) Watch(sub H) liveness.Token {
	return b.tracker.Watch(sub)
}

// Token returns sub's current watch token without side effects.
func (b *Buffer[H, E]) Token(sub H) (liveness.Token, bool) {
	return b.tracker.Token(sub)
}
