// Package buffer composes a bounded event queue with per-subscriber demand
// and a fairness policy to decide, on request, which buffered events go to
// which subscriber.
package buffer

import (
	"github.com/hadyat/eventbuf/internal/eventbuf/demand"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

// Assignment pairs a subscriber with the ordered slice of events handed to
// it by a single AssignEvents call.
type Assignment[H comparable, E any] struct {
	Subscriber H
	Events     []E
}

// Stats is a point-in-time snapshot of buffer occupancy.
type Stats struct {
	Buffered int
	Demand   int
}

// Buffer is a bounded FIFO of events wired to per-subscriber demand
// accounting and a pluggable fairness policy. It is not safe for
// concurrent use; callers (typically an actor loop) must serialize access.
type Buffer[H comparable, E any] struct {
	pol    policy.Policy[H]
	queue  *queue.Bounded[E]
	demand *demand.Map[H]
}

// New constructs an empty buffer with the given fairness policy, capacity,
// and overflow drop strategy.
func New[H comparable, E any](pol policy.Policy[H], capacity int, drop queue.DropStrategy) *Buffer[H, E] {
	return &Buffer[H, E]{
		pol:    pol,
		queue:  queue.New[E](capacity, drop),
		demand: demand.New[H](),
	}
}

// Append adds events to the queue, applying the configured drop strategy on
// overflow, and returns the number of events discarded.
func (b *Buffer[H, E]) Append(events []E) (dropped int) {
	return b.queue.Append(events)
}

// Ask records additional demand for sub. n == 0 is an accepted no-op. Ask
// does not itself trigger delivery; call AssignEvents to do that.
func (b *Buffer[H, E]) Ask(sub H, n int) {
	b.demand.Add(sub, n)
}

// Delete removes all demand belonging to sub.
func (b *Buffer[H, E]) Delete(sub H) {
	b.demand.Delete(sub)
}

// DemandOf returns the current outstanding demand of sub.
func (b *Buffer[H, E]) DemandOf(sub H) int {
	return b.demand.Get(sub)
}

// AssignEvents computes and applies the current fairness policy against
// the buffered events and outstanding demand, splitting satisfied events
// out of the queue. It is a no-op returning nil when there is nothing
// buffered or nothing demanded. Assignments with an empty event slice are
// omitted from the result.
func (b *Buffer[H, E]) AssignEvents() []Assignment[H, E] {
	if b.queue.Size() == 0 || b.demand.Total() == 0 {
		return nil
	}

	toMeet, remaining := b.pol.Assign(b.demand, b.queue.Size())
	b.demand = remaining

	subs := toMeet.Subscribers()
	assignments := make([]Assignment[H, E], 0, len(subs))
	for _, sub := range subs {
		n := toMeet.Get(sub)
		if n == 0 {
			continue
		}
		events := b.queue.Split(n)
		if len(events) == 0 {
			continue
		}
		assignments = append(assignments, Assignment[H, E]{Subscriber: sub, Events: events})
	}
	return assignments
}

// Size returns the number of events currently buffered.
func (b *Buffer[H, E]) Size() int {
	return b.queue.Size()
}

// Stats returns a point-in-time snapshot of buffer occupancy.
func (b *Buffer[H, E]) Stats() Stats {
	return Stats{Buffered: b.queue.Size(), Demand: b.demand.Total()}
}
