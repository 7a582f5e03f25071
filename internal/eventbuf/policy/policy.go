// Package policy implements the fairness algorithms used to decide, given
// current subscriber demand and a fixed number of available events, how
// many events each subscriber receives.
package policy

import (
	"fmt"
	"math/rand/v2"

	"github.com/hadyat/eventbuf/internal/eventbuf/demand"
)

// Policy decides how to split eventCount events across the subscribers
// named in demands. It must not mutate demands. assigned and remaining
// partition demands pointwise: assigned.Get(s)+remaining.Get(s) ==
// demands.Get(s) for every subscriber s, and assigned.Total() ==
// min(demands.Total(), eventCount).
type Policy[H comparable] interface {
	Assign(demands *demand.Map[H], eventCount int) (assigned, remaining *demand.Map[H])
}

// Name identifies a built-in policy for use in configuration.
type Name string

const (
	Even   Name = "even"
	Greedy Name = "greedy"
)

// ByName resolves a configuration string to a built-in Policy
// implementation.
func ByName[H comparable](name Name) (Policy[H], error) {
	switch name {
	case Even:
		return EvenPolicy[H]{}, nil
	case Greedy:
		return GreedyPolicy[H]{}, nil
	default:
		return nil, fmt.Errorf("policy: unknown policy %q", name)
	}
}

// fullySatisfy is the shared fast path for both policies: when total demand
// doesn't exceed what's available, everyone gets everything they asked for.
func fullySatisfy[H comparable](demands *demand.Map[H]) (assigned, remaining *demand.Map[H]) {
	return demands.Clone(), demand.New[H]()
}

// shuffled returns a fresh uniformly random permutation of subs.
func shuffled[H comparable](subs []H) []H {
	out := make([]H, len(subs))
	copy(out, subs)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

//------------------------------------------------------------------------------

// EvenPolicy spreads eventCount as evenly as possible across demanders,
// honoring each subscriber's cap. When supply is scarce it proceeds in
// rounds, shuffling the still-unsatisfied subscribers fresh each round so
// the remainder events land on a uniformly random subset.
type EvenPolicy[H comparable] struct{}

func (EvenPolicy[H]) Assign(demands *demand.Map[H], eventCount int) (assigned, remaining *demand.Map[H]) {
	if eventCount < 0 {
		eventCount = 0
	}
	if demands.Total() <= eventCount {
		return fullySatisfy(demands)
	}

	assigned = demand.New[H]()
	remaining = demands.Clone()

	left := eventCount
	for left > 0 {
		subs := remaining.Subscribers()
		k := len(subs)
		if k == 0 {
			break
		}
		batch := left / k
		if batch < 1 {
			batch = 1
		}

		for _, sub := range shuffled(subs) {
			want := remaining.Get(sub)
			if want == 0 {
				continue
			}
			amount := min(batch, want, left)
			if amount <= 0 {
				continue
			}
			assigned.Add(sub, amount)
			remaining.Subtract(sub, amount)
			left -= amount
			if left == 0 {
				break
			}
		}
	}
	return assigned, remaining
}

//------------------------------------------------------------------------------

// GreedyPolicy hands full demand to an arbitrarily ordered subset of
// subscribers: it walks a single random permutation, fully satisfying each
// subscriber in turn until supply runs out.
type GreedyPolicy[H comparable] struct{}

func (GreedyPolicy[H]) Assign(demands *demand.Map[H], eventCount int) (assigned, remaining *demand.Map[H]) {
	if eventCount < 0 {
		eventCount = 0
	}
	if demands.Total() <= eventCount {
		return fullySatisfy(demands)
	}

	assigned = demand.New[H]()
	remaining = demands.Clone()

	left := eventCount
	for _, sub := range shuffled(remaining.Subscribers()) {
		if left == 0 {
			break
		}
		want := remaining.Get(sub)
		amount := min(want, left)
		if amount <= 0 {
			continue
		}
		assigned.Add(sub, amount)
		remaining.Subtract(sub, amount)
		left -= amount
	}
	return assigned, remaining
}
