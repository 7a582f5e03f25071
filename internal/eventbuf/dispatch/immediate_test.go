package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadyat/eventbuf/internal/eventbuf/liveness"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

// recorder collects deliveries made to it, safe for concurrent use since
// the dispatcher's delivery hook may be invoked from its own goroutine
// while the test goroutine inspects prior results.
type recorder[H comparable, E any] struct {
	mu         sync.Mutex
	deliveries []Delivery[H, E]
}

func (r *recorder[H, E]) hook(d Delivery[H, E]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recorder[H, E]) snapshot() []Delivery[H, E] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery[H, E], len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

func (r *recorder[H, E]) eventsFor(sub H) []E {
	var out []E
	for _, d := range r.snapshot() {
		if d.Subscriber == sub {
			out = append(out, d.Events...)
		}
	}
	return out
}

func TestImmediateAppendThenAskDeliversOnDemand(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.GreedyPolicy[string]{}, 10, queue.DropOldest, rec.hook)
	defer d.Close()

	dropped, err := d.Append([]int{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	d.Ask("a", 5)

	assert.Eventually(t, func() bool {
		return len(rec.eventsFor("a")) == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.eventsFor("a"))
}

func TestImmediateInvariantDemandOrBufferedZero(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.EvenPolicy[string]{}, 100, queue.DropOldest, rec.hook)
	defer d.Close()

	d.Ask("a", 3)
	_, err := d.Append([]int{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, _ := d.Stats()
		return s.Demand == 0
	}, time.Second, time.Millisecond)

	s, err := d.Stats()
	require.NoError(t, err)
	assert.True(t, s.Demand == 0 || s.Buffered == 0)
	assert.Equal(t, 4, s.Buffered)
}

func TestImmediateUnsubscribeUnknownErrors(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest, rec.hook)
	defer d.Close()

	assert.ErrorIs(t, d.Unsubscribe("ghost"), liveness.ErrNotSubscribed)
}

func TestImmediateS6LivenessCleanup(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.EvenPolicy[string]{}, 100, queue.DropOldest, rec.hook)
	defer d.Close()

	d.Ask("s1", 3)
	d.Ask("s2", 7)
	d.Ask("s3", 13)

	require.Eventually(t, func() bool {
		s, _ := d.Stats()
		return s.Demand == 23 && s.Subscribed == 3
	}, time.Second, time.Millisecond)

	tok, ok := d.Token("s2")
	require.True(t, ok)
	d.NotifyDown("s2", tok)

	require.Eventually(t, func() bool {
		s, _ := d.Stats()
		return s.Subscribed == 2
	}, time.Second, time.Millisecond)

	s, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, 16, s.Demand)
	assert.Equal(t, 2, s.Subscribed)
}

func TestImmediateTokenUnknownSubscriberReportsFalse(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest, rec.hook)
	defer d.Close()

	_, ok := d.Token("ghost")
	assert.False(t, ok)
}

func TestImmediateClosedOperationsReturnErrClosed(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewImmediate[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest, rec.hook)
	d.Close()

	_, err := d.Append([]int{1})
	assert.ErrorIs(t, err, ErrClosed)

	err = d.Unsubscribe("a")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = d.Stats()
	assert.ErrorIs(t, err, ErrClosed)
}
