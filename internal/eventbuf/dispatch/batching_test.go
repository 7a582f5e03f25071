package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

func TestBatchingS4FlushBySize(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewBatching[string, int]("d1", policy.GreedyPolicy[string]{}, 10, queue.DropOldest,
		10, time.Hour, rec.hook)
	defer d.Close()

	d.Ask("a", 1)
	_, err := d.Append([]int{100})
	require.NoError(t, err)

	s, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Buffered)
	assert.Equal(t, 1, s.Demand)
	assert.Empty(t, rec.eventsFor("a"))

	nine := make([]int, 9)
	for i := range nine {
		nine[i] = i
	}
	_, err = d.Append(nine)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.eventsFor("a")) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{100}, rec.eventsFor("a"))

	s, err = d.Stats()
	require.NoError(t, err)
	assert.Equal(t, 9, s.Buffered)
	assert.Equal(t, 0, s.Demand)
}

func TestBatchingS5FlushByTimer(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewBatching[string, int]("d1", policy.GreedyPolicy[string]{}, 10, queue.DropOldest,
		10, 50*time.Millisecond, rec.hook)
	defer d.Close()

	d.Ask("a", 1)
	_, err := d.Append([]int{7})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.eventsFor("a")) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	s, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Buffered)
	assert.Equal(t, 0, s.Demand)
}

func TestBatchingAtMostOnePendingFlush(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewBatching[string, int]("d1", policy.EvenPolicy[string]{}, 100, queue.DropOldest,
		100, 40*time.Millisecond, rec.hook)
	defer d.Close()

	d.Ask("a", 1)
	_, err := d.Append([]int{1})
	require.NoError(t, err)
	// A second append before the timer fires must not arm a second timer;
	// scheduleFlush's second rule is "pending already set, do nothing".
	_, err = d.Append([]int{2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rec.eventsFor("a")) == 1
	}, 500*time.Millisecond, 5*time.Millisecond)

	// Only one flush should ever have occurred for this batch.
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, rec.eventsFor("a"), 1)
}

func TestBatchingNotifyDownRemovesSubscriberByToken(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewBatching[string, int]("d1", policy.EvenPolicy[string]{}, 100, queue.DropOldest,
		100, time.Hour, rec.hook)
	defer d.Close()

	d.Ask("a", 3)
	require.Eventually(t, func() bool {
		s, _ := d.Stats()
		return s.Subscribed == 1
	}, time.Second, time.Millisecond)

	tok, ok := d.Token("a")
	require.True(t, ok)
	d.NotifyDown("a", tok)

	require.Eventually(t, func() bool {
		s, _ := d.Stats()
		return s.Subscribed == 0
	}, time.Second, time.Millisecond)

	s, err := d.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Demand)
}

func TestBatchingNewBatchingPanicsOnInvalidConfig(t *testing.T) {
	rec := &recorder[string, int]{}
	assert.Panics(t, func() {
		NewBatching[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest, 0, time.Second, rec.hook)
	})
	assert.Panics(t, func() {
		NewBatching[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest, 1, 0, rec.hook)
	})
}

func TestBatchingCloseWithPendingTimerRejectsLaterAppend(t *testing.T) {
	rec := &recorder[string, int]{}
	d := NewBatching[string, int]("d1", policy.EvenPolicy[string]{}, 10, queue.DropOldest,
		10, time.Hour, rec.hook)
	d.Ask("a", 1)
	_, err := d.Append([]int{1})
	require.NoError(t, err)
	d.Close()

	_, err = d.Append([]int{2})
	assert.ErrorIs(t, err, ErrClosed)
}
