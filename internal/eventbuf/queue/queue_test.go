package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWithinCapacityDropsNothing(t *testing.T) {
	q := New[int](5, DropOldest)
	dropped := q.Append([]int{1, 2, 3})
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 3, q.Size())
}

func TestAppendDropOldestDiscardsHead(t *testing.T) {
	q := New[int](10, DropOldest)
	for i := range 11 {
		d := q.Append([]int{i})
		if i < 10 {
			require.Equal(t, 0, d)
		} else {
			require.Equal(t, 1, d)
		}
	}
	assert.Equal(t, 10, q.Size())

	taken := q.Split(10)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, taken)
}

func TestAppendDropNewestKeepsExisting(t *testing.T) {
	q := New[int](3, DropNewest)
	dropped := q.Append([]int{1, 2, 3})
	require.Equal(t, 0, dropped)

	dropped = q.Append([]int{4, 5})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, q.Size())

	taken := q.Split(3)
	assert.Equal(t, []int{1, 2, 3}, taken)
}

func TestSplitTakesFromHeadInOrder(t *testing.T) {
	q := New[int](10, DropOldest)
	q.Append([]int{1, 2, 3, 4, 5})

	taken := q.Split(2)
	assert.Equal(t, []int{1, 2}, taken)
	assert.Equal(t, 3, q.Size())

	taken = q.Split(100)
	assert.Equal(t, []int{3, 4, 5}, taken)
	assert.Equal(t, 0, q.Size())
}

func TestSplitOnEmptyQueueReturnsNil(t *testing.T) {
	q := New[int](4, DropOldest)
	assert.Empty(t, q.Split(5))
}

func TestAppendDropOldestSingleOverflow(t *testing.T) {
	q := New[int](10, DropOldest)
	for i := range 11 {
		q.Append([]int{i})
	}
	taken := q.Split(10)
	assert.Equal(t, 1, taken[0])
	assert.Len(t, taken, 10)
}
