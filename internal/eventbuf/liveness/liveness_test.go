package liveness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchIsIdempotent(t *testing.T) {
	tr := New[string]()
	tok1 := tr.Watch("a")
	tok2 := tr.Watch("a")
	assert.Equal(t, tok1, tok2)
	assert.Equal(t, 1, tr.Size())
}

func TestReWatchAfterUnwatchYieldsFreshToken(t *testing.T) {
	tr := New[string]()
	tok1 := tr.Watch("a")
	require.NoError(t, tr.Unwatch("a"))
	tok2 := tr.Watch("a")
	assert.NotEqual(t, tok1, tok2)
}

func TestOnDownMatchingTokenSucceeds(t *testing.T) {
	tr := New[string]()
	tok := tr.Watch("a")
	require.NoError(t, tr.OnDown("a", tok))
	assert.Equal(t, 0, tr.Size())
}

func TestOnDownStaleTokenIsRejected(t *testing.T) {
	tr := New[string]()
	staleTok := tr.Watch("a")
	require.NoError(t, tr.Unwatch("a"))
	freshTok := tr.Watch("a")
	require.NotEqual(t, staleTok, freshTok)

	err := tr.OnDown("a", staleTok)
	assert.ErrorIs(t, err, ErrWrongToken)
	// The current epoch must survive an unmatched notification.
	assert.Equal(t, 1, tr.Size())
	require.NoError(t, tr.OnDown("a", freshTok))
}

func TestOnDownUnknownSubscriberIsNotSubscribed(t *testing.T) {
	tr := New[string]()
	err := tr.OnDown("ghost", Token{})
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestUnwatchUnknownSubscriberIsNotSubscribed(t *testing.T) {
	tr := New[string]()
	assert.ErrorIs(t, tr.Unwatch("ghost"), ErrNotSubscribed)
}

func TestTokenIsReadOnly(t *testing.T) {
	tr := New[string]()
	_, ok := tr.Token("a")
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Size())

	want := tr.Watch("a")
	got, ok := tr.Token("a")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, tr.Size())
}
