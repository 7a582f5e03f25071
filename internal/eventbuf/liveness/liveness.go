// Package liveness tracks which subscribers are currently being watched
// for disappearance, guarding against stale notifications with a
// per-subscription epoch token.
package liveness

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNotSubscribed is returned when an operation names a handle that is not
// currently tracked.
var ErrNotSubscribed = errors.New("liveness: subscriber not watched")

// ErrWrongToken is returned when a disappearance signal carries a token
// that does not match the handle's current subscription epoch. It signals
// that the notification is stale and should be dropped, not surfaced as a
// user-facing error.
var ErrWrongToken = errors.New("liveness: stale liveness token")

// Token uniquely identifies one subscription epoch for a handle.
// Re-watching the same handle after Unwatch always yields a new token, so
// a disappearance signal from a superseded epoch can be told apart from a
// current one.
type Token = uuid.UUID

// Tracker maps subscriber handles to liveness tokens. It is not safe for
// concurrent use.
type Tracker[H comparable] struct {
	tokens map[H]Token
}

// New returns an empty liveness tracker.
func New[H comparable]() *Tracker[H] {
	return &Tracker[H]{tokens: map[H]Token{}}
}

// Watch registers sub for liveness monitoring and returns its token. If sub
// is already watched, Watch is a no-op and returns the existing token.
func (t *Tracker[H]) Watch(sub H) Token {
	if tok, ok := t.tokens[sub]; ok {
		return tok
	}
	tok := uuid.New()
	t.tokens[sub] = tok
	return tok
}

// Token returns sub's current watch token without side effects. It reports
// false if sub is not currently watched.
func (t *Tracker[H]) Token(sub H) (Token, bool) {
	tok, ok := t.tokens[sub]
	return tok, ok
}

// Unwatch stops tracking sub, discarding any pending disappearance
// notification for its current epoch.
func (t *Tracker[H]) Unwatch(sub H) error {
	if _, ok := t.tokens[sub]; !ok {
		return ErrNotSubscribed
	}
	delete(t.tokens, sub)
	return nil
}

// OnDown reports that sub has disappeared, identified by the token issued
// when it was watched. The signal is honored only if token matches the
// currently stored epoch; a mismatch means a stale notification from a
// superseded subscription and is reported as ErrWrongToken so the caller
// can drop it rather than treat it as an error.
func (t *Tracker[H]) OnDown(sub H, token Token) error {
	cur, ok := t.tokens[sub]
	if !ok {
		return ErrNotSubscribed
	}
	if cur != token {
		return ErrWrongToken
	}
	delete(t.tokens, sub)
	return nil
}

// Size returns the number of currently watched subscribers.
func (t *Tracker[H]) Size() int {
	return len(t.tokens)
}
