// Package poll provides the one first-party LivenessWatcher implementation:
// it polls a caller-supplied alive-check on a backoff schedule and reports
// a subscriber as down after a run of consecutive failures.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hadyat/eventbuf/internal/eventbuf/liveness"
)

// Down is the event posted on a Watcher's channel when a watched subscriber
// is deemed to have disappeared.
type Down[H comparable] struct {
	Subscriber H
	Token      liveness.Token
}

// AliveFunc reports whether sub still appears to be alive. It is called
// repeatedly on the watcher's backoff schedule; it should be cheap and
// non-blocking relative to that schedule (a health check, a ping, a
// liveness flag read).
type AliveFunc[H comparable] func(sub H) bool

// Watcher polls an AliveFunc per watched subscriber and emits Down events
// on Downs() when a subscriber fails ConsecutiveFailures checks in a row.
// It does not mint its own liveness tokens: the caller supplies the token
// issued by the dispatcher's own liveness tracker at Watch time, so a Down
// event always carries a token the dispatcher's NotifyDown can recognize.
type Watcher[H comparable] struct {
	alive               AliveFunc[H]
	consecutiveFailures int
	newBackoff          func() backoff.BackOff
	downs               chan Down[H]

	mu     sync.Mutex
	tokens map[H]liveness.Token
	cancel map[H]context.CancelFunc
}

// Option configures a Watcher.
type Option[H comparable] func(*Watcher[H])

// WithConsecutiveFailures sets how many consecutive failed checks are
// required before a subscriber is reported down. Defaults to 3.
func WithConsecutiveFailures[H comparable](n int) Option[H] {
	return func(w *Watcher[H]) {
		if n > 0 {
			w.consecutiveFailures = n
		}
	}
}

// WithBackoff overrides the backoff schedule constructor used for each
// watched subscriber's poll loop. Defaults to an exponential backoff
// between 50ms and 1s.
func WithBackoff[H comparable](newBackoff func() backoff.BackOff) Option[H] {
	return func(w *Watcher[H]) {
		w.newBackoff = newBackoff
	}
}

// New constructs a Watcher backed by alive, which the returned Watcher will
// call to determine whether a given subscriber is still reachable.
func New[H comparable](alive AliveFunc[H], opts ...Option[H]) *Watcher[H] {
	w := &Watcher[H]{
		alive:               alive,
		consecutiveFailures: 3,
		downs:               make(chan Down[H], 16),
		tokens:              map[H]liveness.Token{},
		cancel:              map[H]context.CancelFunc{},
	}
	w.newBackoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		b.MaxInterval = time.Second
		b.MaxElapsedTime = 0
		return b
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Downs returns the channel on which disappearance events are posted.
func (w *Watcher[H]) Downs() <-chan Down[H] {
	return w.downs
}

// Watch starts polling sub for liveness under the given token. Watching an
// already-watched subscriber with the same token is a no-op; supplying a
// different token (a fresh epoch, e.g. after a re-subscribe) restarts
// polling under the new one, discarding the old poll loop.
func (w *Watcher[H]) Watch(sub H, token liveness.Token) {
	w.mu.Lock()
	if tok, ok := w.tokens[sub]; ok {
		if tok == token {
			w.mu.Unlock()
			return
		}
		w.cancel[sub]()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.tokens[sub] = token
	w.cancel[sub] = cancel
	w.mu.Unlock()

	go w.pollLoop(ctx, sub, token)
}

// Unwatch stops polling sub and discards any pending disappearance signal
// for its current epoch.
func (w *Watcher[H]) Unwatch(sub H) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.cancel[sub]; ok {
		cancel()
		delete(w.cancel, sub)
	}
	delete(w.tokens, sub)
}

func (w *Watcher[H]) pollLoop(ctx context.Context, sub H, tok liveness.Token) {
	b := backoff.WithContext(w.newBackoff(), ctx)
	failures := 0
	for {
		var wait time.Duration
		select {
		case <-ctx.Done():
			return
		default:
			wait = b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if w.alive(sub) {
			failures = 0
			b.Reset()
			continue
		}
		failures++
		if failures >= w.consecutiveFailures {
			select {
			case w.downs <- Down[H]{Subscriber: sub, Token: tok}:
			case <-ctx.Done():
			}
			return
		}
	}
}
