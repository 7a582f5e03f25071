package dispatch

import (
	"context"
	"errors"

	"github.com/hadyat/eventbuf/internal/eventbuf/liveness"
	elog "github.com/hadyat/eventbuf/internal/eventbuf/log"
	emetrics "github.com/hadyat/eventbuf/internal/eventbuf/metrics"
	"github.com/hadyat/eventbuf/internal/eventbuf/monitored"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

type immediateAppendReq[E any] struct {
	events []E
	reply  chan int
}

type immediateAskReq[H comparable] struct {
	sub H
	n   int
}

type immediateUnsubReq[H comparable] struct {
	sub   H
	reply chan error
}

type immediateDownReq[H comparable] struct {
	sub   H
	token liveness.Token
}

type immediateTokenReq[H comparable] struct {
	sub   H
	reply chan liveness.Token
}

// Immediate is a long-lived actor that, on every Append or Ask, recomputes
// assignments against its monitored buffer and delivers them straight away.
// All commands are processed serially by a single goroutine; it is safe to
// call its methods from any number of concurrent callers.
type Immediate[H comparable, E any] struct {
	id      DispatcherID
	mb      *monitored.Buffer[H, E]
	deliver DeliveryFunc[H, E]
	log     elog.Modular
	metrics emetrics.Recorder

	appendCh chan immediateAppendReq[E]
	askCh    chan immediateAskReq[H]
	unsubCh  chan immediateUnsubReq[H]
	statsCh  chan chan Stats
	downCh   chan immediateDownReq[H]
	tokenCh  chan immediateTokenReq[H]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewImmediate constructs and starts an immediate dispatcher. deliver is
// invoked for every non-empty assignment and must not block.
func NewImmediate[H comparable, E any](
	id DispatcherID,
	pol policy.Policy[H],
	capacity int,
	drop queue.DropStrategy,
	deliver DeliveryFunc[H, E],
	opts ...Option,
) *Immediate[H, E] {
	o := resolveOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	d := &Immediate[H, E]{
		id:       id,
		mb:       monitored.New[H, E](pol, capacity, drop),
		deliver:  deliver,
		log:      o.log,
		metrics:  o.metrics,
		appendCh: make(chan immediateAppendReq[E]),
		askCh:    make(chan immediateAskReq[H]),
		unsubCh:  make(chan immediateUnsubReq[H]),
		statsCh:  make(chan chan Stats),
		downCh:   make(chan immediateDownReq[H]),
		tokenCh:  make(chan immediateTokenReq[H]),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Append appends events and returns the number dropped on overflow. It
// blocks until the command has been fully processed, including any
// resulting deliveries.
func (d *Immediate[H, E]) Append(events []E) (dropped int, err error) {
	reply := make(chan int, 1)
	select {
	case d.appendCh <- immediateAppendReq[E]{events: events, reply: reply}:
	case <-d.done:
		return 0, ErrClosed
	}
	select {
	case dropped = <-reply:
		return dropped, nil
	case <-d.done:
		return 0, ErrClosed
	}
}

// Ask records additional demand for sub and triggers an assignment pass.
// It does not wait for delivery to complete.
func (d *Immediate[H, E]) Ask(sub H, n int) {
	select {
	case d.askCh <- immediateAskReq[H]{sub: sub, n: n}:
	case <-d.done:
	}
}

// Unsubscribe withdraws sub entirely. Returns liveness.ErrNotSubscribed if
// sub was not currently tracked.
func (d *Immediate[H, E]) Unsubscribe(sub H) error {
	reply := make(chan error, 1)
	select {
	case d.unsubCh <- immediateUnsubReq[H]{sub: sub, reply: reply}:
	case <-d.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-d.done:
		return ErrClosed
	}
}

// Stats returns a point-in-time snapshot of the dispatcher's state.
func (d *Immediate[H, E]) Stats() (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case d.statsCh <- reply:
	case <-d.done:
		return Stats{}, ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-d.done:
		return Stats{}, ErrClosed
	}
}

// NotifyDown reports that sub has disappeared, carrying the token issued
// when it was watched. A stale token (epoch mismatch) or an unknown
// subscriber is dropped silently.
func (d *Immediate[H, E]) NotifyDown(sub H, token liveness.Token) {
	select {
	case d.downCh <- immediateDownReq[H]{sub: sub, token: token}:
	case <-d.done:
	}
}

// Token returns the liveness token currently watching sub, for callers that
// relay disappearance signals from an external liveness source into
// NotifyDown. It returns false if sub is not currently watched.
func (d *Immediate[H, E]) Token(sub H) (liveness.Token, bool) {
	reply := make(chan liveness.Token, 1)
	select {
	case d.tokenCh <- immediateTokenReq[H]{sub: sub, reply: reply}:
	case <-d.done:
		return liveness.Token{}, false
	}
	select {
	case tok := <-reply:
		return tok, tok != (liveness.Token{})
	case <-d.done:
		return liveness.Token{}, false
	}
}

// Close stops the dispatcher's actor loop. Any command already accepted
// still runs to completion; commands issued after Close returns fail with
// ErrClosed. Pending buffered events are not delivered.
func (d *Immediate[H, E]) Close() {
	d.cancel()
	<-d.done
}

func (d *Immediate[H, E]) loop() {
	defer close(d.done)
	for {
		select {
		case req := <-d.appendCh:
			dropped := d.mb.Append(req.events)
			if dropped > 0 {
				d.log.Warnf("dropped %d events on overflow", dropped)
				d.metrics.Incr("events_dropped_total", int64(dropped))
			}
			d.assignAndDeliver()
			req.reply <- dropped

		case req := <-d.askCh:
			d.mb.Ask(req.sub, req.n)
			d.assignAndDeliver()

		case req := <-d.unsubCh:
			err := d.mb.Delete(req.sub)
			if err == nil {
				d.log.Infof("subscriber left")
			}
			req.reply <- err

		case reply := <-d.statsCh:
			st := d.mb.Stats()
			reply <- Stats{Buffered: st.Buffered, Subscribed: d.mb.Subscribed(), Demand: st.Demand}

		case req := <-d.downCh:
			err := d.mb.OnDown(req.sub, req.token)
			switch {
			case err == nil:
				d.log.Infof("subscriber disappeared")
			case errors.Is(err, liveness.ErrWrongToken):
				d.log.Debugf("dropped stale liveness signal")
			case errors.Is(err, liveness.ErrNotSubscribed):
				// Already gone; nothing to do.
			}

		case req := <-d.tokenCh:
			tok, _ := d.mb.Token(req.sub)
			req.reply <- tok

		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Immediate[H, E]) assignAndDeliver() {
	assignments := d.mb.AssignEvents()
	for _, a := range assignments {
		d.deliver(Delivery[H, E]{Kind: KindAssignedEvents, Source: d.id, Subscriber: a.Subscriber, Events: a.Events})
		d.metrics.Incr("events_delivered_total", int64(len(a.Events)))
	}
	d.metrics.Gauge("buffer_depth", int64(d.mb.Size()))
	d.metrics.Gauge("subscribers_active", int64(d.mb.Subscribed()))
}
