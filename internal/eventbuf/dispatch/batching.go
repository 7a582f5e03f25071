package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hadyat/eventbuf/internal/eventbuf/liveness"
	elog "github.com/hadyat/eventbuf/internal/eventbuf/log"
	emetrics "github.com/hadyat/eventbuf/internal/eventbuf/metrics"
	"github.com/hadyat/eventbuf/internal/eventbuf/monitored"
	"github.com/hadyat/eventbuf/internal/eventbuf/policy"
	"github.com/hadyat/eventbuf/internal/eventbuf/queue"
)

type batchingAppendReq[E any] struct {
	events []E
	reply  chan int
}

type batchingAskReq[H comparable] struct {
	sub H
	n   int
}

type batchingUnsubReq[H comparable] struct {
	sub   H
	reply chan error
}

type batchingDownReq[H comparable] struct {
	sub   H
	token liveness.Token
}

type batchingTokenReq[H comparable] struct {
	sub   H
	reply chan liveness.Token
}

// Batching is a long-lived actor like Immediate, except it defers delivery
// until the buffer reaches BatchSize events or MaxDelay elapses since the
// first Append or Ask after the last flush, whichever comes first. It holds at most one
// in-flight deferred flush at a time, identified by a fresh token each time
// one is scheduled.
type Batching[H comparable, E any] struct {
	id        DispatcherID
	mb        *monitored.Buffer[H, E]
	deliver   DeliveryFunc[H, E]
	log       elog.Modular
	metrics   emetrics.Recorder
	batchSize int
	maxDelay  time.Duration

	pendingSet   bool
	pendingToken liveness.Token
	timer        *time.Timer

	appendCh chan batchingAppendReq[E]
	askCh    chan batchingAskReq[H]
	unsubCh  chan batchingUnsubReq[H]
	statsCh  chan chan Stats
	downCh   chan batchingDownReq[H]
	tokenCh  chan batchingTokenReq[H]
	flushCh  chan liveness.Token

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBatching constructs and starts a batching dispatcher. batchSize must
// be >= 1 and maxDelay must be > 0.
func NewBatching[H comparable, E any](
	id DispatcherID,
	pol policy.Policy[H],
	capacity int,
	drop queue.DropStrategy,
	batchSize int,
	maxDelay time.Duration,
	deliver DeliveryFunc[H, E],
	opts ...Option,
) *Batching[H, E] {
	if batchSize < 1 {
		panic("dispatch: batchSize must be >= 1")
	}
	if maxDelay <= 0 {
		panic("dispatch: maxDelay must be > 0")
	}
	o := resolveOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	d := &Batching[H, E]{
		id:        id,
		mb:        monitored.New[H, E](pol, capacity, drop),
		deliver:   deliver,
		log:       o.log,
		metrics:   o.metrics,
		batchSize: batchSize,
		maxDelay:  maxDelay,
		appendCh:  make(chan batchingAppendReq[E]),
		askCh:     make(chan batchingAskReq[H]),
		unsubCh:   make(chan batchingUnsubReq[H]),
		statsCh:   make(chan chan Stats),
		downCh:    make(chan batchingDownReq[H]),
		tokenCh:   make(chan batchingTokenReq[H]),
		flushCh:   make(chan liveness.Token),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go d.loop()
	return d
}

// Append appends events and runs scheduleFlush. It returns once that has
// run: a flush triggered by reaching BatchSize is complete by then, while a
// timer-driven flush happens later.
func (d *Batching[H, E]) Append(events []E) (dropped int, err error) {
	reply := make(chan int, 1)
	select {
	case d.appendCh <- batchingAppendReq[E]{events: events, reply: reply}:
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

// Ask records additional demand for sub and runs scheduleFlush.
func (d *Batching[H, E]) Ask(sub H, n int) {
	select {
	case d.askCh <- batchingAskReq[H]{sub: sub, n: n}:
	case <-d.done:
	}
}

// Unsubscribe withdraws sub entirely.
func (d *Batching[H, E]) Unsubscribe(sub H) error {
	reply := make(chan error, 1)
	select {
	case d.unsubCh <- batchingUnsubReq[H]{sub: sub, reply: reply}:
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
func (d *Batching[H, E]) Stats() (Stats, error) {
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
// when it was watched.
func (d *Batching[H, E]) NotifyDown(sub H, token liveness.Token) {
	select {
	case d.downCh <- batchingDownReq[H]{sub: sub, token: token}:
	case <-d.done:
	}
}

// Token returns the liveness token currently watching sub, for callers that
// relay disappearance signals from an external liveness source into
// NotifyDown. It returns false if sub is not currently watched.
func (d *Batching[H, E]) Token(sub H) (liveness.Token, bool) {
	reply := make(chan liveness.Token, 1)
	select {
	case d.tokenCh <- batchingTokenReq[H]{sub: sub, reply: reply}:
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

// Close stops the dispatcher's actor loop and cancels any pending timer.
// Pending batched events are lost; no drain is promised.
func (d *Batching[H, E]) Close() {
	d.cancel()
	<-d.done
}

func (d *Batching[H, E]) loop() {
	defer func() {
		if d.timer != nil {
			d.timer.Stop()
		}
		close(d.done)
	}()
	for {
		select {
		case req := <-d.appendCh:
			dropped := d.mb.Append(req.events)
			if dropped > 0 {
				d.log.Warnf("dropped %d events on overflow", dropped)
				d.metrics.Incr("events_dropped_total", int64(dropped))
			}
			d.scheduleFlush()
			req.reply <- dropped

		case req := <-d.askCh:
			d.mb.Ask(req.sub, req.n)
			d.scheduleFlush()

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

		case tok := <-d.flushCh:
			if d.pendingSet && tok == d.pendingToken {
				d.flush("timer")
			} else {
				d.log.Debugf("dropped stale flush timer")
			}

		case <-d.ctx.Done():
			return
		}
	}
}

// scheduleFlush applies a three-rule schedule: flush now if the buffer
// already meets the batch size, otherwise leave an existing pending flush
// alone, otherwise arm a fresh one.
func (d *Batching[H, E]) scheduleFlush() {
	if d.mb.Size() >= d.batchSize {
		d.flush("size")
		return
	}
	if d.pendingSet {
		return
	}
	tok := uuid.New()
	d.pendingSet = true
	d.pendingToken = tok
	d.timer = time.AfterFunc(d.maxDelay, func() {
		select {
		case d.flushCh <- tok:
		case <-d.ctx.Done():
		}
	})
}

func (d *Batching[H, E]) flush(reason string) {
	d.pendingSet = false
	d.pendingToken = liveness.Token{}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	assignments := d.mb.AssignEvents()
	for _, a := range assignments {
		d.deliver(Delivery[H, E]{Kind: KindAssignedEvents, Source: d.id, Subscriber: a.Subscriber, Events: a.Events})
		d.metrics.Incr("events_delivered_total", int64(len(a.Events)))
	}
	d.metrics.Incr("flush_total_"+reason, 1)
	d.metrics.Gauge("buffer_depth", int64(d.mb.Size()))
	d.metrics.Gauge("subscribers_active", int64(d.mb.Subscribed()))
}
