package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"salus.clinic/internal/docstore"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/store/pg"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 500 * time.Millisecond
)

// Dispatcher drains one change feed into the relational store through a
// trigger. Deferred events go onto a side queue so a missing dependency never
// blocks the feed; the dependency's own event usually resolves the deferral.
type Dispatcher struct {
	provider *pg.Provider
	trigger  *Trigger
	feed     docstore.Feed

	maxAttempts int
	retryDelay  time.Duration

	retries chan pending
	log     zerolog.Logger
}

type pending struct {
	ev      docstore.Event
	attempt int
}

// DispatcherOption adjusts retry behavior.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts caps deliveries per event, the initial one included.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay before a deferred event is redelivered.
// The delay grows linearly with the attempt number.
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// NewDispatcher wires a feed to a trigger over the shared pool.
func NewDispatcher(provider *pg.Provider, trigger *Trigger, feed docstore.Feed, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		provider:    provider,
		trigger:     trigger,
		feed:        feed,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		retries:     make(chan pending, 64),
		log:         obs.With("sync.dispatcher." + trigger.Entity()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes the feed until the context is canceled or the feed closes.
// Blocking: run one goroutine per dispatcher.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.retries:
			d.deliver(ctx, p)
		case ev, ok := <-d.feed.Events():
			if !ok {
				d.drainRetries(ctx)
				return
			}
			d.deliver(ctx, pending{ev: ev, attempt: 1})
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, p pending) {
	sess, err := d.provider.Acquire(ctx)
	if err != nil {
		d.log.Error().Err(err).Str("id", p.ev.EntityID).Msg("acquire session")
		d.requeue(ctx, p)
		return
	}
	outcome := d.trigger.Apply(ctx, sess, p.ev)
	if err := sess.Release(); err != nil {
		d.log.Warn().Err(err).Msg("release session")
	}

	if outcome == OutcomeDeferred {
		d.requeue(ctx, p)
	}
}

// requeue schedules a redelivery unless the attempt budget is spent. The
// timer goroutine keeps Run free to process the events that unblock FKs.
func (d *Dispatcher) requeue(ctx context.Context, p pending) {
	if p.attempt >= d.maxAttempts {
		d.log.Warn().Str("id", p.ev.EntityID).Int("attempts", p.attempt).
			Msg("giving up on deferred event")
		obs.ObserveSyncEvent(d.trigger.Entity(), "abandoned", 0)
		return
	}
	next := pending{ev: p.ev, attempt: p.attempt + 1}
	delay := time.Duration(p.attempt) * d.retryDelay
	timer := time.AfterFunc(delay, func() {
		select {
		case d.retries <- next:
		case <-ctx.Done():
		}
	})
	// Stop the timer with the context so Run can exit promptly.
	context.AfterFunc(ctx, func() { timer.Stop() })
}

// drainRetries finishes in-flight redeliveries after the feed closed.
func (d *Dispatcher) drainRetries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.retries:
			d.deliver(ctx, p)
		case <-time.After(time.Duration(d.maxAttempts) * d.retryDelay):
			return
		}
	}
}
