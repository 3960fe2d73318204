// Package dispatch is the asynchronous delivery substrate of the command
// pipeline. It hands appended events to subscribed handlers with
// at-least-once semantics: deliveries are retried with exponential backoff,
// per-aggregate-type concurrency is bounded, and a sweep at boot re-enqueues
// events that were appended but never delivered before a crash.
package dispatch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// Handler consumes events for a subscription.
type Handler interface {
	// Name identifies the handler in logs.
	Name() string

	// Handle processes one event. Handlers must be idempotent: the
	// dispatcher delivers at least once, never exactly once.
	Handle(ctx context.Context, event *models.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, event *models.Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, event *models.Event) error {
	return h.Fn(ctx, event)
}

// RetryConfig configures redelivery of failed handler calls.
type RetryConfig struct {
	MaxAttempts    int           // Total delivery attempts per handler (>= 1)
	InitialBackoff time.Duration // First retry delay
	MaxBackoff     time.Duration // Backoff cap
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns sensible defaults: 5 attempts with 2s, 4s, 8s,
// 16s backoff (capped at 30s).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// subscription binds a handler to a phase and an optional aggregate type
// ("" matches every aggregate).
type subscription struct {
	phase         string
	aggregateType string
	handler       Handler
}

// Dispatcher fans appended events out to subscribed handlers.
type Dispatcher struct {
	mu   sync.Mutex
	subs []subscription

	store       events.Store
	retryConfig RetryConfig
	stepTimeout time.Duration
	limiter     *aggregateLimiter

	// onExhausted is invoked when every attempt for a delivery has failed.
	// Used to append the terminal .failed audit event.
	onExhausted func(event *models.Event, err error)

	queue  chan *models.Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) Option {
	return func(d *Dispatcher) {
		if config.MaxAttempts > 0 {
			d.retryConfig = config
		}
	}
}

// WithStepTimeout sets the per-delivery deadline.
func WithStepTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.stepTimeout = timeout
		}
	}
}

// WithMaxConcurrentPerAggregate bounds in-flight deliveries per aggregate type.
func WithMaxConcurrentPerAggregate(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limiter = newAggregateLimiter(n)
		}
	}
}

// WithOnExhausted sets the callback invoked after all delivery attempts fail.
func WithOnExhausted(fn func(event *models.Event, err error)) Option {
	return func(d *Dispatcher) {
		d.onExhausted = fn
	}
}

// New creates a dispatcher over the given event store.
func New(store events.Store, logger *zap.Logger, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:       store,
		retryConfig: DefaultRetryConfig(),
		stepTimeout: 30 * time.Second,
		limiter:     newAggregateLimiter(10),
		queue:       make(chan *models.Event, 1024),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("dispatcher"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe binds a handler to events of one phase, optionally narrowed to
// one aggregate type. Must be called before Start.
func (d *Dispatcher) Subscribe(phase, aggregateType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, subscription{phase: phase, aggregateType: aggregateType, handler: handler})
}

// Enqueue hands an event to the dispatcher. It never blocks the caller: the
// append path must not stall on a busy queue.
func (d *Dispatcher) Enqueue(event *models.Event) {
	select {
	case d.queue <- event:
	default:
		// Queue full; take the slow path off the caller's goroutine.
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case d.queue <- event:
			case <-d.ctx.Done():
			}
		}()
	}
}

// Start launches the dispatch loop and sweeps undelivered events from the
// store so work interrupted by a crash is redelivered.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()

	d.sweep()
}

// Stop cancels in-flight deliveries and waits for goroutines to finish.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// sweep re-enqueues events that were appended but never dispatched.
func (d *Dispatcher) sweep() {
	ctx, cancelFn := context.WithTimeout(d.ctx, d.stepTimeout)
	defer cancelFn()

	pending, err := d.store.ListUndispatched(ctx, 0)
	if err != nil {
		d.logger.Error("Failed to sweep undispatched events", zap.Error(err))
		return
	}

	if len(pending) > 0 {
		d.logger.Info("Re-enqueueing undelivered events", zap.Int("count", len(pending)))
	}
	for _, event := range pending {
		d.Enqueue(event)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event := <-d.queue:
			d.dispatch(event)
		}
	}
}

// dispatch fans one event out to every matching subscription. Each delivery
// acquires a per-aggregate-type slot before running, bounding load on the
// backing store without strict locking: idempotent handlers tolerate the
// rare concurrent redelivery.
func (d *Dispatcher) dispatch(event *models.Event) {
	typ, err := event.ParsedType()
	if err != nil {
		d.logger.Warn("Skipping event with unparseable type",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.Type),
			zap.Error(err))
		return
	}

	d.mu.Lock()
	matching := make([]subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if sub.phase != typ.Phase {
			continue
		}
		if sub.aggregateType != "" && sub.aggregateType != event.AggregateType {
			continue
		}
		matching = append(matching, sub)
	}
	d.mu.Unlock()

	if len(matching) == 0 {
		d.markDispatched(event)
		return
	}

	var deliveries sync.WaitGroup
	for _, sub := range matching {
		deliveries.Add(1)
		d.wg.Add(1)
		go func(sub subscription) {
			defer d.wg.Done()
			defer deliveries.Done()

			release := d.limiter.acquire(d.ctx, event.AggregateType)
			if release == nil {
				return // shutting down
			}
			defer release()

			d.deliver(sub, event)
		}(sub)
	}

	// Mark only after every delivery has run to completion, success or
	// exhausted retries with a .failed record. A crash before that leaves
	// dispatched_at NULL and the boot sweep redelivers; marking up front
	// would lose the event for good.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		deliveries.Wait()
		if d.ctx.Err() != nil {
			// Shut down mid-delivery: leave the event for the next sweep.
			return
		}
		d.markDispatched(event)
	}()
}

// markDispatched records delivery bookkeeping on the event row.
func (d *Dispatcher) markDispatched(event *models.Event) {
	ctx, cancelFn := context.WithTimeout(d.ctx, d.stepTimeout)
	defer cancelFn()

	if err := d.store.MarkDispatched(ctx, event.ID); err != nil {
		// The sweep may redeliver; handlers are idempotent.
		d.logger.Warn("Failed to mark event dispatched",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	}
}

// deliver runs one handler against one event with bounded retries.
func (d *Dispatcher) deliver(sub subscription, event *models.Event) {
	var lastErr error

	for attempt := 1; attempt <= d.retryConfig.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.calculateBackoff(attempt)
			d.logger.Info("Retrying delivery after backoff",
				zap.String("handler", sub.handler.Name()),
				zap.String("event_id", event.ID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			select {
			case <-d.ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		ctx, cancelFn := context.WithTimeout(d.ctx, d.stepTimeout)
		err := sub.handler.Handle(ctx, event)
		cancelFn()

		if err == nil {
			return
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return
		}

		d.logger.Warn("Delivery attempt failed",
			zap.String("handler", sub.handler.Name()),
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.Type),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	d.logger.Error("Delivery failed after max attempts",
		zap.String("handler", sub.handler.Name()),
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.Type),
		zap.Int("max_attempts", d.retryConfig.MaxAttempts),
		zap.Error(lastErr))

	if d.onExhausted != nil {
		d.onExhausted(event, lastErr)
	}
}

// calculateBackoff computes the backoff duration for a retry attempt.
// Uses exponential backoff with jitter.
func (d *Dispatcher) calculateBackoff(attempt int) time.Duration {
	backoff := float64(d.retryConfig.InitialBackoff) *
		math.Pow(d.retryConfig.BackoffFactor, float64(attempt-2))

	if backoff > float64(d.retryConfig.MaxBackoff) {
		backoff = float64(d.retryConfig.MaxBackoff)
	}

	// Add jitter (±10%) to prevent thundering herd
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}
