package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/stats"
	"github.com/xraph/courier/token"
)

const instrumentationName = "github.com/xraph/courier"

// markTimeout bounds the final MarkProcessed call, which runs even after a
// forced shutdown.
const markTimeout = 5 * time.Second

// errUndelivered marks an intent whose recipient had tokens but none
// accepted the message.
var errUndelivered = errors.New("no token accepted the message")

// State is the engine lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine is one dispatch worker. Any number of engines may share a queue
// store; the store's claim is the only coordination between them.
type Engine struct {
	queue      intent.Store
	directory  token.Directory
	dispatcher *delivery.Dispatcher

	config   courier.Config
	logger   *slog.Logger
	stats    *stats.Accumulator
	bo       backoff.Strategy
	mws      []mw.Middleware
	exts     []ext.Extension
	hooks    *ext.Registry
	chain    mw.Middleware
	tracer   trace.Tracer
	workerID id.WorkerID

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu          sync.Mutex
	state       State
	stopLoop    context.CancelFunc
	cancelItems context.CancelFunc
	done        chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Validate it first; New does
// not.
func WithConfig(cfg courier.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStats injects the accumulator the engine writes. Readers (the HTTP
// surface, the health report) should hold the same accumulator.
func WithStats(acc *stats.Accumulator) Option {
	return func(e *Engine) { e.stats = acc }
}

// WithMiddleware appends middleware after the default chain
// (recover, tracing, metrics, logging, timeout).
func WithMiddleware(m ...mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m...) }
}

// WithExtension registers a lifecycle extension. Extensions are notified
// in registration order.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.exts = append(e.exts, x) }
}

// WithBackoff sets the sleep strategy after queue store errors. The default
// is exponential from PollInterval capped at MaxBackoff.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithTracerProvider sets the OTel TracerProvider. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider for the metrics
// middleware. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New creates a stopped Engine.
func New(queue intent.Store, directory token.Directory, dispatcher *delivery.Dispatcher, opts ...Option) (*Engine, error) {
	if queue == nil {
		return nil, courier.ErrNoStore
	}
	if directory == nil {
		return nil, courier.ErrNoDirectory
	}
	if dispatcher == nil {
		return nil, courier.ErrNoTransport
	}

	e := &Engine{
		queue:      queue,
		directory:  directory,
		dispatcher: dispatcher,
		config:     courier.DefaultConfig(),
		logger:     slog.Default(),
		workerID:   id.NewWorkerID(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.stats == nil {
		e.stats = stats.New()
	}
	if e.bo == nil {
		e.bo = backoff.NewExponential(e.config.PollInterval, e.config.MaxBackoff)
	}

	e.hooks = ext.NewRegistry(e.logger)
	for _, x := range e.exts {
		e.hooks.Register(x)
	}

	tp := e.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	e.tracer = tp.Tracer(instrumentationName)

	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	chain := []mw.Middleware{
		mw.Recover(e.logger),
		mw.TracingWithTracer(e.tracer),
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.config.ItemTimeout),
	}
	e.chain = mw.Chain(append(chain, e.mws...)...)

	return e, nil
}

// WorkerID identifies this engine in logs.
func (e *Engine) WorkerID() id.WorkerID { return e.workerID }

// State reports the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() stats.Snapshot { return e.stats.Snapshot() }

// Start runs a reclaim sweep and launches the poll loop. It returns once
// the engine is Running. A failed sweep is logged; the periodic sweep
// retries it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStopped {
		return courier.ErrAlreadyRunning
	}

	if n, err := e.queue.ReclaimStuck(ctx, e.config.ClaimTimeout); err != nil {
		e.logger.Warn("startup reclaim failed",
			slog.String("worker_id", e.workerID.String()),
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		e.stats.RecordReclaimed(n)
		e.logger.Info("startup reclaim returned stuck intents",
			slog.String("worker_id", e.workerID.String()),
			slog.Int64("count", n),
		)
	}

	// The loop and the items outlive ctx; only Stop ends them.
	base := context.WithoutCancel(ctx)
	loopCtx, stopLoop := context.WithCancel(base)
	itemCtx, cancelItems := context.WithCancel(base)

	e.stopLoop = stopLoop
	e.cancelItems = cancelItems
	e.done = make(chan struct{})
	e.state = StateRunning
	e.stats.RecordStart(time.Now().UTC())

	e.logger.Info("engine started",
		slog.String("worker_id", e.workerID.String()),
		slog.Int("batch_size", e.config.BatchSize),
		slog.Duration("poll_interval", e.config.PollInterval),
	)

	go e.loop(loopCtx, itemCtx, e.done)
	return nil
}

// Stop drains the engine: no new batch is claimed and the in-flight batch
// gets until ctx's deadline (or Config.ShutdownTimeout when ctx has none)
// to settle. Past the grace period in-flight deliveries are cancelled,
// their intents are still marked processed, and ErrDrainTimeout is
// returned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return courier.ErrNotRunning
	}
	e.state = StateDraining
	stopLoop, cancelItems, done := e.stopLoop, e.cancelItems, e.done
	e.mu.Unlock()

	e.logger.Info("engine draining", slog.String("worker_id", e.workerID.String()))
	stopLoop()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancel()
	}

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("drain grace period exceeded, cancelling in-flight deliveries",
			slog.String("worker_id", e.workerID.String()),
		)
		cancelItems()
		<-done
		err = courier.ErrDrainTimeout
	}
	cancelItems()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("engine stopped", slog.String("worker_id", e.workerID.String()))
	e.hooks.EmitShutdown(context.WithoutCancel(ctx))
	return err
}

// Run starts the engine, blocks until ctx is cancelled, then drains it
// within Config.ShutdownTimeout.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ShutdownTimeout)
	defer cancel()
	return e.Stop(stopCtx)
}

// loop is the single sequential driver: claim, settle the batch, sleep.
func (e *Engine) loop(ctx, itemCtx context.Context, done chan<- struct{}) {
	defer close(done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		wait := e.config.PollInterval
		if err := e.cycle(ctx, itemCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			e.stats.RecordStoreError()
			// Delay(1) is the poll interval, so the first failure doubles it.
			wait = e.bo.Delay(failures + 1)
			e.logger.Warn("poll cycle failed, backing off",
				slog.String("worker_id", e.workerID.String()),
				slog.Int("consecutive_failures", failures),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle claims one batch and waits for every item to settle. Only a claim
// error is returned; item outcomes go to the stats accumulator.
func (e *Engine) cycle(ctx, itemCtx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "courier.engine.cycle",
		trace.WithAttributes(attribute.String("courier.worker.id", e.workerID.String())),
	)
	defer span.End()

	batch, err := e.queue.ClaimBatch(ctx, e.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("claim batch: %w", err)
	}
	e.stats.RecordCycle(len(batch), time.Now().UTC())
	span.SetAttributes(attribute.Int("courier.batch.size", len(batch)))
	if len(batch) == 0 {
		return nil
	}

	e.logger.Debug("claimed batch",
		slog.String("worker_id", e.workerID.String()),
		slog.Int("count", len(batch)),
	)

	// Items inherit the cycle span without its cancellation.
	itemCtx = trace.ContextWithSpan(itemCtx, span)

	var g errgroup.Group
	g.SetLimit(len(batch))
	for _, in := range batch {
		g.Go(func() error {
			e.process(itemCtx, in)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// process delivers one intent and marks it processed regardless of the
// delivery outcome.
func (e *Engine) process(ctx context.Context, in *intent.Intent) {
	var (
		item  stats.Item
		res   delivery.Result
		start = time.Now()
	)

	deliverErr := e.chain(ctx, in, func(ctx context.Context) error {
		return e.deliver(ctx, in, &item, &res)
	})
	if deliverErr != nil {
		item.Failed = true
	}
	elapsed := time.Since(start)

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	marked, err := e.queue.MarkProcessed(markCtx, in.ID)
	switch {
	case err != nil:
		// The claim stays; the reclaim sweep will surface the intent again.
		e.logger.Error("mark processed failed",
			slog.String("intent_id", in.ID.String()),
			slog.String("error", err.Error()),
		)
	case !marked:
		e.logger.Debug("intent already processed",
			slog.String("intent_id", in.ID.String()),
		)
	default:
		item.Processed = true
	}

	e.stats.RecordItem(item)
	if item.Processed {
		e.notify(markCtx, in, item, res, deliverErr, elapsed)
	}
}

// notify reports a settled intent to the extensions.
func (e *Engine) notify(ctx context.Context, in *intent.Intent, item stats.Item, res delivery.Result, err error, elapsed time.Duration) {
	if item.TokensDeactivated > 0 {
		e.hooks.EmitTokensDeactivated(ctx, in.UserID, res.InvalidTokenIDs)
	}
	switch {
	case item.Failed:
		e.hooks.EmitIntentFailed(ctx, in, err)
	case item.Skipped:
		e.hooks.EmitIntentSkipped(ctx, in)
	default:
		e.hooks.EmitIntentDelivered(ctx, in, res, elapsed)
	}
}

// deliver is the middleware-wrapped delivery step.
func (e *Engine) deliver(ctx context.Context, in *intent.Intent, item *stats.Item, out *delivery.Result) error {
	tokens, err := e.directory.ActiveTokensFor(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("lookup tokens for %s: %w", in.UserID, err)
	}
	if len(tokens) == 0 {
		item.Skipped = true
		return nil
	}

	res := e.dispatcher.Dispatch(ctx, in, tokens)
	*out = res
	item.Delivered = res.Delivered
	item.DeliveryFailures = res.Failed

	var deactivateErr error
	if len(res.InvalidTokenIDs) > 0 {
		n, err := e.directory.Deactivate(ctx, res.InvalidTokenIDs)
		if err != nil {
			deactivateErr = fmt.Errorf("deactivate %d tokens: %w", len(res.InvalidTokenIDs), err)
		} else {
			item.TokensDeactivated = int(n)
		}
	}

	if res.Delivered == 0 {
		return errors.Join(errUndelivered, deactivateErr)
	}
	return deactivateErr
}
