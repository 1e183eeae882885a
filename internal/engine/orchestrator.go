package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

const (
	defaultDispatchTimeout = 10 * time.Second
	defaultShutdownGrace   = 5 * time.Second
	defaultStaleness       = 30 * time.Second
	resultBuffer           = 64
	recentLimit            = 50
)

// Config holds everything the orchestrator needs beyond its collaborators.
type Config struct {
	Policy          Policy
	StalenessBound  time.Duration
	DispatchTimeout time.Duration
	ShutdownGrace   time.Duration
	// StalenessCheck is the period of the staleness sweep. Zero uses a
	// quarter of StalenessBound.
	StalenessCheck time.Duration
}

// Result is the outcome of one dispatched intent.
type Result struct {
	Key     string
	Intent  domain.TradeIntent
	Ack     domain.OrderAck
	Err     error
	Latency time.Duration
}

// Recorder receives counters from the loop. Implementations must not block.
type Recorder interface {
	Observation(src domain.Source)
	DecodeError(src domain.Source)
	SequenceDiscard(src domain.Source)
	FeedEvent(src domain.Source, kind feed.EventKind)
	Trigger(dir domain.Direction)
	Execution(err error, latency time.Duration)
	Phase(p Phase)
}

// Hooks are optional callbacks invoked on the loop goroutine. They must
// return quickly.
type Hooks struct {
	OnObservation func(domain.PriceObservation)
	OnTrigger     func(domain.TradeIntent)
	OnResult      func(Result)
	OnPhase       func(from, to Phase)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithHooks installs callbacks.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rec = r
		}
	}
}

// Orchestrator multiplexes the two feeds, owns State, runs the detector and
// dispatches intents to the gateway without blocking the loop.
type Orchestrator struct {
	cfg       Config
	detector  *Detector
	reference <-chan feed.Event
	market    <-chan feed.Event
	decoders  [2]feed.Decoder
	gateway   domain.ExecutionGateway
	logger    *slog.Logger
	hooks     Hooks
	rec       Recorder
	now       func() time.Time

	// Loop-owned.
	state     State
	connected [2]bool
	needFresh [2]bool
	pending   int
	triggers  uint64
	failures  uint64
	recent    []IntentRecord

	results  chan Result
	abandon  chan struct{}
	snapshot atomic.Pointer[Snapshot]
}

// NewOrchestrator wires the loop. reference and market are the event streams
// of the two feeds; their decoders map frames to observations.
func NewOrchestrator(
	cfg Config,
	reference, market <-chan feed.Event,
	refDecoder, mktDecoder feed.Decoder,
	gateway domain.ExecutionGateway,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if cfg.StalenessBound <= 0 {
		cfg.StalenessBound = defaultStaleness
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.StalenessCheck <= 0 {
		cfg.StalenessCheck = cfg.StalenessBound / 4
	}

	o := &Orchestrator{
		cfg:       cfg,
		detector:  NewDetector(cfg.Policy),
		reference: reference,
		market:    market,
		decoders:  [2]feed.Decoder{refDecoder, mktDecoder},
		gateway:   gateway,
		logger:    logger.With(slog.String("component", "orchestrator")),
		rec:       nopRecorder{},
		now:       time.Now,
		results:   make(chan Result, resultBuffer),
		abandon:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state.Phase = PhaseConnecting
	o.publish()
	return o
}

// Snapshot returns the latest published copy of the engine state. It is safe
// to call from any goroutine.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snapshot.Load()
}

// Run processes feed events until ctx is cancelled or both feeds have closed.
// On exit it waits up to the shutdown grace for in-flight dispatches.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator started",
		slog.Float64("edge_threshold", o.cfg.Policy.Threshold),
		slog.Duration("cooldown", o.cfg.Policy.Cooldown),
		slog.Duration("staleness_bound", o.cfg.StalenessBound),
	)
	defer o.logger.Info("orchestrator stopped")

	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()

	ticker := time.NewTicker(o.cfg.StalenessCheck)
	defer ticker.Stop()

	ref, mkt := o.reference, o.market
	for {
		select {
		case <-ctx.Done():
			return o.shutdown(ctx.Err(), cancelDispatch)

		case ev, ok := <-ref:
			if !ok {
				ref = nil
				o.feedClosed(domain.SourceReference)
				if mkt == nil {
					return o.shutdown(nil, cancelDispatch)
				}
				continue
			}
			o.handle(dispatchCtx, domain.SourceReference, ev)

		case ev, ok := <-mkt:
			if !ok {
				mkt = nil
				o.feedClosed(domain.SourcePredictionMarket)
				if ref == nil {
					return o.shutdown(nil, cancelDispatch)
				}
				continue
			}
			o.handle(dispatchCtx, domain.SourcePredictionMarket, ev)

		case res := <-o.results:
			o.handleResult(res)

		case <-ticker.C:
			o.updatePhase()
			o.publish()
		}
	}
}

// handle applies one feed event to the state.
func (o *Orchestrator) handle(ctx context.Context, src domain.Source, ev feed.Event) {
	o.rec.FeedEvent(src, ev.Kind)

	switch ev.Kind {
	case feed.EventConnected:
		o.connected[src] = true
		if ev.Reconnect {
			o.needFresh[src] = true
		}
		o.logger.Info("feed connected",
			slog.String("source", src.String()),
			slog.Bool("reconnect", ev.Reconnect),
		)

	case feed.EventDisconnected:
		o.connected[src] = false
		o.needFresh[src] = true
		attrs := []any{slog.String("source", src.String())}
		if ev.Err != nil {
			attrs = append(attrs, slog.String("error", ev.Err.Error()))
		}
		o.logger.Warn("feed disconnected", attrs...)

	case feed.EventMessage:
		obs, ok, err := o.decoders[src].Decode(ev.Message)
		if err != nil {
			o.rec.DecodeError(src)
			o.logger.Warn("discarding undecodable message",
				slog.String("source", src.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			return
		}
		obs.Source = src
		o.apply(ctx, obs)
	}

	o.updatePhase()
	o.publish()
}

// apply validates and records an observation, running the detector for
// reference prices. It is evaluated against the phase in force before the
// observation arrived, so the first observation after a reconnect only
// re-establishes the baseline.
func (o *Orchestrator) apply(ctx context.Context, obs domain.PriceObservation) {
	src := obs.Source
	if last := o.state.last(src); last != nil && obs.Sequence <= last.Sequence {
		o.rec.SequenceDiscard(src)
		serr := &domain.SequenceError{Source: src, Last: last.Sequence, Got: obs.Sequence}
		o.logger.Debug("discarding out-of-order observation", slog.String("error", serr.Error()))
		return
	}
	if err := obs.Validate(); err != nil {
		o.rec.DecodeError(src)
		o.logger.Warn("discarding invalid observation", slog.String("error", err.Error()))
		return
	}

	o.rec.Observation(src)
	if o.hooks.OnObservation != nil {
		o.hooks.OnObservation(obs)
	}

	if src == domain.SourcePredictionMarket {
		o.state.LastMarketQuote = &obs
		o.needFresh[src] = false
		return
	}

	// Staleness is re-checked at this observation's arrival so a quote that
	// went stale between sweeps cannot back a trigger.
	o.updatePhase()
	prev := o.state.LastReferencePrice
	o.state.LastReferencePrice = &obs
	o.needFresh[src] = false

	intent, fire := o.detector.Evaluate(&o.state, prev, obs)
	if !fire {
		return
	}

	triggeredAt := intent.TriggeredAt
	o.state.LastTriggerAt = &triggeredAt
	o.state.OpenPosition = o.state.OpenPosition.Apply(intent)
	o.triggers++
	o.rec.Trigger(intent.Direction)
	if o.hooks.OnTrigger != nil {
		o.hooks.OnTrigger(intent)
	}

	o.logger.Info("edge detected",
		slog.String("direction", string(intent.Direction)),
		slog.Float64("relative_change", intent.Reason.RelativeChange),
		slog.Float64("price_before", intent.Reason.ReferencePriceBefore),
		slog.Float64("price_after", intent.Reason.ReferencePriceAfter),
		slog.Float64("size", intent.Size),
	)
	o.dispatch(ctx, intent)
}

// dispatch hands the intent to the gateway on its own goroutine. The result
// comes back through o.results.
func (o *Orchestrator) dispatch(ctx context.Context, intent domain.TradeIntent) {
	key := intent.IdempotencyKey()
	o.pending++
	o.remember(IntentRecord{Key: key, Intent: intent, Pending: true})

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
		defer cancel()

		start := time.Now()
		ack, err := o.gateway.PlaceOrder(callCtx, intent)
		if err != nil {
			var ee *domain.ExecutionError
			if !errors.As(err, &ee) {
				err = &domain.ExecutionError{IdempotencyKey: key, Direction: intent.Direction, Err: err}
			}
		}
		res := Result{Key: key, Intent: intent, Ack: ack, Err: err, Latency: time.Since(start)}

		select {
		case o.results <- res:
		case <-o.abandon:
		}
	}()
}

func (o *Orchestrator) handleResult(res Result) {
	o.pending--
	o.rec.Execution(res.Err, res.Latency)

	rec := IntentRecord{Key: res.Key, Intent: res.Intent, OrderID: res.Ack.OrderID}
	if res.Err != nil {
		o.failures++
		rec.Error = res.Err.Error()
		// Undo the optimistic position update.
		reverse := res.Intent
		if reverse.Direction == domain.DirectionLong {
			reverse.Direction = domain.DirectionShort
		} else {
			reverse.Direction = domain.DirectionLong
		}
		o.state.OpenPosition = o.state.OpenPosition.Apply(reverse)

		o.logger.Error("execution failed",
			slog.String("idempotency_key", res.Key),
			slog.String("direction", string(res.Intent.Direction)),
			slog.Duration("latency", res.Latency),
			slog.String("error", res.Err.Error()),
		)
	} else {
		o.logger.Info("execution accepted",
			slog.String("idempotency_key", res.Key),
			slog.String("order_id", res.Ack.OrderID),
			slog.String("status", string(res.Ack.Status)),
			slog.Duration("latency", res.Latency),
		)
	}
	o.remember(rec)

	if o.hooks.OnResult != nil {
		o.hooks.OnResult(res)
	}
	o.publish()
}

// remember inserts or replaces rec in the recent ring, newest first.
func (o *Orchestrator) remember(rec IntentRecord) {
	for i := range o.recent {
		if o.recent[i].Key == rec.Key {
			o.recent[i] = rec
			return
		}
	}
	o.recent = append([]IntentRecord{rec}, o.recent...)
	if len(o.recent) > recentLimit {
		o.recent = o.recent[:recentLimit]
	}
}

func (o *Orchestrator) feedClosed(src domain.Source) {
	o.connected[src] = false
	o.needFresh[src] = true
	o.logger.Warn("feed stream closed", slog.String("source", src.String()))
	o.updatePhase()
	o.publish()
}

// healthy reports whether src is connected, has an observation younger than
// the staleness bound, and has delivered one since its last reconnect.
func (o *Orchestrator) healthy(src domain.Source, now time.Time) bool {
	last := o.state.last(src)
	return o.connected[src] && !o.needFresh[src] && last != nil && last.Age(now) <= o.cfg.StalenessBound
}

func (o *Orchestrator) updatePhase() {
	now := o.now()
	ok := o.healthy(domain.SourceReference, now) && o.healthy(domain.SourcePredictionMarket, now)

	switch o.state.Phase {
	case PhaseConnecting:
		if ok {
			o.setPhase(PhaseStreaming)
		}
	case PhaseStreaming:
		if !ok {
			o.setPhase(PhaseDegraded)
		}
	case PhaseDegraded:
		if ok {
			o.setPhase(PhaseStreaming)
		}
	}
}

func (o *Orchestrator) setPhase(p Phase) {
	from := o.state.Phase
	if from == p {
		return
	}
	o.state.Phase = p
	o.rec.Phase(p)
	o.logger.Info("phase changed",
		slog.String("from", from.String()),
		slog.String("to", p.String()),
	)
	if o.hooks.OnPhase != nil {
		o.hooks.OnPhase(from, p)
	}
}

// shutdown stops intake and drains in-flight dispatches for at most the
// grace period. Calls still running after that are cancelled and their
// results dropped.
func (o *Orchestrator) shutdown(cause error, cancelDispatch context.CancelFunc) error {
	o.setPhase(PhaseShuttingDown)
	o.publish()

	if o.pending > 0 {
		o.logger.Info("draining in-flight executions", slog.Int("pending", o.pending))
	}

	grace := time.NewTimer(o.cfg.ShutdownGrace)
	defer grace.Stop()
	for o.pending > 0 {
		select {
		case res := <-o.results:
			o.handleResult(res)
		case <-grace.C:
			o.logger.Warn("abandoning in-flight executions", slog.Int("pending", o.pending))
			cancelDispatch()
			close(o.abandon)
			return cause
		}
	}
	return cause
}

func (o *Orchestrator) publish() {
	recent := make([]IntentRecord, len(o.recent))
	copy(recent, o.recent)
	o.snapshot.Store(&Snapshot{
		Phase:              o.state.Phase.String(),
		Reference:          copyObs(o.state.LastReferencePrice),
		Market:             copyObs(o.state.LastMarketQuote),
		ReferenceConnected: o.connected[domain.SourceReference],
		MarketConnected:    o.connected[domain.SourcePredictionMarket],
		LastTriggerAt:      copyTime(o.state.LastTriggerAt),
		OpenPosition:       copyPosition(o.state.OpenPosition),
		InFlight:           o.pending,
		Triggers:           o.triggers,
		ExecutionFailures:  o.failures,
		RecentIntents:      recent,
		UpdatedAt:          o.now(),
	})
}

type nopRecorder struct{}

func (nopRecorder) Observation(domain.Source) {}
func (nopRecorder) DecodeError(domain.Source) {}
func (nopRecorder) SequenceDiscard(domain.Source) {}
func (nopRecorder) FeedEvent(domain.Source, feed.EventKind) {}
func (nopRecorder) Trigger(domain.Direction) {}
func (nopRecorder) Execution(error, time.Duration) {}
func (nopRecorder) Phase(Phase) {}
