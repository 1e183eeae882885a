package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/engine"
)

// Alert event types accepted in the notify.events filter.
const (
	EventTrigger         = "trigger"
	EventExecutionFailed = "execution_failed"
	EventDegraded        = "degraded"
	EventLifecycle       = "lifecycle"
)

const (
	alertBuffer  = 64
	alertTimeout = 15 * time.Second
)

type alert struct {
	event, title, message string
}

// Alerts turns engine callbacks into notifications. Its methods are called
// from the orchestrator loop, so they only enqueue; Run does the sending. A
// full queue drops the alert.
type Alerts struct {
	notifier *Notifier
	queue    chan alert
	logger   *slog.Logger
}

// NewAlerts creates Alerts on top of n.
func NewAlerts(n *Notifier, logger *slog.Logger) *Alerts {
	return &Alerts{
		notifier: n,
		queue:    make(chan alert, alertBuffer),
		logger:   logger.With(slog.String("component", "alerts")),
	}
}

// Trigger reports a dispatched intent.
func (a *Alerts) Trigger(in domain.TradeIntent) {
	a.enqueue(EventTrigger, "Edge trigger: "+string(in.Direction), FormatTrigger(in))
}

// Result reports failed executions. Successes are not alerted.
func (a *Alerts) Result(res engine.Result) {
	if res.Err == nil {
		return
	}
	title := "Execution failed"
	if errors.Is(res.Err, domain.ErrRateLimited) || errors.Is(res.Err, domain.ErrNotionalLimit) || errors.Is(res.Err, domain.ErrDuplicateIntent) {
		title = "Execution rejected"
	}
	a.enqueue(EventExecutionFailed, title, fmt.Sprintf("%s %s (key %s)\n%v",
		res.Intent.Direction, formatSize(res.Intent.Size), res.Key, res.Err))
}

// Phase reports entering and leaving the degraded phase.
func (a *Alerts) Phase(from, to engine.Phase) {
	switch {
	case to == engine.PhaseDegraded:
		a.enqueue(EventDegraded, "Engine degraded", "Triggers suspended: a feed is disconnected or stale.")
	case from == engine.PhaseDegraded && to == engine.PhaseStreaming:
		a.enqueue(EventDegraded, "Engine recovered", "Both feeds are live again; triggers resumed.")
	}
}

// Lifecycle reports process start and stop.
func (a *Alerts) Lifecycle(title, message string) {
	a.enqueue(EventLifecycle, title, message)
}

func (a *Alerts) enqueue(event, title, message string) {
	if !a.notifier.Enabled() {
		return
	}
	select {
	case a.queue <- alert{event: event, title: title, message: message}:
	default:
		a.logger.Warn("alert queue full, dropping", slog.String("event", event))
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes what is
// already queued.
func (a *Alerts) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return ctx.Err()
		case al := <-a.queue:
			a.send(ctx, al)
		}
	}
}

func (a *Alerts) flush() {
	ctx := context.Background()
	for {
		select {
		case al := <-a.queue:
			a.send(ctx, al)
		default:
			return
		}
	}
}

func (a *Alerts) send(ctx context.Context, al alert) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	// Sender errors are already logged by the notifier.
	_ = a.notifier.Notify(ctx, al.event, al.title, al.message)
}

// FormatTrigger renders the evidence behind an intent.
func FormatTrigger(in domain.TradeIntent) string {
	msg := fmt.Sprintf("%s %s\nreference %.2f -> %.2f (%+.3f%%)\nat %s",
		in.Direction, formatSize(in.Size),
		in.Reason.ReferencePriceBefore, in.Reason.ReferencePriceAfter,
		in.Reason.RelativeChange*100,
		in.TriggeredAt.UTC().Format(time.RFC3339Nano))
	if in.Reason.MarketQuote != nil {
		msg += fmt.Sprintf("\nmarket quote %.4f", *in.Reason.MarketQuote)
	}
	return msg
}

func formatSize(size float64) string {
	return fmt.Sprintf("size=%g", size)
}
