package app

import (
	"time"

	"github.com/alanyoungcy/latencybot/internal/cache/redis"
	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/engine"
	"github.com/alanyoungcy/latencybot/internal/notify"
	"github.com/alanyoungcy/latencybot/internal/server/ws"
)

// resultView is the wire form of an engine.Result.
type resultView struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Intent         domain.TradeIntent `json:"intent"`
	OrderID        string             `json:"order_id,omitempty"`
	Status         string             `json:"status,omitempty"`
	DryRun         bool               `json:"dry_run"`
	Error          string             `json:"error,omitempty"`
	LatencyMs      int64              `json:"latency_ms"`
}

func newResultView(res engine.Result) resultView {
	v := resultView{
		IdempotencyKey: res.Key,
		Intent:         res.Intent,
		OrderID:        res.Ack.OrderID,
		Status:         string(res.Ack.Status),
		DryRun:         res.Ack.DryRun,
		LatencyMs:      res.Latency.Milliseconds(),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

type phaseChange struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// newHooks fans orchestrator callbacks out to the mirror, alerts and the
// websocket hub. Every target only enqueues. mirror and hub may be nil.
func newHooks(mirror *redis.Mirror, alerts *notify.Alerts, hub *ws.Hub) engine.Hooks {
	h := engine.Hooks{
		OnTrigger: func(in domain.TradeIntent) {
			alerts.Trigger(in)
			if hub != nil {
				hub.Publish(ws.TypeIntent, in)
			}
		},
		OnResult: func(res engine.Result) {
			alerts.Result(res)
			if hub != nil {
				hub.Publish(ws.TypeResult, newResultView(res))
			}
		},
		OnPhase: func(from, to engine.Phase) {
			alerts.Phase(from, to)
			if hub != nil {
				hub.Publish(ws.TypePhase, phaseChange{From: from.String(), To: to.String(), At: time.Now().UTC()})
			}
		},
	}
	if mirror != nil {
		h.OnObservation = mirror.Offer
	}
	return h
}
