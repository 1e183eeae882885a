package app

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/latencybot/internal/config"
	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/executor"
)

// buildGateway assembles the execution path. Decorators are listed
// outermost first; the audit wrapper therefore records rejections too.
func buildGateway(cfg *config.Config, deps *Dependencies, dedup *executor.Dedup, logger *slog.Logger) domain.ExecutionGateway {
	var base domain.ExecutionGateway
	if cfg.DryRun || deps.SignalBus == nil {
		base = executor.NewDryRun(logger)
	} else {
		base = executor.NewBusGateway(deps.SignalBus, cfg.Redis.IntentStream, logger)
	}

	var mws []executor.Middleware
	if store := deps.AuditStore; store != nil {
		mws = append(mws, executor.Audited(store, logger))
	}
	mws = append(mws,
		executor.Deduplicated(dedup, logger),
		executor.RateLimited(deps.RateLimiter, cfg.Limits.MaxTradesPerMinute, time.Minute, logger),
		executor.NotionalCap(cfg.Limits.MaxNotionalPerTrade),
	)
	return executor.Chain(base, mws...)
}
