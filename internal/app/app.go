// Package app wires the feeds, the engine and the optional infrastructure
// together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/latencybot/internal/blob/s3"
	"github.com/alanyoungcy/latencybot/internal/cache/redis"
	"github.com/alanyoungcy/latencybot/internal/config"
	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/engine"
	"github.com/alanyoungcy/latencybot/internal/executor"
	"github.com/alanyoungcy/latencybot/internal/metrics"
	"github.com/alanyoungcy/latencybot/internal/notify"
	"github.com/alanyoungcy/latencybot/internal/server"
	"github.com/alanyoungcy/latencybot/internal/server/handler"
	"github.com/alanyoungcy/latencybot/internal/server/ws"
)

const (
	serverShutdownTimeout = 5 * time.Second
	lifecycleTimeout      = 3 * time.Second
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires every enabled dependency, starts the engine and its satellites,
// and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Bool("dry_run", a.cfg.DryRun),
		slog.String("reference_venue", a.cfg.Reference.Venue),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.run(ctx, deps)
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	startedAt := time.Now().UTC()

	// Only one engine may trade at a time.
	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, cfg.Redis.LockKey, cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: engine lease: %w", err)
		}
		a.closers = append(a.closers, release)
	}

	feeds, err := buildFeeds(cfg, a.logger)
	if err != nil {
		return err
	}

	var sched *s3blob.Schedule
	if cfg.S3.ArchiveCron != "" {
		s, err := s3blob.ParseSchedule(cfg.S3.ArchiveCron)
		if err != nil {
			return fmt.Errorf("app: s3.archive_cron: %w", err)
		}
		sched = &s
	}

	dedup := executor.NewDedup(cfg.Limits.DedupTTL.Duration)
	gateway := buildGateway(cfg, deps, dedup, a.logger)
	recorder := metrics.New(nil)
	alerts := notify.NewAlerts(deps.Notifier, a.logger)

	var mirror *redis.Mirror
	if deps.PriceCache != nil {
		mirror = redis.NewMirror(deps.PriceCache, deps.SignalBus, cfg.Redis.ObservationCh, map[domain.Source]string{
			domain.SourceReference:        strings.ToLower(cfg.Reference.Venue) + ":" + cfg.Reference.Symbol,
			domain.SourcePredictionMarket: "polymarket:" + cfg.Market.AssetID,
		}, a.logger)
	}

	var orch *engine.Orchestrator
	var hub *ws.Hub
	if cfg.Server.Enabled {
		hub = ws.NewHub(ws.Config{
			Bus:                deps.SignalBus,
			ObservationChannel: cfg.Redis.ObservationCh,
			Snapshot:           func() any { return orch.Snapshot() },
		}, a.logger)
	}

	orch = engine.NewOrchestrator(
		engineConfig(cfg),
		feeds.reference.Events(), feeds.market.Events(),
		feeds.referenceDecoder, feeds.marketDecoder,
		gateway,
		a.logger,
		engine.WithHooks(newHooks(mirror, alerts, hub)),
		engine.WithRecorder(recorder),
	)

	g, ctx := errgroup.WithContext(ctx)

	if deps.LockManager != nil {
		g.Go(func() error {
			return keepLease(ctx, deps.LockManager, cfg.Redis.LockKey, cfg.Redis.LockTTL.Duration, a.logger)
		})
	}
	g.Go(func() error { return feeds.reference.Run(ctx) })
	g.Go(func() error { return feeds.market.Run(ctx) })
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return dedup.Run(ctx, dedupSweep(cfg.Limits.DedupTTL.Duration)) })
	g.Go(func() error { return alerts.Run(ctx) })

	if mirror != nil {
		g.Go(func() error { return mirror.Run(ctx) })
	}

	if deps.BlobWriter != nil && deps.AuditStore != nil {
		retention := time.Duration(cfg.S3.ArchiveRetentionDays) * 24 * time.Hour
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.AuditStore, deps.AuditPruner, retention, a.logger)
		if sched != nil {
			g.Go(func() error { return archiver.RunCron(ctx, *sched) })
		} else {
			g.Go(func() error { return archiver.Run(ctx, cfg.S3.ArchiveInterval.Duration) })
		}
	}

	if cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, hub, recorder, startedAt)
	}

	lifecycle := fmt.Sprintf("reference %s %s, market %s, dry_run=%t",
		cfg.Reference.Venue, cfg.Reference.Symbol, cfg.Market.AssetID, cfg.DryRun)
	a.auditLifecycle(ctx, deps, domain.AuditEngineStarted, map[string]any{
		"reference_venue": cfg.Reference.Venue,
		"symbol":          cfg.Reference.Symbol,
		"market_asset_id": cfg.Market.AssetID,
		"dry_run":         cfg.DryRun,
	})
	alerts.Lifecycle("Engine started", lifecycle)

	err = g.Wait()

	snap := orch.Snapshot()
	a.auditLifecycle(ctx, deps, domain.AuditEngineStopped, map[string]any{
		"triggers":           snap.Triggers,
		"execution_failures": snap.ExecutionFailures,
		"uptime_seconds":     int64(time.Since(startedAt).Seconds()),
	})
	a.notifyStopped(ctx, deps.Notifier, snap, err)
	return err
}

func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	orch *engine.Orchestrator,
	hub *ws.Hub,
	recorder *metrics.Metrics,
	startedAt time.Time,
) {
	cfg := a.cfg
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(orch, handler.StatusInfo{
			DryRun:         cfg.DryRun,
			ReferenceVenue: cfg.Reference.Venue,
			Symbol:         cfg.Reference.Symbol,
			MarketAssetID:  cfg.Market.AssetID,
			EdgeThreshold:  cfg.Engine.EdgeThreshold,
			Cooldown:       cfg.Engine.Cooldown.Duration,
			StalenessBound: cfg.Engine.StalenessBound.Duration,
			StartedAt:      startedAt,
		}),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.logger),
		Metrics: recorder.Handler(),
	}
	srv := server.NewServer(server.Config{
		Port:            cfg.Server.Port,
		CORSOrigins:     cfg.Server.CORSOrigins,
		APIKey:          cfg.Server.APIKey,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Policy: engine.Policy{
			Threshold:   cfg.Engine.EdgeThreshold,
			Cooldown:    cfg.Engine.Cooldown.Duration,
			OrderSize:   cfg.Engine.OrderSize,
			MaxPosition: cfg.Engine.MaxPosition,
			YesIsUpside: cfg.Engine.YesIsUpside,
		},
		StalenessBound:  cfg.Engine.StalenessBound.Duration,
		DispatchTimeout: cfg.Engine.DispatchTimeout.Duration,
		ShutdownGrace:   cfg.Engine.ShutdownGrace.Duration,
	}
}

func dedupSweep(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > time.Second {
		return d
	}
	return time.Second
}

// leaseExtender is satisfied by *redis.LockManager.
type leaseExtender interface {
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// keepLease renews the engine lease every third of its TTL. Losing the lease
// to another instance stops the process; transient Redis errors are retried
// on the next tick.
func keepLease(ctx context.Context, lm leaseExtender, key string, ttl time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := lm.Extend(ctx, key, ttl)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrNotFound):
				return fmt.Errorf("app: engine lease lost: %w", err)
			default:
				logger.WarnContext(ctx, "engine lease renewal failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *App) auditLifecycle(ctx context.Context, deps *Dependencies, event string, detail map[string]any) {
	store := deps.AuditStore
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lifecycleTimeout)
	defer cancel()
	if err := store.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notifyStopped sends directly because the alert queue has already drained.
func (a *App) notifyStopped(ctx context.Context, n *notify.Notifier, snap engine.Snapshot, cause error) {
	if !n.Enabled() {
		return
	}
	msg := fmt.Sprintf("triggers=%d failures=%d", snap.Triggers, snap.ExecutionFailures)
	if cause != nil && !errors.Is(cause, context.Canceled) {
		msg += "\n" + cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lifecycleTimeout)
	defer cancel()
	_ = n.Notify(ctx, notify.EventLifecycle, "Engine stopped", msg)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
