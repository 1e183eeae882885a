package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/latencybot/internal/config"
	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/report"
	"github.com/alanyoungcy/latencybot/internal/store/postgres"
)

// runAudit implements `latencybot audit`: it prints recent audit entries from
// Postgres as a table and returns the process exit code.
func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.toml", "path to configuration file")
	event := fs.String("event", "", "only show entries of this event (e.g. intent.placed)")
	since := fs.Duration("since", 24*time.Hour, "look back this far")
	limit := fs.Int("limit", 50, "maximum entries to print")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	opts, err := auditListOpts(*event, *since, *limit, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entries, err := listAudit(ctx, cfg, opts)
	if err != nil {
		fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}
	if err := report.WriteAuditTable(stdout, entries); err != nil {
		fmt.Fprintf(stderr, "audit: %v\n", err)
		return 1
	}
	return 0
}

func auditListOpts(event string, since time.Duration, limit int, now time.Time) (domain.ListOpts, error) {
	if limit <= 0 || limit > 1000 {
		return domain.ListOpts{}, fmt.Errorf("limit must be 1-1000, got %d", limit)
	}
	opts := domain.ListOpts{Limit: limit, Event: event}
	if since > 0 {
		from := now.Add(-since)
		opts.Since = &from
	}
	return opts, nil
}

func listAudit(ctx context.Context, cfg *config.Config, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if !cfg.Postgres.Enabled {
		return nil, errors.New("postgres is not enabled in configuration")
	}
	client, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: 2,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return postgres.NewAuditStore(client.Pool()).List(ctx, opts)
}

