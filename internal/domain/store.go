package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
	// Ascending returns the oldest entries first.
	Ascending bool
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditPruner removes archived audit rows.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Audit event names.
const (
	AuditIntentPlaced   = "intent.placed"
	AuditIntentFailed   = "intent.failed"
	AuditIntentRejected = "intent.rejected"
	AuditEngineStarted  = "engine.started"
	AuditEngineStopped  = "engine.stopped"
	AuditArchive        = "archive.audit"
)
