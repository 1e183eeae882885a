package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

const (
	archiveBatch   = 1000
	ndjson         = "application/x-ndjson"
	multipartAbove = minPartSize
)

// Archiver moves audit entries older than the retention window to object
// storage as JSONL and then prunes them from the primary store.
//
// Rows are pruned only after the upload succeeded.
type Archiver struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore
	pruner    domain.AuditPruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver. pruner may be nil to keep rows after
// upload.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, pruner domain.AuditPruner, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		audit:     audit,
		pruner:    pruner,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives once per interval until ctx is cancelled. Failures are logged
// and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx)
		}
	}
}

func (a *Archiver) archiveOnce(ctx context.Context) {
	cutoff := a.now().UTC().Add(-a.retention)
	n, err := a.ArchiveAudit(ctx, cutoff)
	if err != nil {
		a.logger.Error("audit archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.Info("audit archived", slog.Int64("count", n), slog.Time("before", cutoff))
	}
}

// ArchiveAudit uploads every audit entry created before the cutoff to
// archive/audit/YYYY-MM/<cutoff>.jsonl and returns how many were archived.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var count int64
	for offset := 0; ; offset += archiveBatch {
		entries, err := a.audit.List(ctx, domain.ListOpts{
			Until:     &before,
			Ascending: true,
			Limit:     archiveBatch,
			Offset:    offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		for i, e := range entries {
			if err := enc.Encode(e); err != nil {
				return 0, fmt.Errorf("s3blob: archive audit encode record %d: %w", offset+i, err)
			}
		}
		count += int64(len(entries))
		if len(entries) < archiveBatch {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	path := archivePath("audit", before)
	var err error
	if int64(buf.Len()) > multipartAbove {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, ndjson)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	detail := map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}
	if a.pruner != nil {
		pruned, err := a.pruner.Prune(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive audit prune: %w", err)
		}
		detail["pruned"] = pruned
	}

	if err := a.audit.Log(ctx, domain.AuditArchive, detail); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the object key for one archive run, partitioned by
// month:
//
//	archive/audit/2025-01/2025-01-31T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("2006-01-02T150405Z"))
}
