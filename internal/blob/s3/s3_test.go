package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	if w.objects == nil {
		w.objects, w.types = map[string][]byte{}, map[string]string{}
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
	pruned  time.Time
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memAudit) Prune(_ context.Context, before time.Time) (int64, error) {
	m.pruned = before
	return 2, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveAuditUploadsJSONLAndPrunes(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: domain.AuditIntentPlaced, CreatedAt: cutoff.Add(-2 * time.Hour)},
		{ID: 2, Event: domain.AuditIntentFailed, CreatedAt: cutoff.Add(-time.Hour)},
		{ID: 3, Event: domain.AuditIntentPlaced, CreatedAt: cutoff.Add(time.Hour)},
	}}
	w := &memWriter{}
	a := NewArchiver(w, audit, audit, 30*24*time.Hour, discardLogger())

	n, err := a.ArchiveAudit(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	path := "archive/audit/2024-03/2024-03-01T000000Z.jsonl"
	require.Contains(t, w.objects, path)
	assert.Equal(t, "application/x-ndjson", w.types[path])

	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var e domain.AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, cutoff, audit.pruned)
	assert.Equal(t, []string{domain.AuditArchive}, audit.logged)
}

func TestArchiveAuditNothingToDo(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, &memAudit{}, nil, time.Hour, discardLogger()).ArchiveAudit(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveAuditUploadFailureSkipsPrune(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{entries: []domain.AuditEntry{{ID: 1, CreatedAt: cutoff.Add(-time.Hour)}}}
	w := &memWriter{err: errors.New("access denied")}

	_, err := NewArchiver(w, audit, audit, time.Hour, discardLogger()).ArchiveAudit(context.Background(), cutoff)
	require.Error(t, err)
	assert.True(t, audit.pruned.IsZero())
	assert.Empty(t, audit.logged)
}

func TestArchivePagesThroughLargeLogs(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &memAudit{}
	for i := 0; i < archiveBatch+10; i++ {
		audit.entries = append(audit.entries, domain.AuditEntry{ID: int64(i), CreatedAt: cutoff.Add(-time.Hour)})
	}
	n, err := NewArchiver(&memWriter{}, audit, nil, time.Hour, discardLogger()).ArchiveAudit(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(archiveBatch+10), n)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "archive/a.jsonl", objectKey("", "/archive/a.jsonl"))
	assert.Equal(t, "bot/archive/a.jsonl", objectKey("bot/", "archive/a.jsonl"))
	assert.Equal(t, "bot/archive/a.jsonl", objectKey("bot", "/archive/a.jsonl"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")
	_, err = New(ctx, ClientConfig{Bucket: "audit"})
	assert.ErrorContains(t, err, "region")

	c, err := New(ctx, ClientConfig{
		Endpoint:       "minio:9000",
		Region:         "us-east-1",
		Bucket:         "audit",
		AccessKey:      "ak",
		SecretKey:      "sk",
		ForcePathStyle: true,
		Prefix:         "latencybot/",
	})
	require.NoError(t, err)
	w := NewWriter(c)
	assert.Equal(t, "audit", w.bucket)
	assert.Equal(t, "latencybot/audit/2026-01.jsonl", w.key("/audit/2026-01.jsonl"))
}
