package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/latency?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "latency", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/latency?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "latency", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t, "postgres://bot:p%40ss%3Aw%2Frd@db:5432/latency?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "latency", User: "bot", Password: "p@ss:w/rd"}))
}

func TestBuildListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 1, 0)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no filters",
			wantSQL: "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC",
		},
		{
			name:     "event with paging",
			opts:     domain.ListOpts{Event: domain.AuditIntentFailed, Limit: 20, Offset: 40},
			wantSQL:  "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND event = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
			wantArgs: []any{domain.AuditIntentFailed, 20, 40},
		},
		{
			name:     "archive window oldest first",
			opts:     domain.ListOpts{Since: &since, Until: &until, Ascending: true, Limit: 500},
			wantSQL:  "SELECT id, event, detail, created_at FROM audit_log WHERE 1=1 AND created_at >= $1 AND created_at < $2 ORDER BY created_at ASC, id ASC LIMIT $3",
			wantArgs: []any{since, until, 500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildListQuery(tt.opts)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql":  {Data: []byte("SELECT 1;")},
		"migrations/001_first.sql":  {Data: []byte("SELECT 1;")},
		"migrations/README.md":      {Data: []byte("notes")},
		"migrations/002_second.sql": {Data: []byte("SELECT 1;")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_second.sql", "010_later.sql"}, names)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_audit_log.sql", names[0])
}
