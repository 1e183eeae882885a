package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditListOpts(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	opts, err := auditListOpts("intent.failed", 2*time.Hour, 20, now)
	require.NoError(t, err)
	assert.Equal(t, 20, opts.Limit)
	assert.Equal(t, "intent.failed", opts.Event)
	require.NotNil(t, opts.Since)
	assert.Equal(t, now.Add(-2*time.Hour), *opts.Since)

	opts, err = auditListOpts("", 0, 5, now)
	require.NoError(t, err)
	assert.Nil(t, opts.Since)

	_, err = auditListOpts("", time.Hour, 0, now)
	assert.Error(t, err)
	_, err = auditListOpts("", time.Hour, 5000, now)
	assert.Error(t, err)
}

func TestRunAuditRequiresPostgres(t *testing.T) {
	t.Setenv("LATENCYBOT_POSTGRES_ENABLED", "false")
	var stdout, stderr bytes.Buffer
	code := runAudit([]string{"-config", "does-not-exist.toml"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "postgres is not enabled")
	assert.Empty(t, stdout.String())
}

func TestRunAuditBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runAudit([]string{"-nope"}, &stdout, &stderr))
}
