package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/engine"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

func TestRecorderCounts(t *testing.T) {
	m := New(nil)

	m.Observation(domain.SourceReference)
	m.Observation(domain.SourceReference)
	m.DecodeError(domain.SourcePredictionMarket)
	m.SequenceDiscard(domain.SourceReference)
	m.FeedEvent(domain.SourceReference, feed.EventDisconnected)
	m.FeedEvent(domain.SourceReference, feed.EventMessage)
	m.Trigger(domain.DirectionLong)
	m.Execution(nil, 20*time.Millisecond)
	m.Execution(fmt.Errorf("wrapped: %w", domain.ErrRateLimited), time.Millisecond)
	m.Phase(engine.PhaseDegraded)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ObservationsTotal.WithLabelValues("reference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrorsTotal.WithLabelValues("market")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceDiscards.WithLabelValues("reference")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedEventsTotal.WithLabelValues("reference", "disconnected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FeedEventsTotal.WithLabelValues("reference", "message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggersTotal.WithLabelValues("long")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PhaseGauge))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "timeout", outcome(&domain.ExecutionError{Err: context.DeadlineExceeded}))
	assert.Equal(t, "duplicate", outcome(domain.ErrDuplicateIntent))
	assert.Equal(t, "failed", outcome(errors.New("venue 500")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.Trigger(domain.DirectionShort)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `latencybot_triggers_total{direction="short"} 1`)
}
