package coinbase

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

func raw(s string) feed.RawMessage {
	return feed.RawMessage{Data: []byte(s), ReceivedAt: time.Unix(1700000000, 0), Seq: 9}
}

func TestNewSpecSubscribesToTicker(t *testing.T) {
	spec := NewSpec("reference", "", "BTC-USD")
	assert.Equal(t, DefaultEndpoint, spec.Endpoint)
	require.Len(t, spec.Subscribe, 1)

	var cmd map[string]any
	require.NoError(t, json.Unmarshal(spec.Subscribe[0], &cmd))
	assert.Equal(t, "subscribe", cmd["type"])
	assert.Equal(t, []any{"BTC-USD"}, cmd["product_ids"])
	assert.Contains(t, cmd["channels"], "ticker")
}

func TestDecodeTicker(t *testing.T) {
	d := NewDecoder("BTC-USD")
	obs, ok, err := d.Decode(raw(`{"type":"ticker","sequence":37475248783,"product_id":"BTC-USD","price":"64250.12","time":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SourceReference, obs.Source)
	assert.InDelta(t, 64250.12, obs.Value, 1e-9)
	assert.Equal(t, uint64(37475248783), obs.Sequence)
	assert.Equal(t, time.Unix(1700000000, 0), obs.ObservedAt)
}

func TestDecodeControlAndForeignFrames(t *testing.T) {
	d := NewDecoder("BTC-USD")
	for _, in := range []string{
		`{"type":"subscriptions","channels":[]}`,
		`{"type":"heartbeat","sequence":1}`,
		`{"type":"ticker","sequence":2,"product_id":"ETH-USD","price":"3000"}`,
	} {
		_, ok, err := d.Decode(raw(in))
		assert.NoError(t, err, in)
		assert.False(t, ok, in)
	}
}

func TestDecodeErrors(t *testing.T) {
	d := NewDecoder("BTC-USD")
	for _, in := range []string{
		`not json`,
		`{"type":"error","message":"Failed to subscribe"}`,
		`{"type":"l2update"}`,
		`{"type":"ticker","sequence":3,"product_id":"BTC-USD","price":"abc"}`,
		`{"type":"ticker","sequence":3,"product_id":"BTC-USD","price":"0"}`,
	} {
		_, ok, err := d.Decode(raw(in))
		assert.False(t, ok, in)
		var de *domain.DecodeError
		assert.ErrorAs(t, err, &de, in)
	}
}
