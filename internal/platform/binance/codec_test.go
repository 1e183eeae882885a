package binance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

func raw(s string) feed.RawMessage {
	return feed.RawMessage{Data: []byte(s), ReceivedAt: time.Unix(1700000000, 0), Seq: 1}
}

func TestNewSpecLowercasesStream(t *testing.T) {
	spec := NewSpec("reference", "", "BTCUSDT")
	assert.Equal(t, DefaultEndpoint, spec.Endpoint)
	require.Len(t, spec.Subscribe, 1)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@trade"],"id":1}`, string(spec.Subscribe[0]))
}

func TestDecodeTrade(t *testing.T) {
	d := NewDecoder("btcusdt")
	obs, ok, err := d.Decode(raw(`{"e":"trade","E":1672515782136,"s":"BTCUSDT","t":12345,"p":"16850.10","q":"0.01","T":1672515782136,"m":true}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 16850.10, obs.Value, 1e-9)
	assert.Equal(t, uint64(12345), obs.Sequence)
	assert.Equal(t, domain.SourceReference, obs.Source)
}

func TestDecodeAckAndForeignSymbol(t *testing.T) {
	d := NewDecoder("BTCUSDT")
	for _, in := range []string{
		`{"result":null,"id":1}`,
		`{"e":"trade","s":"ETHUSDT","t":1,"p":"1000"}`,
	} {
		_, ok, err := d.Decode(raw(in))
		assert.NoError(t, err, in)
		assert.False(t, ok, in)
	}
}

func TestDecodeErrors(t *testing.T) {
	d := NewDecoder("BTCUSDT")
	for _, in := range []string{
		`{`,
		`{"code":2,"msg":"Invalid request"}`,
		`{"e":"aggTrade","s":"BTCUSDT"}`,
		`{"e":"trade","s":"BTCUSDT","t":2,"p":"-1"}`,
		`{"e":"trade","s":"BTCUSDT","t":2,"p":""}`,
	} {
		_, ok, err := d.Decode(raw(in))
		assert.False(t, ok, in)
		var de *domain.DecodeError
		assert.ErrorAs(t, err, &de, in)
	}
}
