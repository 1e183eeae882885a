package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeyIsStable(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	a := TradeIntent{Direction: DirectionLong, Size: 100, TriggeredAt: at}
	b := TradeIntent{Direction: DirectionLong, Size: 5, TriggeredAt: at.In(time.FixedZone("x", 3600))}

	assert.Equal(t, a.IdempotencyKey(), b.IdempotencyKey())
	assert.NotEqual(t, a.IdempotencyKey(), TradeIntent{Direction: DirectionShort, TriggeredAt: at}.IdempotencyKey())
	assert.NotEqual(t, a.IdempotencyKey(), TradeIntent{Direction: DirectionLong, TriggeredAt: at.Add(time.Nanosecond)}.IdempotencyKey())
}

func TestPositionApply(t *testing.T) {
	at := time.Unix(1700000000, 0)
	long := func(size float64) TradeIntent { return TradeIntent{Direction: DirectionLong, Size: size, TriggeredAt: at} }
	short := func(size float64) TradeIntent { return TradeIntent{Direction: DirectionShort, Size: size, TriggeredAt: at} }

	var p *PositionIntent
	p = p.Apply(long(100))
	require.NotNil(t, p)
	assert.Equal(t, PositionIntent{Direction: DirectionLong, Size: 100, OpenedAt: at}, *p)

	p = p.Apply(long(50))
	assert.Equal(t, 150.0, p.Size)

	p = p.Apply(short(100))
	assert.Equal(t, DirectionLong, p.Direction)
	assert.Equal(t, 50.0, p.Size)

	p = p.Apply(short(80))
	assert.Equal(t, DirectionShort, p.Direction)
	assert.Equal(t, 30.0, p.Size)

	assert.Nil(t, p.Apply(long(30)))
}

func TestObservationValidate(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		ok    bool
	}{
		{"positive", 64000.5, true},
		{"zero", 0, false},
		{"negative", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PriceObservation{Source: SourceReference, Value: tt.value}.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestNotional(t *testing.T) {
	in := TradeIntent{Size: 2, Reason: EdgeSignal{ReferencePriceAfter: 64000}}
	assert.Equal(t, 128000.0, in.Notional())
}
