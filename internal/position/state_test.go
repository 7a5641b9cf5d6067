package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current State
		side    exchange.OrderSide
		want    State
		opening bool
		wantErr bool
	}{
		{"flat buy opens long", StateFlat, exchange.OrderSideBuy, StateLong, true, false},
		{"flat sell opens short", StateFlat, exchange.OrderSideSell, StateShort, true, false},
		{"long sell closes", StateLong, exchange.OrderSideSell, StateFlat, false, false},
		{"short buy closes", StateShort, exchange.OrderSideBuy, StateFlat, false, false},
		{"long buy rejected", StateLong, exchange.OrderSideBuy, StateLong, false, true},
		{"short sell rejected", StateShort, exchange.OrderSideSell, StateShort, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, opening, err := Next(tt.current, tt.side)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, target)
			assert.Equal(t, tt.opening, opening)
		})
	}
}

func TestBookOpenAndClose(t *testing.T) {
	book := NewBook()
	now := time.Now()

	assert.Equal(t, StateFlat, book.StateOf("BTCUSDT"))

	transition, err := book.ApplyFill("BTCUSDT", exchange.OrderSideBuy, 0.002, 50000, now)
	require.NoError(t, err)
	assert.True(t, transition.Opened)
	assert.Equal(t, StateFlat, transition.From)
	assert.Equal(t, StateLong, transition.To)
	assert.Equal(t, StateLong, book.StateOf("BTCUSDT"))

	pos, ok := book.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.002, pos.Quantity)
	assert.Equal(t, 50000.0, pos.EntryPrice)

	transition, err = book.ApplyFill("BTCUSDT", exchange.OrderSideSell, 0.002, 51000, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, transition.Closed)
	assert.InDelta(t, 2.0, transition.RealizedPnl, 1e-9)
	assert.Equal(t, StateFlat, book.StateOf("BTCUSDT"))
}

func TestBookShortPnl(t *testing.T) {
	book := NewBook()
	now := time.Now()

	_, err := book.ApplyFill("ETHUSDT", exchange.OrderSideSell, 0.5, 3000, now)
	require.NoError(t, err)
	assert.Equal(t, StateShort, book.StateOf("ETHUSDT"))

	transition, err := book.ApplyFill("ETHUSDT", exchange.OrderSideBuy, 0.5, 2900, now)
	require.NoError(t, err)
	assert.True(t, transition.Closed)
	assert.InDelta(t, 50.0, transition.RealizedPnl, 1e-9)
}

func TestBookRejectsReentry(t *testing.T) {
	book := NewBook()
	now := time.Now()

	_, err := book.ApplyFill("BTCUSDT", exchange.OrderSideBuy, 0.002, 50000, now)
	require.NoError(t, err)

	// a second buy while LONG must not change anything
	_, err = book.ApplyFill("BTCUSDT", exchange.OrderSideBuy, 0.002, 50500, now)
	require.Error(t, err)

	pos, _ := book.Get("BTCUSDT")
	assert.Equal(t, StateLong, pos.State)
	assert.Equal(t, 0.002, pos.Quantity)
	assert.Equal(t, 50000.0, pos.EntryPrice)
}

func TestBookMarkPrice(t *testing.T) {
	book := NewBook()
	now := time.Now()

	_, err := book.ApplyFill("BTCUSDT", exchange.OrderSideBuy, 0.002, 50000, now)
	require.NoError(t, err)

	book.MarkPrice("BTCUSDT", 52000)
	pos, _ := book.Get("BTCUSDT")
	assert.Equal(t, 52000.0, pos.CurrentPrice)
	assert.InDelta(t, 4.0, pos.UnrealizedPnl, 1e-9)
	assert.Equal(t, StateLong, pos.State)

	// ticks for flat or unknown symbols are ignored
	book.MarkPrice("ETHUSDT", 3000)
	_, ok := book.Get("ETHUSDT")
	assert.False(t, ok)
}

func TestBookActiveAndRestore(t *testing.T) {
	book := NewBook()
	now := time.Now()

	_, err := book.ApplyFill("BTCUSDT", exchange.OrderSideBuy, 0.002, 50000, now)
	require.NoError(t, err)
	_, err = book.ApplyFill("ETHUSDT", exchange.OrderSideSell, 0.5, 3000, now)
	require.NoError(t, err)

	// close one so it drops out of the active set
	_, err = book.ApplyFill("ETHUSDT", exchange.OrderSideBuy, 0.5, 2950, now)
	require.NoError(t, err)

	active := book.Active()
	assert.Len(t, active, 1)
	assert.Contains(t, active, "BTCUSDT")

	restored := NewBook()
	restored.Restore(book.All())
	assert.Equal(t, StateLong, restored.StateOf("BTCUSDT"))
	assert.Equal(t, StateFlat, restored.StateOf("ETHUSDT"))
}
