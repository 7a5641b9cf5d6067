package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
)

func testConfig() Config {
	return Config{
		PollInterval:  10 * time.Millisecond,
		SubmitTimeout: time.Minute,
		EventBuffer:   8,
		Retry: exchange.RetryConfig{
			MaxRetries:    0,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		},
	}
}

func waitEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case event := <-m.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order event")
		return Event{}
	}
}

func marketBuy(qty float64) exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     exchange.OrderSideBuy,
		Type:     exchange.OrderTypeMarket,
		Quantity: qty,
	}
}

func TestPlaceMarketOrderFillsImmediately(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	m := NewManager(paper, testConfig())

	result, err := m.Place(context.Background(), marketBuy(0.002))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusFilled, result.Status)
	assert.NotEmpty(t, result.ClientOrderID)

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusFilled, event.Result.Status)
	assert.Equal(t, result.ClientOrderID, event.Result.ClientOrderID)
	assert.Equal(t, 0.002, event.Result.FilledQuantity)
	assert.Equal(t, 50000.0, event.Result.AvgFillPrice)

	// the terminal event released the symbol's pending slot
	assert.False(t, m.HasPending("BTCUSDT"))
}

func TestOnePendingOrderPerSymbol(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	first, err := m.Place(context.Background(), marketBuy(0.002))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusSubmitted, first.Status)
	assert.True(t, m.HasPending("BTCUSDT"))

	_, err = m.Place(context.Background(), marketBuy(0.001))
	require.ErrorIs(t, err, ErrOrderAlreadyPending)

	// other symbols are unaffected
	paper.SetMarkPrice("ETHUSDT", 3000)
	other := marketBuy(0.5)
	other.Symbol = "ETHUSDT"
	_, err = m.Place(context.Background(), other)
	require.NoError(t, err)
}

func TestGatewayFailureBecomesFailedResult(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.FailNextPlace(errors.New("invalid leverage for symbol"))
	m := NewManager(paper, testConfig())

	result, err := m.Place(context.Background(), marketBuy(0.002))
	require.NoError(t, err, "gateway failures surface as results, not errors")
	assert.Equal(t, exchange.OrderStatusFailed, result.Status)
	assert.Contains(t, result.ErrorDetail, "invalid leverage")

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusFailed, event.Result.Status)
	assert.False(t, m.HasPending("BTCUSDT"))
}

func TestPollingDeliversLateFill(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)
	require.Equal(t, exchange.OrderStatusSubmitted, result.Status)

	require.True(t, paper.FillOrder(result.OrderID, 0.002))

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusFilled, event.Result.Status)
	assert.Equal(t, result.ClientOrderID, event.Result.ClientOrderID)

	cancel()
	require.NoError(t, <-done)
}

func TestCancelOpenOrder(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)

	assert.True(t, m.Cancel(ctx, result.OrderID))

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusCanceled, event.Result.Status)
	assert.False(t, m.HasPending("BTCUSDT"))
}

func TestFillWinsCancelRace(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)

	// the exchange fills before the cancel lands
	require.True(t, paper.FillOrder(result.OrderID, 0.002))
	assert.False(t, m.Cancel(ctx, result.OrderID), "cancel after fill must report failure")

	go m.Run(ctx)

	// the fill is authoritative: the position event is a fill, not a cancel
	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusFilled, event.Result.Status)
	assert.Equal(t, 0.002, event.Result.FilledQuantity)
}

func TestTerminalEventEmittedOnce(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)
	require.Equal(t, exchange.OrderStatusFilled, result.Status)

	waitEvent(t, m)

	// several poll cycles later there is still exactly one event
	select {
	case event := <-m.Events():
		t.Fatalf("duplicate terminal event: %+v", event.Result)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPlaceAfterRunStopsDeliversResult(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	// a placement racing shutdown still surfaces as a result
	result, err := m.Place(context.Background(), marketBuy(0.002))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusFilled, result.Status)

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusFilled, event.Result.Status)
	assert.False(t, m.HasPending("BTCUSDT"))
}

func TestSubmitTimeoutCancelsOrder(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	config := testConfig()
	config.SubmitTimeout = 20 * time.Millisecond
	m := NewManager(paper, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)
	require.Equal(t, exchange.OrderStatusSubmitted, result.Status)

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusCanceled, event.Result.Status)
	assert.Equal(t, "ORDER_TIMEOUT", event.Result.ErrorDetail)
	assert.False(t, m.HasPending("BTCUSDT"))
}

func TestManualCancelIsNotMarkedTimeout(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	result, err := m.Place(ctx, marketBuy(0.002))
	require.NoError(t, err)
	assert.True(t, m.Cancel(ctx, result.OrderID))

	event := waitEvent(t, m)
	assert.Equal(t, exchange.OrderStatusCanceled, event.Result.Status)
	assert.Empty(t, event.Result.ErrorDetail)
}

func TestStatusTracksLastObservedResult(t *testing.T) {
	paper := exchange.NewPaperGateway(1000)
	paper.SetMarkPrice("BTCUSDT", 50000)
	paper.SetAutoFill(false)
	m := NewManager(paper, testConfig())

	result, err := m.Place(context.Background(), marketBuy(0.002))
	require.NoError(t, err)

	tracked, ok := m.Status(result.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, exchange.OrderStatusSubmitted, tracked.Status)

	_, ok = m.Status("unknown-client-id")
	assert.False(t, ok)
}
