package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGateway wraps a gateway so tests can count limit fetches and
// force them to fail.
type countingGateway struct {
	Gateway

	mu    sync.Mutex
	calls int
	err   error
}

func (g *countingGateway) GetSymbolLimits(ctx context.Context, symbol string) (*SymbolLimits, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.Gateway.GetSymbolLimits(ctx, symbol)
}

func (g *countingGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *countingGateway) failWith(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func newCountingGateway() *countingGateway {
	paper := NewPaperGateway(10000)
	paper.SetLimits(&SymbolLimits{
		Symbol:                "BTCUSDT",
		MinNotional:           100,
		MinQty:                0.001,
		MaxQty:                100,
		QtyStep:               0.001,
		MaxLeverage:           100,
		MaintenanceMarginRate: 0.004,
	})
	return &countingGateway{Gateway: paper}
}

func TestLimitsCacheServesFreshEntryFromMemory(t *testing.T) {
	gateway := newCountingGateway()
	cache := NewLimitsCache(gateway, time.Hour, 4*time.Hour)
	ctx := context.Background()

	first, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 1, gateway.fetchCount())
	assert.Equal(t, first, second)
	assert.Equal(t, 0.001, second.MinQty)
	assert.Equal(t, []string{"BTCUSDT"}, cache.CachedSymbols())
}

func TestLimitsCacheRefreshesAgedEntry(t *testing.T) {
	gateway := newCountingGateway()
	cache := NewLimitsCache(gateway, time.Millisecond, time.Hour)
	ctx := context.Background()

	_, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, gateway.fetchCount())
}

func TestLimitsCacheServesStaleEntryOnRefreshFailure(t *testing.T) {
	gateway := newCountingGateway()
	cache := NewLimitsCache(gateway, time.Millisecond, time.Hour)
	ctx := context.Background()

	cached, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	gateway.failWith(errors.New("connection refused"))

	limits, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, cached, limits)
}

func TestLimitsCacheErrorsBeyondMaxStale(t *testing.T) {
	gateway := newCountingGateway()
	cache := NewLimitsCache(gateway, time.Millisecond, 2*time.Millisecond)
	ctx := context.Background()

	_, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	gateway.failWith(errors.New("connection refused"))

	_, err = cache.Get(ctx, "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
}

func TestLimitsCacheErrorsWhenNeverFetched(t *testing.T) {
	gateway := newCountingGateway()
	gateway.failWith(errors.New("connection refused"))
	cache := NewLimitsCache(gateway, time.Hour, 4*time.Hour)

	_, err := cache.Get(context.Background(), "BTCUSDT")
	require.Error(t, err)
}

func TestLimitsCacheInvalidateForcesRefetch(t *testing.T) {
	gateway := newCountingGateway()
	cache := NewLimitsCache(gateway, time.Hour, 4*time.Hour)
	ctx := context.Background()

	_, err := cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)

	cache.Invalidate("BTCUSDT")
	assert.Empty(t, cache.CachedSymbols())

	_, err = cache.Get(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, gateway.fetchCount())
}
