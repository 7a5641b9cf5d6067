package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-risk-bot/internal/exchange"
	"github.com/ducminhle1904/futures-risk-bot/internal/portfolio"
	"github.com/ducminhle1904/futures-risk-bot/internal/position"
)

func sampleSnapshot() *portfolio.Snapshot {
	opened := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &portfolio.Snapshot{
		Version:        portfolio.SnapshotVersion,
		InitialBalance: 1000,
		CurrentBalance: 1012.5,
		Positions: map[string]position.Position{
			"BTCUSDT": {
				Symbol:       "BTCUSDT",
				State:        position.StateLong,
				Quantity:     0.002,
				EntryPrice:   50000,
				OpenedAt:     opened,
				CurrentPrice: 51000,
			},
		},
		TradeHistory: []portfolio.TradeRecord{
			{
				Timestamp:     opened,
				Symbol:        "BTCUSDT",
				Side:          exchange.OrderSideBuy,
				Action:        "OPEN",
				Quantity:      0.002,
				Price:         50000,
				PositionValue: 100,
				Fees:          0.055,
				OrderID:       "order-1",
				ClientOrderID: "client-1",
			},
		},
		DailyPnlHistory:        []float64{12.5},
		MaxPositions:           5,
		MaxPortfolioRisk:       3.0,
		MaxCorrelationExposure: 0.5,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")
	store := NewFileStorage(path)

	original := sampleSnapshot()
	require.NoError(t, store.Save(original))
	require.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)

	// identical modulo SavedAt
	assert.Equal(t, original.Version, loaded.Version)
	assert.Equal(t, original.InitialBalance, loaded.InitialBalance)
	assert.Equal(t, original.CurrentBalance, loaded.CurrentBalance)
	assert.Equal(t, original.Positions, loaded.Positions)
	assert.Equal(t, original.TradeHistory, loaded.TradeHistory)
	assert.Equal(t, original.DailyPnlHistory, loaded.DailyPnlHistory)
	assert.Equal(t, original.MaxPositions, loaded.MaxPositions)
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")
	store := NewFileStorage(path)

	require.NoError(t, store.Save(sampleSnapshot()))

	// no temp file is left behind after a successful save
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFile(t *testing.T) {
	store := NewFileStorage(filepath.Join(t.TempDir(), "missing.json"))

	assert.False(t, store.Exists())
	_, err := store.Load()
	require.Error(t, err)
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store := NewFileStorage(path)
	_, err := store.Load()
	require.Error(t, err)
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")
	store := NewFileStorage(path)

	snapshot := sampleSnapshot()
	require.NoError(t, store.Save(snapshot))

	// rewrite with a bogus version
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := strings.Replace(string(data), `"version": "`+portfolio.SnapshotVersion+`"`, `"version": "99.0"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(corrupted), 0644))

	_, err = store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestLockPreventsDoubleOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")

	first := NewFileStorage(path)
	require.NoError(t, first.Lock())

	second := NewFileStorage(path)
	require.Error(t, second.Lock())

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestStaleLockIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")

	// simulate a lock left behind by a dead process
	staleLock := `{"timestamp":"` + time.Now().Add(-10*time.Minute).Format(time.RFC3339) + `","pid":1,"hostname":"gone"}`
	require.NoError(t, os.WriteFile(path+".lock", []byte(staleLock), 0644))

	store := NewFileStorage(path)
	require.NoError(t, store.Lock())
	require.NoError(t, store.Unlock())
}

func TestBackupCreatesCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio_state.json")
	store := NewFileStorage(path)

	require.NoError(t, store.Save(sampleSnapshot()))

	backupPath, err := store.Backup()
	require.NoError(t, err)
	assert.FileExists(t, backupPath)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	backup, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}
