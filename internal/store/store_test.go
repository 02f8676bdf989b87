package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/internal/engine"
	"grid-trader-go/inventory"
	"grid-trader-go/order"
)

func openTestStore(t *testing.T) *ReportStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "grid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport() *engine.Report {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &engine.Report{
		Symbol:      "BTCUSDT",
		Inventory:   inventory.New(decimal.RequireFromString("0.00999"), decimal.RequireFromString("750")),
		RealizedPnL: decimal.RequireFromString("1.25"),
		LastPrice:   decimal.RequireFromString("25990"),
		Fills: []order.Fill{
			{OrderID: "BTCUSDT-000001", Side: order.SideBuy, Price: decimal.RequireFromString("25000"),
				Quantity: decimal.RequireFromString("0.01"), Fee: decimal.RequireFromString("0.00001"),
				FeeAsset: inventory.AssetBase, Timestamp: at},
			{OrderID: "BTCUSDT-000005", Side: order.SideSell, Price: decimal.RequireFromString("25952.35"),
				Quantity: decimal.RequireFromString("0.00999"), Fee: decimal.RequireFromString("0.25926"),
				FeeAsset: inventory.AssetQuote, Timestamp: at.Add(time.Minute)},
		},
		StartedAt:  at,
		FinishedAt: at.Add(time.Hour),
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, "backtest", sampleReport())
	require.NoError(t, err)
	assert.Len(t, id, 36)

	got, err := s.LoadReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.True(t, got.RealizedPnL.Equal(decimal.RequireFromString("1.25")))
	require.Len(t, got.Fills, 2)
	assert.True(t, got.Fills[1].Price.Equal(decimal.RequireFromString("25952.35")))

	fills, err := s.Fills(ctx, id)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "BUY", fills[0].Side)
	assert.Equal(t, "0.00999", fills[1].Quantity)
}

func TestListRunsFiltersBySymbol(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveReport(ctx, "backtest", sampleReport())
	require.NoError(t, err)
	eth := sampleReport()
	eth.Symbol = "ETHUSDT"
	eth.Fills = nil
	_, err = s.SaveReport(ctx, "paper", eth)
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	runs, err := s.ListRuns(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "paper", runs[0].Mode)
	assert.Equal(t, 0, runs[0].Fills)
}

func TestLoadReportNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadReport(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}
