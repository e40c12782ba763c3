package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

func TestConfigSetup(t *testing.T) {
	cfg := (&Config{Port: "not-a-port", DBName: "trades"}).Setup()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "5432", cfg.Port)
	assert.Equal(t, "trades", cfg.DBName)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Contains(t, cfg.String(), "password=postgres")
	assert.NotContains(t, cfg.Redacted(), "password")
}

func TestDateArg(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ts := time.Date(2024, 3, 4, 23, 59, 59, 0, ny)
	assert.Equal(t, "2024-03-04", dateArg(ts))
	assert.Nil(t, limitArg(0))
	assert.Equal(t, 120, limitArg(120))
}

// TestStoreRoundTrip needs a disposable database; set POSTGRES_TEST=1 and
// the usual POSTGRES_* variables to run it.
func TestStoreRoundTrip(t *testing.T) {
	if os.Getenv("POSTGRES_TEST") == "" {
		t.Skip("POSTGRES_TEST is not set")
	}
	ctx := context.Background()

	db, err := NewDB(ctx, NewConfigFromEnv().Setup())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	s := NewStore(db)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.UpsertAccount(ctx, model.Account{ID: 9001, Type: model.Simulation, Mode: model.Setup, InitialCash: 1000, CashToTrade: 1000}))
		require.NoError(t, tx.UpsertPositionConfig(ctx, model.Position{AccountID: 9001, Symbol: "PGTEST", Share: 1, InAlgorithm: "fill", OutAlgorithm: "hold", Valid: true}))
		return tx.ResetSimulation(ctx, 500)
	}))

	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertSimBar(ctx, model.DayBar{Symbol: "PGTEST", Date: day, Open: 10, High: 11, Low: 9, Close: 10.5}))
	require.NoError(t, s.InsertSimBar(ctx, model.DayBar{Symbol: "PGTEST", Date: day, Open: 99}))

	bars, err := s.SimBars(ctx, "PGTEST", day, 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 10.0, bars[0].Open)
	assert.True(t, bars[0].Date.Equal(day))

	id, err := s.OrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), id)

	_, err = s.LastOrder(ctx, model.OrderFilter{Symbol: "PGTEST", Actions: []model.Action{model.Buy}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
