package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/simtrade/internal/algorithm"
	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/calendar"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/engine"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage/memory"
)

const _config = `
engine:
  fee: 6.95
accounts:
  - id: 1
    initial_cash: 100000
    positions:
      - symbol: XYZ
        share: 0.6
        in_algorithm: trend
        out_algorithm: trend
      - symbol: ABC
        share: 0.4
        algorithm: day_trend
        stance: aggressive
  - id: 2
    initial_cash: 5000
    positions:
      - symbol: XYZ
        share: 1
        out_algorithm: ahnyung_exit
`

func date(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

// seedBars writes one bar per calendar day, weekends included, with a
// zigzag so the trend rules both enter and exit.
func seedBars(t *testing.T, s *memory.Store, from, to time.Time) {
	t.Helper()
	ctx := context.Background()
	pattern := []float64{0, -1, -2, -3, -4, -5, -3, -1, 1, 3, 5, 4, 2}
	i := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		xyz := 50 + pattern[i%len(pattern)]
		abc := 20 + float64(i%5)*0.5
		require.NoError(t, s.InsertSimBar(ctx, model.DayBar{Symbol: "XYZ", Date: d, Open: xyz, High: xyz + 1, Low: xyz - 1, Close: xyz + 0.5, Volume: 1000}))
		require.NoError(t, s.InsertSimBar(ctx, model.DayBar{Symbol: "ABC", Date: d, Open: abc, High: abc + 0.4, Low: abc - 0.4, Close: abc - 0.2, Volume: 500}))
		i++
	}
}

type fixture struct {
	store  *memory.Store
	driver *Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, _config)
}

func newFixtureWith(t *testing.T, text string) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte(text))
	require.NoError(t, err)

	store := memory.New()
	seedBars(t, store, date(time.May, 1), date(time.July, 31))

	sim := broker.NewSim(store, cfg.Engine.Fee, "", logger.NewNopLogger())
	eng := engine.New(store, sim, algorithm.NewSeededRegistry(cfg.Engine.MonkeySeed), cfg.Engine, logger.NewNopLogger())
	cal := calendar.New(true, nil)
	return &fixture{store: store, driver: New(store, sim, eng, cal, cfg, logger.NewNopLogger())}
}

func TestSimulateSkipsWeekendsAndHolidays(t *testing.T) {
	f := newFixture(t)

	res, err := f.driver.Simulate(context.Background(), date(time.July, 1), date(time.July, 8))
	require.NoError(t, err)

	var days []int
	for _, tick := range res.Ticks {
		assert.Equal(t, 9, tick.Hour())
		assert.Equal(t, 31, tick.Minute())
		days = append(days, tick.Day())
	}
	assert.Equal(t, []int{1, 2, 3, 5, 8}, days)

	reports, err := f.store.DayReports(context.Background())
	require.NoError(t, err)
	reported := make(map[int]bool)
	for _, r := range reports {
		reported[r.Date.Day()] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 5: true, 8: true}, reported)

	orders, err := f.store.Orders(context.Background())
	require.NoError(t, err)
	for _, o := range orders {
		assert.NotContains(t, []int{4, 6, 7}, o.Ts.Day())
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.driver.Simulate(ctx, date(time.May, 1), date(time.July, 31))
	require.NoError(t, err)
	orders1, err := f.store.Orders(ctx)
	require.NoError(t, err)
	reports1, err := f.store.DayReports(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, orders1)

	_, err = f.driver.Simulate(ctx, date(time.May, 1), date(time.July, 31))
	require.NoError(t, err)
	orders2, err := f.store.Orders(ctx)
	require.NoError(t, err)
	reports2, err := f.store.DayReports(ctx)
	require.NoError(t, err)

	assert.Equal(t, orders1, orders2)
	assert.Equal(t, reports1, reports2)

	for i := 1; i < len(orders1); i++ {
		assert.Equal(t, orders1[i-1].OrderID+1, orders1[i].OrderID)
	}
	assert.Equal(t, int64(501), orders1[0].OrderID)
}

const _monkeyConfig = `
engine:
  fee: 6.95
  monkey_seed: 7
accounts:
  - id: 1
    initial_cash: 100000
    positions:
      - symbol: XYZ
        share: 1
        algorithm: monkey
`

func TestSimulateReplaysMonkey(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, _monkeyConfig)

	_, err := f.driver.Simulate(ctx, date(time.May, 1), date(time.July, 31))
	require.NoError(t, err)
	orders1, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.Greater(t, len(orders1), 1)

	_, err = f.driver.Simulate(ctx, date(time.May, 1), date(time.July, 31))
	require.NoError(t, err)
	orders2, err := f.store.Orders(ctx)
	require.NoError(t, err)

	assert.Equal(t, orders1, orders2)
}

func TestSimulateNeverReturnsToSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	from := date(time.June, 3)

	_, err := f.driver.Simulate(ctx, from, date(time.June, 28))
	require.NoError(t, err)

	accounts, err := f.store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, a := range accounts {
		assert.Equal(t, model.Run, a.Mode, "account %d", a.ID)
	}

	orders, err := f.store.Orders(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	assert.True(t, model.DateOf(orders[0].Ts).Equal(from))
}

func TestSimulateMaterializesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.driver.Simulate(ctx, date(time.July, 1), date(time.July, 8))
	require.NoError(t, err)

	bars, err := f.store.DayBars(ctx, "XYZ", date(time.July, 9), 0)
	require.NoError(t, err)
	require.NotEmpty(t, bars)
	assert.Equal(t, date(time.July, 8), bars[0].Date)
	assert.Equal(t, date(time.July, 7), bars[1].Date)
	assert.LessOrEqual(t, len(bars), 120+7)
}

func TestSimulateWithoutHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.UpsertAccount(ctx, model.Account{ID: 9, Mode: model.Run, CashToTrade: 1, InitialCash: 1}))

	_, err := f.driver.Simulate(ctx, date(time.January, 1), date(time.January, 31))
	require.ErrorIs(t, err, ErrNoHistory)

	accounts, err := f.store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, model.Run, accounts[0].Mode)
}
