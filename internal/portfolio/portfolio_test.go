package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

type quotes map[string]float64

func (q quotes) LatestQuote(_ context.Context, symbol string, asOf time.Time) (model.Quote, error) {
	price, ok := q[symbol]
	if !ok {
		return model.Quote{}, storage.ErrNotFound
	}
	return model.Quote{Symbol: symbol, Ts: asOf, Ask: price, Bid: price}, nil
}

type rejecting struct{}

func (rejecting) PlaceMarketOrder(context.Context, string, float64, float64) error {
	return errors.New("market closed")
}

var _tick = time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

func newAccount(t *testing.T, cash float64, positions ...model.Position) *Account {
	t.Helper()
	for i := range positions {
		positions[i].AccountID = 1
		positions[i].Valid = true
	}
	return NewAccount(model.Account{ID: 1, Mode: model.Setup, CashToTrade: cash, InitialCash: cash}, positions, 6.95, logger.NewNopLogger())
}

func TestRefreshMarks(t *testing.T) {
	acc := newAccount(t, 1000,
		model.Position{Symbol: "AAA", Share: 0.5, Count: 10},
		model.Position{Symbol: "BBB", Share: 0.5, Count: 4},
	)
	require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"AAA": 20}, _tick))

	aaa, bbb := acc.Positions()[0], acc.Positions()[1]
	assert.True(t, aaa.Valid)
	assert.False(t, bbb.Valid)
	assert.Equal(t, model.ReasonNoPrice, bbb.FailureReason)
	assert.Equal(t, 1200.0, acc.NetValue)
	assert.Equal(t, 600.0, aaa.Budget)

	_, ok, err := acc.GetOrCreatePosition(context.Background(), "BBB")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrCreatePosition(t *testing.T) {
	acc := newAccount(t, 1000)
	require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"NEW": 5}, _tick))

	p, ok, err := acc.GetOrCreatePosition(context.Background(), "NEW")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, p.Value)
	assert.True(t, p.Flat())
	assert.Same(t, p, acc.Positions()[len(acc.Positions())-1])

	_, ok, err = acc.GetOrCreatePosition(context.Background(), "GONE")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, acc.Positions(), 1)
}

func TestSettleAfterTrade(t *testing.T) {
	acc := newAccount(t, 100000, model.Position{Symbol: "XYZ", Share: 1})
	require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"XYZ": 50}, _tick))
	assert.Equal(t, 100000.0, acc.NetValue)

	p, ok, err := acc.GetOrCreatePosition(context.Background(), "XYZ")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = acc.ExecuteOrder(context.Background(), nil, p, 1999)
	require.True(t, ok)

	acc.Settle()
	assert.InDelta(t, 99993.05, acc.NetValue, 1e-9)
	assert.InDelta(t, acc.NetValue, acc.Report(_tick).NetValue, 1e-9)
	assert.InDelta(t, 99993.05, acc.Model().NetValue, 1e-9)
}

func TestExecuteOrder(t *testing.T) {
	tests := []struct {
		name      string
		cash      float64
		count     float64
		quantity  float64
		ok        bool
		reason    string
		wantCash  float64
		wantCount float64
	}{
		{"buy", 100000, 0, 1999, true, model.ReasonSuccess, 43.05, 1999},
		{"buy without room for fee", 100000, 0, 2000, false, model.ReasonNotEnoughCash, 100000, 0},
		{"sell", 10, 150, -150, true, model.ReasonSuccess, 7503.05, 0},
		{"oversell", 10, 150, -151, false, model.ReasonNotEnoughCount, 10, 150},
		{"sell can't cover fee", 0, 0.1, -0.1, false, model.ReasonNotEnoughCash, 0, 0.1},
		{"overbuy", 100, 0, 1e12, false, model.ReasonNotEnoughCash, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newAccount(t, tt.cash, model.Position{Symbol: "XYZ", Share: 1, Count: tt.count})
			require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"XYZ": 50}, _tick))
			p := acc.Positions()[0]

			ok, reason := acc.ExecuteOrder(context.Background(), nil, p, tt.quantity)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
			assert.InDelta(t, tt.wantCash, acc.CashToTrade, 1e-9)
			assert.InDelta(t, tt.wantCount, p.Count, 1e-9)
			assert.GreaterOrEqual(t, acc.CashToTrade, 0.0)
		})
	}
}

func TestExecuteOrderTracksPrices(t *testing.T) {
	acc := newAccount(t, 1000, model.Position{Symbol: "XYZ", Share: 1})
	require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"XYZ": 50}, _tick))
	p := acc.Positions()[0]

	ok, _ := acc.ExecuteOrder(context.Background(), nil, p, 10)
	require.True(t, ok)
	assert.Equal(t, 50.0, p.LastBuyPrice)
	assert.Zero(t, p.LastSellPrice)

	ok, _ = acc.ExecuteOrder(context.Background(), nil, p, -4)
	require.True(t, ok)
	assert.Equal(t, 50.0, p.LastSellPrice)
	assert.Equal(t, 6.0, p.Count)
}

func TestExecuteOrderBrokerRejects(t *testing.T) {
	acc := newAccount(t, 1000, model.Position{Symbol: "XYZ", Share: 1})
	require.NoError(t, acc.RefreshMarks(context.Background(), quotes{"XYZ": 50}, _tick))
	p := acc.Positions()[0]

	ok, reason := acc.ExecuteOrder(context.Background(), rejecting{}, p, 1)
	assert.False(t, ok)
	assert.Contains(t, reason, "market closed")
	assert.Equal(t, 1000.0, acc.CashToTrade)
	assert.Zero(t, p.Count)
}

func TestPositionModelRoundTrip(t *testing.T) {
	p := NewPosition(model.Position{Symbol: "XYZ", Count: 3, InAlgorithm: "trend", OutAlgorithm: "empty", OutStance: model.Aggressive})
	assert.Equal(t, 3.0, p.LastCount)
	assert.Zero(t, p.Value)

	name, stance := p.Algorithm()
	assert.Equal(t, "empty", name)
	assert.Equal(t, model.Aggressive, stance)

	stored := p.Model()
	assert.False(t, stored.Value.Valid)
	assert.False(t, stored.LastBuyPrice.Valid)
	assert.True(t, stored.LastCount.Valid)
}
