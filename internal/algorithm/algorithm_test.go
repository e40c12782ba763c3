package algorithm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/portfolio"
	"github.com/STTM-NSU/simtrade/internal/tools"
)

type fakeHistory struct {
	bars   []model.DayBar
	orders []model.Order
}

func (h *fakeHistory) Bars(_ context.Context, _ string, n int) ([]model.DayBar, error) {
	if n > len(h.bars) {
		n = len(h.bars)
	}
	return h.bars[:n], nil
}

func (h *fakeHistory) LastOrder(_ context.Context, f model.OrderFilter) (model.Order, bool, error) {
	var (
		last  model.Order
		found bool
	)
	for _, o := range h.orders {
		if f.Match(o) && (!found || o.Ts.After(last.Ts)) {
			last, found = o, true
		}
	}
	return last, found, nil
}

var _start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// closesToBars builds newest-first bars from closes given oldest first.
func closesToBars(closes ...float64) []model.DayBar {
	bars := make([]model.DayBar, len(closes))
	for i, c := range closes {
		bars[len(closes)-1-i] = model.DayBar{
			Symbol: "XYZ",
			Date:   _start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
		}
	}
	return bars
}

func position(count, value, budget float64) *portfolio.Position {
	return &portfolio.Position{AccountID: 1, Symbol: "XYZ", Count: count, Value: value, Budget: budget, Valid: true}
}

func newContext(h History, stance model.Stance) *Context {
	return &Context{
		Now:       _start.AddDate(0, 1, 0),
		Cash:      100000,
		Fee:       6.95,
		Stance:    stance,
		History:   h,
		Cooldowns: NewCooldowns(nil),
		Logger:    logger.NewNopLogger(),
	}
}

func decide(t *testing.T, r *Registry, name string, p *portfolio.Position, mc *Context) float64 {
	t.Helper()
	a, err := r.Get(name)
	require.NoError(t, err)
	q, err := a.Decide(context.Background(), p, mc)
	require.NoError(t, err)
	return q
}

func TestRegistry(t *testing.T) {
	r := NewSeededRegistry(1)

	_, err := r.Get("magic")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.True(t, r.Has("Trend"))
	assert.True(t, r.Has(" dttt "))
	assert.Len(t, r.Names(), 20)
}

func TestFillEstablishesBudget(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{}, model.Conservative)

	q := decide(t, r, Fill, position(0, 50, 100000), mc)
	assert.InDelta(t, 99993.05/50, q, 1e-9)
	assert.Equal(t, 1999.0, tools.TruncateQuantity(q))

	q = decide(t, r, Fill, position(100, 10, 500), mc)
	assert.InDelta(t, -50, q, 1e-9)

	mc.Cash = 5
	assert.Zero(t, decide(t, r, Fill, position(0, 50, 100000), mc))
}

func TestTrivialAlgorithms(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(nil, model.Aggressive)
	p := position(150, 12.5, 0)

	assert.Equal(t, -150.0, decide(t, r, Empty, p, mc))
	assert.Equal(t, -150.0, decide(t, r, Empty, position(150, 9999, 1), mc))
	assert.Zero(t, decide(t, r, Hold, p, mc))
	assert.Greater(t, decide(t, r, OverBuy, p, mc), 1e8)
	assert.Less(t, decide(t, r, OverSell, p, mc), -1e8)
}

func TestMonkeyIsSeeded(t *testing.T) {
	draw := func(seed int64) []float64 {
		r := NewSeededRegistry(seed)
		mc := newContext(nil, model.Conservative)
		out := make([]float64, 0, 50)
		for i := 0; i < 50; i++ {
			p := position(float64(i%2)*10, 20, 1000)
			out = append(out, decide(t, r, Monkey, p, mc))
		}
		return out
	}

	first := draw(42)
	assert.Equal(t, first, draw(42))

	r := NewSeededRegistry(42)
	mc := newContext(nil, model.Conservative)
	var before, after []float64
	for i := 0; i < 20; i++ {
		before = append(before, decide(t, r, Monkey, position(0, 20, 1000), mc))
	}
	r.Reseed(42)
	for i := 0; i < 20; i++ {
		after = append(after, decide(t, r, Monkey, position(0, 20, 1000), mc))
	}
	assert.Equal(t, before, after)

	var acted int
	for i, q := range first {
		switch {
		case q == 0:
		case i%2 == 0:
			acted++
			assert.InDelta(t, (1000-6.95)/20, q, 1e-9)
		default:
			acted++
			assert.Equal(t, -10.0, q)
		}
	}
	assert.Greater(t, acted, 0)
	assert.Less(t, acted, 50)
}

func TestTrendPausesAfterFall(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: closesToBars(20, 21, 22, 23, 24, 23, 22, 21, 20, 19)}, model.Conservative)

	assert.Equal(t, -100.0, decide(t, r, Trend, position(100, 19, 10000), mc))
	assert.True(t, mc.Cooldowns.Paused("XYZ"))
	assert.Equal(t, 5, mc.Cooldowns.Remaining("XYZ"))
	mc.Cooldowns.Advance()

	mc.History = &fakeHistory{bars: closesToBars(10, 11, 12, 13, 14, 15, 16, 17, 18, 19)}
	for tick := 1; tick <= 5; tick++ {
		assert.Zero(t, decide(t, r, Trend, position(0, 20, 10000), mc), "tick %d", tick)
		mc.Cooldowns.Advance()
	}
	assert.False(t, mc.Cooldowns.Paused("XYZ"))
	assert.Greater(t, decide(t, r, Trend, position(0, 20, 10000), mc), 0.0)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		count  float64
		stance model.Stance
		want   float64
	}{
		{"short history", []float64{1, 2, 3, 4, 5}, 0, model.Conservative, 0},
		{"four ups enter", []float64{9, 8, 7, 6, 5, 4, 5, 6, 7, 8}, 0, model.Conservative, (10000 - 6.95) / 8},
		{"three ups wait", []float64{9, 8, 7, 6, 5, 4, 3, 4, 5, 6}, 0, model.Conservative, 0},
		{"flat close breaks run", []float64{1, 2, 3, 4, 5, 6, 7, 7, 8, 9}, 0, model.Conservative, 0},
		{"three downs exit", []float64{1, 2, 3, 4, 5, 6, 7, 6, 5, 4}, 10, model.Conservative, -10},
		{"two downs hold", []float64{1, 2, 3, 4, 5, 6, 7, 8, 7, 6}, 10, model.Conservative, 0},
		{"aggressive one down exits", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 8}, 10, model.Aggressive, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := closesToBars(tt.closes...)
			mc := newContext(&fakeHistory{bars: bars}, tt.stance)
			value := tt.closes[len(tt.closes)-1]
			q := decide(t, NewSeededRegistry(1), Trend, position(tt.count, value, 10000), mc)
			assert.InDelta(t, tt.want, q, 1e-9)
		})
	}
}

func TestRuns(t *testing.T) {
	ups, downs := trailingRuns(closesToBars(1, 2, 2, 3))
	assert.Equal(t, 1, ups)
	assert.Zero(t, downs)

	ups, downs = trailingRuns(closesToBars(5, 4, 3, 2))
	assert.Zero(t, ups)
	assert.Equal(t, 3, downs)

	peaks, bottoms := turningPoints(closesToBars(1, 2, 3, 2, 1, 2, 3, 4), 2, 2)
	require.Len(t, peaks, 1)
	require.Len(t, bottoms, 1)
	assert.Equal(t, 3.0, peaks[0].Close)
	assert.Equal(t, 1.0, bottoms[0].Close)
	assert.True(t, peaks[0].Date.Before(bottoms[0].Date))
}

func TestTrendTrend(t *testing.T) {
	r := NewSeededRegistry(1)
	rising := closesToBars(10, 9, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)
	mc := newContext(&fakeHistory{bars: rising}, model.Conservative)
	assert.Greater(t, decide(t, r, TrendTrend, position(0, 20, 1000), mc), 0.0)

	// peaks 20 then 18: a lower peak sells.
	lower := closesToBars(10, 14, 17, 20, 17, 14, 11, 8, 12, 15, 18, 15, 12, 9, 10)
	mc = newContext(&fakeHistory{bars: lower}, model.Aggressive)
	assert.Equal(t, -5.0, decide(t, r, TrendTrend, position(5, 10, 1000), mc))

	mc.History = &fakeHistory{bars: lower, orders: []model.Order{{Symbol: "XYZ", AccountID: 1, Ts: _start.AddDate(0, 0, 14)}}}
	assert.Zero(t, decide(t, r, TrendTrend, position(5, 10, 1000), mc))
}

func TestConsecutiveUp(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: closesToBars(1, 2, 3, 3, 4)}, model.Conservative)
	assert.Greater(t, decide(t, r, ConsecutiveUp, position(0, 5, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, ConsecutiveUp, position(1, 5, 1000), mc))

	mc.History = &fakeHistory{bars: closesToBars(1, 2, 1, 3, 4)}
	assert.Zero(t, decide(t, r, ConsecutiveUp, position(0, 5, 1000), mc))
}

func TestAhnyungExit(t *testing.T) {
	r := NewSeededRegistry(1)
	h := &fakeHistory{orders: []model.Order{
		{Symbol: "XYZ", AccountID: 1, Ts: _start, Price: 80, Action: model.Buy},
		{Symbol: "XYZ", AccountID: 1, Ts: _start.AddDate(0, 0, 1), Price: 100, Action: model.Buy},
		{Symbol: "XYZ", AccountID: 1, Ts: _start.AddDate(0, 0, 2), Price: 300, Action: model.SellFailed},
	}}
	mc := newContext(h, model.Conservative)

	assert.Equal(t, -3.0, decide(t, r, AhnyungExit, position(3, 121, 0), mc))
	assert.Equal(t, -3.0, decide(t, r, AhnyungExit, position(3, 59, 0), mc))
	assert.Zero(t, decide(t, r, AhnyungExit, position(3, 100, 0), mc))
	assert.Zero(t, decide(t, r, AhnyungExit, position(0, 121, 0), mc))

	mc.History = &fakeHistory{}
	assert.Zero(t, decide(t, r, AhnyungExit, position(3, 121, 0), mc))
}

func TestAhnyung(t *testing.T) {
	r := NewSeededRegistry(1)
	// newest first opens: 110, 105, 100
	h := &fakeHistory{bars: closesToBars(100, 105, 110)}
	mc := newContext(h, model.Conservative)

	assert.Greater(t, decide(t, r, Ahnyung, position(0, 100, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, Ahnyung, position(0, 108, 1000), mc))

	h.orders = []model.Order{{Symbol: "XYZ", AccountID: 1, Ts: _start, Price: 100, Action: model.Buy}}
	assert.Equal(t, -2.0, decide(t, r, Ahnyung, position(2, 103, 1000), mc))
	assert.Zero(t, decide(t, r, Ahnyung, position(2, 101, 1000), mc))

	mc.History = &fakeHistory{}
	assert.Zero(t, decide(t, r, Ahnyung, position(0, 1, 1000), mc))
}

func TestVertex(t *testing.T) {
	r := NewSeededRegistry(1)
	falling := &fakeHistory{bars: closesToBars(100, 95, 90)}
	mc := newContext(falling, model.Aggressive)
	assert.Greater(t, decide(t, r, Vertex, position(0, 92, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, Vertex, position(0, 88, 1000), mc))

	mc.History = &fakeHistory{bars: closesToBars(90, 95, 100)}
	assert.Equal(t, -4.0, decide(t, r, Vertex, position(4, 98, 1000), mc))
}

func bodies(rates ...float64) []model.DayBar {
	bars := make([]model.DayBar, len(rates))
	for i, rate := range rates {
		bars[i] = model.DayBar{Symbol: "XYZ", Date: _start.AddDate(0, 0, -i), Low: 10, High: 20, Open: 15 - 5*rate, Close: 15 + 5*rate}
	}
	return bars
}

func TestOpenClose(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: bodies(0.8, 0.7, 0.9, -1, -1)}, model.Conservative)
	assert.Greater(t, decide(t, r, OpenClose, position(0, 15, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, OpenClose, position(1, 15, 1000), mc))

	mc.History = &fakeHistory{bars: bodies(-0.8, -0.7, -0.9, 1, 1)}
	assert.Equal(t, -1.0, decide(t, r, OpenClose, position(1, 15, 1000), mc))

	mc.History = &fakeHistory{bars: bodies(0.8, 0.3, 0.9, 1, 1)}
	assert.Zero(t, decide(t, r, OpenClose, position(0, 15, 1000), mc))
}

func TestOCTrend(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: bodies(0.5, -0.2, -0.4, -0.1, 0.3, 0.3, 0.3)}, model.Conservative)
	assert.Greater(t, decide(t, r, OCTrend, position(0, 15, 1000), mc), 0.0)

	mc.History = &fakeHistory{bars: bodies(-0.5, -0.2, -0.4, 0.1, 0.3, 0.3, 0.3)}
	assert.Equal(t, -7.0, decide(t, r, OCTrend, position(7, 15, 1000), mc))

	mc.History = &fakeHistory{bars: bodies(-0.5, 0.2, -0.4, 0.1, 0.3, 0.3, 0.3)}
	assert.Zero(t, decide(t, r, OCTrend, position(7, 15, 1000), mc))
}

func TestDayTrendFamily(t *testing.T) {
	r := NewSeededRegistry(1)
	strong := []model.DayBar{
		{Date: _start.AddDate(0, 0, 3), Low: 100, High: 110, Open: 101, Close: 109},
		{Date: _start.AddDate(0, 0, 2), Low: 100, High: 110, Open: 101, Close: 108},
		{Date: _start.AddDate(0, 0, 1), Low: 100, High: 110, Open: 101, Close: 108},
		{Date: _start, Low: 100, High: 110, Open: 101, Close: 107},
	}
	weak := []model.DayBar{
		{Date: _start.AddDate(0, 0, 1), Low: 100, High: 110, Open: 109, Close: 101},
		{Date: _start, Low: 100, High: 110, Open: 109, Close: 101},
	}

	mc := newContext(&fakeHistory{bars: strong}, model.Conservative)
	assert.Greater(t, decide(t, r, DayTrend, position(0, 105, 1000), mc), 0.0)
	assert.Greater(t, decide(t, r, AggDT, position(0, 105, 1000), mc), 0.0)

	mc = newContext(&fakeHistory{bars: weak}, model.Moderate)
	assert.Equal(t, -2.0, decide(t, r, DayTrend, position(2, 105, 1000), mc))
	assert.Equal(t, -2.0, decide(t, r, AggDT, position(2, 105, 1000), mc))
	assert.Zero(t, decide(t, r, DayTrend, position(0, 105, 1000), mc))

	// mark far above yesterday's middle
	assert.Greater(t, decide(t, r, AggTwo, position(0, 120, 1000), mc), 0.0)
	assert.Equal(t, -2.0, decide(t, r, AggTwo, position(2, 90, 1000), mc))
}

func TestRAvg(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: closesToBars(10, 11, 12, 13, 14)}, model.Aggressive)
	assert.Greater(t, decide(t, r, RAvg, position(0, 14, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, RAvg, position(1, 14, 1000), mc))

	mc.History = &fakeHistory{bars: closesToBars(14, 13, 12, 11, 10)}
	assert.Equal(t, -1.0, decide(t, r, RAvg, position(1, 10, 1000), mc))
}

func TestDayTrade(t *testing.T) {
	r := NewSeededRegistry(1)
	mc := newContext(&fakeHistory{bars: closesToBars(100)}, model.Conservative)
	assert.Greater(t, decide(t, r, DayTrade, position(0, 99, 1000), mc), 0.0)
	assert.Zero(t, decide(t, r, DayTrade, position(0, 99.9, 1000), mc))
	assert.Equal(t, -3.0, decide(t, r, DayTrade, position(3, 150, 1000), mc))

	mc.History = &fakeHistory{}
	assert.Zero(t, decide(t, r, DayTrade, position(0, 99, 1000), mc))
}

func TestDTTT(t *testing.T) {
	r := NewSeededRegistry(1)
	closing := make([]model.DayBar, 30)
	for i := range closing {
		closing[i] = model.DayBar{Date: _start.AddDate(0, 0, -i), Low: 10, High: 20, Close: 19, Open: 11}
	}
	mc := newContext(&fakeHistory{bars: closing}, model.Conservative)
	assert.Greater(t, decide(t, r, DTTT, position(0, 19, 1000), mc), 0.0)

	closing[1].Close = 12
	assert.Zero(t, decide(t, r, DTTT, position(0, 19, 1000), mc))

	mc.History = &fakeHistory{bars: closing[:20]}
	assert.Zero(t, decide(t, r, DTTT, position(0, 19, 1000), mc))
}

func TestCooldowns(t *testing.T) {
	c := NewCooldowns(map[string]int{"OLD": 1, "ZERO": 0})
	assert.True(t, c.Paused("OLD"))
	assert.False(t, c.Paused("ZERO"))

	c.Pause("XYZ", 2)
	c.Pause("XYZ", 9)
	c.Advance()
	assert.False(t, c.Paused("OLD"))
	assert.Equal(t, 2, c.Remaining("XYZ"))

	c.Advance()
	assert.Equal(t, map[string]int{"XYZ": 1}, c.Snapshot())
	c.Advance()
	assert.Empty(t, c.Snapshot())
}
