package algorithm

import (
	"context"
	"slices"

	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/portfolio"
)

type direction int

const (
	side direction = iota
	up
	down
)

// run is a stretch of day-over-day moves in one direction. last is the index
// of its final bar in chronological order. A flat move is a run of its own,
// so equal closes break runs.
type run struct {
	dir    direction
	length int
	last   int
}

func runsOf(values []float64) []run {
	var runs []run
	for i := 1; i < len(values); i++ {
		d := side
		switch {
		case values[i] > values[i-1]:
			d = up
		case values[i] < values[i-1]:
			d = down
		}
		if n := len(runs); n > 0 && d != side && runs[n-1].dir == d {
			runs[n-1].length++
			runs[n-1].last = i
			continue
		}
		runs = append(runs, run{dir: d, length: 1, last: i})
	}
	return runs
}

// chronological reverses newest-first bars.
func chronological(bars []model.DayBar) []model.DayBar {
	out := slices.Clone(bars)
	slices.Reverse(out)
	return out
}

func closes(bars []model.DayBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// trailingRuns returns the up and down run lengths ending at the newest bar.
func trailingRuns(newestFirst []model.DayBar) (ups, downs int) {
	runs := runsOf(closes(chronological(newestFirst)))
	if len(runs) == 0 {
		return 0, 0
	}
	switch last := runs[len(runs)-1]; last.dir {
	case up:
		return last.length, 0
	case down:
		return 0, last.length
	}
	return 0, 0
}

// turningPoints finds peaks (an up run of upMin moves followed by a down run
// of downMin) and bottoms (the mirror), newest first.
func turningPoints(newestFirst []model.DayBar, upMin, downMin int) (peaks, bottoms []model.DayBar) {
	series := chronological(newestFirst)
	runs := runsOf(closes(series))
	for k := 0; k+1 < len(runs); k++ {
		a, b := runs[k], runs[k+1]
		switch {
		case a.dir == up && a.length >= upMin && b.dir == down && b.length >= downMin:
			peaks = append(peaks, series[a.last])
		case a.dir == down && a.length >= downMin && b.dir == up && b.length >= upMin:
			bottoms = append(bottoms, series[a.last])
		}
	}
	slices.Reverse(peaks)
	slices.Reverse(bottoms)
	return peaks, bottoms
}

const _trendWindow = 10

type trendParams struct {
	up         int
	exit       int
	pauseAt    int
	pauseTicks int
}

var _trend = byStance[trendParams]{
	{up: 4, exit: 3, pauseAt: 4, pauseTicks: 5},
	{up: 3, exit: 2, pauseAt: 3, pauseTicks: 4},
	{up: 2, exit: 1, pauseAt: 2, pauseTicks: 3},
}

// trend buys a rising streak and sells a falling one. A long enough fall
// also pauses new entries on the symbol.
func trend(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	history, ok, err := bars(ctx, p, mc, _trendWindow)
	if err != nil || !ok {
		return 0, err
	}
	params := _trend.at(mc.Stance)
	ups, downs := trailingRuns(history)
	mc.debugf("trend %s: up %d, down %d", p.Symbol, ups, downs)

	if downs >= params.pauseAt {
		if mc.Cooldowns != nil {
			mc.Cooldowns.Pause(p.Symbol, params.pauseTicks)
		}
		if !p.Flat() {
			return SellAll(p), nil
		}
		return 0, nil
	}

	if p.Flat() {
		if mc.Cooldowns != nil && mc.Cooldowns.Paused(p.Symbol) {
			mc.debugf("trend %s: paused for %d ticks", p.Symbol, mc.Cooldowns.Remaining(p.Symbol))
			return 0, nil
		}
		if ups >= params.up {
			return BuyAll(p, mc), nil
		}
		return 0, nil
	}

	if downs >= params.exit {
		return SellAll(p), nil
	}
	return 0, nil
}

var _consecutiveUp = byStance[int]{5, 3, 2}

// consecutiveUp enters after n bars whose opens never fell.
func consecutiveUp(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	if !p.Flat() {
		return 0, nil
	}
	n := _consecutiveUp.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, n)
	if err != nil || !ok {
		return 0, err
	}
	for i := 0; i+1 < len(history); i++ {
		if history[i].Open < history[i+1].Open {
			return 0, nil
		}
	}
	return BuyAll(p, mc), nil
}

// accountLastOrder is the latest order of the account on the symbol.
func accountLastOrder(ctx context.Context, p *portfolio.Position, mc *Context) (model.Order, bool, error) {
	return mc.History.LastOrder(ctx, model.OrderFilter{Symbol: p.Symbol, AccountID: p.AccountID})
}

// seenSince reports whether a turning point is not newer than the last order.
func seenSince(point model.DayBar, last model.Order, ok bool) bool {
	return ok && !point.Date.After(model.DateOf(last.Ts))
}

const _trendTrendWindow = 15

type trendTrendParams struct {
	up, down int
}

var _trendTrend = byStance[trendTrendParams]{{3, 3}, {2, 2}, {1, 1}}

// trendTrend buys a higher bottom and sells a lower peak.
func trendTrend(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	history, ok, err := bars(ctx, p, mc, _trendTrendWindow)
	if err != nil || !ok {
		return 0, err
	}
	last, hasLast, err := accountLastOrder(ctx, p, mc)
	if err != nil {
		return 0, err
	}
	params := _trendTrend.at(mc.Stance)
	peaks, bottoms := turningPoints(history, params.up, params.down)
	rising := history[0].Close > history[1].Close
	falling := history[0].Close < history[1].Close

	if p.Flat() {
		if len(peaks) < 2 && rising {
			return BuyAll(p, mc), nil
		}
		if len(bottoms) >= 2 {
			if seenSince(bottoms[0], last, hasLast) {
				return 0, nil
			}
			if bottoms[0].Close > bottoms[1].Close {
				return BuyAll(p, mc), nil
			}
		}
		return 0, nil
	}

	if len(peaks) < 2 && falling {
		return SellAll(p), nil
	}
	if len(peaks) >= 2 {
		if seenSince(peaks[0], last, hasLast) {
			return 0, nil
		}
		if peaks[0].Close < peaks[1].Close {
			return SellAll(p), nil
		}
	}
	return 0, nil
}

const _dtttWindow = 30

type dtttParams struct {
	ud      int
	peaks   int
	buyRate float64
	days    int
}

var _dttt = byStance[dtttParams]{
	{ud: 2, peaks: 3, buyRate: 0.6, days: 3},
	{ud: 2, peaks: 3, buyRate: 0.5, days: 2},
	{ud: 1, peaks: 2, buyRate: 0.4, days: 2},
}

// closeRates is (close - low) / (high - low) per bar, skipping flat days.
func closeRates(history []model.DayBar) []float64 {
	rates := make([]float64, 0, len(history))
	for _, b := range history {
		if gap := b.Range(); gap > 0 {
			rates = append(rates, (b.Close-b.Low)/gap)
		}
	}
	return rates
}

// dttt enters after days strong closes and exits on a run of falling peaks.
func dttt(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	history, ok, err := bars(ctx, p, mc, _dtttWindow)
	if err != nil || !ok {
		return 0, err
	}
	params := _dttt.at(mc.Stance)

	if p.Flat() {
		rates := closeRates(history)
		if len(rates) < params.days {
			return 0, nil
		}
		for _, rate := range rates[:params.days] {
			if rate < params.buyRate {
				return 0, nil
			}
		}
		return BuyAll(p, mc), nil
	}

	last, hasLast, err := accountLastOrder(ctx, p, mc)
	if err != nil {
		return 0, err
	}
	peaks, _ := turningPoints(history, params.ud, params.ud)
	if len(peaks) >= params.peaks+1 {
		if seenSince(peaks[1], last, hasLast) {
			return 0, nil
		}
		for n := 0; n < params.peaks; n++ {
			if peaks[n].Close >= peaks[n+1].Close {
				return 0, nil
			}
		}
		return SellAll(p), nil
	}
	if history[0].Close < history[1].Close {
		return SellAll(p), nil
	}
	return 0, nil
}
