package algorithm

import (
	"context"
	"math"

	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/portfolio"
)

func lastBuy(ctx context.Context, p *portfolio.Position, mc *Context) (model.Order, bool, error) {
	return mc.History.LastOrder(ctx, model.OrderFilter{
		Symbol:    p.Symbol,
		AccountID: p.AccountID,
		Actions:   []model.Action{model.Buy},
	})
}

type ahnyungExitParams struct {
	out, emergency float64
}

var _ahnyungExit = byStance[ahnyungExitParams]{{1.2, 0.6}, {1.1, 0.7}, {1.03, 0.8}}

// ahnyungExit takes profit above out times the last buy price and cuts
// losses below emergency times it.
func ahnyungExit(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	if p.Flat() {
		return 0, nil
	}
	order, ok, err := lastBuy(ctx, p, mc)
	if err != nil || !ok {
		return 0, err
	}
	params := _ahnyungExit.at(mc.Stance)
	mc.debugf("ahnyung exit %s: value %v, last buy %v", p.Symbol, p.Value, order.Price)
	if order.Price*params.out < p.Value || order.Price*params.emergency > p.Value {
		return SellAll(p), nil
	}
	return 0, nil
}

const _ahnyungDays = 10

type ahnyungParams struct {
	in, out float64
}

var _ahnyung = byStance[ahnyungParams]{{0.98, 1.02}, {0.99, 1.01}, {0.995, 1.005}}

// ahnyung buys a pullback from the recent top and sells a small profit.
func ahnyung(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	params := _ahnyung.at(mc.Stance)

	history, err := mc.History.Bars(ctx, p.Symbol, _ahnyungDays)
	if err != nil {
		return 0, err
	}
	if len(history) == 0 {
		return 0, nil
	}

	if !p.Flat() {
		prevBuy := p.Value
		order, ok, err := lastBuy(ctx, p, mc)
		if err != nil {
			return 0, err
		}
		if ok {
			prevBuy = order.Price
		}
		if p.Value > prevBuy*params.out {
			return SellAll(p), nil
		}
		return 0, nil
	}

	top := p.Value
	for _, b := range history {
		if b.Open <= top {
			break
		}
		top = b.Open
	}
	mc.debugf("ahnyung %s: top %v, value %v", p.Symbol, top, p.Value)
	if top*params.in > p.Value {
		return BuyAll(p, mc), nil
	}
	return 0, nil
}

var _vertexPeriod = byStance[int]{5, 4, 3}

// vertex trades a turn: the window moved one way and today moves the other.
func vertex(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	period := _vertexPeriod.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, period)
	if err != nil || !ok {
		return 0, err
	}
	before := history[0].Open - history[len(history)-1].Open
	now := p.Value - history[0].Open

	switch {
	case !p.Flat() && before > 0 && now < 0:
		return SellAll(p), nil
	case p.Flat() && before < 0 && now > 0:
		return BuyAll(p, mc), nil
	}
	return 0, nil
}

// bodyRates is (close - open) / (high - low) per bar, skipping flat days.
func bodyRates(history []model.DayBar) []float64 {
	rates := make([]float64, 0, len(history))
	for _, b := range history {
		if gap := b.Range(); gap != 0 {
			rates = append(rates, (b.Close-b.Open)/gap)
		}
	}
	return rates
}

const _openCloseWindow = 5

type openCloseParams struct {
	meaningful float64
	upRepeat   int
	downRepeat int
}

var _openClose = byStance[openCloseParams]{{0.6, 3, 3}, {0.5, 2, 2}, {0.4, 1, 1}}

// openClose follows repeated strong day bodies.
func openClose(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	history, ok, err := bars(ctx, p, mc, _openCloseWindow)
	if err != nil || !ok {
		return 0, err
	}
	params := _openClose.at(mc.Stance)
	rates := bodyRates(history)

	repeat, sign, decision := params.upRepeat, 1.0, BuyAll(p, mc)
	if !p.Flat() {
		repeat, sign, decision = params.downRepeat, -1.0, SellAll(p)
	}
	if len(rates) < repeat {
		return 0, nil
	}
	for _, rate := range rates[:repeat] {
		if math.Abs(rate) < params.meaningful || rate*sign < 0 {
			return 0, nil
		}
	}
	return decision, nil
}

const _ocTrendWindow = 7

type ocTrendParams struct {
	prevDown int
	monitor  int
}

var _ocTrend = byStance[ocTrendParams]{{3, 3}, {2, 2}, {1, 1}}

// ocTrend buys the first up day after a run of down days and sells after
// monitor down days.
func ocTrend(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	history, ok, err := bars(ctx, p, mc, _ocTrendWindow)
	if err != nil || !ok {
		return 0, err
	}
	params := _ocTrend.at(mc.Stance)
	rates := bodyRates(history)
	if len(rates) == 0 {
		return 0, nil
	}

	if p.Flat() {
		if rates[0] <= 0 || len(rates) < params.prevDown+1 {
			return 0, nil
		}
		for _, rate := range rates[1 : params.prevDown+1] {
			if rate > 0 {
				return 0, nil
			}
		}
		return BuyAll(p, mc), nil
	}

	if rates[0] >= 0 || len(rates) < params.monitor {
		return 0, nil
	}
	for _, rate := range rates[:params.monitor] {
		if rate > 0 {
			return 0, nil
		}
	}
	return SellAll(p), nil
}

// centerRate is how far a price sits from the middle of a day, relative to its low.
func centerRate(price float64, day model.DayBar) (float64, bool) {
	if day.Low <= 0 {
		return 0, false
	}
	return (price - (day.High+day.Low)/2) / day.Low, true
}

type dayTrendParams struct {
	buyRate, sellRate float64
	days              int
}

var _dayTrend = byStance[dayTrendParams]{
	{buyRate: 0.0010, sellRate: -0.0010, days: 4},
	{buyRate: 0.0008, sellRate: -0.0008, days: 2},
	{buyRate: 0.0006, sellRate: -0.0006, days: 2},
}

func closeCenterRates(history []model.DayBar) ([]float64, bool) {
	rates := make([]float64, 0, len(history))
	for _, b := range history {
		rate, ok := centerRate(b.Close, b)
		if !ok {
			return nil, false
		}
		rates = append(rates, rate)
	}
	return rates, true
}

// dayTrend buys when every recent day closed above its middle and sells
// when every one closed below it.
func dayTrend(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	params := _dayTrend.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, params.days)
	if err != nil || !ok {
		return 0, err
	}
	rates, ok := closeCenterRates(history)
	if !ok {
		return 0, nil
	}
	return thresholdDecision(p, mc, rates, params.buyRate, params.sellRate), nil
}

// thresholdDecision buys when every rate is above buy and sells when every
// rate is below sell.
func thresholdDecision(p *portfolio.Position, mc *Context, rates []float64, buy, sell float64) float64 {
	if p.Flat() {
		for _, rate := range rates {
			if rate <= buy {
				return 0
			}
		}
		return BuyAll(p, mc)
	}
	for _, rate := range rates {
		if rate >= sell {
			return 0
		}
	}
	return SellAll(p)
}

type aggParams struct {
	oneBuy, oneSell float64
	buy, sell       float64
	days            int
}

var _agg = byStance[aggParams]{
	{oneBuy: 0.010, oneSell: -0.010, buy: 0.0006, sell: 0, days: 3},
	{oneBuy: 0.008, oneSell: -0.008, buy: 0.0004, sell: 0, days: 2},
	{oneBuy: 0.006, oneSell: -0.006, buy: 0.0003, sell: 0, days: 2},
}

// aggregated is dayTrend that also reacts to one strong newest rate.
func aggregated(p *portfolio.Position, mc *Context, rates []float64, params aggParams) float64 {
	if p.Flat() && rates[0] >= params.oneBuy {
		return BuyAll(p, mc)
	}
	if !p.Flat() && rates[0] <= params.oneSell {
		return SellAll(p)
	}
	return thresholdDecision(p, mc, rates, params.buy, params.sell)
}

func aggDT(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	params := _agg.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, params.days)
	if err != nil || !ok {
		return 0, err
	}
	rates, ok := closeCenterRates(history)
	if !ok {
		return 0, nil
	}
	return aggregated(p, mc, rates, params), nil
}

// aggTwo measures each open, and today's mark, against the previous day.
func aggTwo(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	params := _agg.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, params.days)
	if err != nil || !ok {
		return 0, err
	}

	rates := make([]float64, 0, len(history))
	rate, ok := centerRate(p.Value, history[0])
	if !ok {
		return 0, nil
	}
	rates = append(rates, rate)
	for n := 0; n+1 < len(history); n++ {
		rate, ok := centerRate(history[n].Open, history[n+1])
		if !ok {
			return 0, nil
		}
		rates = append(rates, rate)
	}
	return aggregated(p, mc, rates, params), nil
}

var _rAvgDays = byStance[int]{7, 6, 5}

const _rAvgDecay = 0.05

// rAvg compares an exponentially weighted average of opens with the oldest
// open of the window.
func rAvg(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	days := _rAvgDays.at(mc.Stance)
	history, ok, err := bars(ctx, p, mc, days)
	if err != nil || !ok {
		return 0, err
	}

	var total, weights float64
	for i, b := range history {
		weight := math.Pow(1-_rAvgDecay, float64(i))
		total += b.Open * weight
		weights += weight
	}
	diff := total/weights - history[days-1].Open
	mc.debugf("ravg %s: diff %v", p.Symbol, diff)

	if p.Flat() {
		if diff >= 0 {
			return BuyAll(p, mc), nil
		}
		return 0, nil
	}
	if diff <= 0 {
		return SellAll(p), nil
	}
	return 0, nil
}

var _dayTradeIn = byStance[float64]{0.998, 0.999, 1.0}

// dayTrade buys below the previous open and always sells the next tick.
func dayTrade(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	if !p.Flat() {
		return SellAll(p), nil
	}
	prev := p.Value
	history, err := mc.History.Bars(ctx, p.Symbol, 1)
	if err != nil {
		return 0, err
	}
	if len(history) > 0 {
		prev = history[0].Open
	}
	if p.Value < prev*_dayTradeIn.at(mc.Stance) {
		return BuyAll(p, mc), nil
	}
	return 0, nil
}
