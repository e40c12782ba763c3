package algorithm

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/STTM-NSU/simtrade/internal/portfolio"
)

// fill converges the holding to the budget in one step. Buys are capped by
// cash and keep room for the fee.
func fill(_ context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	if p.Value <= 0 {
		return 0, nil
	}
	overflow := p.Held() - p.Budget
	mc.debugf("fill %s: held %v, budget %v, overflow %v", p.Symbol, p.Held(), p.Budget, overflow)
	if overflow >= 0 {
		return -overflow / p.Value, nil
	}

	money := min(-overflow, mc.Cash) - mc.Fee
	if money <= 0 {
		return 0, nil
	}
	return money / p.Value, nil
}

func empty(_ context.Context, p *portfolio.Position, _ *Context) (float64, error) {
	return SellAll(p), nil
}

func hold(context.Context, *portfolio.Position, *Context) (float64, error) {
	return 0, nil
}

const _monkeyThreshold = 0.85

type monkey struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (m *monkey) draw() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rnd == nil {
		return rand.Float64()
	}
	return m.rnd.Float64()
}

func (m *monkey) Decide(_ context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	if m.draw() <= _monkeyThreshold {
		return 0, nil
	}
	if p.Flat() {
		return BuyAll(p, mc), nil
	}
	return SellAll(p), nil
}

const _overQuantity = 1e9

func overBuy(context.Context, *portfolio.Position, *Context) (float64, error) {
	return _overQuantity, nil
}

func overSell(context.Context, *portfolio.Position, *Context) (float64, error) {
	return -_overQuantity, nil
}
