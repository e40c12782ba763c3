// Package algorithm holds the trade decision functions. A decision is a
// signed quantity: positive buys, negative sells, zero does nothing.
package algorithm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/portfolio"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

var ErrUnknown = errors.New("unknown algorithm")

// History is the read-only market memory an algorithm may consult.
type History interface {
	// Bars returns at most n day bars dated before the tick, newest first.
	Bars(ctx context.Context, symbol string, n int) ([]model.DayBar, error)
	LastOrder(ctx context.Context, f model.OrderFilter) (model.Order, bool, error)
}

// Context is everything besides the position that a decision may depend on.
type Context struct {
	Now       time.Time
	Cash      float64
	Fee       float64
	Stance    model.Stance
	History   History
	Cooldowns *Cooldowns
	Logger    logger.Logger
}

type Algorithm interface {
	Decide(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error)
}

type Func func(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error)

func (f Func) Decide(ctx context.Context, p *portfolio.Position, mc *Context) (float64, error) {
	return f(ctx, p, mc)
}

const (
	Fill          = "fill"
	Empty         = "empty"
	Hold          = "hold"
	Monkey        = "monkey"
	OverBuy       = "over_buy"
	OverSell      = "over_sell"
	ConsecutiveUp = "consecutive_up"
	AhnyungExit   = "ahnyung_exit"
	Ahnyung       = "ahnyung"
	Vertex        = "vertex"
	Trend         = "trend"
	TrendTrend    = "trend_trend"
	DTTT          = "dttt"
	OpenClose     = "open_close"
	OCTrend       = "oc_trend"
	DayTrend      = "day_trend"
	AggDT         = "agg_dt"
	AggTwo        = "agg_two"
	RAvg          = "ravg"
	DayTrade      = "day_trade"
)

// Registry maps names to algorithms. It is built once at startup.
type Registry struct {
	algorithms map[string]Algorithm
	monkey     *monkey
}

// NewRegistry registers every built-in algorithm. rnd drives Monkey.
func NewRegistry(rnd *rand.Rand) *Registry {
	r := &Registry{algorithms: make(map[string]Algorithm), monkey: &monkey{rnd: rnd}}

	r.Register(Fill, Func(fill))
	r.Register(Empty, Func(empty))
	r.Register(Hold, Func(hold))
	r.Register(Monkey, r.monkey)
	r.Register(OverBuy, Func(overBuy))
	r.Register(OverSell, Func(overSell))

	r.Register(ConsecutiveUp, Func(consecutiveUp))
	r.Register(Trend, Func(trend))
	r.Register(TrendTrend, Func(trendTrend))
	r.Register(DTTT, Func(dttt))

	r.Register(AhnyungExit, Func(ahnyungExit))
	r.Register(Ahnyung, Func(ahnyung))
	r.Register(Vertex, Func(vertex))
	r.Register(OpenClose, Func(openClose))
	r.Register(OCTrend, Func(ocTrend))
	r.Register(DayTrend, Func(dayTrend))
	r.Register(AggDT, Func(aggDT))
	r.Register(AggTwo, Func(aggTwo))
	r.Register(RAvg, Func(rAvg))
	r.Register(DayTrade, Func(dayTrade))

	return r
}

// NewSeededRegistry is NewRegistry with a deterministic source.
func NewSeededRegistry(seed int64) *Registry {
	return NewRegistry(seeded(seed))
}

// Reseed restarts the Monkey stream from seed.
func (r *Registry) Reseed(seed int64) {
	r.monkey.mu.Lock()
	defer r.monkey.mu.Unlock()
	r.monkey.rnd = seeded(seed)
}

func seeded(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, a Algorithm) {
	r.algorithms[normalize(name)] = a
}

func (r *Registry) Get(name string) (Algorithm, error) {
	a, ok := r.algorithms[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.algorithms[normalize(name)]
	return ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.algorithms))
	for name := range r.algorithms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuyAll is the largest quantity affordable within both cash and budget,
// leaving room for the fee.
func BuyAll(p *portfolio.Position, mc *Context) float64 {
	if p.Value <= 0 {
		return 0
	}
	money := min(mc.Cash, p.Budget) - mc.Fee
	if money <= 0 {
		return 0
	}
	return money / p.Value
}

func SellAll(p *portfolio.Position) float64 {
	return -p.Count
}

// byStance holds one parameter set per stance.
type byStance[T any] [3]T

func (t byStance[T]) at(s model.Stance) T {
	if !s.Valid() {
		s = model.Conservative
	}
	return t[s]
}

func (mc *Context) debugf(template string, args ...any) {
	if mc.Logger != nil {
		mc.Logger.Debugf(template, args...)
	}
}

// bars loads exactly n bars or reports that history is too short.
func bars(ctx context.Context, p *portfolio.Position, mc *Context, n int) ([]model.DayBar, bool, error) {
	history, err := mc.History.Bars(ctx, p.Symbol, n)
	if err != nil {
		return nil, false, fmt.Errorf("%w: can't load history of %s", err, p.Symbol)
	}
	if len(history) < n {
		mc.debugf("not enough history for %s: %d of %d", p.Symbol, len(history), n)
		return history, false, nil
	}
	return history, true, nil
}

type storeHistory struct {
	r      storage.Reader
	before time.Time
}

// HistoryFrom exposes the stored day history dated before the given day.
func HistoryFrom(r storage.Reader, before time.Time) History {
	return &storeHistory{r: r, before: before}
}

func (h *storeHistory) Bars(ctx context.Context, symbol string, n int) ([]model.DayBar, error) {
	return h.r.DayBars(ctx, symbol, h.before, n)
}

func (h *storeHistory) LastOrder(ctx context.Context, f model.OrderFilter) (model.Order, bool, error) {
	o, err := h.r.LastOrder(ctx, f)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}
