// Package engine runs one tick: quotes, decisions, orders, ledger and reports
// for every account, committed as a single transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/STTM-NSU/simtrade/internal/algorithm"
	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/portfolio"
	"github.com/STTM-NSU/simtrade/internal/storage"
	"github.com/STTM-NSU/simtrade/internal/tools"
)

type Engine struct {
	store      storage.Store
	broker     broker.Broker
	algorithms *algorithm.Registry
	cfg        config.EngineConfig
	logger     logger.Logger

	tradable func(symbol string) bool
}

func New(store storage.Store, b broker.Broker, algorithms *algorithm.Registry, cfg config.EngineConfig, l logger.Logger) *Engine {
	return &Engine{
		store:      store,
		broker:     b,
		algorithms: algorithms,
		cfg:        cfg,
		logger:     l,
	}
}

// SetTradable limits decisions to symbols for which f is true. Other
// positions are still marked and saved. Nil trades everything.
func (e *Engine) SetTradable(f func(symbol string) bool) {
	e.tradable = f
}

// Reseed restarts the seeded algorithms, so a replay draws the same stream.
func (e *Engine) Reseed(seed int64) {
	e.algorithms.Reseed(seed)
}

// Run opens a broker session, runs the tick and closes the session. A failed
// login returns before anything is written.
func (e *Engine) Run(ctx context.Context, tick time.Time) error {
	if err := e.broker.Login(ctx); err != nil {
		return fmt.Errorf("%w: can't start tick %s", err, tick.Format(time.DateTime))
	}
	defer func() {
		if err := e.broker.Logout(ctx); err != nil {
			e.logger.Warnf("%s: can't close broker session", err)
		}
	}()
	return e.RunInSession(ctx, tick)
}

// RunInSession runs the tick with a session the caller already holds.
func (e *Engine) RunInSession(ctx context.Context, tick time.Time) error {
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return (&tickRun{Engine: e, tx: tx, now: tick}).run(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: tick %s rolled back", err, tick.Format(time.DateTime))
	}
	return nil
}

type tickRun struct {
	*Engine
	tx        storage.Tx
	now       time.Time
	orderID   int64
	cooldowns *algorithm.Cooldowns
}

func (t *tickRun) run(ctx context.Context) error {
	if err := t.refreshQuotes(ctx); err != nil {
		return err
	}

	id, err := t.tx.OrderID(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		id = t.cfg.OrderIDBase
	case err != nil:
		return fmt.Errorf("%w: can't load order id", err)
	}
	t.orderID = id

	remaining, err := t.tx.Cooldowns(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load cooldowns", err)
	}
	t.cooldowns = algorithm.NewCooldowns(remaining)

	accounts, err := t.tx.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load accounts", err)
	}
	for _, a := range accounts {
		if a.Mode == model.Stopped {
			continue
		}
		if err := t.runAccount(ctx, a); err != nil {
			return fmt.Errorf("%w: account %d", err, a.ID)
		}
	}

	t.cooldowns.Advance()
	if err := t.tx.SaveCooldowns(ctx, t.cooldowns.Snapshot()); err != nil {
		return fmt.Errorf("%w: can't save cooldowns", err)
	}
	if err := t.tx.SaveOrderID(ctx, t.orderID); err != nil {
		return fmt.Errorf("%w: can't save order id", err)
	}
	return nil
}

// refreshQuotes stores a quote for every tracked symbol at the tick time.
// Symbols the broker can't price are skipped.
func (t *tickRun) refreshQuotes(ctx context.Context) error {
	symbols, err := t.tx.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load symbols", err)
	}
	for _, symbol := range symbols {
		q, err := t.broker.GetQuote(ctx, symbol)
		if err != nil {
			t.logger.Warnf("%s: skip quote for %s", err, symbol)
			continue
		}
		q.Symbol, q.Ts = symbol, t.now
		if err := t.tx.SaveQuote(ctx, q); err != nil {
			return fmt.Errorf("%w: can't save quote for %s", err, symbol)
		}
	}
	return nil
}

// BrokerAccountID is the id the broker knows the account by.
func BrokerAccountID(a model.Account) string {
	if a.BrokerAccountID != "" {
		return a.BrokerAccountID
	}
	return strconv.FormatInt(a.ID, 10)
}

func (t *tickRun) runAccount(ctx context.Context, a model.Account) error {
	l := t.logger.With("account", a.ID)

	positions, err := t.tx.Positions(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("%w: can't load positions", err)
	}
	acc := portfolio.NewAccount(a, positions, t.cfg.Fee, t.logger)
	if err := acc.RefreshMarks(ctx, t.tx, t.now); err != nil {
		return err
	}

	var (
		placer portfolio.OrderPlacer
		failed bool
	)
	handle, err := t.broker.GetAccount(ctx, BrokerAccountID(a))
	if err != nil {
		l.Errorf("%s: no broker account, no orders this tick", err)
		failed = true
	} else {
		placer = handle
	}

	for _, row := range positions {
		p, priced, err := acc.GetOrCreatePosition(ctx, row.Symbol)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		switch {
		case !priced:
			l.Warnf("%s unpriced, skipped", p.Symbol)
		case placer != nil:
			ok, err := t.decide(ctx, acc, placer, p, l.With("symbol", p.Symbol))
			if err != nil {
				return err
			}
			failed = failed || !ok
		}
		if err := t.tx.UpdatePosition(ctx, p.Model()); err != nil {
			return fmt.Errorf("%w: can't save position %s", err, p.Symbol)
		}
	}
	acc.Settle()

	if acc.Mode == model.Setup && !failed {
		acc.Mode = model.Run
		l.Infof("setup done, trading from %s", t.now.Format(time.DateOnly))
	}
	if err := t.tx.UpdateAccount(ctx, acc.Model()); err != nil {
		return fmt.Errorf("%w: can't save account", err)
	}
	if err := t.tx.ReplaceDayReport(ctx, acc.Report(t.now)); err != nil {
		return fmt.Errorf("%w: can't save day report", err)
	}
	return nil
}

// decide runs the position's algorithm and executes a non-zero decision. ok
// is false when the algorithm failed or the order was rejected.
func (t *tickRun) decide(ctx context.Context, acc *portfolio.Account, placer portfolio.OrderPlacer, p *portfolio.Position, l logger.Logger) (bool, error) {
	if t.tradable != nil && !t.tradable(p.Symbol) {
		return true, nil
	}

	name, stance := p.Algorithm()
	if acc.Mode == model.Setup {
		name = algorithm.Fill
	}
	alg, err := t.algorithms.Get(name)
	if err != nil {
		l.Errorf("%s: skipped", err)
		return false, nil
	}

	decision, err := alg.Decide(ctx, p, &algorithm.Context{
		Now:       t.now,
		Cash:      acc.CashToTrade,
		Fee:       acc.Fee(),
		Stance:    stance,
		History:   algorithm.HistoryFrom(t.tx, t.now),
		Cooldowns: t.cooldowns,
		Logger:    l,
	})
	if err != nil {
		l.Errorf("%s: %s failed", err, name)
		return false, nil
	}
	if !p.FloatTrade {
		decision = tools.TruncateQuantity(decision)
	}
	if decision == 0 {
		return true, nil
	}

	p.LastCount = p.Count
	ok, reason := acc.ExecuteOrder(ctx, placer, p, decision)
	t.orderID++
	order := model.Order{
		OrderID:       t.orderID,
		Ts:            t.now,
		AccountID:     acc.ID,
		Symbol:        p.Symbol,
		Count:         math.Abs(decision),
		Price:         p.Value,
		Action:        model.ActionFor(decision, ok),
		FailureReason: reason,
	}
	if err := t.tx.InsertOrder(ctx, order); err != nil {
		return false, fmt.Errorf("%w: can't record order %d", err, order.OrderID)
	}
	l.Infof("%s %v at %v by %s: %s", order.Action, order.Count, order.Price, name, reason)
	return ok, nil
}
