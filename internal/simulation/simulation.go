// Package simulation replays the engine over stored history, one tick per
// trading day.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/calendar"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/engine"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

var ErrNoHistory = errors.New("no history in range")

type Driver struct {
	store    storage.Store
	sim      *broker.Sim
	engine   *engine.Engine
	calendar *calendar.Calendar
	cfg      *config.Config
	logger   logger.Logger
}

func New(store storage.Store, sim *broker.Sim, eng *engine.Engine, cal *calendar.Calendar, cfg *config.Config, l logger.Logger) *Driver {
	return &Driver{
		store:    store,
		sim:      sim,
		engine:   eng,
		calendar: cal,
		cfg:      cfg,
		logger:   l,
	}
}

type Result struct {
	From  time.Time
	To    time.Time
	Ticks []time.Time
}

// Simulate resets every account and replays [from, to]. A zero bound is
// taken from the stored history. Nothing is reset when the range has no
// history.
func (d *Driver) Simulate(ctx context.Context, from, to time.Time) (Result, error) {
	first, last, err := d.store.SimBarBounds(ctx, from, to)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: %s - %s", ErrNoHistory, dateString(from), dateString(to))
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: can't read history bounds", err)
	}

	if err := d.reset(ctx); err != nil {
		return Result{}, err
	}

	if err := d.sim.Login(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: can't open sim session", err)
	}
	defer func() {
		if err := d.sim.Logout(ctx); err != nil {
			d.logger.Errorf("%s: can't close sim session", err)
		}
	}()

	res := Result{From: first, To: last}
	for _, day := range d.calendar.TradingDays(first, last) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start, end := d.cfg.Simulation.Window(day)
		d.logger.Infof("Day: %s", start.Format(time.DateTime))

		d.sim.SetTime(start)
		if err := d.engine.RunInSession(ctx, start); err != nil {
			return res, fmt.Errorf("%w: simulation stopped", err)
		}
		res.Ticks = append(res.Ticks, start)

		if err := d.materialize(ctx, end); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (d *Driver) reset(ctx context.Context) error {
	err := d.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.ResetSimulation(ctx, d.cfg.Engine.OrderIDBase); err != nil {
			return fmt.Errorf("%w: can't reset simulation", err)
		}
		return engine.Provision(ctx, tx, d.cfg)
	})
	if err != nil {
		return err
	}

	accounts, err := d.store.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load accounts", err)
	}
	for _, a := range accounts {
		d.sim.Open(engine.BrokerAccountID(a), a.InitialCash)
	}
	d.engine.Reseed(d.cfg.Engine.MonkeySeed)
	return nil
}

// materialize copies the sim bars up to upTo into the engine's day history,
// newest first, until it meets a date already present.
func (d *Driver) materialize(ctx context.Context, upTo time.Time) error {
	return d.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		symbols, err := tx.Symbols(ctx)
		if err != nil {
			return fmt.Errorf("%w: can't load symbols", err)
		}
		for _, symbol := range symbols {
			bars, err := tx.SimBars(ctx, symbol, upTo, d.cfg.Engine.HistoryDays)
			if err != nil {
				return fmt.Errorf("%w: can't read sim history of %s", err, symbol)
			}
			for _, b := range bars {
				exists, err := tx.HasDayBar(ctx, symbol, b.Date)
				if err != nil {
					return fmt.Errorf("%w: can't check history of %s", err, symbol)
				}
				if exists {
					break
				}
				if err := tx.InsertDayBar(ctx, b); err != nil {
					return fmt.Errorf("%w: can't copy bar %s %s", err, symbol, dateString(b.Date))
				}
			}
		}
		return nil
	})
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.Format(time.DateOnly)
}
